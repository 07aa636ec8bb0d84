package models

import "time"

// SubSessionStatus is the lifecycle state of spawned child work.
type SubSessionStatus string

const (
	SubSessionPending   SubSessionStatus = "pending"
	SubSessionRunning   SubSessionStatus = "running"
	SubSessionCompleted SubSessionStatus = "completed"
	SubSessionFailed    SubSessionStatus = "failed"
	SubSessionCancelled SubSessionStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal states persist.
func (s SubSessionStatus) Terminal() bool {
	switch s {
	case SubSessionCompleted, SubSessionFailed, SubSessionCancelled:
		return true
	}
	return false
}

// SubSession is child work spawned by the subagent supervisor. The parent
// session exclusively owns its subsessions; cancellation of the parent
// cascades to every descendant.
type SubSession struct {
	ID              string             `json:"id"`
	ParentSessionID string             `json:"parent_session_id"`
	ParentMessageID int64              `json:"parent_message_id"`
	AgentSlug       string             `json:"agent_slug"`
	Status          SubSessionStatus   `json:"status"`
	Prompt          string             `json:"prompt"`
	Description     string             `json:"description,omitempty"`
	Result          string             `json:"result,omitempty"`
	Error           string             `json:"error,omitempty"`
	MaxIterations   int                `json:"max_iterations,omitempty"`
	IterationsUsed  int                `json:"iterations_used,omitempty"`
	Ruleset         *PermissionRuleset `json:"ruleset,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	CompletedAt     time.Time          `json:"completed_at,omitempty"`
}
