// Package models provides domain types for the OpenFork agent runtime.
package models

import (
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Session is the correlation root for a conversation. It is created and
// deleted by the user; the agent loop borrows it for a turn but never
// mutates it directly.
type Session struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id,omitempty"`
	AgentSlug  string         `json:"agent_slug,omitempty"`
	PipelineID string         `json:"pipeline_id,omitempty"`
	Title      string         `json:"title,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Message is an append-only unit within a session. Message ids are
// monotonic per session and assigned by the store. Messages are never
// reordered or rewritten; mutation happens only on contained parts and
// only through defined transitions.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Compacted bool      `json:"compacted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Parts     []*Part   `json:"parts,omitempty"`
}

// FindPart returns the first part matching the predicate, or nil.
func (m *Message) FindPart(match func(*Part) bool) *Part {
	for _, p := range m.Parts {
		if match(p) {
			return p
		}
	}
	return nil
}

// ToolParts returns all tool parts of the message in order.
func (m *Message) ToolParts() []*ToolPart {
	var out []*ToolPart
	for _, p := range m.Parts {
		if tp, ok := p.Body.(*ToolPart); ok {
			out = append(out, tp)
		}
	}
	return out
}
