package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// PartType discriminates the message part variants.
type PartType string

const (
	PartTypeText       PartType = "text"
	PartTypeReasoning  PartType = "reasoning"
	PartTypeTool       PartType = "tool"
	PartTypeFile       PartType = "file"
	PartTypePatch      PartType = "patch"
	PartTypeStep       PartType = "step"
	PartTypeSubtask    PartType = "subtask"
	PartTypeSnapshot   PartType = "snapshot"
	PartTypeCompaction PartType = "compaction"
	PartTypeRetry      PartType = "retry"
	PartTypeAgent      PartType = "agent"
)

// PartBody is the variant payload of a message part. Each variant reports
// its own discriminator so parts round-trip through JSON-per-row storage.
type PartBody interface {
	PartType() PartType
}

// Part is the structural unit of message content. OrderIndex is dense and
// stable within a message: parts are appended with the next index and
// never renumbered.
type Part struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	MessageID  int64     `json:"message_id"`
	OrderIndex int       `json:"order_index"`
	Type       PartType  `json:"type"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Body       PartBody  `json:"body"`
}

// TextContentType classifies text part content.
type TextContentType string

const (
	TextPlain    TextContentType = "plain"
	TextMarkdown TextContentType = "markdown"
	TextCode     TextContentType = "code"
)

// TextPart carries assistant or user visible text.
type TextPart struct {
	Content     string          `json:"content"`
	ContentType TextContentType `json:"content_type"`
}

func (*TextPart) PartType() PartType { return PartTypeText }

// ReasoningPart carries provider-signaled chain-of-thought content.
type ReasoningPart struct {
	Content string `json:"content"`
	Visible bool   `json:"visible"`
}

func (*ReasoningPart) PartType() PartType { return PartTypeReasoning }

// ToolStatus is the lifecycle state of a tool part. Status advances
// monotonically: pending -> running -> completed | error.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

var toolStatusRank = map[ToolStatus]int{
	ToolPending:   0,
	ToolRunning:   1,
	ToolCompleted: 2,
	ToolError:     2,
}

// PartError describes a tool part failure.
type PartError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ToolPart records one tool invocation: the call, its lifecycle, and the
// (possibly truncated or pruned) output.
type ToolPart struct {
	CallID      string          `json:"call_id"`
	ToolName    string          `json:"tool_name"`
	Title       string          `json:"title,omitempty"`
	Status      ToolStatus      `json:"status"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      string          `json:"output,omitempty"`
	Pruned      bool            `json:"pruned,omitempty"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
	Error       *PartError      `json:"error,omitempty"`
	Attachments []string        `json:"attachments,omitempty"`
	SpillPath   string          `json:"spill_path,omitempty"`
}

func (*ToolPart) PartType() PartType { return PartTypeTool }

// Advance transitions the tool part to the given status. Regressions are
// rejected so a completed or errored part can never go back to running.
func (t *ToolPart) Advance(status ToolStatus) error {
	next, ok := toolStatusRank[status]
	if !ok {
		return fmt.Errorf("unknown tool status %q", status)
	}
	cur, ok := toolStatusRank[t.Status]
	if ok && next < cur {
		return fmt.Errorf("tool status regression %s -> %s", t.Status, status)
	}
	if ok && next == cur && t.Status != status && cur == toolStatusRank[ToolCompleted] {
		return fmt.Errorf("tool status already terminal: %s", t.Status)
	}
	t.Status = status
	switch status {
	case ToolRunning:
		if t.StartedAt.IsZero() {
			t.StartedAt = time.Now().UTC()
		}
	case ToolCompleted, ToolError:
		if t.CompletedAt.IsZero() {
			t.CompletedAt = time.Now().UTC()
		}
	}
	return nil
}

// Terminal reports whether the part reached a final status.
func (t *ToolPart) Terminal() bool {
	return t.Status == ToolCompleted || t.Status == ToolError
}

// FilePart references or inlines a file shown to the model or user.
type FilePart struct {
	Path        string `json:"path"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Inline      bool   `json:"inline,omitempty"`
	Content     string `json:"content,omitempty"`
}

func (*FilePart) PartType() PartType { return PartTypeFile }

// PatchPart records a file edit as old/new content plus a unified diff.
type PatchPart struct {
	FilePath  string `json:"file_path"`
	OldText   string `json:"old_text,omitempty"`
	NewText   string `json:"new_text,omitempty"`
	Diff      string `json:"diff,omitempty"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

func (*PatchPart) PartType() PartType { return PartTypePatch }

// StepStatus is the lifecycle state of a plan step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in-progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
)

// StepPart tracks one step of a plan or todo list.
type StepPart struct {
	Number      int        `json:"number"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
}

func (*StepPart) PartType() PartType { return PartTypeStep }

// SubtaskPart links a parent message to spawned subagent work.
type SubtaskPart struct {
	SubSessionID string           `json:"sub_session_id"`
	AgentSlug    string           `json:"agent_slug"`
	Prompt       string           `json:"prompt"`
	Status       SubSessionStatus `json:"status"`
	Result       string           `json:"result,omitempty"`
	Error        string           `json:"error,omitempty"`
}

func (*SubtaskPart) PartType() PartType { return PartTypeSubtask }

// SnapshotPart captures a named point-in-time state, optionally pinned to
// a git commit.
type SnapshotPart struct {
	Label       string            `json:"label"`
	Description string            `json:"description,omitempty"`
	State       map[string]string `json:"state,omitempty"`
	GitCommit   string            `json:"git_commit,omitempty"`
}

func (*SnapshotPart) PartType() PartType { return PartTypeSnapshot }

// CompactionPart replaces a window of compacted messages in subsequent
// context builds.
type CompactionPart struct {
	Summary      string    `json:"summary"`
	MessageCount int       `json:"message_count"`
	TokenCount   int       `json:"token_count"`
	CompactedAt  time.Time `json:"compacted_at"`
}

func (*CompactionPart) PartType() PartType { return PartTypeCompaction }

// RetryPart marks a provider retry boundary.
type RetryPart struct {
	Attempt int    `json:"attempt"`
	Reason  string `json:"reason,omitempty"`
}

func (*RetryPart) PartType() PartType { return PartTypeRetry }

// AgentPart marks an agent switch within a session.
type AgentPart struct {
	AgentSlug string `json:"agent_slug"`
}

func (*AgentPart) PartType() PartType { return PartTypeAgent }

// partDecoders is the type-dispatch table used to deserialize part bodies
// from their JSON-per-row representation.
var partDecoders = map[PartType]func() PartBody{
	PartTypeText:       func() PartBody { return &TextPart{} },
	PartTypeReasoning:  func() PartBody { return &ReasoningPart{} },
	PartTypeTool:       func() PartBody { return &ToolPart{} },
	PartTypeFile:       func() PartBody { return &FilePart{} },
	PartTypePatch:      func() PartBody { return &PatchPart{} },
	PartTypeStep:       func() PartBody { return &StepPart{} },
	PartTypeSubtask:    func() PartBody { return &SubtaskPart{} },
	PartTypeSnapshot:   func() PartBody { return &SnapshotPart{} },
	PartTypeCompaction: func() PartBody { return &CompactionPart{} },
	PartTypeRetry:      func() PartBody { return &RetryPart{} },
	PartTypeAgent:      func() PartBody { return &AgentPart{} },
}

// DecodePartBody deserializes a part body for the given discriminator.
func DecodePartBody(t PartType, payload []byte) (PartBody, error) {
	ctor, ok := partDecoders[t]
	if !ok {
		return nil, fmt.Errorf("unknown part type %q", t)
	}
	body := ctor()
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, body); err != nil {
			return nil, fmt.Errorf("decode %s part: %w", t, err)
		}
	}
	return body, nil
}

type partJSON struct {
	ID         int64           `json:"id"`
	SessionID  string          `json:"session_id"`
	MessageID  int64           `json:"message_id"`
	OrderIndex int             `json:"order_index"`
	Type       PartType        `json:"type"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// MarshalJSON encodes the part with its discriminator and raw body.
func (p *Part) MarshalJSON() ([]byte, error) {
	typ := p.Type
	if typ == "" && p.Body != nil {
		typ = p.Body.PartType()
	}
	var body json.RawMessage
	if p.Body != nil {
		b, err := json.Marshal(p.Body)
		if err != nil {
			return nil, err
		}
		body = b
	}
	return json.Marshal(&partJSON{
		ID:         p.ID,
		SessionID:  p.SessionID,
		MessageID:  p.MessageID,
		OrderIndex: p.OrderIndex,
		Type:       typ,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
		Body:       body,
	})
}

// UnmarshalJSON decodes the part, dispatching the body on the type tag.
func (p *Part) UnmarshalJSON(data []byte) error {
	var raw partJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	body, err := DecodePartBody(raw.Type, raw.Body)
	if err != nil {
		return err
	}
	p.ID = raw.ID
	p.SessionID = raw.SessionID
	p.MessageID = raw.MessageID
	p.OrderIndex = raw.OrderIndex
	p.Type = raw.Type
	p.CreatedAt = raw.CreatedAt
	p.UpdatedAt = raw.UpdatedAt
	p.Body = body
	return nil
}
