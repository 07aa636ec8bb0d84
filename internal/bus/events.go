package bus

import (
	"time"

	"github.com/google/uuid"

	"github.com/openfork/openfork/pkg/models"
)

// Event is the sealed event contract. Every event carries identity
// metadata and declares its kind hierarchy once: the concrete kind first,
// then each supertype, then KindAll. The bus dispatches to subscriptions
// on any declared kind, which is the reflection-free rendition of
// type-hierarchy fan-out.
type Event interface {
	EventID() string
	Timestamp() time.Time
	Source() string
	Kinds() []string
}

// KindAll matches every event.
const KindAll = "*"

// Supertype kinds. Concrete kinds are "<supertype>.<action>".
const (
	KindSession    = "session"
	KindMessage    = "message"
	KindPart       = "part"
	KindTool       = "tool"
	KindAgent      = "agent"
	KindSubSession = "subsession"
	KindPermission = "permission"
	KindHook       = "hook"
	KindToken      = "token"
	KindMCP        = "mcp"
	KindSystem     = "system"
)

// Meta carries the identity fields common to every event.
type Meta struct {
	ID   string    `json:"event_id"`
	Time time.Time `json:"timestamp"`
	From string    `json:"source"`
}

// NewMeta stamps fresh event metadata for the given source.
func NewMeta(source string) Meta {
	return Meta{ID: uuid.NewString(), Time: time.Now().UTC(), From: source}
}

func (m Meta) EventID() string      { return m.ID }
func (m Meta) Timestamp() time.Time { return m.Time }
func (m Meta) Source() string       { return m.From }

// Session lifecycle.

type SessionCreatedEvent struct {
	Meta
	Session *models.Session
}

func (SessionCreatedEvent) Kinds() []string { return []string{"session.created", KindSession, KindAll} }

type SessionUpdatedEvent struct {
	Meta
	Session *models.Session
}

func (SessionUpdatedEvent) Kinds() []string { return []string{"session.updated", KindSession, KindAll} }

type SessionDeletedEvent struct {
	Meta
	SessionID string
}

func (SessionDeletedEvent) Kinds() []string { return []string{"session.deleted", KindSession, KindAll} }

// Message lifecycle.

type MessageCreatedEvent struct {
	Meta
	Message *models.Message
}

func (MessageCreatedEvent) Kinds() []string { return []string{"message.created", KindMessage, KindAll} }

type MessageCompletedEvent struct {
	Meta
	SessionID string
	MessageID int64
}

func (MessageCompletedEvent) Kinds() []string {
	return []string{"message.completed", KindMessage, KindAll}
}

// Part lifecycle.

type PartCreatedEvent struct {
	Meta
	Part *models.Part
}

func (PartCreatedEvent) Kinds() []string { return []string{"part.created", KindPart, KindAll} }

type PartUpdatedEvent struct {
	Meta
	Part *models.Part
}

func (PartUpdatedEvent) Kinds() []string { return []string{"part.updated", KindPart, KindAll} }

// Tool execution.

type ToolExecutionStartedEvent struct {
	Meta
	SessionID string
	CallID    string
	ToolName  string
}

func (ToolExecutionStartedEvent) Kinds() []string {
	return []string{"tool.execution.started", KindTool, KindAll}
}

type ToolExecutionCompletedEvent struct {
	Meta
	SessionID string
	CallID    string
	ToolName  string
	IsError   bool
	Duration  time.Duration
}

func (ToolExecutionCompletedEvent) Kinds() []string {
	return []string{"tool.execution.completed", KindTool, KindAll}
}

type ToolExecutionCancelledEvent struct {
	Meta
	SessionID string
	CallID    string
	ToolName  string
}

func (ToolExecutionCancelledEvent) Kinds() []string {
	return []string{"tool.execution.cancelled", KindTool, KindAll}
}

// Agent loop lifecycle.

type AgentTurnStartedEvent struct {
	Meta
	SessionID string
	AgentSlug string
}

func (AgentTurnStartedEvent) Kinds() []string { return []string{"agent.turn.started", KindAgent, KindAll} }

type AgentTurnCompletedEvent struct {
	Meta
	SessionID  string
	AgentSlug  string
	Iterations int
}

func (AgentTurnCompletedEvent) Kinds() []string {
	return []string{"agent.turn.completed", KindAgent, KindAll}
}

// Subagent lifecycle.

type SubSessionCreatedEvent struct {
	Meta
	SubSession *models.SubSession
}

func (SubSessionCreatedEvent) Kinds() []string {
	return []string{"subsession.created", KindSubSession, KindAll}
}

type SubSessionProgressEvent struct {
	Meta
	SubSessionID string
	Description  string
}

func (SubSessionProgressEvent) Kinds() []string {
	return []string{"subsession.progress", KindSubSession, KindAll}
}

type SubSessionCompletedEvent struct {
	Meta
	SubSession *models.SubSession
}

func (SubSessionCompletedEvent) Kinds() []string {
	return []string{"subsession.completed", KindSubSession, KindAll}
}

type SubSessionFailedEvent struct {
	Meta
	SubSession *models.SubSession
}

func (SubSessionFailedEvent) Kinds() []string {
	return []string{"subsession.failed", KindSubSession, KindAll}
}

type SubSessionCancelledEvent struct {
	Meta
	SubSessionID string
}

func (SubSessionCancelledEvent) Kinds() []string {
	return []string{"subsession.cancelled", KindSubSession, KindAll}
}

// Permission flow.

type PermissionRequestedEvent struct {
	Meta
	SessionID string
	ToolName  string
	Resource  string
}

func (PermissionRequestedEvent) Kinds() []string {
	return []string{"permission.requested", KindPermission, KindAll}
}

type PermissionGrantedEvent struct {
	Meta
	SessionID string
	Pattern   string
	Scope     models.PromptScope
}

func (PermissionGrantedEvent) Kinds() []string {
	return []string{"permission.granted", KindPermission, KindAll}
}

type PermissionDeniedEvent struct {
	Meta
	SessionID string
	Pattern   string
	Reason    string
}

func (PermissionDeniedEvent) Kinds() []string {
	return []string{"permission.denied", KindPermission, KindAll}
}

type PermissionPromptShownEvent struct {
	Meta
	SessionID string
	ToolName  string
	Resource  string
}

func (PermissionPromptShownEvent) Kinds() []string {
	return []string{"permission.prompt.shown", KindPermission, KindAll}
}

type PermissionPromptAnsweredEvent struct {
	Meta
	SessionID string
	Granted   bool
	Scope     models.PromptScope
}

func (PermissionPromptAnsweredEvent) Kinds() []string {
	return []string{"permission.prompt.answered", KindPermission, KindAll}
}

// Hook pipeline.

type HookExecutedEvent struct {
	Meta
	Trigger  models.HookTrigger
	HookName string
	Success  bool
	Duration time.Duration
}

func (HookExecutedEvent) Kinds() []string { return []string{"hook.executed", KindHook, KindAll} }

type HookVetoedEvent struct {
	Meta
	Trigger  models.HookTrigger
	HookName string
	Reason   string
}

func (HookVetoedEvent) Kinds() []string { return []string{"hook.vetoed", KindHook, KindAll} }

// Token management.

type OutputTruncatedEvent struct {
	Meta
	SessionID      string
	ToolName       string
	OriginalBytes  int
	TruncatedBytes int
	SpillPath      string
}

func (OutputTruncatedEvent) Kinds() []string { return []string{"token.truncated", KindToken, KindAll} }

type OutputsPrunedEvent struct {
	Meta
	SessionID       string
	PrunedParts     int
	ReclaimedTokens int
}

func (OutputsPrunedEvent) Kinds() []string { return []string{"token.pruned", KindToken, KindAll} }

type CompactionCompletedEvent struct {
	Meta
	SessionID       string
	CompactedCount  int
	CompactedTokens int
	SummaryTokens   int
}

func (CompactionCompletedEvent) Kinds() []string {
	return []string{"token.compacted", KindToken, KindAll}
}

// MCP lifecycle.

type MCPServerConnectedEvent struct {
	Meta
	ServerID  string
	ToolCount int
}

func (MCPServerConnectedEvent) Kinds() []string { return []string{"mcp.connected", KindMCP, KindAll} }

type MCPServerDisconnectedEvent struct {
	Meta
	ServerID string
	Err      string
}

func (MCPServerDisconnectedEvent) Kinds() []string {
	return []string{"mcp.disconnected", KindMCP, KindAll}
}

// System.

type ErrorOccurredEvent struct {
	Meta
	SessionID string
	Err       string
	Fatal     bool
}

func (ErrorOccurredEvent) Kinds() []string { return []string{"system.error", KindSystem, KindAll} }

type WarningEvent struct {
	Meta
	SessionID string
	Text      string
}

func (WarningEvent) Kinds() []string { return []string{"system.warning", KindSystem, KindAll} }
