// Package store defines the persistence boundary: sessions, their
// message history with typed parts, sub-sessions, and a small key-value
// area for application state. Two implementations exist, an in-memory
// store for tests and local runs and a SQLite store for durability.
package store

import (
	"context"
	"errors"

	"github.com/openfork/openfork/pkg/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a create collides with an existing id.
	ErrConflict = errors.New("store: conflict")
)

// Store is the interface for runtime persistence.
type Store interface {
	SessionStore
	MessageStore
	PartStore
	SubSessionStore
	AppState

	Close() error
}

// SessionStore is session CRUD and listing.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error)
}

// MessageStore is append-only message history. Message ids are assigned
// by the store and are strictly increasing within a session, so history
// order is id order.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, sessionID string, id int64) (*models.Message, error)
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	// MarkCompacted flags the given messages as replaced by a
	// compaction summary. Flagged messages stay in the store but are
	// excluded from provider context builds.
	MarkCompacted(ctx context.Context, sessionID string, messageIDs []int64) error
}

// PartStore persists message parts. Part bodies are stored as JSON so
// new part types need no schema change.
type PartStore interface {
	CreatePart(ctx context.Context, part *models.Part) error
	UpdatePart(ctx context.Context, part *models.Part) error
	ListParts(ctx context.Context, sessionID string, messageID int64) ([]*models.Part, error)
}

// SubSessionStore tracks spawned sub-agent sessions.
type SubSessionStore interface {
	CreateSubSession(ctx context.Context, sub *models.SubSession) error
	UpdateSubSession(ctx context.Context, sub *models.SubSession) error
	GetSubSession(ctx context.Context, id string) (*models.SubSession, error)
	ListSubSessions(ctx context.Context, parentSessionID string) ([]*models.SubSession, error)
}

// AppState is a small namespaced key-value area for durable runtime
// state such as permission grants with "always" scope.
type AppState interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	DeleteState(ctx context.Context, key string) error
}

// ListOptions configures session listing.
type ListOptions struct {
	ProjectID string
	AgentSlug string
	Limit     int
	Offset    int
}
