package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfork/openfork/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and
// local runs. All reads return clones so callers cannot mutate stored
// state behind the store's back.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*models.Session
	messages    map[string][]*models.Message // sessionID -> history order
	nextMsgID   map[string]int64
	parts       map[int64]*models.Part
	nextPartID  int64
	subsessions map[string]*models.SubSession
	state       map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    map[string]*models.Session{},
		messages:    map[string][]*models.Message{},
		nextMsgID:   map[string]int64{},
		parts:       map[int64]*models.Part{},
		subsessions: map[string]*models.SubSession{},
		state:       map[string]string{},
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if _, exists := m.sessions[session.ID]; exists {
		return ErrConflict
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	session.UpdatedAt = session.CreatedAt
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	session.UpdatedAt = time.Now().UTC()
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	delete(m.nextMsgID, id)
	return nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Session
	for _, s := range m.sessions {
		if opts.ProjectID != "" && s.ProjectID != opts.ProjectID {
			continue
		}
		if opts.AgentSlug != "" && s.AgentSlug != opts.AgentSlug {
			continue
		}
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	out = window(out, opts.Offset, opts.Limit)
	return out, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.SessionID == "" {
		return errors.New("message with session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[msg.SessionID]; !ok {
		return ErrNotFound
	}

	m.nextMsgID[msg.SessionID]++
	msg.ID = m.nextMsgID[msg.SessionID]
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	clone := cloneMessage(msg)
	for i, p := range clone.Parts {
		m.nextPartID++
		p.ID = m.nextPartID
		p.SessionID = msg.SessionID
		p.MessageID = msg.ID
		p.OrderIndex = i
		m.parts[p.ID] = p
		// Reflect assigned ids back to the caller's parts.
		msg.Parts[i].ID = p.ID
		msg.Parts[i].SessionID = p.SessionID
		msg.Parts[i].MessageID = p.MessageID
		msg.Parts[i].OrderIndex = i
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], clone)
	return nil
}

func (m *MemoryStore) GetMessage(ctx context.Context, sessionID string, id int64) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages[sessionID] {
		if msg.ID == id {
			return cloneMessage(msg), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.messages[sessionID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]*models.Message, len(history))
	for i, msg := range history {
		out[i] = cloneMessage(msg)
	}
	return out, nil
}

func (m *MemoryStore) MarkCompacted(ctx context.Context, sessionID string, messageIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := map[int64]bool{}
	for _, id := range messageIDs {
		ids[id] = true
	}
	for _, msg := range m.messages[sessionID] {
		if ids[msg.ID] {
			msg.Compacted = true
			delete(ids, msg.ID)
		}
	}
	if len(ids) > 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MemoryStore) CreatePart(ctx context.Context, part *models.Part) error {
	if part == nil {
		return errors.New("part is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextPartID++
	part.ID = m.nextPartID
	if part.CreatedAt.IsZero() {
		part.CreatedAt = time.Now().UTC()
	}
	part.UpdatedAt = part.CreatedAt
	m.parts[part.ID] = clonePart(part)
	m.attach(part)
	return nil
}

func (m *MemoryStore) UpdatePart(ctx context.Context, part *models.Part) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.parts[part.ID]; !ok {
		return ErrNotFound
	}
	part.UpdatedAt = time.Now().UTC()
	clone := clonePart(part)
	m.parts[part.ID] = clone

	for _, msg := range m.messages[part.SessionID] {
		if msg.ID != part.MessageID {
			continue
		}
		for i, existing := range msg.Parts {
			if existing.ID == part.ID {
				msg.Parts[i] = clone
				return nil
			}
		}
	}
	return nil
}

func (m *MemoryStore) ListParts(ctx context.Context, sessionID string, messageID int64) ([]*models.Part, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Part
	for _, p := range m.parts {
		if p.SessionID == sessionID && p.MessageID == messageID {
			out = append(out, clonePart(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

// attach links a newly created part onto its stored message, if present.
func (m *MemoryStore) attach(part *models.Part) {
	for _, msg := range m.messages[part.SessionID] {
		if msg.ID == part.MessageID {
			clone := clonePart(part)
			clone.OrderIndex = len(msg.Parts)
			part.OrderIndex = clone.OrderIndex
			msg.Parts = append(msg.Parts, clone)
			return
		}
	}
}

func (m *MemoryStore) CreateSubSession(ctx context.Context, sub *models.SubSession) error {
	if sub == nil {
		return errors.New("subsession is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if _, exists := m.subsessions[sub.ID]; exists {
		return ErrConflict
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	m.subsessions[sub.ID] = cloneSubSession(sub)
	return nil
}

func (m *MemoryStore) UpdateSubSession(ctx context.Context, sub *models.SubSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subsessions[sub.ID]; !ok {
		return ErrNotFound
	}
	m.subsessions[sub.ID] = cloneSubSession(sub)
	return nil
}

func (m *MemoryStore) GetSubSession(ctx context.Context, id string) (*models.SubSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subsessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSubSession(sub), nil
}

func (m *MemoryStore) ListSubSessions(ctx context.Context, parentSessionID string) ([]*models.SubSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.SubSession
	for _, sub := range m.subsessions {
		if sub.ParentSessionID == parentSessionID {
			out = append(out, cloneSubSession(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetState(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.state[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) SetState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[key] = value
	return nil
}

func (m *MemoryStore) DeleteState(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, key)
	return nil
}

func window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneSession(s *models.Session) *models.Session {
	clone := *s
	if s.Metadata != nil {
		clone.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

func cloneMessage(msg *models.Message) *models.Message {
	clone := *msg
	clone.Parts = make([]*models.Part, len(msg.Parts))
	for i, p := range msg.Parts {
		clone.Parts[i] = clonePart(p)
	}
	return &clone
}

func clonePart(p *models.Part) *models.Part {
	clone := *p
	if p.Body != nil {
		// Round-trip through JSON gives a deep copy of whatever body
		// type the part carries.
		raw, err := p.MarshalJSON()
		if err == nil {
			var copied models.Part
			if copied.UnmarshalJSON(raw) == nil {
				clone.Body = copied.Body
			}
		}
	}
	return &clone
}

func cloneSubSession(sub *models.SubSession) *models.SubSession {
	clone := *sub
	if sub.Ruleset != nil {
		clone.Ruleset = sub.Ruleset.Clone()
	}
	return &clone
}
