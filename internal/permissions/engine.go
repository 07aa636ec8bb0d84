// Package permissions decides whether tool calls run, are refused, or
// need the user's say-so. Decisions come from ordered pattern rules;
// "ask" outcomes surface as prompts whose answers can mint new rules at
// call, session, pattern, or permanent scope.
package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfork/openfork/internal/bus"
	"github.com/openfork/openfork/internal/store"
	"github.com/openfork/openfork/pkg/models"
)

var (
	// ErrDenied is returned when a rule or the user refuses the call.
	ErrDenied = errors.New("permission denied")

	// ErrNoPromptListener is returned when an ask decision has nowhere
	// to go: no UI is draining the prompt channel.
	ErrNoPromptListener = errors.New("no prompt listener attached")
)

// grantStateKeyPrefix namespaces persisted "always" grants in app state.
const grantStateKeyPrefix = "permissions/grant/"

// Decision is the outcome of evaluating one tool call.
type Decision struct {
	Action models.PermissionAction
	// Rule is the winning rule; zero when the default action applied.
	Rule   models.PermissionRule
	Reason string
}

// PromptRequest is handed to the UI when a call needs user approval.
// Exactly one answer must be sent on Reply.
type PromptRequest struct {
	ID        string
	SessionID string
	ToolName  string
	Key       string
	Input     json.RawMessage
	Reason    string
	Reply     chan PromptAnswer
}

// PromptAnswer is the user's verdict on a prompt.
type PromptAnswer struct {
	Allow bool
	Scope models.PromptScope
	// Pattern overrides the request key for scope "this-pattern",
	// letting the user widen a grant (e.g. "bash:git *").
	Pattern string
	Reason  string
}

// Engine evaluates tool calls against a base ruleset plus rules granted
// during the run. Evaluation is memoized per session until a rule
// changes.
type Engine struct {
	events *bus.Bus
	state  store.AppState
	logger *slog.Logger

	mu       sync.RWMutex
	base     *models.PermissionRuleset
	session  map[string][]models.PermissionRule
	memo     map[string]Decision
	prompts  chan *PromptRequest
	attached bool
}

// NewEngine creates an engine with the given base ruleset. state may be
// nil; "always" grants are then kept in memory only.
func NewEngine(base *models.PermissionRuleset, events *bus.Bus, state store.AppState) *Engine {
	if base == nil {
		base = PresetPrimary()
	}
	return &Engine{
		events:  events,
		state:   state,
		logger:  slog.Default().With("component", "permissions"),
		base:    base.Clone(),
		session: map[string][]models.PermissionRule{},
		memo:    map[string]Decision{},
		prompts: make(chan *PromptRequest, 8),
	}
}

// Prompts returns the channel the UI drains to show approval prompts.
// Calling it marks a listener as attached.
func (e *Engine) Prompts() <-chan *PromptRequest {
	e.mu.Lock()
	e.attached = true
	e.mu.Unlock()
	return e.prompts
}

// Evaluate decides one tool call. An "ask" outcome blocks on the user's
// answer (or ctx). The returned decision is terminal: allow or deny.
func (e *Engine) Evaluate(ctx context.Context, sessionID, toolName string, input json.RawMessage) (Decision, error) {
	key := RequestKey(toolName, input)

	if e.events != nil {
		_ = e.events.Publish(bus.PermissionRequestedEvent{
			Meta:      bus.NewMeta("permissions"),
			SessionID: sessionID,
			ToolName:  toolName,
			Resource:  key,
		})
	}

	dec, memoized := e.lookup(sessionID, key)
	if !memoized {
		dec = e.resolve(sessionID, key)
	}

	switch dec.Action {
	case models.PermissionAllow:
		e.remember(sessionID, key, dec)
		e.publishGranted(sessionID, key, models.ScopeThisPattern)
		return dec, nil
	case models.PermissionDeny:
		e.remember(sessionID, key, dec)
		e.publishDenied(sessionID, key, dec.Reason)
		return dec, fmt.Errorf("%w: %s (%s)", ErrDenied, key, dec.Reason)
	}

	// Ask: defer to the user.
	return e.prompt(ctx, sessionID, toolName, key, input, dec.Reason)
}

// AddSessionRule grants a rule for the remainder of a session.
func (e *Engine) AddSessionRule(sessionID string, rule models.PermissionRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Created.IsZero() {
		rule.Created = time.Now().UTC()
	}
	e.session[sessionID] = append(e.session[sessionID], rule)
	e.invalidate(sessionID)
}

// ScopedRuleset derives a child ruleset for a sub-agent: the parent's
// effective rules for the session with extra restrictions layered on
// top. A child can never be more permissive than its parent.
func (e *Engine) ScopedRuleset(sessionID string, restrictions []models.PermissionRule) *models.PermissionRuleset {
	e.mu.RLock()
	defer e.mu.RUnlock()

	child := e.base.Clone()
	child.Rules = append(child.Rules, e.session[sessionID]...)
	maxPriority := 0
	for _, r := range child.Rules {
		if r.Priority > maxPriority {
			maxPriority = r.Priority
		}
	}
	for i, r := range restrictions {
		if r.Action == models.PermissionAllow {
			// Restrictions only narrow.
			continue
		}
		r.Priority = maxPriority + 1 + i
		child.Rules = append(child.Rules, r)
	}
	return child
}

// resolve walks rules in ascending priority; among equal priorities the
// later rule wins, so the highest-priority last match decides.
func (e *Engine) resolve(sessionID, key string) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]models.PermissionRule, 0, len(e.base.Rules)+len(e.session[sessionID]))
	rules = append(rules, e.base.Rules...)
	rules = append(rules, e.session[sessionID]...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	dec := Decision{Action: e.base.DefaultAction, Reason: "default action"}
	if dec.Action == "" {
		dec.Action = models.PermissionAsk
	}
	for _, r := range rules {
		if MatchPattern(r.Pattern, key) {
			dec = Decision{Action: r.Action, Rule: r, Reason: r.Reason}
		}
	}
	return dec
}

func (e *Engine) prompt(ctx context.Context, sessionID, toolName, key string, input json.RawMessage, reason string) (Decision, error) {
	e.mu.RLock()
	attached := e.attached
	e.mu.RUnlock()
	if !attached {
		return Decision{Action: models.PermissionDeny, Reason: "no prompt listener"},
			fmt.Errorf("%w: %s", ErrNoPromptListener, key)
	}

	req := &PromptRequest{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		ToolName:  toolName,
		Key:       key,
		Input:     input,
		Reason:    reason,
		Reply:     make(chan PromptAnswer, 1),
	}
	select {
	case e.prompts <- req:
	case <-ctx.Done():
		return Decision{Action: models.PermissionDeny, Reason: "cancelled"}, ctx.Err()
	}
	if e.events != nil {
		_ = e.events.Publish(bus.PermissionPromptShownEvent{
			Meta: bus.NewMeta("permissions"), SessionID: sessionID, ToolName: toolName, Resource: key,
		})
	}

	var ans PromptAnswer
	select {
	case ans = <-req.Reply:
	case <-ctx.Done():
		return Decision{Action: models.PermissionDeny, Reason: "cancelled"}, ctx.Err()
	}
	if e.events != nil {
		_ = e.events.Publish(bus.PermissionPromptAnsweredEvent{
			Meta: bus.NewMeta("permissions"), SessionID: sessionID, Granted: ans.Allow, Scope: ans.Scope,
		})
	}

	e.applyAnswer(ctx, sessionID, key, ans)
	if !ans.Allow {
		reason := ans.Reason
		if reason == "" {
			reason = "denied by user"
		}
		e.publishDenied(sessionID, key, reason)
		return Decision{Action: models.PermissionDeny, Reason: reason},
			fmt.Errorf("%w: %s (%s)", ErrDenied, key, reason)
	}
	e.publishGranted(sessionID, key, ans.Scope)
	return Decision{Action: models.PermissionAllow, Reason: "granted by user"}, nil
}

// applyAnswer turns a prompt answer into rules per its scope. Scope
// "this-call" leaves no trace.
func (e *Engine) applyAnswer(ctx context.Context, sessionID, key string, ans PromptAnswer) {
	action := models.PermissionAllow
	if !ans.Allow {
		action = models.PermissionDeny
	}
	pattern := key
	if ans.Pattern != "" {
		pattern = ans.Pattern
	}

	switch ans.Scope {
	case models.ScopeThisCall, "":
		return
	case models.ScopeThisSession, models.ScopeThisPattern:
		e.AddSessionRule(sessionID, models.PermissionRule{
			Pattern:  pattern,
			Action:   action,
			Reason:   "user grant",
			Priority: e.nextPriority(),
		})
	case models.ScopeAlways:
		rule := models.PermissionRule{
			ID:       uuid.NewString(),
			Pattern:  pattern,
			Action:   action,
			Reason:   "user grant (permanent)",
			Priority: e.nextPriority(),
			Created:  time.Now().UTC(),
		}
		e.mu.Lock()
		e.base.Rules = append(e.base.Rules, rule)
		e.invalidateAll()
		e.mu.Unlock()
		if e.state != nil {
			raw, err := json.Marshal(rule)
			if err == nil {
				if err := e.state.SetState(ctx, grantStateKeyPrefix+rule.ID, string(raw)); err != nil {
					e.logger.Warn("persist grant", "error", err)
				}
			}
		}
	}
}

// LoadPersistedGrants restores "always" grants from app state into the
// base ruleset. Call once at startup.
func (e *Engine) LoadPersistedGrants(ctx context.Context, keys []string) error {
	if e.state == nil {
		return nil
	}
	for _, key := range keys {
		raw, err := e.state.GetState(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return err
		}
		var rule models.PermissionRule
		if err := json.Unmarshal([]byte(raw), &rule); err != nil {
			return fmt.Errorf("decode grant %s: %w", key, err)
		}
		e.mu.Lock()
		e.base.Rules = append(e.base.Rules, rule)
		e.invalidateAll()
		e.mu.Unlock()
	}
	return nil
}

func (e *Engine) nextPriority() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	max := 0
	for _, r := range e.base.Rules {
		if r.Priority > max {
			max = r.Priority
		}
	}
	for _, rules := range e.session {
		for _, r := range rules {
			if r.Priority > max {
				max = r.Priority
			}
		}
	}
	return max + 1
}

func (e *Engine) lookup(sessionID, key string) (Decision, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	dec, ok := e.memo[sessionID+"\x00"+key]
	return dec, ok
}

func (e *Engine) remember(sessionID, key string, dec Decision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.memo[sessionID+"\x00"+key] = dec
}

// invalidate drops memoized decisions for one session. Caller holds mu.
func (e *Engine) invalidate(sessionID string) {
	prefix := sessionID + "\x00"
	for k := range e.memo {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(e.memo, k)
		}
	}
}

// invalidateAll drops every memoized decision. Caller holds mu.
func (e *Engine) invalidateAll() {
	e.memo = map[string]Decision{}
}

func (e *Engine) publishGranted(sessionID, key string, scope models.PromptScope) {
	if e.events == nil {
		return
	}
	_ = e.events.Publish(bus.PermissionGrantedEvent{
		Meta: bus.NewMeta("permissions"), SessionID: sessionID,
		Pattern: key, Scope: scope,
	})
}

func (e *Engine) publishDenied(sessionID, key, reason string) {
	if e.events == nil {
		return
	}
	_ = e.events.Publish(bus.PermissionDeniedEvent{
		Meta: bus.NewMeta("permissions"), SessionID: sessionID,
		Pattern: key, Reason: reason,
	})
}
