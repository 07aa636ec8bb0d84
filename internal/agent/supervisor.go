package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfork/openfork/internal/bus"
	"github.com/openfork/openfork/internal/permissions"
	"github.com/openfork/openfork/internal/store"
	"github.com/openfork/openfork/pkg/models"
)

// Supervisor spawns subagents: it enforces per-slug concurrency with
// FIFO queueing, tracks SubSession lifecycle, and derives narrowed
// rulesets from the spawning session. It implements the task tool's
// runner interface.
type Supervisor struct {
	Loop        *Loop
	Store       store.Store
	Events      *bus.Bus
	Permissions *permissions.Engine

	mu       sync.Mutex
	profiles map[string]*Profile
	gates    map[string]*fifoGate
	logger   *slog.Logger
}

// NewSupervisor builds a supervisor over the given agent profiles.
func NewSupervisor(loop *Loop, profiles []*Profile) *Supervisor {
	s := &Supervisor{
		Loop:        loop,
		Store:       loop.Store,
		Events:      loop.Events,
		Permissions: loop.Permissions,
		profiles:    map[string]*Profile{},
		gates:       map[string]*fifoGate{},
		logger:      slog.Default().With("component", "supervisor"),
	}
	for _, p := range profiles {
		s.profiles[p.Slug] = p
	}
	return s
}

// AgentSlugs lists the spawnable profiles, sorted.
func (s *Supervisor) AgentSlugs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	slugs := make([]string, 0, len(s.profiles))
	for slug := range s.profiles {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// Profile returns the profile for a slug.
func (s *Supervisor) Profile(slug string) (*Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[slug]
	return p, ok
}

// RunSubagent spawns a child agent loop and blocks until it finishes,
// returning the child's final assistant text. The child context derives
// from the parent's, so parent cancellation cascades.
func (s *Supervisor) RunSubagent(ctx context.Context, parentSessionID, agentSlug, description, prompt string) (string, error) {
	profile, ok := s.Profile(agentSlug)
	if !ok {
		return "", fmt.Errorf("unknown agent %q", agentSlug)
	}

	sub := &models.SubSession{
		ID:              uuid.NewString(),
		ParentSessionID: parentSessionID,
		AgentSlug:       agentSlug,
		Status:          models.SubSessionPending,
		Prompt:          prompt,
		Description:     description,
		MaxIterations:   profile.maxIterations(),
		Ruleset:         s.Permissions.ScopedRuleset(parentSessionID, profile.Restrictions),
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.Store.CreateSubSession(ctx, sub); err != nil {
		return "", fmt.Errorf("create subsession: %w", err)
	}
	s.publish(bus.SubSessionCreatedEvent{Meta: bus.NewMeta("supervisor"), SubSession: sub})

	gate := s.gate(agentSlug, profile.MaxConcurrentInstances)
	if err := gate.acquire(ctx); err != nil {
		s.terminate(ctx, sub, models.SubSessionCancelled, "", "queued spawn cancelled")
		return "", err
	}
	defer gate.release()

	return s.run(ctx, sub, profile)
}

func (s *Supervisor) run(ctx context.Context, sub *models.SubSession, profile *Profile) (string, error) {
	childSession := &models.Session{
		ID:        sub.ID,
		AgentSlug: profile.Slug,
	}
	if parent, err := s.Store.GetSession(ctx, sub.ParentSessionID); err == nil {
		childSession.ProjectID = parent.ProjectID
	}
	if err := s.Store.CreateSession(ctx, childSession); err != nil {
		s.terminate(ctx, sub, models.SubSessionFailed, "", err.Error())
		return "", fmt.Errorf("create child session: %w", err)
	}

	// Restrictions install as child-session rules; ScopedRuleset keeps
	// only narrowing rules so the child can never exceed the parent.
	for _, rule := range sub.Ruleset.Rules {
		if rule.Action != models.PermissionAllow {
			s.Permissions.AddSessionRule(childSession.ID, rule)
		}
	}

	sub.Status = models.SubSessionRunning
	if err := s.Store.UpdateSubSession(ctx, sub); err != nil {
		s.logger.Warn("subsession update failed", "subsession", sub.ID, "error", err)
	}
	s.publish(bus.SubSessionProgressEvent{
		Meta: bus.NewMeta("supervisor"), SubSessionID: sub.ID, Description: "running",
	})

	result, err := s.Loop.Run(ctx, childSession, profile, sub.Prompt)
	if result != nil {
		sub.IterationsUsed = result.Iterations
	}

	switch {
	case ctx.Err() != nil || isCancelled(err):
		s.terminate(ctx, sub, models.SubSessionCancelled, "", "cancelled")
		return "", context.Cause(ctx)
	case err != nil:
		s.terminate(ctx, sub, models.SubSessionFailed, "", err.Error())
		return "", err
	default:
		s.terminate(ctx, sub, models.SubSessionCompleted, result.FinalText, "")
		return result.FinalText, nil
	}
}

func (s *Supervisor) terminate(ctx context.Context, sub *models.SubSession, status models.SubSessionStatus, result, errText string) {
	sub.Status = status
	sub.Result = result
	sub.Error = errText
	sub.CompletedAt = time.Now().UTC()
	if err := s.Store.UpdateSubSession(context.WithoutCancel(ctx), sub); err != nil {
		s.logger.Warn("subsession update failed", "subsession", sub.ID, "error", err)
	}
	switch status {
	case models.SubSessionCompleted:
		s.publish(bus.SubSessionCompletedEvent{Meta: bus.NewMeta("supervisor"), SubSession: sub})
	case models.SubSessionFailed:
		s.publish(bus.SubSessionFailedEvent{Meta: bus.NewMeta("supervisor"), SubSession: sub})
	case models.SubSessionCancelled:
		s.publish(bus.SubSessionCancelledEvent{Meta: bus.NewMeta("supervisor"), SubSessionID: sub.ID})
	}
}

func (s *Supervisor) gate(slug string, limit int) *fifoGate {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[slug]
	if !ok {
		g = newFIFOGate(limit)
		s.gates[slug] = g
	}
	return g
}

func (s *Supervisor) publish(ev bus.Event) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(ev)
}

func isCancelled(err error) bool {
	if err == nil {
		return false
	}
	var le *LoopError
	if errors.As(err, &le) && le.Kind == KindCancelled {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// fifoGate is a counting semaphore with strict arrival-order handoff.
// limit 0 means unlimited.
type fifoGate struct {
	limit int

	mu      sync.Mutex
	active  int
	waiters []chan struct{}
}

func newFIFOGate(limit int) *fifoGate {
	return &fifoGate{limit: limit}
}

func (g *fifoGate) acquire(ctx context.Context) error {
	if g.limit <= 0 {
		return nil
	}
	g.mu.Lock()
	if g.active < g.limit && len(g.waiters) == 0 {
		g.active++
		g.mu.Unlock()
		return nil
	}
	slot := make(chan struct{})
	g.waiters = append(g.waiters, slot)
	g.mu.Unlock()

	select {
	case <-slot:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, w := range g.waiters {
			if w == slot {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// The slot was granted concurrently with cancellation; hand it
		// back so the next waiter is not starved.
		g.release()
		return ctx.Err()
	}
}

func (g *fifoGate) release() {
	if g.limit <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.waiters) > 0 {
		next := g.waiters[0]
		g.waiters = g.waiters[1:]
		close(next)
		return
	}
	if g.active > 0 {
		g.active--
	}
}
