// Package hooks runs user-supplied extensions at fixed points in the
// agent loop. Pre-triggers may veto the guarded operation; post-triggers
// observe only. Hooks execute in priority order, and a veto stops the
// rest of the chain.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfork/openfork/internal/bus"
	"github.com/openfork/openfork/pkg/models"
)

// DefaultTimeout bounds a single hook execution.
const DefaultTimeout = 30 * time.Second

// HookContext carries the state of the guarded operation into a hook.
// Fields are populated per trigger; unrelated fields stay zero.
type HookContext struct {
	Trigger   models.HookTrigger `json:"trigger"`
	SessionID string             `json:"session_id,omitempty"`
	AgentSlug string             `json:"agent_slug,omitempty"`

	// Tool triggers.
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	ToolOut   string          `json:"tool_output,omitempty"`

	// Command and edit triggers.
	Command  string `json:"command,omitempty"`
	FilePath string `json:"file_path,omitempty"`

	// Message triggers.
	Message string `json:"message,omitempty"`

	// Error and warning triggers.
	Error string `json:"error,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// HookResult is what one hook reported.
type HookResult struct {
	HookName string
	Veto     bool
	Reason   string
	Output   string
	Err      error
}

// Hook executes at a trigger point.
type Hook interface {
	Name() string
	Run(ctx context.Context, hc *HookContext) HookResult
}

// registration binds a hook to its configuration.
type registration struct {
	id   string
	cfg  models.HookConfig
	hook Hook
}

// Pipeline dispatches hooks per trigger. Registration order is free;
// execution order is ascending priority, ties broken by registration
// order.
type Pipeline struct {
	events *bus.Bus
	logger *slog.Logger

	mu    sync.RWMutex
	byTri map[models.HookTrigger][]*registration
}

// NewPipeline creates an empty pipeline.
func NewPipeline(events *bus.Bus) *Pipeline {
	return &Pipeline{
		events: events,
		logger: slog.Default().With("component", "hooks"),
		byTri:  map[models.HookTrigger][]*registration{},
	}
}

// Register adds a hook under its configuration. The trigger must be a
// member of the closed set.
func (p *Pipeline) Register(cfg models.HookConfig, hook Hook) (string, error) {
	if !cfg.Trigger.Valid() {
		return "", fmt.Errorf("unknown hook trigger %q", cfg.Trigger)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	reg := &registration{id: cfg.ID, cfg: cfg, hook: hook}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.byTri[cfg.Trigger] = append(p.byTri[cfg.Trigger], reg)
	sort.SliceStable(p.byTri[cfg.Trigger], func(i, j int) bool {
		return p.byTri[cfg.Trigger][i].cfg.Priority < p.byTri[cfg.Trigger][j].cfg.Priority
	})
	p.logger.Debug("registered hook", "id", cfg.ID, "name", cfg.Name, "trigger", cfg.Trigger)
	return cfg.ID, nil
}

// Unregister removes a hook by id.
func (p *Pipeline) Unregister(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for trigger, regs := range p.byTri {
		for i, reg := range regs {
			if reg.id == id {
				p.byTri[trigger] = append(regs[:i], regs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Fire runs every enabled hook for the trigger in order. For
// pre-triggers the first veto stops the chain and is returned; the
// caller must then abandon the guarded operation. Post-trigger vetoes
// are ignored.
func (p *Pipeline) Fire(ctx context.Context, hc *HookContext) ([]HookResult, *HookResult) {
	p.mu.RLock()
	regs := make([]*registration, len(p.byTri[hc.Trigger]))
	copy(regs, p.byTri[hc.Trigger])
	p.mu.RUnlock()

	var results []HookResult
	for _, reg := range regs {
		if !reg.cfg.Enabled {
			continue
		}
		if !p.patternMatches(reg.cfg.Pattern, hc) {
			continue
		}

		res := p.runOne(ctx, reg, hc)
		results = append(results, res)

		if res.Err != nil && !reg.cfg.ContinueOnError {
			if hc.Trigger.Pre() {
				veto := res
				veto.Veto = true
				if veto.Reason == "" {
					veto.Reason = fmt.Sprintf("hook %s failed: %v", res.HookName, res.Err)
				}
				p.publishVeto(hc.Trigger, veto)
				return results, &veto
			}
		}
		if res.Veto && hc.Trigger.Pre() {
			p.publishVeto(hc.Trigger, res)
			return results, &res
		}
	}
	return results, nil
}

func (p *Pipeline) runOne(ctx context.Context, reg *registration, hc *HookContext) HookResult {
	timeout := reg.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res := func() (res HookResult) {
		defer func() {
			if r := recover(); r != nil {
				res = HookResult{HookName: reg.hook.Name(), Err: fmt.Errorf("hook panicked: %v", r)}
			}
		}()
		return reg.hook.Run(runCtx, hc)
	}()
	if res.HookName == "" {
		res.HookName = reg.cfg.Name
	}

	if res.Err != nil {
		p.logger.Warn("hook failed", "hook", res.HookName, "trigger", hc.Trigger, "error", res.Err)
	}
	if p.events != nil {
		_ = p.events.Publish(bus.HookExecutedEvent{
			Meta:     bus.NewMeta("hooks"),
			Trigger:  hc.Trigger,
			HookName: res.HookName,
			Success:  res.Err == nil,
			Duration: time.Since(start),
		})
	}
	return res
}

// patternMatches restricts a hook to matching tool names, commands, or
// file paths. An empty pattern matches everything.
func (p *Pipeline) patternMatches(pattern string, hc *HookContext) bool {
	if pattern == "" {
		return true
	}
	for _, candidate := range []string{hc.ToolName, hc.Command, hc.FilePath} {
		if candidate != "" && globMatch(pattern, candidate) {
			return true
		}
	}
	return false
}

func (p *Pipeline) publishVeto(trigger models.HookTrigger, res HookResult) {
	if p.events == nil {
		return
	}
	_ = p.events.Publish(bus.HookVetoedEvent{
		Meta:     bus.NewMeta("hooks"),
		Trigger:  trigger,
		HookName: res.HookName,
		Reason:   res.Reason,
	})
}

// globMatch matches a pattern with "*" wildcards against a string.
func globMatch(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(s, part)
		if i < 0 {
			return false
		}
		s = s[i+len(part):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}
