package tokens

import (
	"log/slog"

	"github.com/openfork/openfork/internal/bus"
	"github.com/openfork/openfork/pkg/models"
)

// Pruning (L2) defaults.
const (
	DefaultSoftThreshold    = 40_000
	DefaultKeepRecentTools  = 4
	DefaultRetainChars      = 400
	DefaultMinReclaimTokens = 2000
)

// PruneConfig configures cross-message output pruning.
type PruneConfig struct {
	// SoftThreshold is the estimated token count at which pruning
	// kicks in before a provider call.
	SoftThreshold int

	// KeepRecentTools is how many of the newest completed tool parts
	// are always left untouched.
	KeepRecentTools int

	// RetainChars is how much of a pruned output's head survives.
	RetainChars int

	// MinReclaimTokens stops pruning once this many tokens have been
	// reclaimed.
	MinReclaimTokens int
}

// DefaultPruneConfig returns the default pruning thresholds.
func DefaultPruneConfig() *PruneConfig {
	return &PruneConfig{
		SoftThreshold:    DefaultSoftThreshold,
		KeepRecentTools:  DefaultKeepRecentTools,
		RetainChars:      DefaultRetainChars,
		MinReclaimTokens: DefaultMinReclaimTokens,
	}
}

// PruneStats reports what a pruning pass reclaimed.
type PruneStats struct {
	PrunedParts     int
	ReclaimedTokens int
}

// Pruner reclaims tokens by dropping stale tool outputs. It never touches
// the current message, user messages, or text/reasoning parts; only
// completed tool parts older than the KeepRecentTools newest are
// eligible.
type Pruner struct {
	cfg    *PruneConfig
	est    Estimator
	events *bus.Bus
	logger *slog.Logger
}

// NewPruner creates a pruner.
func NewPruner(cfg *PruneConfig, est Estimator, events *bus.Bus) *Pruner {
	if cfg == nil {
		cfg = DefaultPruneConfig()
	}
	if est == nil {
		est = CharEstimator{}
	}
	return &Pruner{
		cfg:    cfg,
		est:    est,
		events: events,
		logger: slog.Default().With("component", "pruner"),
	}
}

// Needed reports whether the history estimate has crossed the soft
// threshold.
func (p *Pruner) Needed(history []*models.Message) bool {
	return EstimateHistory(p.est, history) >= p.cfg.SoftThreshold
}

// Prune mutates eligible tool parts in history, oldest first, until the
// reclaim target is met or no eligible parts remain. The current message
// must not be part of history.
func (p *Pruner) Prune(sessionID string, history []*models.Message) PruneStats {
	var stats PruneStats

	eligible := p.eligible(history)
	if len(eligible) <= p.cfg.KeepRecentTools {
		return stats
	}
	eligible = eligible[:len(eligible)-p.cfg.KeepRecentTools]

	for _, tp := range eligible {
		if stats.ReclaimedTokens >= p.cfg.MinReclaimTokens {
			break
		}
		before := p.est.Estimate(tp.Output)
		tp.Output = p.retain(tp)
		tp.Pruned = true
		after := p.est.Estimate(tp.Output)
		stats.PrunedParts++
		stats.ReclaimedTokens += before - after
	}

	if stats.PrunedParts > 0 && p.events != nil {
		_ = p.events.Publish(bus.OutputsPrunedEvent{
			Meta:            bus.NewMeta("pruner"),
			SessionID:       sessionID,
			PrunedParts:     stats.PrunedParts,
			ReclaimedTokens: stats.ReclaimedTokens,
		})
	}
	return stats
}

// eligible collects completed, not-yet-pruned tool parts from assistant
// and tool messages in history order.
func (p *Pruner) eligible(history []*models.Message) []*models.ToolPart {
	var out []*models.ToolPart
	for _, m := range history {
		if m.Role == models.RoleUser || m.Compacted {
			continue
		}
		for _, tp := range m.ToolParts() {
			if tp.Status == models.ToolCompleted && !tp.Pruned && tp.Output != "" {
				out = append(out, tp)
			}
		}
	}
	return out
}

func (p *Pruner) retain(tp *models.ToolPart) string {
	head := tp.Output
	if len(head) > p.cfg.RetainChars {
		head = head[:p.cfg.RetainChars]
	}
	marker := "[pruned]"
	if tp.SpillPath != "" {
		marker = "[pruned: spill=" + tp.SpillPath + "]"
	}
	if head == "" {
		return marker
	}
	return head + "\n" + marker
}
