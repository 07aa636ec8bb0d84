package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openfork/openfork/internal/bus"
	"github.com/openfork/openfork/pkg/models"
)

// Compaction (L3) defaults.
const (
	DefaultCompactionThreshold = 0.90
	DefaultCompactionTarget    = 0.50
	DefaultSummaryMaxTokens    = 2000
)

// compactionSystemPrompt instructs the summarizer model.
const compactionSystemPrompt = `You are compacting an agent conversation to reclaim context space.
Summarize the conversation below into a dense briefing that preserves:
- what the user asked for and all decisions made
- files read or modified, commands run, and their outcomes
- open problems and the current state of the work
Write in the past tense. Do not invent details.`

// Summarizer produces a summary of a conversation window. It is
// implemented by a chat provider adapter.
type Summarizer interface {
	Summarize(ctx context.Context, system string, transcript string, maxTokens int) (string, error)
}

// CompactionConfig configures history compaction.
type CompactionConfig struct {
	// Threshold is the fraction of the context window at which
	// compaction triggers.
	Threshold float64

	// TargetPercent is the fraction of the context window the history
	// should occupy after compaction.
	TargetPercent float64

	// SummaryMaxTokens caps the summarizer response.
	SummaryMaxTokens int

	// Model optionally pins a dedicated summarization model; empty
	// uses the active agent's model.
	Model string
}

// DefaultCompactionConfig returns the default compaction tuning.
func DefaultCompactionConfig() *CompactionConfig {
	return &CompactionConfig{
		Threshold:        DefaultCompactionThreshold,
		TargetPercent:    DefaultCompactionTarget,
		SummaryMaxTokens: DefaultSummaryMaxTokens,
	}
}

// CompactionResult is the outcome of a successful compaction pass.
type CompactionResult struct {
	// Part is the synthetic compaction part that replaces the window.
	Part *models.CompactionPart

	// MessageIDs are the messages to mark compacted, in order.
	MessageIDs []int64
}

// ErrCompactionInFlight is returned when a session is already compacting.
// Callers treat it as a no-op; the next trigger retries.
var ErrCompactionInFlight = errors.New("compaction already in flight for session")

// Compactor summarizes the oldest contiguous window of completed messages
// into a single compaction part. Compaction is serialized per session.
type Compactor struct {
	cfg        *CompactionConfig
	est        Estimator
	summarizer Summarizer
	events     *bus.Bus
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewCompactor creates a compactor.
func NewCompactor(cfg *CompactionConfig, est Estimator, summarizer Summarizer, events *bus.Bus) *Compactor {
	if cfg == nil {
		cfg = DefaultCompactionConfig()
	}
	if est == nil {
		est = CharEstimator{}
	}
	return &Compactor{
		cfg:        cfg,
		est:        est,
		summarizer: summarizer,
		events:     events,
		logger:     slog.Default().With("component", "compactor"),
		inflight:   make(map[string]struct{}),
	}
}

// Needed reports whether the history estimate has crossed the compaction
// threshold for the given context window.
func (c *Compactor) Needed(history []*models.Message, contextWindow int) bool {
	if contextWindow <= 0 {
		return false
	}
	return float64(EstimateHistory(c.est, history)) >= c.cfg.Threshold*float64(contextWindow)
}

// Compact selects the oldest contiguous window of non-compacted messages
// whose tokens cover the overshoot, summarizes it through the provider,
// and returns the compaction part plus the message ids to flag. On any
// failure it returns without having mutated anything; the caller applies
// the result to the store.
func (c *Compactor) Compact(ctx context.Context, sessionID string, history []*models.Message, contextWindow int) (*CompactionResult, error) {
	c.mu.Lock()
	if _, busy := c.inflight[sessionID]; busy {
		c.mu.Unlock()
		return nil, ErrCompactionInFlight
	}
	c.inflight[sessionID] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, sessionID)
		c.mu.Unlock()
	}()

	current := EstimateHistory(c.est, history)
	target := int(c.cfg.TargetPercent * float64(contextWindow))
	need := current - target
	if need <= 0 {
		return nil, nil
	}

	window, windowTokens := c.selectWindow(history, need)
	if len(window) == 0 {
		return nil, nil
	}

	summary, err := c.summarizer.Summarize(ctx, compactionSystemPrompt, c.transcript(window), c.cfg.SummaryMaxTokens)
	if err != nil {
		if c.events != nil {
			_ = c.events.Publish(bus.ErrorOccurredEvent{
				Meta:      bus.NewMeta("compactor"),
				SessionID: sessionID,
				Err:       fmt.Sprintf("compaction: %v", err),
			})
		}
		return nil, fmt.Errorf("compaction summarize: %w", err)
	}

	ids := make([]int64, len(window))
	for i, m := range window {
		ids[i] = m.ID
	}
	part := &models.CompactionPart{
		Summary:      summary,
		MessageCount: len(window),
		TokenCount:   windowTokens,
		CompactedAt:  time.Now().UTC(),
	}

	if c.events != nil {
		_ = c.events.Publish(bus.CompactionCompletedEvent{
			Meta:            bus.NewMeta("compactor"),
			SessionID:       sessionID,
			CompactedCount:  len(window),
			CompactedTokens: windowTokens,
			SummaryTokens:   c.est.Estimate(summary),
		})
	}
	return &CompactionResult{Part: part, MessageIDs: ids}, nil
}

// selectWindow walks history oldest-first, skipping already-compacted
// messages, and accumulates completed messages until their token sum
// covers the overshoot. The window is contiguous so the remaining
// messages are always a suffix of the original list. The newest user
// message is the prompt the loop is currently answering and never joins
// the window, however large the overshoot.
func (c *Compactor) selectWindow(history []*models.Message, need int) ([]*models.Message, int) {
	prompt := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			prompt = i
			break
		}
	}

	var window []*models.Message
	total := 0
	for i, m := range history {
		if i == prompt {
			break
		}
		if m.Compacted {
			continue
		}
		if c.messageOpen(m) {
			break
		}
		window = append(window, m)
		total += EstimateMessage(c.est, m)
		if total >= need {
			break
		}
	}
	return window, total
}

// messageOpen reports whether a message still has non-terminal tool
// parts; open messages end the compaction window.
func (c *Compactor) messageOpen(m *models.Message) bool {
	for _, tp := range m.ToolParts() {
		if !tp.Terminal() {
			return true
		}
	}
	return false
}

func (c *Compactor) transcript(window []*models.Message) string {
	var sb strings.Builder
	for _, m := range window {
		sb.WriteString("[" + string(m.Role) + "]\n")
		for _, p := range m.Parts {
			switch body := p.Body.(type) {
			case *models.TextPart:
				sb.WriteString(body.Content + "\n")
			case *models.ReasoningPart:
				// Reasoning is internal; skip it in summaries.
			case *models.ToolPart:
				sb.WriteString(fmt.Sprintf("tool %s(%s) -> %s\n", body.ToolName, body.Input, body.Output))
			case *models.CompactionPart:
				sb.WriteString("previous summary: " + body.Summary + "\n")
			case *models.FilePart:
				sb.WriteString("file " + body.Path + "\n")
			case *models.PatchPart:
				sb.WriteString("patch " + body.FilePath + "\n")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
