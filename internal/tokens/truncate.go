package tokens

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/openfork/openfork/internal/bus"
)

// Truncation (L1) defaults.
const (
	DefaultMaxOutputBytes = 50_000
	DefaultMaxOutputLines = 2000
	DefaultMaxLineChars   = 2000
)

// TruncateConfig configures per-tool output truncation.
type TruncateConfig struct {
	// MaxBytes is the global byte cap on a single tool output.
	MaxBytes int

	// MaxLines is the global line cap on a single tool output.
	MaxLines int

	// MaxLineChars caps the length of any individual line.
	MaxLineChars int

	// PerToolChars overrides the byte cap for specific tools.
	PerToolChars map[string]int

	// SpillDir receives full untruncated outputs. Empty disables
	// spillover.
	SpillDir string
}

// DefaultTruncateConfig returns the default truncation caps.
func DefaultTruncateConfig() *TruncateConfig {
	return &TruncateConfig{
		MaxBytes:     DefaultMaxOutputBytes,
		MaxLines:     DefaultMaxOutputLines,
		MaxLineChars: DefaultMaxLineChars,
		PerToolChars: map[string]int{},
	}
}

// TruncateResult describes the outcome of one truncation pass.
type TruncateResult struct {
	Output        string
	Truncated     bool
	SpillPath     string
	OriginalBytes int
	DroppedLines  int
}

// Truncator enforces the L1 caps on tool outputs, spilling the full
// output to disk when a cap trips. Truncation is idempotent: output that
// already fits the caps passes through unchanged.
type Truncator struct {
	cfg    *TruncateConfig
	events *bus.Bus
	logger *slog.Logger
}

// NewTruncator creates a truncator. events may be nil in tests.
func NewTruncator(cfg *TruncateConfig, events *bus.Bus) *Truncator {
	if cfg == nil {
		cfg = DefaultTruncateConfig()
	}
	return &Truncator{
		cfg:    cfg,
		events: events,
		logger: slog.Default().With("component", "truncator"),
	}
}

// Truncate applies the caps to a tool output. When any cap trips, the
// head is kept, a marker line records what was dropped, and the full
// output is written to a spill file whose path is returned.
func (t *Truncator) Truncate(sessionID, toolName, output string) TruncateResult {
	res := TruncateResult{Output: output, OriginalBytes: len(output)}

	limit := t.byteCap(toolName)
	lines := strings.Split(output, "\n")
	withinBytes := len(output) <= limit
	withinLines := len(lines) <= t.cfg.MaxLines
	withinLineLen := true
	for _, l := range lines {
		if len(l) > t.cfg.MaxLineChars {
			withinLineLen = false
			break
		}
	}
	if withinBytes && withinLines && withinLineLen {
		return res
	}

	res.Truncated = true
	res.SpillPath = t.spill(toolName, output)

	// Per-line cap first, then line count, then bytes.
	kept := lines
	if len(kept) > t.cfg.MaxLines-1 {
		res.DroppedLines = len(kept) - (t.cfg.MaxLines - 1)
		kept = kept[:t.cfg.MaxLines-1]
	}
	for i, l := range kept {
		if len(l) > t.cfg.MaxLineChars {
			kept[i] = l[:t.cfg.MaxLineChars]
		}
	}
	head := strings.Join(kept, "\n")

	marker := t.marker(res, limit)
	budget := limit - len(marker) - 1
	if budget < 0 {
		budget = 0
	}
	if len(head) > budget {
		head = head[:budget]
	}
	res.Output = head + "\n" + marker

	t.publish(sessionID, toolName, res)
	return res
}

func (t *Truncator) byteCap(toolName string) int {
	if limit, ok := t.cfg.PerToolChars[toolName]; ok && limit > 0 && limit < t.cfg.MaxBytes {
		return limit
	}
	return t.cfg.MaxBytes
}

func (t *Truncator) marker(res TruncateResult, limit int) string {
	m := fmt.Sprintf("[output truncated: %d of %d bytes kept", min(limit, res.OriginalBytes), res.OriginalBytes)
	if res.DroppedLines > 0 {
		m += fmt.Sprintf(", %d lines dropped", res.DroppedLines)
	}
	if res.SpillPath != "" {
		m += ", full output: " + res.SpillPath
	}
	return m + "]"
}

// spill writes the full output to a unique file and returns its path,
// or "" when spilling is disabled or fails.
func (t *Truncator) spill(toolName, output string) string {
	if t.cfg.SpillDir == "" {
		return ""
	}
	if err := os.MkdirAll(t.cfg.SpillDir, 0o755); err != nil {
		t.logger.Warn("spill dir", "error", err)
		return ""
	}
	path := filepath.Join(t.cfg.SpillDir, fmt.Sprintf("%s-%s.out", toolName, uuid.NewString()))
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		t.logger.Warn("spill write", "error", err)
		return ""
	}
	return path
}

func (t *Truncator) publish(sessionID, toolName string, res TruncateResult) {
	if t.events == nil {
		return
	}
	_ = t.events.Publish(bus.OutputTruncatedEvent{
		Meta:           bus.NewMeta("truncator"),
		SessionID:      sessionID,
		ToolName:       toolName,
		OriginalBytes:  res.OriginalBytes,
		TruncatedBytes: len(res.Output),
		SpillPath:      res.SpillPath,
	})
}
