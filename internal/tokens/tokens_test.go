package tokens

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/openfork/openfork/pkg/models"
)

func TestCharEstimator(t *testing.T) {
	est := CharEstimator{}
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 4000), 1000},
	}
	for _, tc := range cases {
		if got := est.Estimate(tc.in); got != tc.want {
			t.Errorf("Estimate(%d chars) = %d, want %d", len(tc.in), got, tc.want)
		}
	}
}

func TestEstimateHistorySkipsCompacted(t *testing.T) {
	est := CharEstimator{}
	history := []*models.Message{
		{ID: 1, Compacted: true, Parts: []*models.Part{textPart("should not count at all")}},
		{ID: 2, Parts: []*models.Part{textPart("abcd")}},
	}
	if got := EstimateHistory(est, history); got != 1 {
		t.Errorf("EstimateHistory = %d, want 1", got)
	}
}

func textPart(content string) *models.Part {
	return &models.Part{
		Type: models.PartTypeText,
		Body: &models.TextPart{Content: content, ContentType: models.TextMarkdown},
	}
}

func toolMessage(id int64, status models.ToolStatus, output string) *models.Message {
	return &models.Message{
		ID:   id,
		Role: models.RoleAssistant,
		Parts: []*models.Part{{
			Type: models.PartTypeTool,
			Body: &models.ToolPart{CallID: "c", ToolName: "bash", Status: status, Output: output},
		}},
	}
}

func TestTruncateWithinCapsPassesThrough(t *testing.T) {
	tr := NewTruncator(DefaultTruncateConfig(), nil)
	res := tr.Truncate("s1", "bash", "short output")
	if res.Truncated {
		t.Error("short output should not be truncated")
	}
	if res.Output != "short output" {
		t.Errorf("output modified: %q", res.Output)
	}
}

func TestTruncateSpillsAndCaps(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultTruncateConfig()
	cfg.SpillDir = dir
	tr := NewTruncator(cfg, nil)

	// 100 KB across 5000 lines.
	line := strings.Repeat("x", 19)
	full := strings.Repeat(line+"\n", 5000)
	res := tr.Truncate("s1", "bash", full)

	if !res.Truncated {
		t.Fatal("expected truncation")
	}
	if len(res.Output) > cfg.MaxBytes {
		t.Errorf("output %d bytes exceeds cap %d", len(res.Output), cfg.MaxBytes)
	}
	if lines := strings.Count(res.Output, "\n") + 1; lines > cfg.MaxLines {
		t.Errorf("output %d lines exceeds cap %d", lines, cfg.MaxLines)
	}
	if res.OriginalBytes != len(full) {
		t.Errorf("OriginalBytes = %d, want %d", res.OriginalBytes, len(full))
	}
	if res.SpillPath == "" {
		t.Fatal("expected spill path")
	}
	spilled, err := os.ReadFile(res.SpillPath)
	if err != nil {
		t.Fatalf("read spill: %v", err)
	}
	if string(spilled) != full {
		t.Error("spill file does not contain the full output")
	}
	if !strings.Contains(res.Output, "[output truncated:") {
		t.Error("marker line missing")
	}
}

func TestTruncateIdempotent(t *testing.T) {
	tr := NewTruncator(DefaultTruncateConfig(), nil)
	full := strings.Repeat("y", 120_000)

	first := tr.Truncate("s1", "bash", full)
	second := tr.Truncate("s1", "bash", first.Output)

	if second.Truncated {
		t.Error("re-truncating a truncated output should be a no-op")
	}
	if second.Output != first.Output {
		t.Error("re-truncation shrank the output")
	}
}

func TestTruncatePerToolCap(t *testing.T) {
	cfg := DefaultTruncateConfig()
	cfg.PerToolChars["grep"] = 1000
	tr := NewTruncator(cfg, nil)

	res := tr.Truncate("s1", "grep", strings.Repeat("z", 5000))
	if len(res.Output) > 1000 {
		t.Errorf("per-tool cap not applied: %d bytes", len(res.Output))
	}
}

func TestPruneKeepsRecentAndUserMessages(t *testing.T) {
	cfg := DefaultPruneConfig()
	cfg.MinReclaimTokens = 1 << 30 // prune everything eligible
	p := NewPruner(cfg, CharEstimator{}, nil)

	big := strings.Repeat("o", 4000)
	history := []*models.Message{
		toolMessage(1, models.ToolCompleted, big),
		{ID: 2, Role: models.RoleUser, Parts: []*models.Part{textPart(big)}},
		toolMessage(3, models.ToolCompleted, big),
		toolMessage(4, models.ToolRunning, big),
		toolMessage(5, models.ToolCompleted, big),
		toolMessage(6, models.ToolCompleted, big),
		toolMessage(7, models.ToolCompleted, big),
		toolMessage(8, models.ToolCompleted, big),
	}

	stats := p.Prune("s1", history)

	// 6 completed tool parts, keep the 4 newest: 2 pruned.
	if stats.PrunedParts != 2 {
		t.Fatalf("PrunedParts = %d, want 2", stats.PrunedParts)
	}
	if tp := history[0].ToolParts()[0]; !tp.Pruned {
		t.Error("oldest tool part should be pruned")
	}
	if tp := history[2].ToolParts()[0]; !tp.Pruned {
		t.Error("second oldest tool part should be pruned")
	}
	if tp := history[3].ToolParts()[0]; tp.Pruned {
		t.Error("running tool part must never be pruned")
	}
	if tp := history[7].ToolParts()[0]; tp.Pruned {
		t.Error("recent tool part should be kept")
	}
	if body := history[1].Parts[0].Body.(*models.TextPart); body.Content != big {
		t.Error("user text must never be pruned")
	}
	if !strings.Contains(history[0].ToolParts()[0].Output, "[pruned") {
		t.Error("pruned marker missing")
	}
}

func TestPruneStopsAtReclaimTarget(t *testing.T) {
	cfg := DefaultPruneConfig()
	cfg.KeepRecentTools = 0
	cfg.MinReclaimTokens = 500
	p := NewPruner(cfg, CharEstimator{}, nil)

	big := strings.Repeat("o", 8000) // 2000 tokens each
	history := []*models.Message{
		toolMessage(1, models.ToolCompleted, big),
		toolMessage(2, models.ToolCompleted, big),
		toolMessage(3, models.ToolCompleted, big),
	}

	stats := p.Prune("s1", history)
	if stats.PrunedParts != 1 {
		t.Fatalf("PrunedParts = %d, want 1 (first prune already reclaims enough)", stats.PrunedParts)
	}
}

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, system, transcript string, maxTokens int) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func TestCompactSelectsOldestWindow(t *testing.T) {
	sum := &fakeSummarizer{summary: "it happened"}
	c := NewCompactor(DefaultCompactionConfig(), CharEstimator{}, sum, nil)

	big := strings.Repeat("c", 4000) // 1000 tokens per message
	history := []*models.Message{
		{ID: 1, Role: models.RoleAssistant, Parts: []*models.Part{textPart(big)}},
		{ID: 2, Role: models.RoleAssistant, Parts: []*models.Part{textPart(big)}},
		{ID: 3, Role: models.RoleAssistant, Parts: []*models.Part{textPart(big)}},
		{ID: 4, Role: models.RoleAssistant, Parts: []*models.Part{textPart(big)}},
	}

	// window 4000 tokens; target 50% of 4000 = 2000; need 2000 -> two messages.
	res, err := c.Compact(context.Background(), "s1", history, 4000)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if res == nil {
		t.Fatal("expected a compaction result")
	}
	if got := res.MessageIDs; len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("MessageIDs = %v, want [1 2]", got)
	}
	if res.Part.MessageCount != 2 || res.Part.Summary != "it happened" {
		t.Errorf("unexpected part: %+v", res.Part)
	}

	// The compacted set is a prefix, so the survivors are a suffix.
	for _, id := range res.MessageIDs {
		if id > 2 {
			t.Error("compacted a message out of the oldest window")
		}
	}
}

func TestCompactFailureMutatesNothing(t *testing.T) {
	sum := &fakeSummarizer{err: errors.New("provider down")}
	c := NewCompactor(DefaultCompactionConfig(), CharEstimator{}, sum, nil)

	history := []*models.Message{
		{ID: 1, Role: models.RoleAssistant, Parts: []*models.Part{textPart(strings.Repeat("c", 40_000))}},
	}
	res, err := c.Compact(context.Background(), "s1", history, 10_000)
	if err == nil {
		t.Fatal("expected error")
	}
	if res != nil {
		t.Fatal("failed compaction must not return a result")
	}
	if history[0].Compacted {
		t.Error("failed compaction must not flag messages")
	}
}

func TestCompactNotNeededBelowThreshold(t *testing.T) {
	c := NewCompactor(DefaultCompactionConfig(), CharEstimator{}, &fakeSummarizer{}, nil)
	history := []*models.Message{
		{ID: 1, Parts: []*models.Part{textPart("tiny")}},
	}
	if c.Needed(history, 100_000) {
		t.Error("tiny history should not need compaction")
	}
}

func TestCompactKeepsNewestUserPrompt(t *testing.T) {
	sum := &fakeSummarizer{summary: "s"}
	c := NewCompactor(DefaultCompactionConfig(), CharEstimator{}, sum, nil)

	big := strings.Repeat("c", 4000)
	history := []*models.Message{
		{ID: 1, Role: models.RoleAssistant, Parts: []*models.Part{textPart(big)}},
		{ID: 2, Role: models.RoleAssistant, Parts: []*models.Part{textPart(big)}},
		{ID: 3, Role: models.RoleUser, Parts: []*models.Part{textPart("do the thing")}},
	}

	// Overshoot far beyond the whole history: the prompt being answered
	// must still survive the window.
	res, err := c.Compact(context.Background(), "s1", history, 100)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if res == nil {
		t.Fatal("expected a compaction result")
	}
	for _, id := range res.MessageIDs {
		if id == 3 {
			t.Error("compaction swept the newest user message")
		}
	}
	if len(res.MessageIDs) != 2 {
		t.Errorf("MessageIDs = %v, want the two assistant messages", res.MessageIDs)
	}
}

func TestCompactStopsAtOpenMessage(t *testing.T) {
	sum := &fakeSummarizer{summary: "s"}
	c := NewCompactor(DefaultCompactionConfig(), CharEstimator{}, sum, nil)

	big := strings.Repeat("c", 4000)
	history := []*models.Message{
		toolMessage(1, models.ToolRunning, big),
		{ID: 2, Role: models.RoleAssistant, Parts: []*models.Part{textPart(big)}},
	}
	res, err := c.Compact(context.Background(), "s1", history, 2000)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if res != nil && len(res.MessageIDs) > 0 {
		t.Error("window must stop at the first message with in-flight tools")
	}
}
