package providers

import (
	"context"
	"fmt"
	"strings"
)

// ChatSummarizer drives a provider through a single non-tool completion
// to produce conversation summaries. It satisfies the compactor's
// summarizer contract.
type ChatSummarizer struct {
	provider Provider
	model    string
}

// NewChatSummarizer creates a summarizer pinned to one model.
func NewChatSummarizer(provider Provider, model string) *ChatSummarizer {
	return &ChatSummarizer{provider: provider, model: model}
}

// Summarize runs the summarization prompt and collects the streamed text
// into one string.
func (s *ChatSummarizer) Summarize(ctx context.Context, system, transcript string, maxTokens int) (string, error) {
	req := &CompletionRequest{
		Model:     s.model,
		System:    system,
		MaxTokens: maxTokens,
		Messages: []CompletionMessage{
			{Role: RoleUser, Content: transcript},
		},
	}
	chunks, err := s.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", fmt.Errorf("summarize stream: %w", chunk.Error)
		}
		sb.WriteString(chunk.Text)
	}
	summary := strings.TrimSpace(sb.String())
	if summary == "" {
		return "", fmt.Errorf("summarize: model returned no text")
	}
	return summary, nil
}
