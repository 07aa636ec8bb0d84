// Package providers implements chat model integrations. Every provider
// exposes the same streaming interface: a completion request goes in, a
// channel of chunks comes out, and tool calls are delivered as fully
// assembled units regardless of how the wire protocol fragments them.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Default retry tuning shared by providers.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// ErrNotConfigured is returned when a provider is used without an API key.
var ErrNotConfigured = errors.New("provider not configured")

// Role values on completion messages follow the OpenAI convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolDef describes a callable tool to the model.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CompletionMessage is one turn of provider-facing conversation.
type CompletionMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// CompletionRequest is a provider-independent chat request. System is
// kept out of Messages; each provider injects it the way its API wants.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []CompletionMessage
	Tools       []ToolDef
	MaxTokens   int
	Temperature float32
}

// Usage reports token accounting for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CompletionChunk is one unit of a streamed response. Exactly one of
// Text, Reasoning, or ToolCall is set on content chunks; the final chunk
// has Done set (with Usage when the provider reports it) or Error set.
type CompletionChunk struct {
	Text      string
	Reasoning string
	ToolCall  *ToolCall
	Done      bool
	Usage     *Usage
	Error     error
}

// Provider is a streaming chat model backend.
type Provider interface {
	Name() string

	// ContextWindow reports the model's context size in tokens, or 0
	// when unknown.
	ContextWindow(model string) int

	// Complete starts a streaming completion. The returned channel is
	// closed after the Done or Error chunk.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// retryable reports whether an API error is worth retrying: rate limits,
// overload, and transient server or network failures.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "overloaded",
		"500", "502", "503", "504",
		"connection reset", "connection refused", "timeout", "temporarily",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// backoffMax caps the exponential retry delay.
const backoffMax = 30 * time.Second

// backoffDelay doubles per attempt: base, 2*base, 4*base, ... capped at
// backoffMax. Attempt 0 is the initial try and waits nothing.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := base << (attempt - 1)
	if delay > backoffMax || delay <= 0 {
		delay = backoffMax
	}
	return delay
}

// backoff waits for the attempt's exponential delay or until ctx is done.
func backoff(ctx context.Context, base time.Duration, attempt int) error {
	delay := backoffDelay(base, attempt)
	if delay == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
