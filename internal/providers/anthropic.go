package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicWindow is the context size of current Claude models.
const anthropicWindow = 200000

// defaultAnthropicMaxTokens bounds responses when the request doesn't.
const defaultAnthropicMaxTokens = 8192

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
}

// AnthropicProvider speaks the Anthropic messages API. Unlike the OpenAI
// wire format, the system prompt travels outside the message array and
// tool calls arrive as content blocks, so assembly happens per block
// rather than per index.
type AnthropicProvider struct {
	client     anthropic.Client
	configured bool
	maxRetries int
	retryDelay time.Duration
}

// NewAnthropicProvider creates the provider.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &AnthropicProvider{
		client:     anthropic.NewClient(opts...),
		configured: cfg.APIKey != "",
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) ContextWindow(model string) int { return anthropicWindow }

func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if !p.configured {
		return nil, fmt.Errorf("anthropic: %w", ErrNotConfigured)
	}

	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan *CompletionChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

// anthropicStream is the event iterator returned by the SDK.
type anthropicStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

func (p *AnthropicProvider) processStream(ctx context.Context, stream anthropicStream, chunks chan<- *CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	var current *ToolCall
	var inputJSON strings.Builder
	var usage Usage
	inThinking := false

	for stream.Next() {
		select {
		case <-ctx.Done():
			chunks <- &CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.InputTokens = int(start.Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "thinking":
				inThinking = true
			case "tool_use":
				use := block.AsToolUse()
				current = &ToolCall{ID: use.ID, Name: use.Name}
				inputJSON.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &CompletionChunk{Text: delta.Text}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- &CompletionChunk{Reasoning: delta.Thinking}
				}
			case "input_json_delta":
				inputJSON.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if inThinking {
				inThinking = false
			}
			if current != nil {
				input := inputJSON.String()
				if input == "" {
					input = "{}"
				}
				current.Input = json.RawMessage(input)
				chunks <- &CompletionChunk{ToolCall: current}
				current = nil
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(delta.Usage.OutputTokens)
			}

		case "message_stop":
			chunks <- &CompletionChunk{Done: true, Usage: &usage}
			return
		}
	}
	if err := stream.Err(); err != nil {
		chunks <- &CompletionChunk{Error: err, Done: true}
		return
	}
	chunks <- &CompletionChunk{Done: true, Usage: &usage}
}

func (p *AnthropicProvider) convertMessages(messages []CompletionMessage) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Role == RoleTool {
			// Tool results travel as user-role content blocks.
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			out = append(out, anthropic.NewUserMessage(content...))
			continue
		}

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("tool call %s input: %w", tc.ID, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func (p *AnthropicProvider) convertTools(tools []ToolDef) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("tool %s: invalid definition", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		out = append(out, param)
	}
	return out, nil
}
