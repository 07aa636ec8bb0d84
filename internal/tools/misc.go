package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

type todoItem struct {
	Content string `json:"content" jsonschema:"required,description=Task description"`
	Status  string `json:"status" jsonschema:"required,description=pending | in_progress | completed"`
}

type todoArgs struct {
	Todos []todoItem `json:"todos" jsonschema:"required,description=Full replacement todo list"`
}

// TodoTool keeps a per-session task list. Each call replaces the whole
// list, so the model always sends the current state.
type TodoTool struct {
	mu    sync.Mutex
	lists map[string][]todoItem
}

func NewTodoTool() *TodoTool {
	return &TodoTool{lists: map[string][]todoItem{}}
}

func (*TodoTool) Name() string { return "todo" }
func (*TodoTool) Description() string {
	return "Track the task list for this session. Send the complete list on every call."
}
func (*TodoTool) Schema() json.RawMessage { return schemaFor[todoArgs]() }

func (t *TodoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args todoArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	for _, item := range args.Todos {
		switch item.Status {
		case "pending", "in_progress", "completed":
		default:
			return Errorf("todo: invalid status %q", item.Status), nil
		}
	}

	sessionID := SessionFromContext(ctx)
	t.mu.Lock()
	t.lists[sessionID] = args.Todos
	t.mu.Unlock()

	var sb strings.Builder
	done := 0
	for _, item := range args.Todos {
		mark := " "
		switch item.Status {
		case "completed":
			mark = "x"
			done++
		case "in_progress":
			mark = ">"
		}
		fmt.Fprintf(&sb, "[%s] %s\n", mark, item.Content)
	}
	return &ToolResult{
		Content: sb.String(),
		Title:   fmt.Sprintf("%d/%d done", done, len(args.Todos)),
	}, nil
}

// List returns the current todos for a session.
func (t *TodoTool) List(sessionID string) []todoItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]todoItem(nil), t.lists[sessionID]...)
}

type questionArgs struct {
	Question string   `json:"question" jsonschema:"required,description=The question to ask the user"`
	Options  []string `json:"options,omitempty" jsonschema:"description=Suggested answers the user can pick from"`
}

// Question is a pending user question surfaced by the question tool.
type Question struct {
	SessionID string
	Question  string
	Options   []string
	Reply     chan string
}

// QuestionTool lets the model ask the user and block for the answer.
// Without a listener the tool reports that nobody is there to answer,
// which keeps headless runs moving.
type QuestionTool struct {
	mu        sync.Mutex
	questions chan *Question
	attached  bool
}

func NewQuestionTool() *QuestionTool {
	return &QuestionTool{questions: make(chan *Question, 4)}
}

// Questions exposes pending questions to a frontend. Receiving from the
// channel and sending on Reply answers the question.
func (q *QuestionTool) Questions() <-chan *Question {
	q.mu.Lock()
	q.attached = true
	q.mu.Unlock()
	return q.questions
}

func (*QuestionTool) Name() string { return "question" }
func (*QuestionTool) Description() string {
	return "Ask the user a clarifying question and wait for their answer."
}
func (*QuestionTool) Schema() json.RawMessage { return schemaFor[questionArgs]() }

func (q *QuestionTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args questionArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}

	q.mu.Lock()
	attached := q.attached
	q.mu.Unlock()
	if !attached {
		return Errorf("question: no user is attached to answer"), nil
	}

	req := &Question{
		SessionID: SessionFromContext(ctx),
		Question:  args.Question,
		Options:   args.Options,
		Reply:     make(chan string, 1),
	}
	select {
	case q.questions <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case answer := <-req.Reply:
		return &ToolResult{Content: answer, Title: "answered"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type sessionKey struct{}

// WithSession tags a context with the session a tool call belongs to.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext returns the session id set by WithSession, or "".
func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
