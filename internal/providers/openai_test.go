package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// sseServer streams canned chat completion chunks in the OpenAI SSE
// framing.
func sseServer(t *testing.T, payloads []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func newTestProvider(url string) *OpenAIProvider {
	return NewOpenAIProvider(OpenAIConfig{APIKey: "test", BaseURL: url + "/v1"})
}

func TestOpenAITextStreaming(t *testing.T) {
	srv := sseServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	})
	defer srv.Close()

	p := newTestProvider(srv.URL)
	chunks, err := p.Complete(context.Background(), &CompletionRequest{
		Model:    "m",
		Messages: []CompletionMessage{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	var text string
	var done bool
	for c := range chunks {
		if c.Error != nil {
			t.Fatalf("chunk error: %v", c.Error)
		}
		text += c.Text
		done = done || c.Done
	}
	if text != "Hello" {
		t.Errorf("text = %q, want Hello", text)
	}
	if !done {
		t.Error("missing done chunk")
	}
}

func TestOpenAIToolCallAssembly(t *testing.T) {
	srv := sseServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read","arguments":""}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"file_path\":"}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"/a.go\"}"}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	})
	defer srv.Close()

	p := newTestProvider(srv.URL)
	chunks, err := p.Complete(context.Background(), &CompletionRequest{
		Model:    "m",
		Messages: []CompletionMessage{{Role: RoleUser, Content: "read a file"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	var calls []*ToolCall
	for c := range chunks {
		if c.Error != nil {
			t.Fatalf("chunk error: %v", c.Error)
		}
		if c.ToolCall != nil {
			calls = append(calls, c.ToolCall)
		}
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Name != "read" {
		t.Errorf("call = %+v", calls[0])
	}
	if string(calls[0].Input) != `{"file_path":"/a.go"}` {
		t.Errorf("arguments not reassembled: %s", calls[0].Input)
	}
}

func TestOpenAIParallelToolCalls(t *testing.T) {
	srv := sseServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"read","arguments":"{}"}},{"index":1,"id":"call_b","type":"function","function":{"name":"glob","arguments":"{}"}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	})
	defer srv.Close()

	p := newTestProvider(srv.URL)
	chunks, _ := p.Complete(context.Background(), &CompletionRequest{
		Model:    "m",
		Messages: []CompletionMessage{{Role: RoleUser, Content: "x"}},
	})

	var names []string
	for c := range chunks {
		if c.ToolCall != nil {
			names = append(names, c.ToolCall.Name)
		}
	}
	if len(names) != 2 || names[0] != "read" || names[1] != "glob" {
		t.Errorf("names = %v, want [read glob] in request order", names)
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("status code: 429, rate limit reached"), true},
		{errors.New("status code: 503"), true},
		{errors.New("status code: 401, invalid api key"), false},
		{errors.New("read tcp: connection reset by peer"), true},
	}
	for _, tc := range cases {
		if got := retryable(tc.err); got != tc.want {
			t.Errorf("retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestBackoffDelayDoubles(t *testing.T) {
	base := 100 * time.Millisecond
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{20, backoffMax},
		{64, backoffMax}, // shift overflow still caps
	}
	for _, tc := range cases {
		if got := backoffDelay(base, tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

type staticProvider struct {
	text string
	err  error
}

func (s *staticProvider) Name() string                 { return "static" }
func (s *staticProvider) ContextWindow(m string) int   { return 1000 }
func (s *staticProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *CompletionChunk, 2)
	ch <- &CompletionChunk{Text: s.text}
	ch <- &CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func TestChatSummarizer(t *testing.T) {
	s := NewChatSummarizer(&staticProvider{text: "a summary"}, "m")
	got, err := s.Summarize(context.Background(), "sys", "transcript", 100)
	if err != nil || got != "a summary" {
		t.Errorf("got %q, %v", got, err)
	}

	failing := NewChatSummarizer(&staticProvider{err: errors.New("down")}, "m")
	if _, err := failing.Summarize(context.Background(), "sys", "t", 100); err == nil {
		t.Error("provider failure must surface")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&staticProvider{})
	if _, err := r.Get("static"); err != nil {
		t.Errorf("get: %v", err)
	}
	if _, err := r.Get("nope"); err == nil {
		t.Error("unknown provider should error")
	}
}
