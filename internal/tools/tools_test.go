package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func mustRegister(t *testing.T, r *Registry, tool Tool) {
	t.Helper()
	if err := r.Register(tool); err != nil {
		t.Fatalf("register %s: %v", tool.Name(), err)
	}
}

func TestRegistryValidatesArguments(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, ReadTool{})

	tests := []struct {
		name    string
		tool    string
		input   string
		wantErr string
	}{
		{"unknown tool", "nope", `{}`, "unknown tool"},
		{"invalid json", "read", `{not json`, "not valid JSON"},
		{"missing required", "read", `{}`, "invalid arguments"},
		{"wrong type", "read", `{"file_path": 42}`, "invalid arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Execute(context.Background(), tt.tool, json.RawMessage(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.IsError {
				t.Fatal("expected error result")
			}
			if !strings.Contains(res.Content, tt.wantErr) {
				t.Errorf("content %q does not mention %q", res.Content, tt.wantErr)
			}
		})
	}
}

func TestRegistryDefsFilter(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, ReadTool{})
	mustRegister(t, r, WriteTool{})
	mustRegister(t, r, EditTool{})

	all := r.Defs(nil)
	if len(all) != 3 {
		t.Fatalf("got %d defs, want 3", len(all))
	}
	filtered := r.Defs([]string{"read", "missing"})
	if len(filtered) != 1 || filtered[0].Name != "read" {
		t.Fatalf("filtered defs = %+v", filtered)
	}
}

func TestReadWriteEditRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "file.txt")
	ctx := context.Background()

	writeParams, _ := json.Marshal(map[string]string{
		"file_path": path,
		"content":   "alpha\nbeta\ngamma\n",
	})
	res, err := (WriteTool{}).Execute(ctx, writeParams)
	if err != nil || res.IsError {
		t.Fatalf("write: res=%+v err=%v", res, err)
	}

	readParams, _ := json.Marshal(map[string]any{"file_path": path, "offset": 2, "limit": 1})
	res, err = (ReadTool{}).Execute(ctx, readParams)
	if err != nil || res.IsError {
		t.Fatalf("read: res=%+v err=%v", res, err)
	}
	if !strings.Contains(res.Content, "2\tbeta") {
		t.Errorf("read content = %q, want numbered beta line", res.Content)
	}

	editParams, _ := json.Marshal(map[string]string{
		"file_path":  path,
		"old_string": "beta",
		"new_string": "delta",
	})
	res, err = (EditTool{}).Execute(ctx, editParams)
	if err != nil || res.IsError {
		t.Fatalf("edit: res=%+v err=%v", res, err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "alpha\ndelta\ngamma\n" {
		t.Errorf("file after edit = %q", raw)
	}
}

func TestEditRequiresUniqueMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	os.WriteFile(path, []byte("x x x"), 0o644)
	ctx := context.Background()

	params, _ := json.Marshal(map[string]string{
		"file_path":  path,
		"old_string": "x",
		"new_string": "y",
	})
	res, err := (EditTool{}).Execute(ctx, params)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "3 times") {
		t.Fatalf("expected ambiguity error, got %+v", res)
	}

	params, _ = json.Marshal(map[string]any{
		"file_path":   path,
		"old_string":  "x",
		"new_string":  "y",
		"replace_all": true,
	})
	res, err = (EditTool{}).Execute(ctx, params)
	if err != nil || res.IsError {
		t.Fatalf("replace_all: res=%+v err=%v", res, err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "y y y" {
		t.Errorf("file = %q, want all replaced", raw)
	}
}

func TestBashToolExitAndTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	ctx := context.Background()
	tool := BashTool{}

	params, _ := json.Marshal(map[string]string{"command": "echo hello; exit 3"})
	res, err := tool.Execute(ctx, params)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "exit 3") || !strings.Contains(res.Content, "hello") {
		t.Fatalf("exit result = %+v", res)
	}

	params, _ = json.Marshal(map[string]any{"command": "sleep 5", "timeout": 50})
	start := time.Now()
	res, err = tool.Execute(ctx, params)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "timed out") {
		t.Fatalf("timeout result = %+v", res)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout did not fire promptly")
	}

	// A backgrounded child keeps the output pipe open after sh exits;
	// the deadline must still unblock Run.
	params, _ = json.Marshal(map[string]any{"command": "sleep 5 & sleep 5", "timeout": 50})
	start = time.Now()
	res, err = tool.Execute(ctx, params)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "timed out") {
		t.Fatalf("timeout result = %+v", res)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("forked child held the command past its deadline")
	}
}

func TestGlobPathMatch(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "cmd/main.go", false},
		{"**/*.go", "cmd/main.go", true},
		{"**/*.go", "main.go", true},
		{"internal/**/*_test.go", "internal/a/b/c_test.go", true},
		{"internal/**/*_test.go", "pkg/a_test.go", false},
		{"docs/*.md", "docs/readme.md", true},
		{"docs/*.md", "docs/sub/readme.md", false},
	}
	for _, tt := range tests {
		if got := globPathMatch(tt.pattern, tt.path); got != tt.want {
			t.Errorf("globPathMatch(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestGlobAndGrepTools(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\nfunc Alpha() {}\n"), 0o644)
	os.MkdirAll(filepath.Join(dir, "sub"), 0o755)
	os.WriteFile(filepath.Join(dir, "sub", "b.go"), []byte("package b\nfunc Beta() {}\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "c.txt"), []byte("Alpha text\n"), 0o644)
	ctx := context.Background()

	params, _ := json.Marshal(map[string]string{"pattern": "**/*.go", "path": dir})
	res, err := (GlobTool{}).Execute(ctx, params)
	if err != nil || res.IsError {
		t.Fatalf("glob: res=%+v err=%v", res, err)
	}
	if !strings.Contains(res.Content, "a.go") || !strings.Contains(res.Content, "b.go") {
		t.Errorf("glob content = %q", res.Content)
	}
	if strings.Contains(res.Content, "c.txt") {
		t.Errorf("glob matched non-go file: %q", res.Content)
	}

	params, _ = json.Marshal(map[string]string{"pattern": "func (Alpha|Beta)", "path": dir, "glob": "**/*.go"})
	res, err = (GrepTool{}).Execute(ctx, params)
	if err != nil || res.IsError {
		t.Fatalf("grep: res=%+v err=%v", res, err)
	}
	if !strings.Contains(res.Content, "a.go:2:") || !strings.Contains(res.Content, "b.go:2:") {
		t.Errorf("grep content = %q", res.Content)
	}
	if strings.Contains(res.Content, "c.txt") {
		t.Errorf("grep ignored the glob filter: %q", res.Content)
	}
}

func TestTodoToolPerSession(t *testing.T) {
	tool := NewTodoTool()
	params, _ := json.Marshal(map[string]any{"todos": []map[string]string{
		{"content": "first", "status": "completed"},
		{"content": "second", "status": "in_progress"},
	}})

	ctx := WithSession(context.Background(), "s1")
	res, err := tool.Execute(ctx, params)
	if err != nil || res.IsError {
		t.Fatalf("todo: res=%+v err=%v", res, err)
	}
	if res.Title != "1/2 done" {
		t.Errorf("title = %q", res.Title)
	}
	if len(tool.List("s1")) != 2 || len(tool.List("s2")) != 0 {
		t.Error("lists not scoped per session")
	}

	bad, _ := json.Marshal(map[string]any{"todos": []map[string]string{
		{"content": "x", "status": "later"},
	}})
	res, err = tool.Execute(ctx, bad)
	if err != nil || !res.IsError {
		t.Fatalf("expected invalid status error, got %+v err=%v", res, err)
	}
}

func TestQuestionToolWithoutListener(t *testing.T) {
	tool := NewQuestionTool()
	params, _ := json.Marshal(map[string]string{"question": "proceed?"})
	res, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "no user") {
		t.Fatalf("result = %+v", res)
	}
}

func TestQuestionToolRoundTrip(t *testing.T) {
	tool := NewQuestionTool()
	questions := tool.Questions()

	go func() {
		q := <-questions
		if q.Question != "pick one" || len(q.Options) != 2 {
			q.Reply <- "unexpected question"
			return
		}
		q.Reply <- q.Options[1]
	}()

	params, _ := json.Marshal(map[string]any{"question": "pick one", "options": []string{"a", "b"}})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := tool.Execute(ctx, params)
	if err != nil || res.IsError {
		t.Fatalf("question: res=%+v err=%v", res, err)
	}
	if res.Content != "b" {
		t.Errorf("answer = %q, want b", res.Content)
	}
}

func TestPipelineLoaderLoadsAndReplaces(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	dir := t.TempDir()
	def := `{
  "name": "greet",
  "description": "says hi",
  "parameters": {"type": "object", "properties": {"who": {"type": "string"}}},
  "command": ["sh", "-c", "cat >/dev/null; echo hi"]
}`
	os.WriteFile(filepath.Join(dir, "greet.json"), []byte(def), 0o644)

	r := NewRegistry()
	loader := NewPipelineLoader(dir, r)
	n, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("loaded %d tools, want 1", n)
	}

	res, err := r.Execute(context.Background(), "greet", json.RawMessage(`{"who":"x"}`))
	if err != nil || res.IsError {
		t.Fatalf("greet: res=%+v err=%v", res, err)
	}
	if strings.TrimSpace(res.Content) != "hi" {
		t.Errorf("content = %q", res.Content)
	}

	// Re-registering the same name replaces the tool.
	redef := strings.Replace(def, "echo hi", "echo bye", 1)
	os.WriteFile(filepath.Join(dir, "greet.json"), []byte(redef), 0o644)
	if err := loader.loadFile(filepath.Join(dir, "greet.json")); err != nil {
		t.Fatal(err)
	}
	res, _ = r.Execute(context.Background(), "greet", json.RawMessage(`{}`))
	if strings.TrimSpace(res.Content) != "bye" {
		t.Errorf("after reload content = %q", res.Content)
	}
}

func TestPipelineLoaderMissingDir(t *testing.T) {
	loader := NewPipelineLoader(filepath.Join(t.TempDir(), "absent"), NewRegistry())
	n, err := loader.Load()
	if err != nil || n != 0 {
		t.Fatalf("missing dir: n=%d err=%v", n, err)
	}
}

func TestHTMLToText(t *testing.T) {
	in := `<html><head><title>t</title><script>var x=1;</script></head>
<body><h1>Header</h1><p>Hello &amp; welcome</p></body></html>`
	out := htmlToText(in)
	if strings.Contains(out, "var x") {
		t.Errorf("script survived: %q", out)
	}
	if !strings.Contains(out, "Header") || !strings.Contains(out, "Hello & welcome") {
		t.Errorf("text lost: %q", out)
	}
}
