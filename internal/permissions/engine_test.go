package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/openfork/openfork/pkg/models"
)

func TestRequestKey(t *testing.T) {
	cases := []struct {
		tool  string
		input string
		want  string
	}{
		{"bash", `{"command":"git push origin main"}`, "bash:git push origin main"},
		{"bash", `{"command":"/usr/bin/ls -la"}`, "bash:ls -la"},
		{"read", `{"file_path":"/src/main.go"}`, "read:/src/main.go"},
		{"write", `{"file_path":"/src/main.go"}`, "edit:/src/main.go"},
		{"edit", `{"file_path":"/src/main.go"}`, "edit:/src/main.go"},
		{"webfetch", `{"url":"https://example.com"}`, "webfetch:https://example.com"},
		{"task", `{"subagent_type":"explorer"}`, "task:explorer"},
		{"todo", `{}`, "todo:*"},
		{"read", `{}`, "read:*"},
	}
	for _, tc := range cases {
		if got := RequestKey(tc.tool, json.RawMessage(tc.input)); got != tc.want {
			t.Errorf("RequestKey(%s, %s) = %q, want %q", tc.tool, tc.input, got, tc.want)
		}
	}
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"bash:*", "bash:git push", true},
		{"bash:git *", "bash:git push", true},
		{"bash:git *", "bash:rm -rf /", false},
		{"edit:/src/*.go", "edit:/src/main.go", true},
		{"edit:/src/*.go", "edit:/docs/readme.md", false},
		{"*:*", "anything:at all", true},
		{"read:*", "edit:/src/main.go", false},
		{"webfetch:https://*.example.com/*", "webfetch:https://api.example.com/v1", true},
	}
	for _, tc := range cases {
		if got := MatchPattern(tc.pattern, tc.key); got != tc.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", tc.pattern, tc.key, got, tc.want)
		}
	}
}

func TestHighestPriorityLastMatchWins(t *testing.T) {
	base := &models.PermissionRuleset{
		DefaultAction: models.PermissionAsk,
		Rules: []models.PermissionRule{
			{Pattern: "bash:*", Action: models.PermissionDeny, Priority: 10},
			{Pattern: "bash:git *", Action: models.PermissionAllow, Priority: 20},
		},
	}
	e := NewEngine(base, nil, nil)
	ctx := context.Background()

	dec, err := e.Evaluate(ctx, "s1", "bash", json.RawMessage(`{"command":"git status"}`))
	if err != nil || dec.Action != models.PermissionAllow {
		t.Errorf("git should be allowed, got %v %v", dec.Action, err)
	}

	_, err = e.Evaluate(ctx, "s1", "bash", json.RawMessage(`{"command":"rm -rf /"}`))
	if !errors.Is(err, ErrDenied) {
		t.Errorf("rm should be denied, got %v", err)
	}
}

func TestBashRulesKeyOnToolName(t *testing.T) {
	// The category for shell calls is the tool name itself, so a
	// "bash:*" rule governs every bash invocation.
	base := &models.PermissionRuleset{
		DefaultAction: models.PermissionAllow,
		Rules: []models.PermissionRule{
			{Pattern: "bash:*", Action: models.PermissionDeny, Reason: "no shell", Priority: 10},
		},
	}
	e := NewEngine(base, nil, nil)
	_, err := e.Evaluate(context.Background(), "s1", "bash", json.RawMessage(`{"command":"rm x"}`))
	if !errors.Is(err, ErrDenied) {
		t.Errorf("bash:* deny rule did not match a bash call: %v", err)
	}
}

func TestAskWithoutListenerDenies(t *testing.T) {
	e := NewEngine(PresetPrimary(), nil, nil)
	_, err := e.Evaluate(context.Background(), "s1", "edit", json.RawMessage(`{"file_path":"/a.go"}`))
	if !errors.Is(err, ErrNoPromptListener) {
		t.Errorf("want ErrNoPromptListener, got %v", err)
	}
}

// The ask flow from the user's side: prompt appears, user grants for the
// session, the next identical call passes without a prompt.
func TestAskFlowSessionGrant(t *testing.T) {
	e := NewEngine(PresetPrimary(), nil, nil)
	prompts := e.Prompts()

	answered := make(chan struct{})
	go func() {
		defer close(answered)
		req := <-prompts
		if req.ToolName != "edit" || req.Key != "edit:/src/main.go" {
			t.Errorf("unexpected prompt: %+v", req)
		}
		req.Reply <- PromptAnswer{Allow: true, Scope: models.ScopeThisSession}
	}()

	ctx := context.Background()
	input := json.RawMessage(`{"file_path":"/src/main.go"}`)
	dec, err := e.Evaluate(ctx, "s1", "edit", input)
	if err != nil || dec.Action != models.PermissionAllow {
		t.Fatalf("grant failed: %v %v", dec.Action, err)
	}
	<-answered

	// Second call must not prompt: nothing drains the channel anymore,
	// so a prompt would block and the timeout would trip.
	done := make(chan error, 1)
	go func() {
		_, err := e.Evaluate(ctx, "s1", "edit", input)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second call should be allowed from the session rule: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second call prompted again")
	}

	// Other sessions are unaffected by the session-scoped grant.
	cancelled, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := e.Evaluate(cancelled, "s2", "edit", input); err == nil {
		t.Fatal("other session should still prompt (and fail on ctx here)")
	}
}

func TestAskFlowDenyThisCall(t *testing.T) {
	e := NewEngine(PresetPrimary(), nil, nil)
	prompts := e.Prompts()
	go func() {
		req := <-prompts
		req.Reply <- PromptAnswer{Allow: false, Scope: models.ScopeThisCall, Reason: "not now"}
	}()

	_, err := e.Evaluate(context.Background(), "s1", "bash", json.RawMessage(`{"command":"make deploy"}`))
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("want ErrDenied, got %v", err)
	}

	// this-call leaves no rule behind: the next call prompts again.
	go func() {
		req := <-prompts
		req.Reply <- PromptAnswer{Allow: true, Scope: models.ScopeThisCall}
	}()
	dec, err := e.Evaluate(context.Background(), "s1", "bash", json.RawMessage(`{"command":"make deploy"}`))
	if err != nil || dec.Action != models.PermissionAllow {
		t.Fatalf("second prompt should have been shown and granted: %v", err)
	}
}

func TestPatternScopedGrant(t *testing.T) {
	e := NewEngine(PresetPrimary(), nil, nil)
	prompts := e.Prompts()
	go func() {
		req := <-prompts
		req.Reply <- PromptAnswer{Allow: true, Scope: models.ScopeThisPattern, Pattern: "bash:git *"}
	}()

	ctx := context.Background()
	if _, err := e.Evaluate(ctx, "s1", "bash", json.RawMessage(`{"command":"git fetch"}`)); err != nil {
		t.Fatalf("first git call: %v", err)
	}
	// A different git invocation matches the widened pattern without a
	// prompt.
	if _, err := e.Evaluate(ctx, "s1", "bash", json.RawMessage(`{"command":"git push origin main"}`)); err != nil {
		t.Fatalf("second git call should match the granted pattern: %v", err)
	}
}

func TestScopedRulesetNeverWidens(t *testing.T) {
	e := NewEngine(PresetExplorer(), nil, nil)
	child := e.ScopedRuleset("s1", []models.PermissionRule{
		{Pattern: "read:*", Action: models.PermissionAllow}, // ignored
		{Pattern: "grep:*", Action: models.PermissionDeny, Reason: "narrowed"},
	})

	childEngine := NewEngine(child, nil, nil)
	ctx := context.Background()
	if _, err := childEngine.Evaluate(ctx, "sub", "grep", json.RawMessage(`{"pattern":"x"}`)); !errors.Is(err, ErrDenied) {
		t.Errorf("restriction should apply, got %v", err)
	}
	if _, err := childEngine.Evaluate(ctx, "sub", "edit", json.RawMessage(`{"file_path":"/a"}`)); !errors.Is(err, ErrDenied) {
		t.Errorf("parent deny must survive in child, got %v", err)
	}
}

func TestPresets(t *testing.T) {
	ctx := context.Background()
	read := json.RawMessage(`{"file_path":"/a.go"}`)
	edit := json.RawMessage(`{"file_path":"/a.go"}`)

	for _, preset := range []string{"primary", "explorer", "planner", "researcher"} {
		e := NewEngine(PresetByName(preset), nil, nil)
		if dec, err := e.Evaluate(ctx, "s", "read", read); err != nil || dec.Action != models.PermissionAllow {
			t.Errorf("%s: read should always be allowed, got %v %v", preset, dec.Action, err)
		}
	}

	for _, preset := range []string{"explorer", "planner", "researcher"} {
		e := NewEngine(PresetByName(preset), nil, nil)
		if _, err := e.Evaluate(ctx, "s", "write", edit); !errors.Is(err, ErrDenied) {
			t.Errorf("%s: edits should be denied, got %v", preset, err)
		}
	}

	res := NewEngine(PresetResearcher(), nil, nil)
	if dec, err := res.Evaluate(ctx, "s", "webfetch", json.RawMessage(`{"url":"https://pkg.go.dev"}`)); err != nil || dec.Action != models.PermissionAllow {
		t.Errorf("researcher: webfetch should be allowed, got %v %v", dec.Action, err)
	}
}
