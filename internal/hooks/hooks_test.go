package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/openfork/openfork/pkg/models"
)

func funcCfg(name string, trigger models.HookTrigger, priority int) models.HookConfig {
	return models.HookConfig{
		Name:     name,
		Trigger:  trigger,
		Type:     models.HookCustom,
		Enabled:  true,
		Priority: priority,
	}
}

func TestRegisterRejectsUnknownTrigger(t *testing.T) {
	p := NewPipeline(nil)
	_, err := p.Register(models.HookConfig{Name: "x", Trigger: "before_everything"}, &FuncHook{HookName: "x"})
	if err == nil {
		t.Fatal("unknown trigger must be rejected")
	}
}

func TestFireRunsInPriorityOrder(t *testing.T) {
	p := NewPipeline(nil)
	var order []string
	mk := func(name string) *FuncHook {
		return &FuncHook{HookName: name, Fn: func(ctx context.Context, hc *HookContext) HookResult {
			order = append(order, name)
			return HookResult{}
		}}
	}
	p.Register(funcCfg("late", models.TriggerPostTool, 50), mk("late"))
	p.Register(funcCfg("early", models.TriggerPostTool, 1), mk("early"))
	p.Register(funcCfg("mid", models.TriggerPostTool, 10), mk("mid"))

	results, veto := p.Fire(context.Background(), &HookContext{Trigger: models.TriggerPostTool})
	if veto != nil {
		t.Fatalf("unexpected veto: %+v", veto)
	}
	if len(results) != 3 {
		t.Fatalf("len = %d, want 3", len(results))
	}
	want := []string{"early", "mid", "late"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestVetoStopsChain(t *testing.T) {
	p := NewPipeline(nil)
	ran := false
	p.Register(funcCfg("guard", models.TriggerPreCommand, 1), &FuncHook{
		HookName: "guard",
		Fn: func(ctx context.Context, hc *HookContext) HookResult {
			return HookResult{Veto: true, Reason: "blocked"}
		},
	})
	p.Register(funcCfg("after", models.TriggerPreCommand, 2), &FuncHook{
		HookName: "after",
		Fn: func(ctx context.Context, hc *HookContext) HookResult {
			ran = true
			return HookResult{}
		},
	})

	_, veto := p.Fire(context.Background(), &HookContext{Trigger: models.TriggerPreCommand, Command: "x"})
	if veto == nil || veto.Reason != "blocked" {
		t.Fatalf("want veto, got %+v", veto)
	}
	if ran {
		t.Error("hooks after a veto must not run")
	}
}

func TestPostTriggerIgnoresVeto(t *testing.T) {
	p := NewPipeline(nil)
	p.Register(funcCfg("observer", models.TriggerPostCommand, 1), &FuncHook{
		HookName: "observer",
		Fn: func(ctx context.Context, hc *HookContext) HookResult {
			return HookResult{Veto: true, Reason: "too late"}
		},
	})
	_, veto := p.Fire(context.Background(), &HookContext{Trigger: models.TriggerPostCommand})
	if veto != nil {
		t.Error("post triggers cannot veto")
	}
}

func TestErrorWithoutContinueVetoesPreTrigger(t *testing.T) {
	p := NewPipeline(nil)
	cfg := funcCfg("fragile", models.TriggerPreTool, 1)
	cfg.ContinueOnError = false
	p.Register(cfg, &FuncHook{
		HookName: "fragile",
		Fn: func(ctx context.Context, hc *HookContext) HookResult {
			return HookResult{Err: errors.New("boom")}
		},
	})
	_, veto := p.Fire(context.Background(), &HookContext{Trigger: models.TriggerPreTool, ToolName: "bash"})
	if veto == nil {
		t.Fatal("failed pre-hook without continue_on_error must veto")
	}
}

func TestErrorWithContinueProceeds(t *testing.T) {
	p := NewPipeline(nil)
	cfg := funcCfg("tolerant", models.TriggerPreTool, 1)
	cfg.ContinueOnError = true
	p.Register(cfg, &FuncHook{
		HookName: "tolerant",
		Fn: func(ctx context.Context, hc *HookContext) HookResult {
			return HookResult{Err: errors.New("boom")}
		},
	})
	results, veto := p.Fire(context.Background(), &HookContext{Trigger: models.TriggerPreTool, ToolName: "bash"})
	if veto != nil {
		t.Fatal("continue_on_error should swallow the failure")
	}
	if len(results) != 1 || results[0].Err == nil {
		t.Error("the failure should still be reported in results")
	}
}

func TestPatternFiltersByToolName(t *testing.T) {
	p := NewPipeline(nil)
	cfg := funcCfg("bash-only", models.TriggerPreTool, 1)
	cfg.Pattern = "bash"
	calls := 0
	p.Register(cfg, &FuncHook{
		HookName: "bash-only",
		Fn: func(ctx context.Context, hc *HookContext) HookResult {
			calls++
			return HookResult{}
		},
	})

	p.Fire(context.Background(), &HookContext{Trigger: models.TriggerPreTool, ToolName: "read"})
	p.Fire(context.Background(), &HookContext{Trigger: models.TriggerPreTool, ToolName: "bash"})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPanicIsolation(t *testing.T) {
	p := NewPipeline(nil)
	cfg := funcCfg("panicky", models.TriggerPostTool, 1)
	cfg.ContinueOnError = true
	p.Register(cfg, &FuncHook{
		HookName: "panicky",
		Fn: func(ctx context.Context, hc *HookContext) HookResult {
			panic("oops")
		},
	})
	results, veto := p.Fire(context.Background(), &HookContext{Trigger: models.TriggerPostTool})
	if veto != nil {
		t.Fatal("panic in a post hook must not veto")
	}
	if len(results) != 1 || results[0].Err == nil {
		t.Error("the panic should surface as an error result")
	}
}

func TestCommandValidationHook(t *testing.T) {
	cfg, hook := NewCommandValidationHook()
	p := NewPipeline(nil)
	if _, err := p.Register(cfg, hook); err != nil {
		t.Fatal(err)
	}

	_, veto := p.Fire(context.Background(), &HookContext{
		Trigger: models.TriggerPreCommand,
		Command: "rm -rf /",
	})
	if veto == nil {
		t.Fatal("rm -rf / must be vetoed")
	}

	_, veto = p.Fire(context.Background(), &HookContext{
		Trigger: models.TriggerPreCommand,
		Command: "git status",
	})
	if veto != nil {
		t.Errorf("git status should pass, got veto %+v", veto)
	}
}

func TestCommandHookCancelProtocol(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell hook test")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "deny.sh")
	body := "#!/bin/sh\nread payload\necho \"HOOK_CANCEL: policy says no\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	hook := NewScriptHook(models.HookConfig{Name: "deny", Executable: script, Interpreter: "sh"})
	res := hook.Run(context.Background(), &HookContext{
		Trigger:  models.TriggerPreTool,
		ToolName: "bash",
		Command:  "true",
	})
	if !res.Veto {
		t.Fatalf("want veto, got %+v", res)
	}
	if res.Reason != "policy says no" {
		t.Errorf("reason = %q", res.Reason)
	}
}

func TestCommandHookReceivesContextOnStdin(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell hook test")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "echo.sh")
	body := "#!/bin/sh\ncat\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	hook := NewScriptHook(models.HookConfig{Name: "echo", Executable: script})
	res := hook.Run(context.Background(), &HookContext{
		Trigger:  models.TriggerPreEdit,
		FilePath: "/src/a.go",
	})
	if res.Err != nil {
		t.Fatalf("run: %v", res.Err)
	}
	var hc HookContext
	if err := json.Unmarshal([]byte(res.Output), &hc); err != nil {
		t.Fatalf("output is not the JSON context: %v", err)
	}
	if hc.FilePath != "/src/a.go" || hc.Trigger != models.TriggerPreEdit {
		t.Errorf("round trip mismatch: %+v", hc)
	}
}

func TestWebhookHookDecision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var hc HookContext
		if err := json.NewDecoder(r.Body).Decode(&hc); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		if hc.ToolName == "bash" {
			json.NewEncoder(w).Encode(webhookReply{Decision: "cancel", Reason: "no shells"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := NewWebhookHook(models.HookConfig{Name: "remote", Executable: srv.URL})

	res := hook.Run(context.Background(), &HookContext{Trigger: models.TriggerPreTool, ToolName: "bash"})
	if !res.Veto || res.Reason != "no shells" {
		t.Fatalf("want cancel, got %+v", res)
	}

	res = hook.Run(context.Background(), &HookContext{Trigger: models.TriggerPreTool, ToolName: "read"})
	if res.Veto || res.Err != nil {
		t.Fatalf("want pass, got %+v", res)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	doc := `hooks:
  - name: lint-on-edit
    trigger: post_edit
    type: command
    enabled: true
    executable: gofmt
    args: ["-l"]
  - name: notify
    trigger: session_end
    type: webhook
    enabled: true
    executable: https://example.invalid/hook
`
	if err := os.WriteFile(filepath.Join(dir, "hooks.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewPipeline(nil)
	n, err := p.LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 2 {
		t.Errorf("loaded = %d, want 2", n)
	}

	if _, err := p.LoadDir(filepath.Join(dir, "missing")); err != nil {
		t.Errorf("missing dir should not error: %v", err)
	}
}
