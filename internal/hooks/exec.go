package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/openfork/openfork/pkg/models"
)

// cancelPrefix is the line prefix an external hook prints to veto the
// guarded operation. Everything after the prefix is the reason.
const cancelPrefix = "HOOK_CANCEL:"

// CommandHook runs an executable with the hook context on stdin as JSON
// and in OPENFORK_* environment variables. Exit code zero with no cancel
// line means proceed; a cancel line on stdout vetoes; a non-zero exit is
// an error.
type CommandHook struct {
	name       string
	executable string
	args       []string
}

// NewCommandHook creates a command hook from its configuration.
func NewCommandHook(cfg models.HookConfig) *CommandHook {
	return &CommandHook{name: cfg.Name, executable: cfg.Executable, args: cfg.Args}
}

func (h *CommandHook) Name() string { return h.name }

func (h *CommandHook) Run(ctx context.Context, hc *HookContext) HookResult {
	return runProcess(ctx, h.name, h.executable, h.args, hc)
}

// ScriptHook runs a script file through an interpreter. It behaves like
// a command hook otherwise.
type ScriptHook struct {
	name        string
	interpreter string
	script      string
	args        []string
}

// NewScriptHook creates a script hook; the interpreter defaults to sh.
func NewScriptHook(cfg models.HookConfig) *ScriptHook {
	interp := cfg.Interpreter
	if interp == "" {
		interp = "sh"
	}
	return &ScriptHook{name: cfg.Name, interpreter: interp, script: cfg.Executable, args: cfg.Args}
}

func (h *ScriptHook) Name() string { return h.name }

func (h *ScriptHook) Run(ctx context.Context, hc *HookContext) HookResult {
	args := append([]string{h.script}, h.args...)
	return runProcess(ctx, h.name, h.interpreter, args, hc)
}

func runProcess(ctx context.Context, name, executable string, args []string, hc *HookContext) HookResult {
	payload, err := json.Marshal(hc)
	if err != nil {
		return HookResult{HookName: name, Err: fmt.Errorf("encode hook context: %w", err)}
	}

	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(os.Environ(), hookEnv(hc)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return HookResult{HookName: name, Err: fmt.Errorf("hook timed out: %w", ctx.Err())}
		}
		return HookResult{
			HookName: name,
			Output:   stdout.String(),
			Err:      fmt.Errorf("hook exited: %w (stderr: %s)", err, strings.TrimSpace(stderr.String())),
		}
	}

	out := stdout.String()
	if reason, cancelled := scanCancel(out); cancelled {
		return HookResult{HookName: name, Veto: true, Reason: reason, Output: out}
	}
	return HookResult{HookName: name, Output: out}
}

// scanCancel looks for a HOOK_CANCEL line in process output.
func scanCancel(out string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, cancelPrefix) {
			reason := strings.TrimSpace(strings.TrimPrefix(line, cancelPrefix))
			if reason == "" {
				reason = "cancelled by hook"
			}
			return reason, true
		}
	}
	return "", false
}

func hookEnv(hc *HookContext) []string {
	env := []string{
		"OPENFORK_TRIGGER=" + string(hc.Trigger),
		"OPENFORK_SESSION_ID=" + hc.SessionID,
	}
	if hc.ToolName != "" {
		env = append(env, "OPENFORK_TOOL_NAME="+hc.ToolName)
	}
	if hc.Command != "" {
		env = append(env, "OPENFORK_COMMAND="+hc.Command)
	}
	if hc.FilePath != "" {
		env = append(env, "OPENFORK_FILE_PATH="+hc.FilePath)
	}
	if hc.Error != "" {
		env = append(env, "OPENFORK_ERROR="+hc.Error)
	}
	return env
}

// WebhookHook POSTs the hook context as JSON and reads a decision from
// the response body. Non-2xx responses are errors.
type WebhookHook struct {
	name   string
	url    string
	client *http.Client
}

// webhookReply is the expected response body. A missing or empty body
// means proceed.
type webhookReply struct {
	Decision string `json:"decision,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// NewWebhookHook creates a webhook hook from its configuration.
func NewWebhookHook(cfg models.HookConfig) *WebhookHook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WebhookHook{
		name:   cfg.Name,
		url:    cfg.Executable,
		client: &http.Client{Timeout: timeout},
	}
}

func (h *WebhookHook) Name() string { return h.name }

func (h *WebhookHook) Run(ctx context.Context, hc *HookContext) HookResult {
	payload, err := json.Marshal(hc)
	if err != nil {
		return HookResult{HookName: h.name, Err: fmt.Errorf("encode hook context: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return HookResult{HookName: h.name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return HookResult{HookName: h.name, Err: fmt.Errorf("webhook: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return HookResult{HookName: h.name, Err: fmt.Errorf("webhook body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return HookResult{
			HookName: h.name,
			Err:      fmt.Errorf("webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var reply webhookReply
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &reply); err != nil {
			return HookResult{HookName: h.name, Err: fmt.Errorf("webhook reply: %w", err)}
		}
	}
	if strings.EqualFold(reply.Decision, "cancel") {
		reason := reply.Reason
		if reason == "" {
			reason = "cancelled by webhook"
		}
		return HookResult{HookName: h.name, Veto: true, Reason: reason, Output: string(body)}
	}
	return HookResult{HookName: h.name, Output: string(body)}
}

// FuncHook adapts a function to the Hook interface; built-in hooks and
// tests use it.
type FuncHook struct {
	HookName string
	Fn       func(ctx context.Context, hc *HookContext) HookResult
}

func (h *FuncHook) Name() string { return h.HookName }

func (h *FuncHook) Run(ctx context.Context, hc *HookContext) HookResult {
	res := h.Fn(ctx, hc)
	if res.HookName == "" {
		res.HookName = h.HookName
	}
	return res
}
