package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Shell command execution limits.
const (
	DefaultCommandTimeout = 2 * time.Minute
	MaxCommandTimeout     = 10 * time.Minute
)

type bashArgs struct {
	Command string `json:"command" jsonschema:"required,description=Shell command to run"`
	Timeout int    `json:"timeout,omitempty" jsonschema:"description=Timeout in milliseconds"`
	Workdir string `json:"workdir,omitempty" jsonschema:"description=Working directory for the command"`
}

// BashTool runs shell commands through sh -c with a bounded timeout.
// Output combines stdout and stderr in arrival order.
type BashTool struct {
	// Workdir is the default working directory for commands.
	Workdir string
}

func (BashTool) Name() string { return "bash" }
func (BashTool) Description() string {
	return "Run a shell command and return its combined output. Commands time out; long-running servers should be backgrounded."
}
func (BashTool) Schema() json.RawMessage { return schemaFor[bashArgs]() }

func (t BashTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args bashArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}

	timeout := DefaultCommandTimeout
	if args.Timeout > 0 {
		timeout = time.Duration(args.Timeout) * time.Millisecond
		if timeout > MaxCommandTimeout {
			timeout = MaxCommandTimeout
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", args.Command)
	if args.Workdir != "" {
		cmd.Dir = args.Workdir
	} else if t.Workdir != "" {
		cmd.Dir = t.Workdir
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	// Forked children inherit the output pipes and would otherwise keep
	// Run blocked past the deadline; WaitDelay forces the pipes closed
	// shortly after sh itself is killed.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	content := out.String()

	if runCtx.Err() == context.DeadlineExceeded {
		return Errorf("command timed out after %s\n%s", timeout, content), nil
	}
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &ToolResult{
			Content: fmt.Sprintf("exit %d: %s\n%s", exitCode, err, content),
			IsError: true,
			Title:   firstLine(args.Command),
		}, nil
	}
	return &ToolResult{Content: content, Title: firstLine(args.Command)}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
