package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SubagentRunner is implemented by the subagent supervisor. The task
// tool lives here but the supervisor lives above the registry, so the
// dependency points through this interface.
type SubagentRunner interface {
	// RunSubagent executes a prompt under the named agent profile and
	// returns the final assistant text.
	RunSubagent(ctx context.Context, parentSessionID, agentSlug, description, prompt string) (string, error)

	// AgentSlugs lists the profiles available for delegation.
	AgentSlugs() []string
}

type taskArgs struct {
	SubagentType string `json:"subagent_type" jsonschema:"required,description=Which agent profile to delegate to"`
	Description  string `json:"description" jsonschema:"required,description=Short task summary for display"`
	Prompt       string `json:"prompt" jsonschema:"required,description=Full instructions for the subagent"`
}

// TaskTool delegates a prompt to a subagent and returns its final
// answer as the tool result.
type TaskTool struct {
	Runner SubagentRunner
}

func (TaskTool) Name() string { return "task" }
func (t TaskTool) Description() string {
	slugs := "none configured"
	if t.Runner != nil {
		if s := t.Runner.AgentSlugs(); len(s) > 0 {
			slugs = strings.Join(s, ", ")
		}
	}
	return fmt.Sprintf("Delegate a task to a subagent. Available agents: %s.", slugs)
}
func (TaskTool) Schema() json.RawMessage { return schemaFor[taskArgs]() }

func (t TaskTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args taskArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	if t.Runner == nil {
		return Errorf("task: no subagent runner configured"), nil
	}
	out, err := t.Runner.RunSubagent(ctx, SessionFromContext(ctx), args.SubagentType, args.Description, args.Prompt)
	if err != nil {
		return Errorf("task %s: %v", args.SubagentType, err), nil
	}
	return &ToolResult{Content: out, Title: args.Description}, nil
}

// LanguageQuerier is implemented by the LSP supervisor. Only the
// queries the diagnostics tool needs are surfaced here.
type LanguageQuerier interface {
	// Diagnostics returns the current diagnostics for a file, one line
	// per finding, already formatted for display.
	Diagnostics(ctx context.Context, filePath string) ([]string, error)

	// Hover returns hover text for a position in a file.
	Hover(ctx context.Context, filePath string, line, character int) (string, error)
}

type lspArgs struct {
	FilePath  string `json:"file_path" jsonschema:"required,description=File to inspect"`
	Operation string `json:"operation,omitempty" jsonschema:"description=diagnostics (default) or hover"`
	Line      int    `json:"line,omitempty" jsonschema:"description=0-based line for hover"`
	Character int    `json:"character,omitempty" jsonschema:"description=0-based character for hover"`
}

// LSPTool exposes language-server diagnostics and hover to the model.
type LSPTool struct {
	Querier LanguageQuerier
}

func (LSPTool) Name() string { return "lsp" }
func (LSPTool) Description() string {
	return "Query the language server: diagnostics for a file, or hover info at a position."
}
func (LSPTool) Schema() json.RawMessage { return schemaFor[lspArgs]() }

func (t LSPTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args lspArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	if t.Querier == nil {
		return Errorf("lsp: no language server configured"), nil
	}
	switch args.Operation {
	case "", "diagnostics":
		diags, err := t.Querier.Diagnostics(ctx, args.FilePath)
		if err != nil {
			return Errorf("lsp diagnostics %s: %v", args.FilePath, err), nil
		}
		if len(diags) == 0 {
			return &ToolResult{Content: "no diagnostics"}, nil
		}
		return &ToolResult{Content: strings.Join(diags, "\n"), Title: fmt.Sprintf("%d findings", len(diags))}, nil
	case "hover":
		text, err := t.Querier.Hover(ctx, args.FilePath, args.Line, args.Character)
		if err != nil {
			return Errorf("lsp hover %s: %v", args.FilePath, err), nil
		}
		return &ToolResult{Content: text}, nil
	default:
		return Errorf("lsp: unknown operation %q", args.Operation), nil
	}
}
