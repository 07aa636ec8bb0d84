package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// readDefaultLimit caps lines returned when the caller doesn't ask for a
// range.
const readDefaultLimit = 2000

type readArgs struct {
	FilePath string `json:"file_path" jsonschema:"required,description=Absolute path of the file to read"`
	Offset   int    `json:"offset,omitempty" jsonschema:"description=1-based line to start from"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Maximum lines to return"`
}

// ReadTool returns file contents with line numbers, cat -n style.
type ReadTool struct{}

func (ReadTool) Name() string { return "read" }
func (ReadTool) Description() string {
	return "Read a file from disk. Returns numbered lines; use offset/limit for large files."
}
func (ReadTool) Schema() json.RawMessage { return schemaFor[readArgs]() }

func (ReadTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args readArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(args.FilePath)
	if err != nil {
		return Errorf("read %s: %v", args.FilePath, err), nil
	}

	lines := strings.Split(string(raw), "\n")
	start := args.Offset
	if start < 1 {
		start = 1
	}
	limit := args.Limit
	if limit <= 0 {
		limit = readDefaultLimit
	}
	if start > len(lines) {
		return Errorf("read %s: offset %d past end of file (%d lines)", args.FilePath, start, len(lines)), nil
	}
	end := start - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var sb strings.Builder
	for i := start - 1; i < end; i++ {
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, lines[i])
	}
	return &ToolResult{
		Content: sb.String(),
		Title:   filepath.Base(args.FilePath),
	}, nil
}

type writeArgs struct {
	FilePath string `json:"file_path" jsonschema:"required,description=Absolute path of the file to write"`
	Content  string `json:"content" jsonschema:"required,description=Full new file content"`
}

// WriteTool creates or overwrites a file.
type WriteTool struct{}

func (WriteTool) Name() string { return "write" }
func (WriteTool) Description() string {
	return "Write a file, creating parent directories and replacing existing content."
}
func (WriteTool) Schema() json.RawMessage { return schemaFor[writeArgs]() }

func (WriteTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args writeArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(args.FilePath), 0o755); err != nil {
		return Errorf("write %s: %v", args.FilePath, err), nil
	}
	if err := os.WriteFile(args.FilePath, []byte(args.Content), 0o644); err != nil {
		return Errorf("write %s: %v", args.FilePath, err), nil
	}
	return &ToolResult{
		Content: fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.FilePath),
		Title:   filepath.Base(args.FilePath),
	}, nil
}

type editArgs struct {
	FilePath   string `json:"file_path" jsonschema:"required,description=Absolute path of the file to edit"`
	OldString  string `json:"old_string" jsonschema:"required,description=Exact text to replace"`
	NewString  string `json:"new_string" jsonschema:"required,description=Replacement text"`
	ReplaceAll bool   `json:"replace_all,omitempty" jsonschema:"description=Replace every occurrence instead of requiring uniqueness"`
}

// EditTool performs exact string replacement. The old string must match
// exactly once unless replace_all is set.
type EditTool struct{}

func (EditTool) Name() string { return "edit" }
func (EditTool) Description() string {
	return "Replace an exact string in a file. The target must be unique unless replace_all is set."
}
func (EditTool) Schema() json.RawMessage { return schemaFor[editArgs]() }

func (EditTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args editArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	if args.OldString == args.NewString {
		return Errorf("edit %s: old_string and new_string are identical", args.FilePath), nil
	}
	raw, err := os.ReadFile(args.FilePath)
	if err != nil {
		return Errorf("edit %s: %v", args.FilePath, err), nil
	}
	content := string(raw)

	count := strings.Count(content, args.OldString)
	switch {
	case count == 0:
		return Errorf("edit %s: old_string not found", args.FilePath), nil
	case count > 1 && !args.ReplaceAll:
		return Errorf("edit %s: old_string matches %d times; make it unique or set replace_all", args.FilePath, count), nil
	}

	replaced := strings.Replace(content, args.OldString, args.NewString, 1)
	if args.ReplaceAll {
		replaced = strings.ReplaceAll(content, args.OldString, args.NewString)
	}
	if err := os.WriteFile(args.FilePath, []byte(replaced), 0o644); err != nil {
		return Errorf("edit %s: %v", args.FilePath, err), nil
	}
	n := 1
	if args.ReplaceAll {
		n = count
	}
	return &ToolResult{
		Content: fmt.Sprintf("replaced %d occurrence(s) in %s", n, args.FilePath),
		Title:   filepath.Base(args.FilePath),
	}, nil
}
