package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Search result caps keep outputs inside the truncation budget most of
// the time.
const (
	maxGlobResults = 500
	maxGrepMatches = 500
)

type globArgs struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Glob pattern such as **/*.go"`
	Path    string `json:"path,omitempty" jsonschema:"description=Directory to search; defaults to the working directory"`
}

// GlobTool matches file paths, newest first.
type GlobTool struct {
	Workdir string
}

func (GlobTool) Name() string { return "glob" }
func (GlobTool) Description() string {
	return "Find files by glob pattern. Results are sorted by modification time, newest first."
}
func (GlobTool) Schema() json.RawMessage { return schemaFor[globArgs]() }

func (t GlobTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args globArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	root := args.Path
	if root == "" {
		root = t.Workdir
	}
	if root == "" {
		root = "."
	}

	type hit struct {
		path string
		mod  int64
	}
	var hits []hit
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if !globPathMatch(args.Pattern, rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		hits = append(hits, hit{path: path, mod: info.ModTime().UnixNano()})
		return nil
	})
	if err != nil {
		return Errorf("glob: %v", err), nil
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].mod > hits[j].mod })
	if len(hits) > maxGlobResults {
		hits = hits[:maxGlobResults]
	}
	if len(hits) == 0 {
		return &ToolResult{Content: "no files matched"}, nil
	}
	var sb strings.Builder
	for _, h := range hits {
		sb.WriteString(h.path)
		sb.WriteByte('\n')
	}
	return &ToolResult{Content: sb.String(), Title: args.Pattern}, nil
}

// globPathMatch extends path.Match with "**" crossing separators.
func globPathMatch(pattern, rel string) bool {
	rel = filepath.ToSlash(rel)
	if !strings.Contains(pattern, "**") {
		ok, err := filepath.Match(pattern, rel)
		return err == nil && ok
	}
	// Translate the glob to a regexp: ** spans directories, * does not.
	var sb strings.Builder
	sb.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch {
		case strings.HasPrefix(pattern[i:], "**/"):
			sb.WriteString(`(?:.*/)?`)
			i += 2
		case strings.HasPrefix(pattern[i:], "**"):
			sb.WriteString(`.*`)
			i++
		case pattern[i] == '*':
			sb.WriteString(`[^/]*`)
		case pattern[i] == '?':
			sb.WriteString(`[^/]`)
		default:
			sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	return err == nil && re.MatchString(rel)
}

type grepArgs struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Regular expression to search for"`
	Path    string `json:"path,omitempty" jsonschema:"description=File or directory to search"`
	Glob    string `json:"glob,omitempty" jsonschema:"description=Restrict the search to files matching this glob"`
}

// GrepTool searches file contents with Go regular expressions.
type GrepTool struct {
	Workdir string
}

func (GrepTool) Name() string { return "grep" }
func (GrepTool) Description() string {
	return "Search file contents with a regular expression. Returns path:line:text matches."
}
func (GrepTool) Schema() json.RawMessage { return schemaFor[grepArgs]() }

func (t GrepTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args grepArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(args.Pattern)
	if err != nil {
		return Errorf("grep: bad pattern: %v", err), nil
	}
	root := args.Path
	if root == "" {
		root = t.Workdir
	}
	if root == "" {
		root = "."
	}

	var sb strings.Builder
	matches := 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if args.Glob != "" {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil || !globPathMatch(args.Glob, rel) {
				return nil
			}
		}
		if matches >= maxGrepMatches {
			return filepath.SkipAll
		}
		grepFile(re, path, &sb, &matches)
		return nil
	})
	if walkErr != nil {
		return Errorf("grep: %v", walkErr), nil
	}
	if matches == 0 {
		return &ToolResult{Content: "no matches"}, nil
	}
	return &ToolResult{Content: sb.String(), Title: args.Pattern}, nil
}

func grepFile(re *regexp.Regexp, path string, sb *strings.Builder, matches *int) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		fmt.Fprintf(sb, "%s:%d:%s\n", path, lineNo, line)
		*matches++
		if *matches >= maxGrepMatches {
			return
		}
	}
}
