package permissions

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// Rules address tool calls through "category:resource" keys. The
// category comes from the tool name; the resource is pulled out of the
// call arguments so rules can target what a call touches rather than
// just which tool it uses.

// resourceSpec maps a tool to its permission category and the argument
// field that carries its resource.
type resourceSpec struct {
	category string
	argKey   string
}

var resourceSpecs = map[string]resourceSpec{
	"bash":      {category: "bash", argKey: "command"},
	"read":      {category: "read", argKey: "file_path"},
	"edit":      {category: "edit", argKey: "file_path"},
	"write":     {category: "edit", argKey: "file_path"},
	"multiedit": {category: "edit", argKey: "file_path"},
	"webfetch":  {category: "webfetch", argKey: "url"},
	"glob":      {category: "glob", argKey: "pattern"},
	"grep":      {category: "grep", argKey: "pattern"},
	"task":      {category: "task", argKey: "subagent_type"},
}

// RequestKey builds the "category:resource" key for a tool call. Tools
// without a known resource field key on "toolname:*" so wildcard rules
// still apply to them.
func RequestKey(toolName string, input json.RawMessage) string {
	spec, ok := resourceSpecs[strings.ToLower(toolName)]
	if !ok {
		return strings.ToLower(toolName) + ":*"
	}
	resource := extractArg(input, spec.argKey)
	if resource == "" {
		resource = "*"
	}
	if spec.category == "bash" {
		resource = commandResource(resource)
	}
	return spec.category + ":" + resource
}

func extractArg(input json.RawMessage, key string) string {
	if len(input) == 0 {
		return ""
	}
	var args map[string]any
	if err := json.Unmarshal(input, &args); err != nil {
		return ""
	}
	v, _ := args[key].(string)
	return v
}

// commandResource reduces a shell command line to its executable name so
// rules like "bash:git" match every git invocation.
func commandResource(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "*"
	}
	exe := filepath.Base(fields[0])
	if len(fields) > 1 {
		return exe + " " + strings.Join(fields[1:], " ")
	}
	return exe
}

// MatchPattern reports whether a rule pattern matches a request key.
// Both sides are "category:resource"; the category must match exactly
// (or be "*"), and the resource side supports "*" wildcards anywhere.
func MatchPattern(pattern, key string) bool {
	pc, pr := splitKey(pattern)
	kc, kr := splitKey(key)
	if pc != "*" && pc != kc {
		return false
	}
	return matchGlob(pr, kr)
}

func splitKey(s string) (category, resource string) {
	if i := strings.Index(s, ":"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, "*"
}

// matchGlob matches a pattern with "*" wildcards against a string.
func matchGlob(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(s, part)
		if i < 0 {
			return false
		}
		s = s[i+len(part):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}
