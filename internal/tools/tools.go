// Package tools defines the tool surface the agent loop can call:
// built-in file, shell, and search tools; user-defined pipeline tool
// files; and adapters contributed by other subsystems. The registry
// validates arguments against each tool's schema before execution.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Tool is one callable unit exposed to the model.
type Tool interface {
	// Name must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema is the JSON Schema for the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool. Failures the model should see go in the
	// result with IsError set; an error return means the call itself
	// could not run.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the output of one execution.
type ToolResult struct {
	// Content is the text sent back to the model.
	Content string `json:"content"`

	// IsError marks the content as an error the model may recover from.
	IsError bool `json:"is_error,omitempty"`

	// Title is a short human-readable label for display.
	Title string `json:"title,omitempty"`

	// Metadata carries tool-specific extras for the UI.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Errorf builds an error result the model can react to.
func Errorf(format string, args ...any) *ToolResult {
	return &ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// schemaFor derives a JSON schema from an argument struct's tags.
func schemaFor[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))
	raw, err := json.Marshal(schema)
	if err != nil {
		// Reflection over our own static types cannot fail at runtime.
		panic(fmt.Sprintf("tool schema: %v", err))
	}
	return raw
}
