package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/openfork/openfork/internal/providers"
)

// Registry holds the tools available to a run and validates call
// arguments against each tool's schema before dispatch.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	tools    map[string]Tool
	compiled map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:   slog.Default().With("component", "tools"),
		tools:    map[string]Tool{},
		compiled: map[string]*jsonschema.Schema{},
	}
}

// Register adds a tool. Registering a name twice replaces the earlier
// tool; adapters rely on this for hot reload.
func (r *Registry) Register(t Tool) error {
	schema, err := jsonschema.CompileString(t.Name()+".schema.json", string(t.Schema()))
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", t.Name(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.compiled[t.Name()] = schema
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.compiled, name)
}

// Get looks up a tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tool names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defs renders the provider-facing tool definitions, optionally filtered
// to the given names (nil means all).
func (r *Registry) Defs(filter []string) []providers.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	if filter == nil {
		for name := range r.tools {
			names = append(names, name)
		}
		sort.Strings(names)
	} else {
		names = filter
	}

	defs := make([]providers.ToolDef, 0, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		defs = append(defs, providers.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

// Execute validates the arguments and runs the tool. Validation
// failures come back as error results so the model can correct itself.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (*ToolResult, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	schema := r.compiled[name]
	r.mu.RUnlock()
	if !ok {
		return Errorf("unknown tool %q", name), nil
	}

	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return Errorf("tool %s: arguments are not valid JSON: %v", name, err), nil
	}
	if err := schema.Validate(decoded); err != nil {
		return Errorf("tool %s: invalid arguments: %v", name, err), nil
	}

	res, err := t.Execute(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return res, nil
}
