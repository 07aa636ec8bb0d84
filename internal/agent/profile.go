// Package agent contains the tool-use loop that drives a session turn
// and the supervisor that spawns concurrency-limited subagents.
package agent

import (
	"fmt"

	"github.com/openfork/openfork/internal/tools"
	"github.com/openfork/openfork/pkg/models"
)

// DefaultMaxIterations caps tool-call rounds per turn when the profile
// does not say otherwise.
const DefaultMaxIterations = 30

// ExecutionMode shapes how the loop drives a turn.
type ExecutionMode string

const (
	// ModeAgentic iterates tool calls until the model stops asking.
	ModeAgentic ExecutionMode = "agentic"

	// ModeSingleShot runs exactly one provider call; tool calls in the
	// response are not executed.
	ModeSingleShot ExecutionMode = "single-shot"

	// ModeStreaming behaves like agentic; the name records that the
	// caller consumes the event stream live.
	ModeStreaming ExecutionMode = "streaming"

	// ModePlanning is agentic under a planner ruleset; the profile's
	// permissions keep it from mutating the workspace.
	ModePlanning ExecutionMode = "planning"
)

// ToolFilterMode selects which registered tools a profile can call.
type ToolFilterMode string

const (
	FilterAll       ToolFilterMode = "all"
	FilterAllExcept ToolFilterMode = "all_except"
	FilterOnlyThese ToolFilterMode = "only_these"
	FilterNone      ToolFilterMode = "none"
)

// ToolFilter restricts a profile's tool surface.
type ToolFilter struct {
	Mode  ToolFilterMode `yaml:"mode" json:"mode"`
	Names []string       `yaml:"names,omitempty" json:"names,omitempty"`
}

// Profile is a named agent configuration: a system prompt paired with a
// model, tool filter, execution mode, and iteration cap.
type Profile struct {
	Slug         string        `yaml:"slug" json:"slug"`
	Name         string        `yaml:"name,omitempty" json:"name,omitempty"`
	Description  string        `yaml:"description,omitempty" json:"description,omitempty"`
	Provider     string        `yaml:"provider" json:"provider"`
	Model        string        `yaml:"model" json:"model"`
	SystemPrompt string        `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Mode         ExecutionMode `yaml:"mode,omitempty" json:"mode,omitempty"`
	Tools        ToolFilter    `yaml:"tools" json:"tools"`

	MaxIterations int `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`

	// MaxConcurrentInstances bounds simultaneous subagent runs of this
	// profile. 0 means unlimited, 1 means strictly sequential.
	MaxConcurrentInstances int `yaml:"max_concurrent_instances,omitempty" json:"max_concurrent_instances,omitempty"`

	// Permissions names a bundled preset (primary, explorer, planner,
	// researcher) used when this profile runs as a subagent.
	Permissions string `yaml:"permissions,omitempty" json:"permissions,omitempty"`

	// Restrictions are extra deny/ask rules layered on top of the
	// spawner's ruleset when this profile runs as a subagent. They can
	// only narrow access.
	Restrictions []models.PermissionRule `yaml:"restrictions,omitempty" json:"restrictions,omitempty"`
}

// Validate checks the profile is runnable.
func (p *Profile) Validate() error {
	if p.Slug == "" {
		return fmt.Errorf("agent profile: slug is required")
	}
	if p.Provider == "" || p.Model == "" {
		return fmt.Errorf("agent %s: provider and model are required", p.Slug)
	}
	switch p.Mode {
	case "", ModeAgentic, ModeSingleShot, ModeStreaming, ModePlanning:
	default:
		return fmt.Errorf("agent %s: unknown execution mode %q", p.Slug, p.Mode)
	}
	switch p.Tools.Mode {
	case "", FilterAll, FilterAllExcept, FilterOnlyThese, FilterNone:
	default:
		return fmt.Errorf("agent %s: unknown tool filter mode %q", p.Slug, p.Tools.Mode)
	}
	return nil
}

func (p *Profile) maxIterations() int {
	if p.MaxIterations > 0 {
		return p.MaxIterations
	}
	return DefaultMaxIterations
}

func (p *Profile) executionMode() ExecutionMode {
	if p.Mode == "" {
		return ModeAgentic
	}
	return p.Mode
}

// toolNames resolves the filter against the registry into the name list
// passed to Defs. nil means all tools; an empty slice means none.
func (p *Profile) toolNames(registry *tools.Registry) []string {
	switch p.Tools.Mode {
	case FilterNone:
		return []string{}
	case FilterOnlyThese:
		return p.Tools.Names
	case FilterAllExcept:
		excluded := make(map[string]bool, len(p.Tools.Names))
		for _, name := range p.Tools.Names {
			excluded[name] = true
		}
		var names []string
		for _, name := range registry.Names() {
			if !excluded[name] {
				names = append(names, name)
			}
		}
		if names == nil {
			names = []string{}
		}
		return names
	default:
		return nil
	}
}
