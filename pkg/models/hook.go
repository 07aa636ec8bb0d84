package models

import "time"

// HookTrigger identifies where in the loop a hook fires. The set is
// closed: unknown triggers are rejected at configuration time.
type HookTrigger string

const (
	TriggerPreTool       HookTrigger = "pre_tool"
	TriggerPostTool      HookTrigger = "post_tool"
	TriggerPreEdit       HookTrigger = "pre_edit"
	TriggerPostEdit      HookTrigger = "post_edit"
	TriggerPreCommand    HookTrigger = "pre_command"
	TriggerPostCommand   HookTrigger = "post_command"
	TriggerPreMessage    HookTrigger = "pre_message"
	TriggerPostMessage   HookTrigger = "post_message"
	TriggerSessionStart  HookTrigger = "session_start"
	TriggerSessionEnd    HookTrigger = "session_end"
	TriggerOnError       HookTrigger = "on_error"
	TriggerOnWarning     HookTrigger = "on_warning"
	TriggerPreAgentLoop  HookTrigger = "pre_agent_loop"
	TriggerPostAgentLoop HookTrigger = "post_agent_loop"
	TriggerMaxIterations HookTrigger = "max_iterations"
)

// Triggers lists every valid hook trigger.
var Triggers = []HookTrigger{
	TriggerPreTool, TriggerPostTool,
	TriggerPreEdit, TriggerPostEdit,
	TriggerPreCommand, TriggerPostCommand,
	TriggerPreMessage, TriggerPostMessage,
	TriggerSessionStart, TriggerSessionEnd,
	TriggerOnError, TriggerOnWarning,
	TriggerPreAgentLoop, TriggerPostAgentLoop,
	TriggerMaxIterations,
}

// Valid reports whether t is a member of the closed trigger set.
func (t HookTrigger) Valid() bool {
	for _, known := range Triggers {
		if t == known {
			return true
		}
	}
	return false
}

// Pre reports whether the trigger guards an action and may veto it.
func (t HookTrigger) Pre() bool {
	switch t {
	case TriggerPreTool, TriggerPreEdit, TriggerPreCommand,
		TriggerPreMessage, TriggerPreAgentLoop:
		return true
	}
	return false
}

// HookType identifies how a hook executes.
type HookType string

const (
	HookBuiltin HookType = "built-in"
	HookCommand HookType = "command"
	HookScript  HookType = "script"
	HookWebhook HookType = "webhook"
	HookCustom  HookType = "custom"
)

// HookConfig declares one hook. Executable is the command line for
// command hooks, the script path for script hooks, or the URL for
// webhook hooks. Pattern optionally restricts the hook to matching
// tool names or file paths.
type HookConfig struct {
	ID              string        `json:"id" yaml:"id"`
	Name            string        `json:"name" yaml:"name"`
	Trigger         HookTrigger   `json:"trigger" yaml:"trigger"`
	Priority        int           `json:"priority" yaml:"priority"`
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	Type            HookType      `json:"type" yaml:"type"`
	Executable      string        `json:"executable,omitempty" yaml:"executable"`
	Args            []string      `json:"args,omitempty" yaml:"args"`
	Interpreter     string        `json:"interpreter,omitempty" yaml:"interpreter"`
	Pattern         string        `json:"pattern,omitempty" yaml:"pattern"`
	Timeout         time.Duration `json:"timeout,omitempty" yaml:"timeout"`
	ContinueOnError bool          `json:"continue_on_error" yaml:"continue_on_error"`
}
