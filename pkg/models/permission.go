package models

import "time"

// PermissionAction is the outcome a rule assigns to a matching tool call.
type PermissionAction string

const (
	PermissionAllow PermissionAction = "allow"
	PermissionDeny  PermissionAction = "deny"
	PermissionAsk   PermissionAction = "ask"
)

// PermissionRule matches tool calls by a "category:resource" pattern.
// Patterns support "*" wildcards matching any substring. When several
// rules match, the highest priority wins; ties break toward the rule
// created later.
type PermissionRule struct {
	ID       string           `json:"id"`
	Pattern  string           `json:"pattern"`
	Action   PermissionAction `json:"action"`
	Reason   string           `json:"reason,omitempty"`
	Priority int              `json:"priority"`
	Created  time.Time        `json:"created"`
}

// PermissionRuleset is an ordered list of rules plus a default action
// used when no rule matches.
type PermissionRuleset struct {
	Name          string           `json:"name"`
	Rules         []PermissionRule `json:"rules"`
	DefaultAction PermissionAction `json:"default_action"`
}

// Clone returns a deep copy of the ruleset so dynamic rules installed on
// one session never leak into another.
func (rs *PermissionRuleset) Clone() *PermissionRuleset {
	if rs == nil {
		return nil
	}
	out := &PermissionRuleset{
		Name:          rs.Name,
		DefaultAction: rs.DefaultAction,
		Rules:         make([]PermissionRule, len(rs.Rules)),
	}
	copy(out.Rules, rs.Rules)
	return out
}

// PromptScope describes how long a user's permission decision holds.
type PromptScope string

const (
	ScopeThisCall    PromptScope = "this-call"
	ScopeThisSession PromptScope = "this-session"
	ScopeThisPattern PromptScope = "this-pattern"
	ScopeAlways      PromptScope = "always"
)
