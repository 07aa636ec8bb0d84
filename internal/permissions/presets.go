package permissions

import "github.com/openfork/openfork/pkg/models"

// Built-in rulesets, one per agent profile. Read-type operations are
// broadly safe and allowed everywhere; what varies is the stance on
// edits, shell commands, and network fetches.

func readOnlyRules(start int) []models.PermissionRule {
	return []models.PermissionRule{
		{Pattern: "read:*", Action: models.PermissionAllow, Priority: start},
		{Pattern: "glob:*", Action: models.PermissionAllow, Priority: start + 1},
		{Pattern: "grep:*", Action: models.PermissionAllow, Priority: start + 2},
		{Pattern: "todo:*", Action: models.PermissionAllow, Priority: start + 3},
		{Pattern: "question:*", Action: models.PermissionAllow, Priority: start + 4},
	}
}

// PresetPrimary is the interactive default: read freely, ask before
// edits, commands, and fetches.
func PresetPrimary() *models.PermissionRuleset {
	rules := readOnlyRules(10)
	rules = append(rules,
		models.PermissionRule{Pattern: "task:*", Action: models.PermissionAllow, Priority: 15},
		models.PermissionRule{Pattern: "edit:*", Action: models.PermissionAsk, Priority: 20},
		models.PermissionRule{Pattern: "bash:*", Action: models.PermissionAsk, Priority: 21},
		models.PermissionRule{Pattern: "webfetch:*", Action: models.PermissionAsk, Priority: 22},
	)
	return &models.PermissionRuleset{
		Name:          "primary",
		Rules:         rules,
		DefaultAction: models.PermissionAsk,
	}
}

// PresetExplorer is strictly read-only for fast codebase scouting.
func PresetExplorer() *models.PermissionRuleset {
	rules := readOnlyRules(10)
	rules = append(rules,
		models.PermissionRule{Pattern: "edit:*", Action: models.PermissionDeny, Reason: "explorer is read-only", Priority: 20},
		models.PermissionRule{Pattern: "bash:*", Action: models.PermissionDeny, Reason: "explorer is read-only", Priority: 21},
		models.PermissionRule{Pattern: "webfetch:*", Action: models.PermissionDeny, Reason: "explorer is read-only", Priority: 22},
		models.PermissionRule{Pattern: "task:*", Action: models.PermissionDeny, Reason: "explorer cannot spawn agents", Priority: 23},
	)
	return &models.PermissionRuleset{
		Name:          "explorer",
		Rules:         rules,
		DefaultAction: models.PermissionDeny,
	}
}

// PresetPlanner reads and organizes but never mutates the tree.
func PresetPlanner() *models.PermissionRuleset {
	rules := readOnlyRules(10)
	rules = append(rules,
		models.PermissionRule{Pattern: "edit:*", Action: models.PermissionDeny, Reason: "planner does not edit", Priority: 20},
		models.PermissionRule{Pattern: "bash:*", Action: models.PermissionAsk, Priority: 21},
		models.PermissionRule{Pattern: "webfetch:*", Action: models.PermissionAsk, Priority: 22},
		models.PermissionRule{Pattern: "task:*", Action: models.PermissionAllow, Priority: 23},
	)
	return &models.PermissionRuleset{
		Name:          "planner",
		Rules:         rules,
		DefaultAction: models.PermissionAsk,
	}
}

// PresetResearcher reads the tree and the web but never mutates either.
func PresetResearcher() *models.PermissionRuleset {
	rules := readOnlyRules(10)
	rules = append(rules,
		models.PermissionRule{Pattern: "webfetch:*", Action: models.PermissionAllow, Priority: 15},
		models.PermissionRule{Pattern: "edit:*", Action: models.PermissionDeny, Reason: "researcher does not edit", Priority: 20},
		models.PermissionRule{Pattern: "bash:*", Action: models.PermissionDeny, Reason: "researcher does not run commands", Priority: 21},
		models.PermissionRule{Pattern: "task:*", Action: models.PermissionDeny, Reason: "researcher cannot spawn agents", Priority: 22},
	)
	return &models.PermissionRuleset{
		Name:          "researcher",
		Rules:         rules,
		DefaultAction: models.PermissionDeny,
	}
}

// PresetByName resolves a preset slug; unknown slugs fall back to the
// primary preset.
func PresetByName(name string) *models.PermissionRuleset {
	switch name {
	case "explorer":
		return PresetExplorer()
	case "planner":
		return PresetPlanner()
	case "researcher":
		return PresetResearcher()
	default:
		return PresetPrimary()
	}
}
