package hooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfork/openfork/pkg/models"
)

// destructivePatterns are shell command shapes the validation hook
// refuses outright. Matching is substring-based after whitespace
// normalization.
var destructivePatterns = []string{
	"rm -rf /",
	"rm -rf ~",
	"rm -rf *",
	"mkfs.",
	"dd if=",
	":(){ :|:& };:",
	"> /dev/sda",
	"chmod -r 777 /",
	"git push --force origin main",
	"git push --force origin master",
}

// NewCommandValidationHook returns the built-in pre_command guard that
// vetoes obviously destructive shell commands.
func NewCommandValidationHook() (models.HookConfig, Hook) {
	cfg := models.HookConfig{
		Name:    "command-validation",
		Trigger: models.TriggerPreCommand,
		Type:    models.HookBuiltin,
		Enabled: true,
		// Runs before user hooks so nothing downstream sees a command
		// this guard rejects.
		Priority: -100,
	}
	hook := &FuncHook{
		HookName: "command-validation",
		Fn: func(ctx context.Context, hc *HookContext) HookResult {
			normalized := strings.ToLower(strings.Join(strings.Fields(hc.Command), " "))
			for _, pattern := range destructivePatterns {
				if strings.Contains(normalized, pattern) {
					return HookResult{
						Veto:   true,
						Reason: fmt.Sprintf("destructive command blocked: %q", pattern),
					}
				}
			}
			return HookResult{}
		},
	}
	return cfg, hook
}
