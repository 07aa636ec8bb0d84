package hooks

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfork/openfork/pkg/models"
)

// hookFile is the on-disk shape of a hook definition file: one or more
// hook configurations under a "hooks" key.
type hookFile struct {
	Hooks []models.HookConfig `yaml:"hooks"`
}

// LoadDir reads every .yaml/.yml file in dir and registers the hooks it
// declares. Files that fail to parse abort the load; a missing directory
// is not an error.
func (p *Pipeline) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read hook dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		n, err := p.loadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("%s: %w", path, err)
		}
		loaded += n
	}
	return loaded, nil
}

func (p *Pipeline) loadFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var file hookFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("parse: %w", err)
	}

	for _, cfg := range file.Hooks {
		hook, err := FromConfig(cfg)
		if err != nil {
			return 0, err
		}
		if _, err := p.Register(cfg, hook); err != nil {
			return 0, err
		}
	}
	return len(file.Hooks), nil
}

// FromConfig constructs the executor a configuration calls for. Built-in
// and custom hooks cannot be declared from files; they are registered in
// code.
func FromConfig(cfg models.HookConfig) (Hook, error) {
	switch cfg.Type {
	case models.HookCommand:
		return NewCommandHook(cfg), nil
	case models.HookScript:
		return NewScriptHook(cfg), nil
	case models.HookWebhook:
		return NewWebhookHook(cfg), nil
	case models.HookBuiltin, models.HookCustom:
		return nil, fmt.Errorf("hook %q: type %q is registered in code, not from files", cfg.Name, cfg.Type)
	default:
		return nil, fmt.Errorf("hook %q: unknown type %q", cfg.Name, cfg.Type)
	}
}
