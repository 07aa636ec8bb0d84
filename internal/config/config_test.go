package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfork/openfork/pkg/models"
)

const sampleYAML = `
logging:
  level: debug
  format: json
storage:
  driver: memory
providers:
  openai:
    api_key_env: MY_OPENAI_KEY
    base_url: http://localhost:8080/v1
agents:
  - slug: main
    provider: openai
    model: gpt-4o
    mode: agentic
    max_iterations: 10
  - slug: explorer
    provider: openai
    model: gpt-4o-mini
    max_concurrent_instances: 2
    tools:
      mode: all_except
      names: [edit, write, bash]
permissions:
  preset: primary
  rules:
    - pattern: "bash:git *"
      action: allow
      priority: 100
tokens:
  truncate:
    max_bytes: 10000
  compaction:
    threshold: 0.9
mcp_servers:
  - name: docs
    transport: stdio
    command: docs-server
lsp_servers:
  - name: gopls
    command: gopls
    extensions: [".go"]
`

func TestParseSample(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("storage driver = %q", cfg.Storage.Driver)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("got %d agents", len(cfg.Agents))
	}
	if cfg.Agents[0].MaxIterations != 10 {
		t.Errorf("agent max iterations = %d", cfg.Agents[0].MaxIterations)
	}
	if cfg.Agents[1].MaxConcurrentInstances != 2 || len(cfg.Agents[1].Tools.Names) != 3 {
		t.Errorf("explorer = %+v", cfg.Agents[1])
	}

	rs, err := cfg.Permissions.Ruleset()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, rule := range rs.Rules {
		if rule.Pattern == "bash:git *" && rule.Action == models.PermissionAllow {
			found = true
		}
	}
	if !found {
		t.Error("custom rule missing from ruleset")
	}

	tc := cfg.Tokens.TruncateConfig()
	if tc.MaxBytes != 10000 {
		t.Errorf("truncate max bytes = %d", tc.MaxBytes)
	}
	if tc.MaxLines == 0 {
		t.Error("unset truncate fields lost their defaults")
	}
	cc := cfg.Tokens.CompactionConfig()
	if cc.Threshold != 0.9 {
		t.Errorf("compaction threshold = %v", cc.Threshold)
	}

	if len(cfg.MCPServers) != 1 || cfg.MCPServers[0].Name != "docs" {
		t.Errorf("mcp servers = %+v", cfg.MCPServers)
	}
	if len(cfg.LSPServers) != 1 || cfg.LSPServers[0].Extensions[0] != ".go" {
		t.Errorf("lsp servers = %+v", cfg.LSPServers)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("loging:\n  level: info\n"))
	if err == nil {
		t.Fatal("typo'd key accepted")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"bad driver", "storage:\n  driver: csv\n", "storage.driver"},
		{"no agents", "agents: []\n", "at least one agent"},
		{"duplicate slug", "agents:\n  - slug: a\n    provider: p\n    model: m\n  - slug: a\n    provider: p\n    model: m\n", "duplicate slug"},
		{"bad rule action", "permissions:\n  rules:\n    - pattern: \"x:*\"\n      action: maybe\n", "unknown action"},
		{"bad estimator", "tokens:\n  estimator: guess\n", "unknown estimator"},
		{"lsp missing command", "lsp_servers:\n  - name: x\n    extensions: [\".go\"]\n", "command and extensions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != "sqlite" || len(cfg.Agents) != 1 {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("driver = %q", cfg.Storage.Driver)
	}
}

func TestProviderKeyResolution(t *testing.T) {
	t.Setenv("MY_OPENAI_KEY", "from-named-env")
	t.Setenv("OPENAI_API_KEY", "from-default-env")

	tests := []struct {
		name     string
		endpoint *ProviderEndpoint
		want     string
	}{
		{"literal wins", &ProviderEndpoint{APIKey: "literal"}, "literal"},
		{"named env", &ProviderEndpoint{APIKeyEnv: "MY_OPENAI_KEY"}, "from-named-env"},
		{"default env", &ProviderEndpoint{}, "from-default-env"},
		{"nil endpoint", nil, "from-default-env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.endpoint.Key("OPENAI_API_KEY"); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}
