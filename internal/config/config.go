// Package config loads the YAML configuration file and turns its
// sections into the concrete configs the subsystems consume. Secrets
// resolve through environment variables so config files stay
// committable.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfork/openfork/internal/agent"
	"github.com/openfork/openfork/internal/lsp"
	"github.com/openfork/openfork/internal/mcp"
	"github.com/openfork/openfork/internal/permissions"
	"github.com/openfork/openfork/internal/tokens"
	"github.com/openfork/openfork/pkg/models"
)

// Default environment variables consulted for provider keys when the
// config file names none.
const (
	defaultOpenAIKeyEnv    = "OPENAI_API_KEY"
	defaultAnthropicKeyEnv = "ANTHROPIC_API_KEY"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Logging       LoggingConfig       `yaml:"logging"`
	Storage       StorageConfig       `yaml:"storage"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Agents        []*agent.Profile    `yaml:"agents"`
	Permissions   PermissionsConfig   `yaml:"permissions"`
	Hooks         HooksConfig         `yaml:"hooks"`
	MCPServers    []*mcp.ServerConfig `yaml:"mcp_servers"`
	LSPServers    []lsp.ServerConfig  `yaml:"lsp_servers"`
	Tokens        TokensConfig        `yaml:"tokens"`
	Tools         ToolsConfig         `yaml:"tools"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// StorageConfig selects the session store backend.
type StorageConfig struct {
	// Driver is sqlite or memory.
	Driver string `yaml:"driver"`

	// Path is the sqlite database file.
	Path string `yaml:"path"`
}

// ProviderEndpoint configures one chat provider.
type ProviderEndpoint struct {
	APIKey     string        `yaml:"api_key"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	BaseURL    string        `yaml:"base_url"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Key resolves the API key: the literal value wins, then the named
// environment variable, then fallbackEnv.
func (p *ProviderEndpoint) Key(fallbackEnv string) string {
	if p == nil {
		return os.Getenv(fallbackEnv)
	}
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return os.Getenv(fallbackEnv)
}

// ProvidersConfig holds the provider endpoints by name.
type ProvidersConfig struct {
	OpenAI    *ProviderEndpoint `yaml:"openai"`
	Anthropic *ProviderEndpoint `yaml:"anthropic"`
}

// OpenAIKey resolves the OpenAI API key.
func (p ProvidersConfig) OpenAIKey() string { return p.OpenAI.Key(defaultOpenAIKeyEnv) }

// AnthropicKey resolves the Anthropic API key.
func (p ProvidersConfig) AnthropicKey() string { return p.Anthropic.Key(defaultAnthropicKeyEnv) }

// PermissionsConfig selects a preset and layers custom rules over it.
type PermissionsConfig struct {
	// Preset is primary, explorer, planner, or researcher.
	Preset string `yaml:"preset"`

	Rules []RuleConfig `yaml:"rules"`

	// DefaultAction overrides the preset's fallthrough action.
	DefaultAction string `yaml:"default_action"`
}

// RuleConfig is one permission rule in the config file.
type RuleConfig struct {
	Pattern  string `yaml:"pattern"`
	Action   string `yaml:"action"`
	Reason   string `yaml:"reason"`
	Priority int    `yaml:"priority"`
}

// Ruleset builds the effective base ruleset: the preset plus the
// configured rules, which sort after the preset's own by priority.
func (c PermissionsConfig) Ruleset() (*models.PermissionRuleset, error) {
	rs := permissions.PresetByName(c.Preset)
	for i, rule := range c.Rules {
		action := models.PermissionAction(rule.Action)
		switch action {
		case models.PermissionAllow, models.PermissionDeny, models.PermissionAsk:
		default:
			return nil, fmt.Errorf("permissions.rules[%d]: unknown action %q", i, rule.Action)
		}
		if rule.Pattern == "" {
			return nil, fmt.Errorf("permissions.rules[%d]: pattern is required", i)
		}
		rs.Rules = append(rs.Rules, models.PermissionRule{
			Pattern:  rule.Pattern,
			Action:   action,
			Reason:   rule.Reason,
			Priority: rule.Priority,
		})
	}
	if c.DefaultAction != "" {
		action := models.PermissionAction(c.DefaultAction)
		switch action {
		case models.PermissionAllow, models.PermissionDeny, models.PermissionAsk:
			rs.DefaultAction = action
		default:
			return nil, fmt.Errorf("permissions.default_action: unknown action %q", c.DefaultAction)
		}
	}
	return rs, nil
}

// HooksConfig declares hooks inline and points at a discovery directory.
type HooksConfig struct {
	// Dir is scanned for hook definition files at startup.
	Dir string `yaml:"dir"`

	// Hooks are declared directly in the config file.
	Hooks []models.HookConfig `yaml:"hooks"`

	// DisableBuiltinGuards turns off the bundled destructive-command
	// validation hook.
	DisableBuiltinGuards bool `yaml:"disable_builtin_guards"`
}

// TokensConfig tunes the three budget layers and the estimator.
type TokensConfig struct {
	// Estimator is chars or tiktoken.
	Estimator string `yaml:"estimator"`

	// Encoding names the tiktoken encoding, e.g. cl100k_base.
	Encoding string `yaml:"encoding"`

	Truncate struct {
		MaxBytes     int            `yaml:"max_bytes"`
		MaxLines     int            `yaml:"max_lines"`
		MaxLineChars int            `yaml:"max_line_chars"`
		PerTool      map[string]int `yaml:"per_tool"`
		SpillDir     string         `yaml:"spill_dir"`
	} `yaml:"truncate"`

	Prune struct {
		SoftThreshold    int `yaml:"soft_threshold"`
		KeepRecentTools  int `yaml:"keep_recent_tools"`
		RetainChars      int `yaml:"retain_chars"`
		MinReclaimTokens int `yaml:"min_reclaim_tokens"`
	} `yaml:"prune"`

	Compaction struct {
		Threshold        float64 `yaml:"threshold"`
		TargetPercent    float64 `yaml:"target_percent"`
		SummaryMaxTokens int     `yaml:"summary_max_tokens"`
		Model            string  `yaml:"model"`
	} `yaml:"compaction"`
}

// TruncateConfig materializes the L1 config, falling back to defaults
// for unset fields.
func (c TokensConfig) TruncateConfig() *tokens.TruncateConfig {
	out := tokens.DefaultTruncateConfig()
	if c.Truncate.MaxBytes > 0 {
		out.MaxBytes = c.Truncate.MaxBytes
	}
	if c.Truncate.MaxLines > 0 {
		out.MaxLines = c.Truncate.MaxLines
	}
	if c.Truncate.MaxLineChars > 0 {
		out.MaxLineChars = c.Truncate.MaxLineChars
	}
	for tool, chars := range c.Truncate.PerTool {
		out.PerToolChars[tool] = chars
	}
	if c.Truncate.SpillDir != "" {
		out.SpillDir = c.Truncate.SpillDir
	}
	return out
}

// PruneConfig materializes the L2 config.
func (c TokensConfig) PruneConfig() *tokens.PruneConfig {
	out := tokens.DefaultPruneConfig()
	if c.Prune.SoftThreshold > 0 {
		out.SoftThreshold = c.Prune.SoftThreshold
	}
	if c.Prune.KeepRecentTools > 0 {
		out.KeepRecentTools = c.Prune.KeepRecentTools
	}
	if c.Prune.RetainChars > 0 {
		out.RetainChars = c.Prune.RetainChars
	}
	if c.Prune.MinReclaimTokens > 0 {
		out.MinReclaimTokens = c.Prune.MinReclaimTokens
	}
	return out
}

// CompactionConfig materializes the L3 config.
func (c TokensConfig) CompactionConfig() *tokens.CompactionConfig {
	out := tokens.DefaultCompactionConfig()
	if c.Compaction.Threshold > 0 {
		out.Threshold = c.Compaction.Threshold
	}
	if c.Compaction.TargetPercent > 0 {
		out.TargetPercent = c.Compaction.TargetPercent
	}
	if c.Compaction.SummaryMaxTokens > 0 {
		out.SummaryMaxTokens = c.Compaction.SummaryMaxTokens
	}
	out.Model = c.Compaction.Model
	return out
}

// NewEstimator builds the configured estimator.
func (c TokensConfig) NewEstimator() (tokens.Estimator, error) {
	switch c.Estimator {
	case "", "chars":
		return tokens.CharEstimator{}, nil
	case "tiktoken":
		encoding := c.Encoding
		if encoding == "" {
			encoding = "cl100k_base"
		}
		return tokens.NewTiktokenEstimator(encoding)
	default:
		return nil, fmt.Errorf("tokens.estimator: unknown estimator %q", c.Estimator)
	}
}

// ToolsConfig shapes the built-in tool surface.
type ToolsConfig struct {
	// Workspace is the working directory for shell and search tools.
	// Empty means the process working directory.
	Workspace string `yaml:"workspace"`

	// PipelineDir holds user-defined pipeline tool files; the
	// directory is watched for changes.
	PipelineDir string `yaml:"pipeline_dir"`
}

// ObservabilityConfig enables metrics and tracing exports.
type ObservabilityConfig struct {
	// MetricsAddr serves the Prometheus endpoint; empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// OTLPEndpoint receives trace spans over gRPC; empty disables
	// exporting (spans are still recorded in-process).
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// ServiceName labels exported telemetry.
	ServiceName string `yaml:"service_name"`
}

// Default returns the configuration used when no file exists: sqlite in
// the user config dir, the primary permission preset, and a single
// OpenAI-backed agent.
func Default() *Config {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{Driver: "sqlite", Path: defaultDBPath()},
		Agents: []*agent.Profile{{
			Slug:     "main",
			Name:     "Main",
			Provider: "openai",
			Model:    "gpt-4o",
		}},
		Permissions: PermissionsConfig{Preset: "primary"},
	}
	cfg.Observability.ServiceName = "openfork"
	return cfg
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "openfork.db"
	}
	return dir + "/openfork/openfork.db"
}

// Load reads and validates a config file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML into a validated Config. Unknown keys are errors
// so typos surface at startup instead of silently using defaults.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	switch c.Storage.Driver {
	case "", "sqlite", "memory":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the sqlite driver")
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	slugs := map[string]bool{}
	for _, profile := range c.Agents {
		if err := profile.Validate(); err != nil {
			return err
		}
		if slugs[profile.Slug] {
			return fmt.Errorf("agent %s: duplicate slug", profile.Slug)
		}
		slugs[profile.Slug] = true
	}

	if _, err := c.Permissions.Ruleset(); err != nil {
		return err
	}
	for _, server := range c.MCPServers {
		if err := server.Validate(); err != nil {
			return err
		}
	}
	for i, server := range c.LSPServers {
		if server.Command == "" || len(server.Extensions) == 0 {
			return fmt.Errorf("lsp_servers[%d]: command and extensions are required", i)
		}
	}
	if _, err := c.Tokens.NewEstimator(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps the configured level onto slog.
func (c LoggingConfig) SlogLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}
