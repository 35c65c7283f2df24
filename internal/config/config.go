package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/pelletier/go-toml/v2"
)

// LocalConfigName is the per-repository config file looked up by FindLocalConfig
const LocalConfigName = ".repo-rlm.toml"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Defaults      domain.RunConfig    `toml:"defaults"`
	Partition     PartitionConfig     `toml:"partition"`
	Executor      ExecutorConfig      `toml:"executor"`
	Claude        ClaudeConfig        `toml:"claude"`
	Notifications NotificationsConfig `toml:"notifications"`
	Daemon        DaemonConfig        `toml:"daemon"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	StateDir string `toml:"state_dir"` // relative to the analyzed root
	LogLevel string `toml:"log_level"`
}

// PartitionConfig bounds the size of leaf nodes
type PartitionConfig struct {
	MaxLeafItems  int      `toml:"max_leaf_items"`
	MaxLeafTokens int      `toml:"max_leaf_tokens"`
	MaxFileBytes  int64    `toml:"max_file_bytes"`
	Ignore        []string `toml:"ignore"`
}

// Limits converts the section into the limits captured by a run
func (p PartitionConfig) Limits() domain.PartitionLimits {
	return domain.PartitionLimits{
		MaxLeafItems:  p.MaxLeafItems,
		MaxLeafTokens: p.MaxLeafTokens,
		MaxFileBytes:  p.MaxFileBytes,
		Ignore:        append([]string(nil), p.Ignore...),
	}
}

// ExecutorConfig selects the task executor
type ExecutorConfig struct {
	Kind      string `toml:"kind"` // "heuristic" or "claude"
	RulesFile string `toml:"rules_file"`
}

// ClaudeConfig holds Claude CLI settings
type ClaudeConfig struct {
	Binary         string `toml:"binary"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// DaemonConfig controls the background driver
type DaemonConfig struct {
	Cron            string `toml:"cron"`
	StepsPerTick    int    `toml:"steps_per_tick"`
	MaxParallelRuns int    `toml:"max_parallel_runs"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			StateDir: ".rlm",
			LogLevel: "info",
		},
		Defaults: domain.RunConfig{
			MaxDepth:       4,
			MaxLLMCalls:    200,
			MaxTokens:      2_000_000,
			MaxWallClockMs: 30 * 60 * 1000,
			Scheduler:      domain.SchedulerBFS,
		},
		Partition: PartitionConfig{
			MaxLeafItems:  12,
			MaxLeafTokens: 24_000,
			MaxFileBytes:  1 << 20,
			Ignore:        []string{".git", ".rlm", ".pi", "node_modules", "vendor"},
		},
		Executor: ExecutorConfig{
			Kind: "heuristic",
		},
		Claude: ClaudeConfig{
			Binary:         "claude",
			Model:          "claude-sonnet-4-20250514",
			TimeoutSeconds: 600,
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Daemon: DaemonConfig{
			Cron:            "* * * * *",
			StepsPerTick:    50,
			MaxParallelRuns: 2,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.Executor.RulesFile = ExpandPath(cfg.Executor.RulesFile)

	return cfg, nil
}

// Save writes the configuration as TOML, creating parent directories
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides settings from RLM_* environment variables
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("RLM_LOG_LEVEL"); v != "" {
		c.General.LogLevel = v
	}
	if v := getenv("RLM_EXECUTOR"); v != "" {
		c.Executor.Kind = v
	}
	if v := getenv("RLM_CLAUDE_MODEL"); v != "" {
		c.Claude.Model = v
	}
	if v := getenv("RLM_SLACK_WEBHOOK"); v != "" {
		c.Notifications.SlackWebhook = v
	}
}

// Validate checks settings that have no safe fallback
func (c *Config) Validate() error {
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("[defaults]: %w", err)
	}
	if err := c.Partition.Limits().Validate(); err != nil {
		return fmt.Errorf("[partition]: %w", err)
	}
	switch c.Executor.Kind {
	case "heuristic", "claude":
	default:
		return fmt.Errorf("[executor]: unknown kind %q", c.Executor.Kind)
	}
	return nil
}

// StatePath returns the state directory for an analyzed root
func (c *Config) StatePath(root string) string {
	if filepath.IsAbs(c.General.StateDir) {
		return c.General.StateDir
	}
	return filepath.Join(root, c.General.StateDir)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "repo-rlm", "config.toml")
}

// FindLocalConfig walks up from dir looking for a .repo-rlm.toml file.
// Returns "" when none is found.
func FindLocalConfig(dir string) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
