// Package config handles configuration loading for Ensemble. Settings merge
// from XDG config paths, a project-level .ensemble.yaml, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/kmorand/ensemble/internal/pool"
)

// Config holds all configuration for Ensemble.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Script    ScriptConfig    `mapstructure:"script"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	TUI       TUIConfig       `mapstructure:"tui"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	// Model selects the model for execution sessions. Empty selects the
	// backend's default.
	Model string `mapstructure:"model"`
	// MaxTokens caps the response size of one exchange. Zero selects the
	// backend's default.
	MaxTokens int64 `mapstructure:"max_tokens"`
	// UseBedrock routes requests through AWS Bedrock instead of the
	// Anthropic API.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// AWSRegion overrides the region for Bedrock access.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile selects a shared config profile for Bedrock access.
	AWSProfile string `mapstructure:"aws_profile"`
}

// DefaultsConfig holds default run settings. Command-line flags override
// these per invocation.
type DefaultsConfig struct {
	// Backend selects the execution backend (anthropic, script, sim).
	Backend string `mapstructure:"backend"`
	// Workers is the worker pool capacity.
	Workers int `mapstructure:"workers"`
	// Workspace selects the isolation strategy (worktree, tempdir, none).
	Workspace string `mapstructure:"workspace"`
	// AutoApprove skips the plan approval gate.
	AutoApprove bool `mapstructure:"auto_approve"`
}

// ScriptConfig holds settings for the script backend.
type ScriptConfig struct {
	// Command is the argv launched for each exchange.
	Command []string `mapstructure:"command"`
}

// TimeoutsConfig holds execution timing settings.
type TimeoutsConfig struct {
	// Unit bounds a single unit attempt. Zero means no limit.
	Unit time.Duration `mapstructure:"unit"`
	// RetryDelay is the fixed pause before each retry attempt.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment
// variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.ensemble.yaml in current directory or a parent)
// 3. User config (~/.config/ensemble/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Project config takes precedence over the user config.
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("")
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for values no run could honor.
func (c *Config) Validate() error {
	if c.Defaults.Workers < pool.MinWorkers || c.Defaults.Workers > pool.MaxWorkers {
		return fmt.Errorf("defaults.workers must be between %d and %d, got %d",
			pool.MinWorkers, pool.MaxWorkers, c.Defaults.Workers)
	}

	switch c.Defaults.Backend {
	case "anthropic", "script", "sim":
	default:
		return fmt.Errorf("defaults.backend must be one of anthropic, script, sim; got %q", c.Defaults.Backend)
	}

	switch c.Defaults.Workspace {
	case "worktree", "tempdir", "none":
	default:
		return fmt.Errorf("defaults.workspace must be one of worktree, tempdir, none; got %q", c.Defaults.Workspace)
	}

	if c.Defaults.Backend == "script" && len(c.Script.Command) == 0 {
		return fmt.Errorf("script.command is required when defaults.backend is script")
	}

	if c.Timeouts.Unit < 0 {
		return fmt.Errorf("timeouts.unit must not be negative, got %s", c.Timeouts.Unit)
	}

	if c.Timeouts.RetryDelay < 0 {
		return fmt.Errorf("timeouts.retry_delay must not be negative, got %s", c.Timeouts.RetryDelay)
	}

	if c.TUI.RefreshRate <= 0 {
		return fmt.Errorf("tui.refresh_rate must be positive, got %s", c.TUI.RefreshRate)
	}

	return nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.max_tokens", cfg.Anthropic.MaxTokens)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("defaults.backend", cfg.Defaults.Backend)
	v.Set("defaults.workers", cfg.Defaults.Workers)
	v.Set("defaults.workspace", cfg.Defaults.Workspace)
	v.Set("defaults.auto_approve", cfg.Defaults.AutoApprove)
	v.Set("script.command", cfg.Script.Command)
	v.Set("timeouts.unit", cfg.Timeouts.Unit.String())
	v.Set("timeouts.retry_delay", cfg.Timeouts.RetryDelay.String())
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if one
// exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.max_tokens", 0)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("defaults.backend", "anthropic")
	v.SetDefault("defaults.workers", 3)
	v.SetDefault("defaults.workspace", "worktree")
	v.SetDefault("defaults.auto_approve", false)

	v.SetDefault("timeouts.unit", "15m")
	v.SetDefault("timeouts.retry_delay", pool.DefaultRetryDelay.String())

	v.SetDefault("tui.refresh_rate", "100ms")
}

// getUserConfigDir returns the XDG config directory for Ensemble.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ensemble")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "ensemble")
	}
	return filepath.Join(home, ".config", "ensemble")
}

// findProjectConfig searches for .ensemble.yaml in the current directory and
// its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".ensemble.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			Backend:   "anthropic",
			Workers:   3,
			Workspace: "worktree",
		},
		Timeouts: TimeoutsConfig{
			Unit:       15 * time.Minute,
			RetryDelay: pool.DefaultRetryDelay,
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}
