package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kmorand/ensemble/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Ensemble configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/ensemble/config.yaml
Project-specific overrides can be placed in .ensemble.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	// Mask API key if set
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}

	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("anthropic.model: %s\n", displayOrDefault(cfg.Anthropic.Model))
	fmt.Printf("anthropic.max_tokens: %d\n", cfg.Anthropic.MaxTokens)
	fmt.Printf("anthropic.use_bedrock: %t\n", cfg.Anthropic.UseBedrock)
	fmt.Printf("anthropic.aws_region: %s\n", displayOrDefault(cfg.Anthropic.AWSRegion))
	fmt.Printf("anthropic.aws_profile: %s\n", displayOrDefault(cfg.Anthropic.AWSProfile))
	fmt.Printf("defaults.backend: %s\n", cfg.Defaults.Backend)
	fmt.Printf("defaults.workers: %d\n", cfg.Defaults.Workers)
	fmt.Printf("defaults.workspace: %s\n", cfg.Defaults.Workspace)
	fmt.Printf("defaults.auto_approve: %t\n", cfg.Defaults.AutoApprove)
	fmt.Printf("script.command: %s\n", displayOrDefault(strings.Join(cfg.Script.Command, " ")))
	fmt.Printf("timeouts.unit: %s\n", cfg.Timeouts.Unit)
	fmt.Printf("timeouts.retry_delay: %s\n", cfg.Timeouts.RetryDelay)
	fmt.Printf("tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)
}

func displayOrDefault(value string) string {
	if value == "" {
		return "(not set)"
	}
	return value
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return "****", nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "anthropic.max_tokens":
		return strconv.FormatInt(cfg.Anthropic.MaxTokens, 10), nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "anthropic.aws_region":
		return cfg.Anthropic.AWSRegion, nil
	case "anthropic.aws_profile":
		return cfg.Anthropic.AWSProfile, nil
	case "defaults.backend":
		return cfg.Defaults.Backend, nil
	case "defaults.workers":
		return strconv.Itoa(cfg.Defaults.Workers), nil
	case "defaults.workspace":
		return cfg.Defaults.Workspace, nil
	case "defaults.auto_approve":
		return strconv.FormatBool(cfg.Defaults.AutoApprove), nil
	case "script.command":
		return strings.Join(cfg.Script.Command, " "), nil
	case "timeouts.unit":
		return cfg.Timeouts.Unit.String(), nil
	case "timeouts.retry_delay":
		return cfg.Timeouts.RetryDelay.String(), nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.max_tokens":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value for max_tokens: %w", err)
		}
		cfg.Anthropic.MaxTokens = n
	case "anthropic.use_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for use_bedrock: %w", err)
		}
		cfg.Anthropic.UseBedrock = b
	case "anthropic.aws_region":
		cfg.Anthropic.AWSRegion = value
	case "anthropic.aws_profile":
		cfg.Anthropic.AWSProfile = value
	case "defaults.backend":
		cfg.Defaults.Backend = value
	case "defaults.workers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for workers: %w", err)
		}
		cfg.Defaults.Workers = n
	case "defaults.workspace":
		cfg.Defaults.Workspace = value
	case "defaults.auto_approve":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for auto_approve: %w", err)
		}
		cfg.Defaults.AutoApprove = b
	case "script.command":
		cfg.Script.Command = strings.Fields(value)
	case "timeouts.unit":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for timeouts.unit: %w", err)
		}
		cfg.Timeouts.Unit = d
	case "timeouts.retry_delay":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for timeouts.retry_delay: %w", err)
		}
		cfg.Timeouts.RetryDelay = d
	case "tui.refresh_rate":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for refresh_rate: %w", err)
		}
		cfg.TUI.RefreshRate = d
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
