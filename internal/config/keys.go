package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no Anthropic API key can be resolved.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// KeySource says where an API key was found.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// ResolveAPIKey returns the Anthropic API key and where it came from. The
// environment variable wins over the config file. Values that still look
// like unexpanded ${VAR} references count as unset.
func (c *Config) ResolveAPIKey() (string, KeySource, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, KeySourceEnv, nil
	}

	if c != nil && c.Anthropic.APIKey != "" {
		key := os.ExpandEnv(c.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, KeySourceConfig, nil
		}
	}

	return "", KeySourceNone, ErrNoAPIKey
}

// ValidateAPIKey checks the shape of an API key without calling the API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}

	// Anthropic API keys start with "sk-ant-".
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("malformed API key: expected sk-ant- prefix")
	}

	if len(key) < 20 {
		return errors.New("malformed API key: too short")
	}

	return nil
}

// MaskKey renders a key safe for display, keeping the sk-ant- prefix and the
// last four characters.
func MaskKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}
