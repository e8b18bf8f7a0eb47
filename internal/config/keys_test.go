package config

import (
	"errors"
	"os"
	"testing"
)

func TestResolveAPIKey(t *testing.T) {
	originalKey := os.Getenv("ANTHROPIC_API_KEY")
	defer os.Setenv("ANTHROPIC_API_KEY", originalKey)

	t.Run("environment wins", func(t *testing.T) {
		os.Setenv("ANTHROPIC_API_KEY", "sk-ant-env-key")

		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}}
		key, source, err := cfg.ResolveAPIKey()
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if key != "sk-ant-env-key" {
			t.Errorf("expected 'sk-ant-env-key', got %q", key)
		}
		if source != KeySourceEnv {
			t.Errorf("expected KeySourceEnv, got %v", source)
		}

		os.Unsetenv("ANTHROPIC_API_KEY")
	})

	t.Run("config fallback", func(t *testing.T) {
		os.Unsetenv("ANTHROPIC_API_KEY")

		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}}
		key, source, err := cfg.ResolveAPIKey()
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if key != "sk-ant-config-key" {
			t.Errorf("expected 'sk-ant-config-key', got %q", key)
		}
		if source != KeySourceConfig {
			t.Errorf("expected KeySourceConfig, got %v", source)
		}
	})

	t.Run("unexpanded reference counts as unset", func(t *testing.T) {
		os.Unsetenv("ANTHROPIC_API_KEY")

		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "${MISSING_KEY_VAR}"}}
		_, source, err := cfg.ResolveAPIKey()
		if !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
		if source != KeySourceNone {
			t.Errorf("expected KeySourceNone, got %v", source)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		os.Unsetenv("ANTHROPIC_API_KEY")

		cfg := &Config{}
		_, source, err := cfg.ResolveAPIKey()
		if !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
		if source != KeySourceNone {
			t.Errorf("expected KeySourceNone, got %v", source)
		}
	})
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid key", "sk-ant-REDACTED", false},
		{"empty key", "", true},
		{"wrong prefix", "sk-openai-12345678901234567890", true},
		{"too short", "sk-ant-abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{"valid key", "sk-ant-REDACTED", "sk-ant-...wxyz"},
		{"empty key", "", "(not set)"},
		{"short key", "short", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MaskKey(tt.key)
			if result != tt.expected {
				t.Errorf("MaskKey() = %q, want %q", result, tt.expected)
			}
		})
	}
}
