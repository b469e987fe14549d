package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when the anthropic reviewer has no key.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// apiKeyEnv is read before the config file.
const apiKeyEnv = "ANTHROPIC_API_KEY"

// GetAPIKey returns the key for the anthropic reviewer, preferring the
// environment. Config values may reference other variables as ${NAME}; an
// unset reference counts as no key.
func GetAPIKey(cfg *Config) (string, error) {
	if key := os.Getenv(apiKeyEnv); key != "" {
		return key, nil
	}
	if cfg == nil || cfg.Reviewer.APIKey == "" {
		return "", ErrNoAPIKey
	}
	key := os.ExpandEnv(cfg.Reviewer.APIKey)
	if key == "" || strings.HasPrefix(key, "${") {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// MaskAPIKey keeps the sk-ant- prefix and last four characters.
func MaskAPIKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 15:
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource says where reviewer credentials come from.
type KeySource string

const (
	KeySourceEnv     KeySource = "environment"
	KeySourceConfig  KeySource = "config_file"
	KeySourceBedrock KeySource = "aws"
	KeySourceNone    KeySource = "none"
)

// GetAPIKeySource reports the credential source the reviewer would use.
// Bedrock authenticates through the AWS credential chain, not a key.
func GetAPIKeySource(cfg *Config) KeySource {
	if cfg != nil && cfg.Reviewer.Bedrock {
		return KeySourceBedrock
	}
	if os.Getenv(apiKeyEnv) != "" {
		return KeySourceEnv
	}
	if _, err := GetAPIKey(cfg); err == nil {
		return KeySourceConfig
	}
	return KeySourceNone
}

// CheckReviewer reports a reviewer configuration that cannot work, before
// any entry is touched.
func CheckReviewer(cfg *ReviewerConfig) error {
	switch cfg.Provider {
	case "", ProviderNone:
		return nil
	case ProviderFile:
		if cfg.File == "" {
			return errors.New("reviewer.provider is file but reviewer.file is not set")
		}
		if _, err := os.Stat(cfg.File); err != nil {
			return fmt.Errorf("reviewer.file: %w", err)
		}
		return nil
	case ProviderAnthropic:
		if cfg.Bedrock {
			return nil
		}
		_, err := GetAPIKey(&Config{Reviewer: *cfg})
		return err
	default:
		return fmt.Errorf("unknown reviewer provider: %s", cfg.Provider)
	}
}
