package config

import (
	"fmt"
	"os"
	"time"
)

// EmbeddingConfig configures the image/text embedding server.
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`    // Provider type: "clip-server"
	Model      string        `mapstructure:"model"`       // Model name passed to the server
	APIKey     string        `mapstructure:"api_key"`     // Optional bearer token
	APIKeyEnv  string        `mapstructure:"api_key_env"` // Environment variable name for API key
	BaseURL    string        `mapstructure:"base_url"`
	Dimensions int           `mapstructure:"dimensions"` // Embedding vector dimensions
	Timeout    time.Duration `mapstructure:"timeout"`
	Serialize  bool          `mapstructure:"serialize"` // Serialize inference calls within one process
}

// ResolveEnvVars loads the API key from APIKeyEnv when it is not set directly.
func (c *EmbeddingConfig) ResolveEnvVars() {
	if c.APIKeyEnv != "" && c.APIKey == "" {
		if val := os.Getenv(c.APIKeyEnv); val != "" {
			c.APIKey = val
		}
	}
}

// Validate checks that the embedding configuration has all required fields.
// Returns an error describing the first validation failure, or nil if valid.
func (c *EmbeddingConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("embedding: provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("embedding: model is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("embedding: base_url is required")
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedding: dimensions must be positive")
	}

	switch c.Provider {
	case "clip-server":
	default:
		return fmt.Errorf("embedding: unknown provider %q", c.Provider)
	}

	return nil
}

// TranslationConfig configures the metadata translation provider.
type TranslationConfig struct {
	Provider   string        `mapstructure:"provider"` // Provider type: "deepl"
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	TargetLang string        `mapstructure:"target_lang"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Validate checks the translation configuration.
func (c *TranslationConfig) Validate() error {
	if c.Provider != "deepl" {
		return fmt.Errorf("translation: unknown provider %q", c.Provider)
	}
	if c.APIKey == "" {
		return fmt.Errorf("translation: api_key is required (set DEEPL_API_KEY)")
	}
	if c.TargetLang == "" {
		return fmt.Errorf("translation: target_lang is required")
	}
	return nil
}
