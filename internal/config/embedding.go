package config

import (
	"time"

	"github.com/timmy/storydedup/internal/domain"
)

// Known embedding providers.
const (
	ProviderJina             = "jina"
	ProviderOpenAICompatible = "openai-compatible"
)

// EmbeddingConfig describes the text embedder the CLI uses to turn artifact text into vectors.
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`   // "jina" or "openai-compatible"
	Model      string        `mapstructure:"model"`      // Model name/ID
	APIKey     string        `mapstructure:"api_key"`    // API key
	BaseURL    string        `mapstructure:"base_url"`   // Base URL; empty uses the provider default
	Dimensions int           `mapstructure:"dimensions"` // Requested vector length, 0 lets the model decide
	RateLimit  float64       `mapstructure:"rate_limit"` // Requests per second, 0 disables limiting
	Timeout    time.Duration `mapstructure:"timeout"`    // Per-request timeout
}

// Validate checks that the embedding configuration has all required fields.
// The API key is not required here; commands that never embed still load config.
func (c *EmbeddingConfig) Validate() error {
	switch c.Provider {
	case ProviderJina, ProviderOpenAICompatible:
	default:
		return &domain.ConfigurationError{Key: "EMBEDDING_PROVIDER", Value: c.Provider, Reason: "unknown provider"}
	}
	if c.Model == "" {
		return &domain.ConfigurationError{Key: "EMBEDDING_MODEL", Reason: "model is required"}
	}
	if c.Dimensions < 0 {
		return &domain.ConfigurationError{Key: "EMBEDDING_DIMENSIONS", Value: formatFloat(float64(c.Dimensions)), Reason: "must not be negative"}
	}
	if c.RateLimit < 0 {
		return &domain.ConfigurationError{Key: "EMBEDDING_RATE_LIMIT", Value: formatFloat(c.RateLimit), Reason: "must not be negative"}
	}
	if c.Provider == ProviderOpenAICompatible && c.BaseURL == "" {
		return &domain.ConfigurationError{Key: "EMBEDDING_BASE_URL", Reason: "required for openai-compatible provider"}
	}
	return nil
}

// ValidateWithAPIKey validates the configuration including API key requirement.
// Use this when the embedding will actually be used (not just configured).
func (c *EmbeddingConfig) ValidateWithAPIKey() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return &domain.ConfigurationError{Key: "EMBEDDING_API_KEY", Reason: "api key is required"}
	}
	return nil
}
