package llm

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config selects and configures an LLM backend.
type Config struct {
	// Backend is one of "openai", "ollama", "anthropic" (alias "claude")
	// or "local" for a llama.cpp server.
	Backend string `mapstructure:"backend" validate:"required,oneof=openai ollama anthropic claude local"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`

	// Timeout bounds a single model call. Default 60s.
	Timeout time.Duration `mapstructure:"timeout"`

	// Temperature and MaxTokens are the defaults the core applies to every
	// call. Defaults 0.7 and 2000.
	Temperature float32 `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `mapstructure:"max_tokens" validate:"gte=0"`

	// RequestsPerMinute throttles outbound calls. Zero disables limiting.
	RequestsPerMinute int `mapstructure:"requests_per_minute" validate:"gte=0"`
	Burst             int `mapstructure:"burst" validate:"gte=0"`
}

// DefaultConfig returns the defaults used when a field is unset.
func DefaultConfig() Config {
	return Config{
		Backend:           "ollama",
		Timeout:           60 * time.Second,
		Temperature:       0.7,
		MaxTokens:         2000,
		RequestsPerMinute: 60,
		Burst:             5,
	}
}

// Params returns the GenerationParams derived from the configured defaults.
func (c Config) Params() GenerationParams {
	p := GenerationParams{}
	if c.Temperature > 0 {
		p.Temperature = Float32(c.Temperature)
	}
	if c.MaxTokens > 0 {
		p.MaxTokens = Int(c.MaxTokens)
	}
	return p
}

// NewClient builds the configured backend wrapped in a rate limiter.
func NewClient(cfg Config) (LLMClient, error) {
	var (
		client LLMClient
		err    error
	)
	switch strings.ToLower(cfg.Backend) {
	case "openai":
		client, err = NewOpenAIClient(cfg)
	case "ollama":
		client, err = NewOllamaClient(cfg)
	case "anthropic", "claude":
		client, err = NewAnthropicClient(cfg)
	case "local":
		client, err = NewLocalLlamaCppClient(cfg)
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Backend, err)
	}
	slog.Info("LLM backend ready", "backend", cfg.Backend, "rpm", cfg.RequestsPerMinute)
	return NewRateLimitedClient(client, cfg.RequestsPerMinute, cfg.Burst), nil
}
