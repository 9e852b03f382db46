package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/ollama"
)

// maxOutputTokens bounds a hosted model reply. A dense page of words with
// boxes stays well below it.
const maxOutputTokens = 8192

// errTruncated marks a reply cut off by the output token limit; its JSON is
// incomplete and cannot be parsed.
var errTruncated = errors.New("model reply truncated at the output token limit")

// ProviderType names a vision model provider
type ProviderType string

const (
	ProviderOllama    ProviderType = "ollama"
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderGoogle    ProviderType = "google"
)

// VisionClientConfig holds the settings shared by every provider client
type VisionClientConfig struct {
	Provider ProviderType
	Model    string

	// Endpoint is used by Ollama only
	Endpoint string

	// APIKey is required by hosted providers
	APIKey string

	MaxRetries  int
	Temperature float64
}

// NewVisionClient creates the client for cfg.Provider
func NewVisionClient(ctx context.Context, cfg *VisionClientConfig, log *logger.Logger) (VisionClient, error) {
	if log == nil {
		log = logger.Get()
	}
	if err := ValidateProviderConfig(cfg); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case ProviderOllama:
		return NewOllamaVisionClient(cfg.Endpoint, cfg.MaxRetries, cfg.Temperature, log), nil
	case ProviderOpenAI:
		return NewOpenAIVisionClient(cfg.APIKey, cfg.Temperature, cfg.MaxRetries, log), nil
	case ProviderAnthropic:
		return NewAnthropicVisionClient(cfg.APIKey, cfg.Temperature, cfg.MaxRetries, log), nil
	case ProviderGoogle:
		client, err := NewGoogleVisionClient(ctx, cfg.APIKey, cfg.Temperature, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create Google vision client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// ValidateProviderConfig checks cfg is complete for its provider
func ValidateProviderConfig(cfg *VisionClientConfig) error {
	if cfg == nil {
		return fmt.Errorf("vision client config is nil")
	}

	switch cfg.Provider {
	case ProviderOllama:
		if cfg.Endpoint == "" {
			return fmt.Errorf("endpoint is required for Ollama provider")
		}
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle:
		if cfg.APIKey == "" {
			return fmt.Errorf("%w: API key is required for %s provider", ErrUnavailable, cfg.Provider)
		}
	default:
		return fmt.Errorf("invalid provider: %s", cfg.Provider)
	}

	if cfg.Model == "" {
		return fmt.Errorf("model is required")
	}
	if cfg.Temperature < 0.0 || cfg.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0, got %f", cfg.Temperature)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", cfg.MaxRetries)
	}
	return nil
}

// parseModelWords decodes a hosted model reply, tolerating a markdown code fence
// around the JSON
func parseModelWords(content string) ([]ollama.OCRWord, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}
	return ollama.ParseWords(content)
}
