package engine

import (
	"context"

	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/ollama"
)

// OllamaVisionClient adapts the local Ollama client to VisionClient
type OllamaVisionClient struct {
	client *ollama.Client
	logger *logger.Logger
}

func NewOllamaVisionClient(endpoint string, maxRetries int, temperature float64, log *logger.Logger) *OllamaVisionClient {
	if log == nil {
		log = logger.Get()
	}

	opts := []ollama.ClientOption{
		ollama.WithLogger(log),
		ollama.WithTemperature(temperature),
	}
	if endpoint != "" {
		opts = append(opts, ollama.WithEndpoint(endpoint))
	}
	if maxRetries > 0 {
		opts = append(opts, ollama.WithMaxRetries(maxRetries))
	}

	return &OllamaVisionClient{
		client: ollama.NewClient(opts...),
		logger: log,
	}
}

func (o *OllamaVisionClient) GenerateOCR(ctx context.Context, model, prompt, imageData string) ([]ollama.OCRWord, error) {
	return o.client.GenerateOCR(ctx, model, prompt, imageData)
}

// HealthCheck verifies the server is up and pulls the model when missing
func (o *OllamaVisionClient) HealthCheck(ctx context.Context, model string) error {
	if err := o.client.HealthCheck(ctx); err != nil {
		return err
	}

	found, err := o.client.HasModel(ctx, model)
	if err != nil {
		return err
	}
	if !found {
		o.logger.WithFields("model", model).Info("Model not found, pulling...")
		return o.client.PullModel(ctx, model)
	}
	return nil
}

func (o *OllamaVisionClient) Name() string { return string(ProviderOllama) }

func (o *OllamaVisionClient) SupportedModels() []string {
	return []string{"llava", "llava:13b", "llama3.2-vision", "minicpm-v", "moondream"}
}
