package engine

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/ollama"
)

// OpenAIVisionClient transcribes pages with OpenAI chat completions
type OpenAIVisionClient struct {
	client      openai.Client
	logger      *logger.Logger
	temperature float64
}

// NewOpenAIVisionClient creates a client; extra request options (base URL in
// tests, proxies) are appended after the API key
func NewOpenAIVisionClient(apiKey string, temperature float64, maxRetries int, log *logger.Logger, extra ...option.RequestOption) *OpenAIVisionClient {
	if log == nil {
		log = logger.Get()
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if maxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(maxRetries))
	}

	return &OpenAIVisionClient{
		client:      openai.NewClient(append(opts, extra...)...),
		logger:      log.WithEngine(string(ProviderOpenAI)),
		temperature: temperature,
	}
}

// GenerateOCR sends the page inline as a data URL and asks for a JSON object
func (o *OpenAIVisionClient) GenerateOCR(ctx context.Context, model, prompt, imageData string) ([]ollama.OCRWord, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL:    "data:image/png;base64," + imageData,
					Detail: "high",
				}),
			}),
		},
		MaxCompletionTokens: openai.Int(maxOutputTokens),
		Temperature:         openai.Float(o.temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	choice := resp.Choices[0]
	o.logger.WithFields(
		"model", model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", choice.FinishReason,
	).Debug("Page transcribed")

	if choice.FinishReason == "length" {
		return nil, fmt.Errorf("openai: %w", errTruncated)
	}

	words, err := parseModelWords(choice.Message.Content)
	if err != nil {
		o.logger.WithFields("content", choice.Message.Content).Debug("Unparseable reply")
		return nil, err
	}
	return words, nil
}

// HealthCheck verifies credentials by fetching the model
func (o *OpenAIVisionClient) HealthCheck(ctx context.Context, model string) error {
	if _, err := o.client.Models.Get(ctx, model); err != nil {
		return fmt.Errorf("openai health check failed: %w", err)
	}
	return nil
}

func (o *OpenAIVisionClient) Name() string { return string(ProviderOpenAI) }

func (o *OpenAIVisionClient) SupportedModels() []string {
	return []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"}
}
