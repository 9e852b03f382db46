package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/ollama"
)

// AnthropicVisionClient transcribes pages with the Claude messages API
type AnthropicVisionClient struct {
	client      anthropic.Client
	logger      *logger.Logger
	temperature float64
}

func NewAnthropicVisionClient(apiKey string, temperature float64, maxRetries int, log *logger.Logger, extra ...option.RequestOption) *AnthropicVisionClient {
	if log == nil {
		log = logger.Get()
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if maxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(maxRetries))
	}

	return &AnthropicVisionClient{
		client:      anthropic.NewClient(append(opts, extra...)...),
		logger:      log.WithEngine(string(ProviderAnthropic)),
		temperature: temperature,
	}
}

// GenerateOCR sends the page as a base64 image block after the prompt. Text
// blocks of the reply are concatenated before parsing.
func (a *AnthropicVisionClient) GenerateOCR(ctx context.Context, model, prompt, imageData string) ([]ollama.OCRWord, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxOutputTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
				anthropic.NewImageBlockBase64("image/png", imageData),
			),
		},
		Temperature: anthropic.Float(a.temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}

	a.logger.WithFields(
		"model", model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason,
	).Debug("Page transcribed")

	if resp.StopReason == anthropic.StopReasonMaxTokens {
		return nil, fmt.Errorf("anthropic: %w", errTruncated)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return nil, fmt.Errorf("no text content in Anthropic response")
	}

	words, err := parseModelWords(content.String())
	if err != nil {
		a.logger.WithFields("content", content.String()).Debug("Unparseable reply")
		return nil, err
	}
	return words, nil
}

// HealthCheck sends a one-token message to verify the key and model
func (a *AnthropicVisionClient) HealthCheck(ctx context.Context, model string) error {
	_, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return fmt.Errorf("anthropic health check failed: %w", err)
	}
	return nil
}

func (a *AnthropicVisionClient) Name() string { return string(ProviderAnthropic) }

func (a *AnthropicVisionClient) SupportedModels() []string {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-7-sonnet-20250219",
	}
}
