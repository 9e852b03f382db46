package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/ollama"
)

// GoogleVisionClient transcribes pages with Gemini
type GoogleVisionClient struct {
	client      *genai.Client
	logger      *logger.Logger
	temperature float32
}

func NewGoogleVisionClient(ctx context.Context, apiKey string, temperature float64, log *logger.Logger, extra ...option.ClientOption) (*GoogleVisionClient, error) {
	if log == nil {
		log = logger.Get()
	}

	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, extra...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GoogleVisionClient{
		client:      client,
		logger:      log.WithEngine(string(ProviderGoogle)),
		temperature: float32(temperature),
	}, nil
}

// GenerateOCR sends the decoded PNG as inline data with a JSON response type
func (g *GoogleVisionClient) GenerateOCR(ctx context.Context, model, prompt, imageData string) ([]ollama.OCRWord, error) {
	png, err := base64.StdEncoding.DecodeString(imageData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}

	gm := g.client.GenerativeModel(model)
	gm.SetTemperature(g.temperature)
	gm.SetMaxOutputTokens(maxOutputTokens)
	gm.ResponseMIMEType = "application/json"

	resp, err := gm.GenerateContent(ctx, genai.Text(prompt), genai.ImageData("png", png))
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response from Gemini")
	}

	cand := resp.Candidates[0]
	log := g.logger.WithFields("model", model, "finish_reason", cand.FinishReason.String())
	if u := resp.UsageMetadata; u != nil {
		log = log.WithFields("prompt_tokens", u.PromptTokenCount, "output_tokens", u.CandidatesTokenCount)
	}
	log.Debug("Page transcribed")

	if cand.FinishReason == genai.FinishReasonMaxTokens {
		return nil, fmt.Errorf("gemini: %w", errTruncated)
	}

	var content strings.Builder
	for _, part := range cand.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			content.WriteString(string(txt))
		}
	}
	if content.Len() == 0 {
		return nil, fmt.Errorf("no text content in Gemini response")
	}

	words, err := parseModelWords(content.String())
	if err != nil {
		g.logger.WithFields("content", content.String()).Debug("Unparseable reply")
		return nil, err
	}
	return words, nil
}

// HealthCheck fetches the model metadata to verify the key
func (g *GoogleVisionClient) HealthCheck(ctx context.Context, model string) error {
	if _, err := g.client.GenerativeModel(model).Info(ctx); err != nil {
		return fmt.Errorf("gemini health check failed: %w", err)
	}
	return nil
}

func (g *GoogleVisionClient) Name() string { return string(ProviderGoogle) }

func (g *GoogleVisionClient) SupportedModels() []string {
	return []string{"gemini-1.5-pro", "gemini-1.5-flash", "gemini-2.0-flash"}
}

// Close releases the underlying gRPC connection
func (g *GoogleVisionClient) Close() error {
	return g.client.Close()
}
