// Package ollama is a small HTTP client for a local Ollama server running vision models.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/platinummonkey/oris/internal/logger"
)

const (
	DefaultEndpoint   = "http://localhost:11434"
	DefaultTimeout    = 5 * time.Minute
	DefaultMaxRetries = 3
	DefaultRetryDelay = 1 * time.Second
)

// Client talks to the Ollama REST API
type Client struct {
	endpoint    string
	httpClient  *http.Client
	logger      *logger.Logger
	maxRetries  int
	retryDelay  time.Duration
	temperature float64
}

// ClientOption configures a Client
type ClientOption func(*Client)

func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithTimeout sets the HTTP timeout of a single request attempt
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

func WithLogger(log *logger.Logger) ClientOption {
	return func(c *Client) {
		c.logger = log
	}
}

func WithMaxRetries(maxRetries int) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
	}
}

// WithRetryDelay sets the first backoff delay; later attempts double it
func WithRetryDelay(delay time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = delay
	}
}

// WithTemperature sets the sampling temperature sent with generate requests
func WithTemperature(t float64) ClientOption {
	return func(c *Client) {
		c.temperature = t
	}
}

// NewClient creates a client for the default local endpoint unless overridden
func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		endpoint: DefaultEndpoint,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:     logger.Get(),
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Endpoint returns the configured base URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// doRequest performs a JSON request, retrying transport failures and 5xx responses
// with exponential backoff. 4xx responses fail immediately.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, response interface{}) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Debugf("Retrying ollama request (attempt %d/%d) after %v", attempt, c.maxRetries, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		status, respBody, err := c.send(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			c.logger.Debugf("Ollama request failed: %v", lastErr)
			continue
		}

		if status < 200 || status >= 300 {
			var errResp ErrorResponse
			msg := string(respBody)
			if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
				msg = errResp.Error
			}
			apiErr := fmt.Errorf("ollama API error (status %d): %s", status, msg)
			if status >= 500 {
				lastErr = apiErr
				continue
			}
			return apiErr
		}

		if response != nil {
			if err := json.Unmarshal(respBody, response); err != nil {
				return fmt.Errorf("failed to unmarshal response: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) send(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, data, nil
}

// Generate sends a non-streaming generate request
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	var resp GenerateResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateWithVision runs prompt against base64 images, asking for JSON output
func (c *Client) GenerateWithVision(ctx context.Context, model, prompt string, images []string) (*GenerateResponse, error) {
	req := &GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		Images:  images,
		Stream:  false,
		Format:  "json",
		Options: &GenerateOptions{Temperature: c.temperature},
	}
	return c.Generate(ctx, req)
}

// GenerateOCR transcribes one base64 image and parses the word list the model returns.
// Both a bare JSON array and an object with a "words" field are accepted.
func (c *Client) GenerateOCR(ctx context.Context, model, prompt, imageData string) ([]OCRWord, error) {
	resp, err := c.GenerateWithVision(ctx, model, prompt, []string{imageData})
	if err != nil {
		return nil, fmt.Errorf("failed to generate OCR: %w", err)
	}

	c.logger.WithFields(
		"model", model,
		"eval_count", resp.EvalCount,
		"duration", time.Duration(resp.TotalDuration),
	).Debug("Ollama transcription finished")

	if resp.DoneReason == "length" {
		return nil, ErrTruncated
	}
	return ParseWords(resp.Response)
}

// ParseWords decodes a model reply into words
func ParseWords(content string) ([]OCRWord, error) {
	var words []OCRWord
	if err := json.Unmarshal([]byte(content), &words); err == nil {
		return words, nil
	}

	var wrapped struct {
		Words []OCRWord `json:"words"`
	}
	if err := json.Unmarshal([]byte(content), &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse OCR response as array or object: %w", err)
	}
	return wrapped.Words, nil
}

// ListModels lists the models installed on the server
func (c *Client) ListModels(ctx context.Context) (*ListModelsResponse, error) {
	var resp ListModelsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PullModel downloads a model and blocks until the pull completes
func (c *Client) PullModel(ctx context.Context, modelName string) error {
	var resp PullResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/pull", &PullRequest{Name: modelName}, &resp); err != nil {
		return err
	}
	c.logger.Infof("Model pull status: %s", resp.Status)
	return nil
}

// HasModel reports whether model (or model:latest) is installed
func (c *Client) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models.Models {
		if m.Name == model || m.Name == model+":latest" {
			return true, nil
		}
	}
	return false, nil
}

// HealthCheck verifies the server answers on its root URL
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	status, _, err := c.send(req)
	if err != nil {
		return fmt.Errorf("ollama is not accessible: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("ollama health check failed with status: %d", status)
	}
	return nil
}

// ErrTruncated is returned when the model stopped at its token limit
var ErrTruncated = errors.New("ollama reply truncated at the token limit")

// ErrUnsupportedFormat is returned by EncodeImageToBase64 for formats other than png and jpeg
var ErrUnsupportedFormat = errors.New("unsupported image format")

// EncodeImageToBase64 encodes img as png or jpeg and returns it base64 encoded
func EncodeImageToBase64(img image.Image, format string) (string, error) {
	var buf bytes.Buffer

	switch format {
	case "png", "PNG":
		if err := png.Encode(&buf, img); err != nil {
			return "", fmt.Errorf("failed to encode PNG: %w", err)
		}
	case "jpeg", "jpg", "JPEG", "JPG":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return "", fmt.Errorf("failed to encode JPEG: %w", err)
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
