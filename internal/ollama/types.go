package ollama

import "time"

// GenerateOptions are the model parameters the pipeline sets
type GenerateOptions struct {
	Temperature float64 `json:"temperature"`

	// NumPredict caps generated tokens; zero leaves the server default
	NumPredict int `json:"num_predict,omitempty"`
}

// GenerateRequest is the body of POST /api/generate. Images are base64 encoded.
type GenerateRequest struct {
	Model   string           `json:"model"`
	Prompt  string           `json:"prompt"`
	Images  []string         `json:"images,omitempty"`
	Stream  bool             `json:"stream"`
	Format  string           `json:"format,omitempty"`
	Options *GenerateOptions `json:"options,omitempty"`
}

// GenerateResponse is the single reply of a non-streaming generate call
type GenerateResponse struct {
	Model      string `json:"model"`
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`

	// EvalCount is the number of generated tokens; durations are nanoseconds
	EvalCount     int   `json:"eval_count,omitempty"`
	TotalDuration int64 `json:"total_duration,omitempty"`
}

// OCRWord is one word returned by a vision model. Confidence is zero when the
// model gives none. BBox is [x, y, width, height] in pixels.
type OCRWord struct {
	Text       string  `json:"text"`
	BBox       []int   `json:"bbox"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Model is an installed model as listed by GET /api/tags
type Model struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

type ListModelsResponse struct {
	Models []Model `json:"models"`
}

type PullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

type PullResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
