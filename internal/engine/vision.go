package engine

import (
	"context"
	"fmt"
	"image"
	"io"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/models"
	"github.com/platinummonkey/oris/internal/ollama"
)

// PrintedPrompt asks a vision model for printed text with per-word confidence
const PrintedPrompt = `Transcribe all printed text in this scanned document page, in reading order.
Return ONLY valid JSON with no markdown formatting, no code blocks, no explanation.

Format:
{
  "words": [
    {"text": "word", "bbox": [x, y, width, height], "confidence": 0.95}
  ]
}

Rules:
- Keep the original language and accents, do not translate
- bbox coordinates are pixels from top-left (0,0)
- confidence is 0.0-1.0 for how sure you are of each word
- Return {"words": []} if the page has no text`

// HandwritingPrompt asks a vision model for handwritten text. Local models rarely
// produce meaningful confidences, so none are requested.
const HandwritingPrompt = `Transcribe all handwritten text in this image of a document page.
Return ONLY a JSON array with no additional text or explanation.
Each object must have:
- "text": one transcribed word, keeping the original language and accents
- "bbox": bounding box as [x, y, width, height] in pixels from top-left origin

Example format:
[
  {"text": "Madame", "bbox": [120, 45, 85, 32]},
  {"text": "Durand", "bbox": [210, 45, 78, 32]}
]

If no text is found, return an empty array: []`

// VisionClient is a vision-capable model provider that can transcribe a page
type VisionClient interface {
	// GenerateOCR transcribes a base64 PNG and returns the words found
	GenerateOCR(ctx context.Context, model, prompt, imageData string) ([]ollama.OCRWord, error)

	// HealthCheck verifies the provider is reachable and the model usable
	HealthCheck(ctx context.Context, model string) error

	Name() string
	SupportedModels() []string
}

// VisionEngineConfig configures a VisionEngine
type VisionEngineConfig struct {
	// Name defaults to the client's provider name
	Name   string
	Kind   Kind
	Client VisionClient
	Model  string

	// Prompt defaults to PrintedPrompt or HandwritingPrompt depending on Kind
	Prompt string

	// HealthCheck probes the provider during Init; when false the engine is
	// assumed available
	HealthCheck bool

	Logger *logger.Logger
}

// VisionEngine adapts a VisionClient to the Engine capability
type VisionEngine struct {
	name        string
	kind        Kind
	client      VisionClient
	model       string
	prompt      string
	healthCheck bool
	available   atomic.Bool
	logger      *logger.Logger
}

// NewVisionEngine creates an engine around cfg.Client. The engine reports itself
// available until Init says otherwise.
func NewVisionEngine(cfg *VisionEngineConfig) *VisionEngine {
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Client.Name()
	}
	kind := cfg.Kind
	if kind == "" {
		kind = KindPrinted
	}
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = PrintedPrompt
		if kind == KindHandwriting {
			prompt = HandwritingPrompt
		}
	}

	e := &VisionEngine{
		name:        name,
		kind:        kind,
		client:      cfg.Client,
		model:       cfg.Model,
		prompt:      prompt,
		healthCheck: cfg.HealthCheck,
		logger:      log.WithEngine(name),
	}
	e.available.Store(true)
	return e
}

func (e *VisionEngine) Name() string    { return e.name }
func (e *VisionEngine) Kind() Kind      { return e.kind }
func (e *VisionEngine) Available() bool { return e.available.Load() }

// Init runs the provider health check once when enabled
func (e *VisionEngine) Init(ctx context.Context) error {
	if !e.healthCheck {
		return nil
	}
	if err := e.client.HealthCheck(ctx, e.model); err != nil {
		e.available.Store(false)
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, e.name, err)
	}
	return nil
}

// Close releases the provider client when it holds resources
func (e *VisionEngine) Close() error {
	if c, ok := e.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Recognize sends img to the model and assembles the returned words into lines
func (e *VisionEngine) Recognize(ctx context.Context, img image.Image) models.RecognitionResult {
	return Guard(ctx, e.name, func(ctx context.Context) (models.RecognitionResult, error) {
		if !e.Available() {
			return models.RecognitionResult{}, ErrUnavailable
		}

		data, err := ollama.EncodeImageToBase64(img, "png")
		if err != nil {
			return models.RecognitionResult{}, err
		}

		words, err := e.client.GenerateOCR(ctx, e.model, e.prompt, data)
		if err != nil {
			return models.RecognitionResult{}, err
		}

		res := AssembleWords(words)
		e.logger.Debugw("Vision transcription done", "words", len(words), "confidence", res.Confidence)
		return res, nil
	})
}

// AssembleWords joins model words into text. Words with boxes are grouped into
// lines top to bottom and ordered left to right within a line; otherwise the
// model's order is kept. Confidence is the mean of the word confidences the
// model gave, or a synthetic length-based value when it gave none.
func AssembleWords(words []ollama.OCRWord) models.RecognitionResult {
	var res models.RecognitionResult
	if len(words) == 0 {
		res.SyntheticConfidence = true
		return res
	}

	var sum float64
	var scored int
	boxed := true
	for _, w := range words {
		if w.Confidence > 0 {
			sum += w.Confidence
			scored++
		}
		if len(w.BBox) != 4 {
			boxed = false
		}
	}

	if boxed {
		res.Text = joinLines(words)
		res.BoundingBoxes = make([]models.BoundingBox, 0, len(words))
		for _, w := range words {
			res.BoundingBoxes = append(res.BoundingBoxes, models.BoundingBox{
				Text: w.Text, X: w.BBox[0], Y: w.BBox[1], Width: w.BBox[2], Height: w.BBox[3],
				Confidence: w.Confidence,
			})
		}
	} else {
		parts := make([]string, 0, len(words))
		for _, w := range words {
			if t := strings.TrimSpace(w.Text); t != "" {
				parts = append(parts, t)
			}
		}
		res.Text = strings.Join(parts, " ")
	}

	if scored > 0 {
		res.Confidence = sum / float64(scored)
	} else {
		res.Confidence = SyntheticConfidence(res.Text)
		res.SyntheticConfidence = true
	}
	return res
}

func joinLines(words []ollama.OCRWord) string {
	sorted := make([]ollama.OCRWord, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BBox[1] < sorted[j].BBox[1] })

	var lines [][]ollama.OCRWord
	var lineTop, lineHeight int
	for _, w := range sorted {
		if len(lines) == 0 || w.BBox[1] > lineTop+lineHeight/2 {
			lines = append(lines, nil)
			lineTop, lineHeight = w.BBox[1], w.BBox[3]
		}
		lines[len(lines)-1] = append(lines[len(lines)-1], w)
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].BBox[0] < line[j].BBox[0] })
		parts := make([]string, 0, len(line))
		for _, w := range line {
			if t := strings.TrimSpace(w.Text); t != "" {
				parts = append(parts, t)
			}
		}
		if len(parts) > 0 {
			out = append(out, strings.Join(parts, " "))
		}
	}
	return strings.Join(out, "\n")
}
