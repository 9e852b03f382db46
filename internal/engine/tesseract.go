//go:build ocr

package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/models"
)

// TesseractBuiltIn reports whether Tesseract support is compiled in
const TesseractBuiltIn = true

// TesseractEngine recognizes printed text with a local Tesseract install.
// One gosseract client is shared and calls are serialised on it.
type TesseractEngine struct {
	mu        sync.Mutex
	client    *gosseract.Client
	languages []string
	psm       int
	available bool
	logger    *logger.Logger
}

// NewTesseractEngine creates the engine; the Tesseract client is created by Init
func NewTesseractEngine(cfg *TesseractConfig) *TesseractEngine {
	if cfg == nil {
		cfg = &TesseractConfig{}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	return &TesseractEngine{
		languages: langs,
		psm:       cfg.PageSegMode,
		logger:    log.WithEngine(TesseractName),
	}
}

func (t *TesseractEngine) Name() string { return TesseractName }
func (t *TesseractEngine) Kind() Kind   { return KindPrinted }

func (t *TesseractEngine) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.available
}

// Init creates the client and loads the language data
func (t *TesseractEngine) Init(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return nil
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(t.languages...); err != nil {
		client.Close()
		return fmt.Errorf("%w: tesseract languages %v: %v", ErrUnavailable, t.languages, err)
	}
	if t.psm > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(t.psm)); err != nil {
			client.Close()
			return fmt.Errorf("%w: tesseract page segmentation mode: %v", ErrUnavailable, err)
		}
	}

	t.client = client
	t.available = true
	t.logger.WithFields("version", gosseract.Version(), "languages", strings.Join(t.languages, "+")).Debug("Tesseract initialised")
	return nil
}

func (t *TesseractEngine) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.available = false
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

// Recognize runs Tesseract on img. Confidence is the mean word confidence.
func (t *TesseractEngine) Recognize(ctx context.Context, img image.Image) models.RecognitionResult {
	return Guard(ctx, TesseractName, func(ctx context.Context) (models.RecognitionResult, error) {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return models.RecognitionResult{}, fmt.Errorf("encode page: %w", err)
		}

		t.mu.Lock()
		defer t.mu.Unlock()

		if t.client == nil {
			return models.RecognitionResult{}, ErrUnavailable
		}
		if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
			return models.RecognitionResult{}, fmt.Errorf("set image: %w", err)
		}

		text, err := t.client.Text()
		if err != nil {
			return models.RecognitionResult{}, fmt.Errorf("recognize text: %w", err)
		}

		res := models.RecognitionResult{Text: strings.TrimSpace(text)}

		boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
		if err != nil {
			t.logger.WithError(err).Debug("No word boxes from Tesseract")
			return res, nil
		}

		var sum float64
		var n int
		for _, b := range boxes {
			if strings.TrimSpace(b.Word) == "" {
				continue
			}
			conf := b.Confidence / 100.0
			res.BoundingBoxes = append(res.BoundingBoxes, models.BoundingBox{
				Text:       b.Word,
				X:          b.Box.Min.X,
				Y:          b.Box.Min.Y,
				Width:      b.Box.Dx(),
				Height:     b.Box.Dy(),
				Confidence: conf,
			})
			if conf > 0 {
				sum += conf
				n++
			}
		}
		if n > 0 {
			res.Confidence = sum / float64(n)
		}
		return res, nil
	})
}
