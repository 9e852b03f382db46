// Package pipeline drives documents through recognition: pages are
// classified, recognized by the selected engines, fused, mined for fields, and
// their outcome is rolled up into document and batch status.
package pipeline

import (
	"context"
	"fmt"
	"image"

	"github.com/platinummonkey/oris/internal/classifier"
	"github.com/platinummonkey/oris/internal/engine"
	"github.com/platinummonkey/oris/internal/extract"
	"github.com/platinummonkey/oris/internal/fusion"
	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/models"
	"github.com/platinummonkey/oris/internal/selector"
)

// Recognition is the outcome of recognizing one page image
type Recognition struct {
	Analysis classifier.Analysis

	// Selected lists the engines picked for the page, in run order
	Selected []string

	Outcome fusion.Outcome

	// Result is the fused result with extracted fields attached
	Result models.RecognitionResult
}

// Succeeded reports whether at least one engine produced an error-free result
func (r *Recognition) Succeeded() bool {
	return r.Result.SuccessfulEngines > 0 && !r.Result.Failed()
}

// RecognizerConfig wires the per-page components
type RecognizerConfig struct {
	Classifier *classifier.Classifier
	Registry   *engine.Registry
	Selector   *selector.Selector
	Runner     *fusion.Runner
	Policy     fusion.Policy
	Logger     *logger.Logger
}

// Recognizer runs classification, engine selection, fusion and extraction on
// a page image. It is shared by the batch processor and the analyzer.
type Recognizer struct {
	classifier *classifier.Classifier
	registry   *engine.Registry
	selector   *selector.Selector
	runner     *fusion.Runner
	policy     fusion.Policy
	logger     *logger.Logger
}

// NewRecognizer checks the wiring and fills defaults
func NewRecognizer(cfg *RecognizerConfig) (*Recognizer, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("engine registry is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	c := cfg.Classifier
	if c == nil {
		cc := classifier.DefaultConfig()
		cc.Logger = log
		c = classifier.New(cc)
	}

	sel := cfg.Selector
	if sel == nil {
		sel = selector.New(cfg.Registry, nil, log)
	}

	runner := cfg.Runner
	if runner == nil {
		runner = fusion.NewRunner(fusion.DefaultTimeout, log)
	}

	policy := cfg.Policy
	if policy == "" {
		policy = fusion.PolicyAuto
	}

	return &Recognizer{
		classifier: c,
		registry:   cfg.Registry,
		selector:   sel,
		runner:     runner,
		policy:     policy,
		logger:     log,
	}, nil
}

// Recognize classifies img, runs the selected engines (or the explicit list
// when non-empty) and extracts fields from the fused text. It never fails:
// when no engine is available the result carries the error.
func (r *Recognizer) Recognize(ctx context.Context, img image.Image, hint models.DocumentType, explicit []string) *Recognition {
	rec := &Recognition{Analysis: r.classifier.Analyze(img)}

	rec.Selected = r.selector.Select(selector.LabelFor(rec.Analysis.Handwritten), explicit)
	rec.Outcome = r.runner.Run(ctx, img, r.registry.Resolve(rec.Selected), r.policy)

	rec.Result = rec.Outcome.Fused
	if rec.Succeeded() {
		rec.Result.Fields = extract.Extract(rec.Result.Text, hint)
	}
	return rec
}
