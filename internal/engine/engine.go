// Package engine wraps text recognition engines behind one capability: an image
// goes in, text, a confidence in [0,1] and optional word boxes come out.
//
// Engines never return errors or panic across this boundary. A failure is a
// RecognitionResult with empty text, zero confidence and Error set, so the
// fusion step can treat every engine the same way.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/platinummonkey/oris/internal/models"
)

// Kind tells what an engine is good at
type Kind string

const (
	KindPrinted     Kind = "printed"
	KindHandwriting Kind = "handwriting"
)

// ErrUnavailable is reported by engines whose runtime or model cannot be loaded
var ErrUnavailable = errors.New("engine unavailable")

// Engine is a text recognition capability
type Engine interface {
	// Name is the unique name used in configuration and results
	Name() string

	Kind() Kind

	// Available reports whether the engine can currently serve requests
	Available() bool

	// Recognize transcribes img. It always returns a result; failures are
	// reported through the result's Error field.
	Recognize(ctx context.Context, img image.Image) models.RecognitionResult
}

// Initializer is implemented by engines holding resources. Init is called once
// before first use and Close once at shutdown.
type Initializer interface {
	Init(ctx context.Context) error
	Close() error
}

// Guard runs fn on behalf of engine name and normalises the outcome: elapsed
// time is recorded, errors and panics become failed results, and confidence is
// clamped to [0,1].
func Guard(ctx context.Context, name string, fn func(ctx context.Context) (models.RecognitionResult, error)) (res models.RecognitionResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res = Failed(name, fmt.Errorf("engine panicked: %v", r))
		}
		res.Engine = name
		res.Duration = time.Since(start)
	}()

	out, err := fn(ctx)
	if err != nil {
		return Failed(name, err)
	}
	out.Confidence = ClampConfidence(out.Confidence)
	return out
}

// Failed builds the result of a failed engine call
func Failed(name string, err error) models.RecognitionResult {
	return models.RecognitionResult{
		Engine:     name,
		Text:       "",
		Confidence: 0,
		Error:      err.Error(),
	}
}

// ClampConfidence bounds c to [0,1]
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0 || c != c:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// SyntheticConfidence derives a confidence from output length for engines that
// have no confidence signal: min(0.9, runes/100).
func SyntheticConfidence(text string) float64 {
	n := float64(len([]rune(text)))
	if c := n / 100; c < 0.9 {
		return c
	}
	return 0.9
}
