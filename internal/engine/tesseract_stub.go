//go:build !ocr

package engine

import (
	"context"
	"fmt"
	"image"

	"github.com/platinummonkey/oris/internal/models"
)

const TesseractBuiltIn = false

// ErrTesseractNotEnabled is returned when the binary was built without the
// "ocr" build tag. Rebuild with -tags ocr and a Tesseract install to enable it.
var ErrTesseractNotEnabled = fmt.Errorf("%w: tesseract support not compiled in; rebuild with -tags ocr", ErrUnavailable)

// TesseractEngine is a placeholder that is never available
type TesseractEngine struct{}

func NewTesseractEngine(cfg *TesseractConfig) *TesseractEngine {
	return &TesseractEngine{}
}

func (t *TesseractEngine) Name() string    { return TesseractName }
func (t *TesseractEngine) Kind() Kind      { return KindPrinted }
func (t *TesseractEngine) Available() bool { return false }

func (t *TesseractEngine) Init(ctx context.Context) error { return ErrTesseractNotEnabled }
func (t *TesseractEngine) Close() error                   { return nil }

func (t *TesseractEngine) Recognize(ctx context.Context, img image.Image) models.RecognitionResult {
	return Failed(TesseractName, ErrTesseractNotEnabled)
}
