package engine

import "github.com/platinummonkey/oris/internal/logger"

// TesseractName is the registry name of the Tesseract engine
const TesseractName = "tesseract"

// TesseractConfig configures the Tesseract engine
type TesseractConfig struct {
	// Languages are Tesseract language codes, e.g. fra and eng
	Languages []string

	// PageSegMode is Tesseract's --psm; 6 treats the page as one uniform block
	PageSegMode int

	Logger *logger.Logger
}
