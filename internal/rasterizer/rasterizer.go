// Package rasterizer turns source documents into page images at a fixed
// resolution and persists every page through a pagestore.
package rasterizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/models"
	"github.com/platinummonkey/oris/internal/pagestore"
)

// DefaultDPI is the render resolution for PDF pages
const DefaultDPI = 300

// ErrUnsupportedType is returned for document types that have no page images
var ErrUnsupportedType = errors.New("document type cannot be rasterized")

// RasterPage describes one stored page image
type RasterPage struct {
	Number   int
	Width    int
	Height   int
	Location string
}

// Config holds rasterizer settings
type Config struct {
	DPI int

	// KeyPrefix is prepended to every stored page key
	KeyPrefix string

	Store  pagestore.Store
	Logger *logger.Logger
}

// Rasterizer renders documents to pages
type Rasterizer struct {
	dpi    int
	prefix string
	store  pagestore.Store
	logger *logger.Logger
}

// New creates a rasterizer
func New(cfg *Config) (*Rasterizer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("page store is required")
	}

	dpi := cfg.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	return &Rasterizer{dpi: dpi, prefix: cfg.KeyPrefix, store: cfg.Store, logger: log}, nil
}

// Rasterize renders src and stores its pages under keys derived from
// documentID. Pages are returned in order, numbered from 1. On any failure the
// pages already stored are removed and no page is returned.
func (r *Rasterizer) Rasterize(ctx context.Context, src string, docType models.DocumentType, documentID string) ([]RasterPage, error) {
	log := r.logger.WithDocumentID(documentID).WithFields("source", src, "type", docType)
	log.Debug("Rasterizing document")

	var (
		pages []RasterPage
		err   error
	)

	switch docType {
	case models.DocumentTypePDF:
		pages, err = r.rasterizePDF(ctx, src, documentID)
	case models.DocumentTypeImage, models.DocumentTypeScan:
		pages, err = r.rasterizeImage(ctx, src, documentID)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedType, docType)
	}

	if err != nil {
		r.discard(pages)
		log.WithError(err).Warn("Rasterization failed")
		return nil, err
	}

	log.WithFields("pages", len(pages)).Info("Document rasterized")
	return pages, nil
}

func (r *Rasterizer) rasterizeImage(ctx context.Context, src, documentID string) ([]RasterPage, error) {
	img, err := DecodeImage(src)
	if err != nil {
		return nil, err
	}

	page, err := r.store1(ctx, documentID, 1, Flatten(img))
	if err != nil {
		return nil, err
	}
	return []RasterPage{page}, nil
}

func (r *Rasterizer) store1(ctx context.Context, documentID string, n int, img image.Image) (RasterPage, error) {
	loc, err := r.store.Put(ctx, pagestore.PageKey(r.prefix, documentID, n), img)
	if err != nil {
		return RasterPage{}, fmt.Errorf("failed to store page %d: %w", n, err)
	}

	b := img.Bounds()
	return RasterPage{Number: n, Width: b.Dx(), Height: b.Dy(), Location: loc}, nil
}

func (r *Rasterizer) discard(pages []RasterPage) {
	for _, p := range pages {
		if err := r.store.Delete(context.Background(), p.Location); err != nil {
			r.logger.WithError(err).WithFields("location", p.Location).Warn("Failed to remove page image")
		}
	}
}

// DecodeImage reads any registered image format (PNG, JPEG, GIF, TIFF, BMP, WebP)
func DecodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", filepath.Base(path), err)
	}
	logger.WithFields("path", path, "format", format).Debugf("Decoded image %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	return img, nil
}

// Flatten converts img to opaque RGBA, compositing any transparency over white.
// Palette and grayscale images come out as plain colour images.
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Over)
	return out
}

// DocumentTypeFromPath guesses the declared type from a file extension
func DocumentTypeFromPath(path string) models.DocumentType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return models.DocumentTypePDF
	case ".jpg", ".jpeg", ".png", ".tif", ".tiff", ".bmp", ".gif", ".webp":
		return models.DocumentTypeImage
	case ".txt":
		return models.DocumentTypeText
	default:
		return models.DocumentTypeScan
	}
}
