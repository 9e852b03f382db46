package rasterizer

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/unidoc/unipdf/v3/common"
	"github.com/unidoc/unipdf/v3/common/license"
	unipdf "github.com/unidoc/unipdf/v3/model"
	"github.com/unidoc/unipdf/v3/render"
)

func init() {
	common.SetLogger(common.NewConsoleLogger(common.LogLevelError))
}

// SetLicenseKey registers a unidoc metered license key
func SetLicenseKey(key string) error {
	if key == "" {
		return nil
	}
	if err := license.SetMeteredKey(key); err != nil {
		return fmt.Errorf("failed to set unidoc license: %w", err)
	}
	return nil
}

// PageCount validates a PDF and returns its number of pages
func PageCount(path string) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.ValidateFile(path, conf); err != nil {
		return 0, fmt.Errorf("PDF validation failed: %w", err)
	}

	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}

// rasterizePDF renders and stores pages one at a time so at most one page image
// is held in memory. Pages stored before an error are returned with it for cleanup.
func (r *Rasterizer) rasterizePDF(ctx context.Context, src, documentID string) ([]RasterPage, error) {
	count, err := PageCount(src)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	reader, err := unipdf.NewPdfReaderLazy(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	pages := make([]RasterPage, 0, count)
	for n := 1; n <= count; n++ {
		if err := ctx.Err(); err != nil {
			return pages, err
		}

		img, err := r.renderPage(reader, n)
		if err != nil {
			return pages, fmt.Errorf("failed to render page %d: %w", n, err)
		}

		page, err := r.store1(ctx, documentID, n, Flatten(img))
		if err != nil {
			return pages, err
		}
		pages = append(pages, page)

		r.logger.WithFields("page", n, "total", count, "width", page.Width, "height", page.Height).Debug("Rendered page")
	}
	return pages, nil
}

func (r *Rasterizer) renderPage(reader *unipdf.PdfReader, n int) (image.Image, error) {
	page, err := reader.GetPage(n)
	if err != nil {
		return nil, err
	}

	mediaBox, err := page.GetMediaBox()
	if err != nil {
		return nil, fmt.Errorf("failed to get media box: %w", err)
	}

	// points are 1/72 inch
	device := render.NewImageDevice()
	device.OutputWidth = int((mediaBox.Urx - mediaBox.Llx) * float64(r.dpi) / 72.0)

	return device.Render(page)
}
