package rasterizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/models"
	"github.com/platinummonkey/oris/internal/pagestore"
)

func newRasterizer(t *testing.T) (*Rasterizer, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "pages")
	store, err := pagestore.NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	r, err := New(&Config{Store: store, Logger: logger.Nop()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r, dir
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestRasterize_Image(t *testing.T) {
	r, dir := newRasterizer(t)
	src := filepath.Join(t.TempDir(), "scan.png")

	// transparent pixels must come out white
	img := image.NewNRGBA(image.Rect(0, 0, 40, 30))
	img.Set(1, 1, color.NRGBA{A: 255})
	writePNG(t, src, img)

	pages, err := r.Rasterize(context.Background(), src, models.DocumentTypeImage, "doc-1")
	if err != nil {
		t.Fatalf("Rasterize() error = %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}

	p := pages[0]
	if p.Number != 1 || p.Width != 40 || p.Height != 30 {
		t.Errorf("unexpected page %+v", p)
	}
	if filepath.Dir(p.Location) != dir || filepath.Base(p.Location) != "doc-1_page_001.png" {
		t.Errorf("Location = %s", p.Location)
	}

	f, err := os.Open(p.Location)
	if err != nil {
		t.Fatalf("page image not persisted: %v", err)
	}
	defer f.Close()
	stored, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if r, g, b, a := stored.At(10, 10).RGBA(); r != 0xffff || g != 0xffff || b != 0xffff || a != 0xffff {
		t.Errorf("background pixel = %d,%d,%d,%d, want opaque white", r, g, b, a)
	}
	if r, _, _, _ := stored.At(1, 1).RGBA(); r != 0 {
		t.Errorf("ink pixel lost, red = %d", r)
	}
}

func TestRasterize_JPEGScan(t *testing.T) {
	r, _ := newRasterizer(t)
	src := filepath.Join(t.TempDir(), "scan.jpg")

	f, err := os.Create(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := jpeg.Encode(f, image.NewGray(image.Rect(0, 0, 16, 8)), nil); err != nil {
		t.Fatal(err)
	}
	f.Close()

	pages, err := r.Rasterize(context.Background(), src, models.DocumentTypeScan, "doc-2")
	if err != nil {
		t.Fatalf("Rasterize() error = %v", err)
	}
	if len(pages) != 1 || pages[0].Width != 16 || pages[0].Height != 8 {
		t.Errorf("pages = %+v", pages)
	}
}

func TestRasterize_PDF(t *testing.T) {
	r, dir := newRasterizer(t)
	tmp := t.TempDir()

	// full-page imports give each page the size of its image, so page widths
	// identify the page order
	widths := []int{100, 150, 200}
	var imgs []string
	for i, w := range widths {
		img := image.NewGray(image.Rect(0, 0, w, 280))
		for j := range img.Pix {
			img.Pix[j] = 0xff
		}
		path := filepath.Join(tmp, fmt.Sprintf("page%d.png", i+1))
		writePNG(t, path, img)
		imgs = append(imgs, path)
	}

	src := filepath.Join(tmp, "scan.pdf")
	if err := api.ImportImagesFile(imgs, src, nil, nil); err != nil {
		t.Fatalf("ImportImagesFile() error = %v", err)
	}

	if n, err := PageCount(src); err != nil || n != 3 {
		t.Fatalf("PageCount() = %d, %v", n, err)
	}

	pages, err := r.Rasterize(context.Background(), src, models.DocumentTypePDF, "doc")
	if err != nil {
		t.Fatalf("Rasterize() error = %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(pages))
	}

	for i, p := range pages {
		if p.Number != i+1 {
			t.Errorf("page %d has number %d", i, p.Number)
		}
		if want := widths[i] * DefaultDPI / 72; p.Width != want {
			t.Errorf("page %d width = %d, want %d", p.Number, p.Width, want)
		}
		if p.Height < 1160 || p.Height > 1170 {
			t.Errorf("page %d height = %d, want about 1166", p.Number, p.Height)
		}

		key := fmt.Sprintf("doc_page_%03d.png", i+1)
		if p.Location != filepath.Join(dir, key) {
			t.Errorf("page %d Location = %s, want %s", p.Number, p.Location, key)
		}
		if _, err := os.Stat(p.Location); err != nil {
			t.Errorf("page %d not stored: %v", p.Number, err)
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		t.Errorf("%d files stored, want 3", len(entries))
	}
}

func TestRasterize_Failures(t *testing.T) {
	r, dir := newRasterizer(t)
	tmp := t.TempDir()

	corrupt := filepath.Join(tmp, "broken.pdf")
	if err := os.WriteFile(corrupt, []byte("%PDF-1.4 not really"), 0644); err != nil {
		t.Fatal(err)
	}
	notImage := filepath.Join(tmp, "notes.png")
	if err := os.WriteFile(notImage, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		src     string
		docType models.DocumentType
	}{
		{"corrupt pdf", corrupt, models.DocumentTypePDF},
		{"undecodable image", notImage, models.DocumentTypeImage},
		{"missing file", filepath.Join(tmp, "nope.png"), models.DocumentTypeImage},
		{"text document", notImage, models.DocumentTypeText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages, err := r.Rasterize(context.Background(), tt.src, tt.docType, "doc-x")
			if err == nil {
				t.Fatal("expected error")
			}
			if pages != nil {
				t.Errorf("pages = %v, want none", pages)
			}
		})
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("failed rasterization left %d files behind", len(entries))
	}

	if _, err := r.Rasterize(context.Background(), notImage, models.DocumentTypeText, "d"); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("text error = %v, want ErrUnsupportedType", err)
	}
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(&Config{}); err == nil {
		t.Error("expected error without a page store")
	}
}

func TestFlatten_Palette(t *testing.T) {
	img := image.NewPaletted(image.Rect(0, 0, 3, 3), palette.Plan9)
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	out := Flatten(img)
	if got := out.RGBAAt(0, 0); got.R < 200 || got.A != 255 {
		t.Errorf("pixel = %+v", got)
	}
	if out.Bounds() != image.Rect(0, 0, 3, 3) {
		t.Errorf("bounds = %v", out.Bounds())
	}
}

func TestFlatten_OffsetBounds(t *testing.T) {
	img := image.NewGray(image.Rect(5, 5, 10, 8))
	img.SetGray(5, 5, color.Gray{Y: 10})

	out := Flatten(img)
	if out.Bounds() != image.Rect(0, 0, 5, 3) {
		t.Fatalf("bounds = %v", out.Bounds())
	}
	if got := out.RGBAAt(0, 0); got.R != 10 {
		t.Errorf("origin pixel = %+v, want gray 10", got)
	}
}

func TestDocumentTypeFromPath(t *testing.T) {
	tests := map[string]models.DocumentType{
		"a.pdf":     models.DocumentTypePDF,
		"A.PDF":     models.DocumentTypePDF,
		"b.jpeg":    models.DocumentTypeImage,
		"c.TIFF":    models.DocumentTypeImage,
		"d.webp":    models.DocumentTypeImage,
		"notes.txt": models.DocumentTypeText,
		"scan.djvu": models.DocumentTypeScan,
		"noext":     models.DocumentTypeScan,
	}
	for path, want := range tests {
		if got := DocumentTypeFromPath(path); got != want {
			t.Errorf("DocumentTypeFromPath(%q) = %s, want %s", path, got, want)
		}
	}
}
