package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/oris/internal/extract"
	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/models"
	"github.com/platinummonkey/oris/internal/pagestore"
	"github.com/platinummonkey/oris/internal/rasterizer"
)

// ReportFilename is the name of the report written next to the page images
const ReportFilename = "ocr_results.json"

// PageReport is the outcome of one page in a Report
type PageReport struct {
	PageNumber       int                                 `json:"page_number" yaml:"page_number"`
	ImagePath        string                              `json:"image_path" yaml:"image_path"`
	Handwritten      bool                                `json:"handwritten" yaml:"handwritten"`
	Engines          []string                            `json:"selected_engines" yaml:"selected_engines"`
	OCRResults       map[string]models.RecognitionResult `json:"ocr_results" yaml:"ocr_results"`
	MergedResult     models.RecognitionResult            `json:"merged_result" yaml:"merged_result"`
	StructuredFields *models.ExtractedFields             `json:"structured_fields,omitempty" yaml:"structured_fields,omitempty"`
	ProcessingTime   float64                             `json:"processing_time" yaml:"processing_time"`
}

// Report is the result of analyzing one document outside any batch
type Report struct {
	DocumentPath      string                  `json:"document_path" yaml:"document_path"`
	TotalPages        int                     `json:"total_pages" yaml:"total_pages"`
	ProcessedPages    int                     `json:"processed_pages" yaml:"processed_pages"`
	ProcessingTime    float64                 `json:"total_processing_time" yaml:"total_processing_time"`
	AverageConfidence float64                 `json:"average_confidence" yaml:"average_confidence"`
	FullText          string                  `json:"full_text" yaml:"full_text"`
	Fields            *models.ExtractedFields `json:"global_structured_fields" yaml:"global_structured_fields"`
	Pages             []PageReport            `json:"page_results" yaml:"page_results"`
	EnginesUsed       []string                `json:"engines_used" yaml:"engines_used"`
	OutputDirectory   string                  `json:"output_directory" yaml:"output_directory"`
}

// AnalyzerConfig wires an Analyzer
type AnalyzerConfig struct {
	Recognizer *Recognizer

	// OutputDir receives the page images and the report
	OutputDir string
	DPI       int
	Logger    *logger.Logger
}

// Analyzer recognizes a single document synchronously and reports every
// engine's output per page
type Analyzer struct {
	recognizer *Recognizer
	rasterizer *rasterizer.Rasterizer
	pages      *pagestore.Local
	outputDir  string
	logger     *logger.Logger
}

// NewAnalyzer creates the output directory and a rasterizer writing into it
func NewAnalyzer(cfg *AnalyzerConfig) (*Analyzer, error) {
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	pages, err := pagestore.NewLocal(cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	r, err := rasterizer.New(&rasterizer.Config{DPI: cfg.DPI, Store: pages, Logger: log})
	if err != nil {
		return nil, err
	}

	return &Analyzer{
		recognizer: cfg.Recognizer,
		rasterizer: r,
		pages:      pages,
		outputDir:  cfg.OutputDir,
		logger:     log,
	}, nil
}

// Analyze rasterizes path, recognizes every page and writes the report as
// JSON into the output directory. Engine failures are part of the report;
// only unreadable documents and I/O errors are returned.
func (a *Analyzer) Analyze(ctx context.Context, path string, engines []string) (*Report, error) {
	start := time.Now()
	docType := rasterizer.DocumentTypeFromPath(path)
	log := a.logger.WithFields("document", path, "type", docType)

	log.Info("Analyzing document")

	raster, err := a.rasterizer.Rasterize(ctx, path, docType, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize %s: %w", path, err)
	}

	report := &Report{
		DocumentPath:    path,
		TotalPages:      len(raster),
		Pages:           make([]PageReport, 0, len(raster)),
		OutputDirectory: a.outputDir,
	}

	var (
		texts      []string
		fields     []*models.ExtractedFields
		confidence float64
		used       = make(map[string]bool)
	)

	for _, rp := range raster {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pr, err := a.analyzePage(ctx, rp, docType, engines)
		if err != nil {
			return nil, err
		}
		report.Pages = append(report.Pages, pr)

		merged := pr.MergedResult
		texts = append(texts, merged.Text)
		confidence += merged.Confidence
		if pr.StructuredFields != nil {
			report.ProcessedPages++
			fields = append(fields, pr.StructuredFields)
			used[merged.Engine] = true
		}
	}

	report.FullText = strings.Join(texts, "\n\n")
	report.Fields = extract.Merge(fields...)
	if len(raster) > 0 {
		report.AverageConfidence = confidence / float64(len(raster))
	}
	report.EnginesUsed = make([]string, 0, len(used))
	for name := range used {
		report.EnginesUsed = append(report.EnginesUsed, name)
	}
	sort.Strings(report.EnginesUsed)
	report.ProcessingTime = time.Since(start).Seconds()

	if err := a.save(report); err != nil {
		return nil, err
	}

	log.WithFields(
		"pages", report.TotalPages,
		"processed", report.ProcessedPages,
		"confidence", report.AverageConfidence,
		"duration", report.ProcessingTime,
	).Info("Document analyzed")
	return report, nil
}

func (a *Analyzer) analyzePage(ctx context.Context, rp rasterizer.RasterPage, docType models.DocumentType, engines []string) (PageReport, error) {
	start := time.Now()

	img, err := a.pages.Open(ctx, rp.Location)
	if err != nil {
		return PageReport{}, fmt.Errorf("failed to reopen page %d: %w", rp.Number, err)
	}

	rec := a.recognizer.Recognize(ctx, img, docType, engines)
	pr := PageReport{
		PageNumber:   rp.Number,
		ImagePath:    rp.Location,
		Handwritten:  rec.Analysis.Handwritten,
		Engines:      rec.Selected,
		OCRResults:   rec.Outcome.Results,
		MergedResult: rec.Result,
	}
	if rec.Succeeded() {
		pr.StructuredFields = rec.Result.Fields
	} else {
		a.logger.WithPage(rp.Number).WithFields("error", rec.Result.Error).Warn("Page recognition failed")
	}
	pr.ProcessingTime = time.Since(start).Seconds()
	return pr, nil
}

func (a *Analyzer) save(report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	path := filepath.Join(a.outputDir, ReportFilename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Encode renders the report as json or yaml
func (r *Report) Encode(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return json.MarshalIndent(r, "", "  ")
	case "yaml", "yml":
		return yaml.Marshal(r)
	default:
		return nil, fmt.Errorf("unknown report format %q (want json or yaml)", format)
	}
}
