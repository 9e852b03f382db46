package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/oris/internal/logger"
)

func newAnalyzer(t *testing.T, e *env) (*Analyzer, string) {
	t.Helper()
	out := filepath.Join(e.dir, "out")
	a, err := NewAnalyzer(&AnalyzerConfig{Recognizer: e.processor.recognizer, OutputDir: out, Logger: logger.Nop()})
	if err != nil {
		t.Fatalf("NewAnalyzer() error = %v", err)
	}
	return a, out
}

func TestAnalyze_Report(t *testing.T) {
	e := newEnv(t, 1, nil)
	a, out := newAnalyzer(t, e)
	src := writeWhitePNG(t, e.dir, "facture.png", clearPage)

	report, err := a.Analyze(context.Background(), src, nil)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if report.TotalPages != 1 || report.ProcessedPages != 1 {
		t.Errorf("pages = %d/%d", report.ProcessedPages, report.TotalPages)
	}
	if report.FullText != "Facture du 12/03/2024" {
		t.Errorf("FullText = %q", report.FullText)
	}
	if report.AverageConfidence != 0.9 {
		t.Errorf("AverageConfidence = %f", report.AverageConfidence)
	}
	if len(report.EnginesUsed) != 1 || report.EnginesUsed[0] != "alpha" {
		t.Errorf("EnginesUsed = %v", report.EnginesUsed)
	}
	if report.Fields == nil || len(report.Fields.Dates) != 1 {
		t.Errorf("global fields = %+v", report.Fields)
	}
	if report.OutputDirectory != out {
		t.Errorf("OutputDirectory = %s", report.OutputDirectory)
	}

	page := report.Pages[0]
	if len(page.OCRResults) != 2 || page.OCRResults["beta"].Confidence != 0.6 {
		t.Errorf("per-engine results = %+v", page.OCRResults)
	}
	if page.Handwritten {
		t.Error("white page reported handwritten")
	}
	if _, err := os.Stat(page.ImagePath); err != nil {
		t.Errorf("page image missing: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(out, ReportFilename))
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var onDisk map[string]any
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	for _, key := range []string{"document_path", "total_pages", "processed_pages", "total_processing_time",
		"average_confidence", "full_text", "global_structured_fields", "page_results", "engines_used", "output_directory"} {
		if _, ok := onDisk[key]; !ok {
			t.Errorf("report lacks %q", key)
		}
	}
}

func TestAnalyze_AllEnginesFail(t *testing.T) {
	e := newEnv(t, 1, nil)
	a, _ := newAnalyzer(t, e)
	src := writeWhitePNG(t, e.dir, "vierge.png", blankPage)

	report, err := a.Analyze(context.Background(), src, nil)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if report.ProcessedPages != 0 || report.TotalPages != 1 {
		t.Errorf("pages = %d/%d", report.ProcessedPages, report.TotalPages)
	}
	if report.AverageConfidence != 0 || len(report.EnginesUsed) != 0 {
		t.Errorf("report = %+v", report)
	}
	merged := report.Pages[0].MergedResult
	if !strings.HasPrefix(merged.Error, "all engines failed") || merged.Engine != "none" {
		t.Errorf("merged = %+v", merged)
	}
	if report.Pages[0].StructuredFields != nil {
		t.Error("failed page carries structured fields")
	}
}

func TestAnalyze_ExplicitEngines(t *testing.T) {
	e := newEnv(t, 1, nil)
	a, _ := newAnalyzer(t, e)
	src := writeWhitePNG(t, e.dir, "facture.png", clearPage)

	report, err := a.Analyze(context.Background(), src, []string{"beta", "ghost"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if got := report.Pages[0].Engines; len(got) != 1 || got[0] != "beta" {
		t.Errorf("selected engines = %v, want [beta]", got)
	}
	if e.alpha.calls.Load() != 0 {
		t.Error("alpha ran although not requested")
	}
}

func TestAnalyze_UnreadableDocument(t *testing.T) {
	e := newEnv(t, 1, nil)
	a, _ := newAnalyzer(t, e)

	if _, err := a.Analyze(context.Background(), filepath.Join(e.dir, "missing.png"), nil); err == nil {
		t.Error("expected error for a missing document")
	}
}

func TestReport_Encode(t *testing.T) {
	r := &Report{DocumentPath: "/in/a.png", TotalPages: 1, FullText: "Bonjour"}

	j, err := r.Encode("json")
	if err != nil || !strings.Contains(string(j), `"document_path": "/in/a.png"`) {
		t.Errorf("json = %s, %v", j, err)
	}

	y, err := r.Encode("YAML")
	if err != nil {
		t.Fatalf("yaml error = %v", err)
	}
	var back Report
	if err := yaml.Unmarshal(y, &back); err != nil || back.FullText != "Bonjour" {
		t.Errorf("yaml round trip = %+v, %v", back, err)
	}

	if _, err := r.Encode("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNewAnalyzer_Requires(t *testing.T) {
	if _, err := NewAnalyzer(&AnalyzerConfig{OutputDir: t.TempDir()}); err == nil {
		t.Error("expected error without a recognizer")
	}
}
