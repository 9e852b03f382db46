package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/platinummonkey/oris/internal/pipeline"
)

// analyzeCmd recognizes a single file without touching the state store
var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Recognize one document and write an OCR report",
	Long: `Recognize every page of a PDF or image and print a report with the
fused text, per-engine results and extracted fields.

Page images and ocr_results.json are written to the output directory.

Examples:
  # Analyze with the engines chosen per page
  oris analyze facture.pdf

  # Force the engines to run on every page
  oris analyze scan.png --engines tesseract,openai

  # Keep the longest reading and print YAML
  oris analyze lettre.pdf --fusion length --format yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringSlice("engines", nil, "engines to run on every page (default: chosen per page)")
	analyzeCmd.Flags().String("output", "", "directory for page images and the report (default: <file>_ocr next to the input)")
	analyzeCmd.Flags().String("format", "json", "report format printed to stdout (json, yaml)")
	analyzeCmd.Flags().Bool("quiet", false, "do not print the report")

	_ = viper.BindPFlag("analyze.engines", analyzeCmd.Flags().Lookup("engines"))
	_ = viper.BindPFlag("analyze.output", analyzeCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("analyze.format", analyzeCmd.Flags().Lookup("format"))
	_ = viper.BindPFlag("analyze.quiet", analyzeCmd.Flags().Lookup("quiet"))
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := initLogger(cfg, "")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	output := viper.GetString("analyze.output")
	if output == "" {
		output = strings.TrimSuffix(path, filepath.Ext(path)) + "_ocr"
	}

	ctx := commandContext(cmd)
	c, err := newRecognition(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	analyzer, err := pipeline.NewAnalyzer(&pipeline.AnalyzerConfig{
		Recognizer: c.recognizer,
		OutputDir:  output,
		DPI:        cfg.Rasterizer.DPI,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("failed to create analyzer: %w", err)
	}

	report, err := analyzer.Analyze(ctx, path, viper.GetStringSlice("analyze.engines"))
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if viper.GetBool("analyze.quiet") {
		fmt.Fprintf(os.Stderr, "Report written to %s\n", filepath.Join(output, pipeline.ReportFilename))
		return nil
	}

	data, err := report.Encode(viper.GetString("analyze.format"))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(data, '\n'))
	return err
}
