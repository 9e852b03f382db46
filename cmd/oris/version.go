package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/oris/internal/engine"
)

var (
	// Build information (set via ldflags)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display version, build date, Git commit and compiled-in engine support.`,
	Run: func(cmd *cobra.Command, args []string) {
		tesseract := "not compiled in (build with -tags ocr)"
		if engine.TesseractBuiltIn {
			tesseract = "compiled in"
		}

		fmt.Printf("oris version %s\n", Version)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		fmt.Printf("  Built: %s\n", BuildDate)
		fmt.Printf("  Go version: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Printf("  Tesseract: %s\n", tesseract)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
