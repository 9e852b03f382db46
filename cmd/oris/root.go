package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/platinummonkey/oris/internal/config"
	"github.com/platinummonkey/oris/internal/logger"
)

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "oris",
	Short: "Recognize text in scanned documents with several OCR engines",
	Long: `oris turns PDFs and scans into text and structured fields.

Each page is rasterized, classified as printed or handwritten, read by
the engines best suited to it and the readings are fused into one result.

Features:
  - Tesseract, Ollama, OpenAI, Anthropic and Google engines
  - Printed/handwritten page classification
  - Confidence or length based fusion of engine results
  - Date, amount and email extraction
  - Batch processing with a resumable page state machine
  - Worker mode polling for submitted batches`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.oris.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "directory for the state file and page images (default is $HOME/.oris)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().String("log-file", "", "also write logs to this file")
	rootCmd.PersistentFlags().String("fusion", "", "fusion policy (auto, confidence, length)")
	rootCmd.PersistentFlags().Int("workers", 0, "documents processed concurrently (default 4)")

	// Bind flags to viper
	_ = viper.BindPFlag("data-dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = viper.BindPFlag("fusion.policy", rootCmd.PersistentFlags().Lookup("fusion"))
	_ = viper.BindPFlag("workers", rootCmd.PersistentFlags().Lookup("workers"))
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		// Search config in home directory with name ".oris" (without extension)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".oris")
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig resolves flags, ORIS_* variables, the config file and defaults
func loadConfig() (*config.Config, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// initLogger installs the global logger. An empty format keeps the configured one.
func initLogger(cfg *config.Config, format string) (*logger.Logger, error) {
	if format == "" {
		format = cfg.LogFormat
	}
	if err := logger.Init(&logger.Config{
		Level:            cfg.LogLevel,
		Format:           format,
		OutputPath:       cfg.LogFile,
		EnableStacktrace: cfg.LogLevel == "debug",
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.Get(), nil
}
