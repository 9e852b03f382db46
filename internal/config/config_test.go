package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// isolate points HOME and the data dir at a temp dir so the user's ~/.oris.yaml is never read
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("ORIS_DATA_DIR", tmpDir)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	return tmpDir
}

func TestLoad_Defaults(t *testing.T) {
	tmpDir := isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DataDir != tmpDir {
		t.Errorf("DataDir = %s, want %s", cfg.DataDir, tmpDir)
	}
	if cfg.Store.Backend != "file" || cfg.Store.Path != filepath.Join(tmpDir, "state.json") {
		t.Errorf("unexpected store defaults: %+v", cfg.Store)
	}
	if cfg.PageStorage.Dir != filepath.Join(tmpDir, "pages") {
		t.Errorf("PageStorage.Dir = %s", cfg.PageStorage.Dir)
	}
	if cfg.Rasterizer.DPI != 300 {
		t.Errorf("DPI = %d, want 300", cfg.Rasterizer.DPI)
	}
	if cfg.Classifier.SharpnessThreshold != 100 || cfg.Classifier.AspectVarianceThreshold != 0.5 ||
		cfg.Classifier.HighAspectVarianceThreshold != 1.0 || cfg.Classifier.MinContourSize != 10 {
		t.Errorf("unexpected classifier defaults: %+v", cfg.Classifier)
	}
	if cfg.Engines.Tesseract.Languages != "fra+eng" {
		t.Errorf("tesseract languages = %s", cfg.Engines.Tesseract.Languages)
	}
	if strings.Join(cfg.Selector.Printed, ",") != "openai,tesseract" {
		t.Errorf("printed priority = %v", cfg.Selector.Printed)
	}
	if strings.Join(cfg.Selector.Handwritten, ",") != "ollama,openai" {
		t.Errorf("handwritten priority = %v", cfg.Selector.Handwritten)
	}
	if cfg.EngineTimeout != 2*time.Minute {
		t.Errorf("EngineTimeout = %s", cfg.EngineTimeout)
	}
	if cfg.FusionPolicy != "auto" {
		t.Errorf("FusionPolicy = %s", cfg.FusionPolicy)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d", cfg.Workers)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	isolate(t)
	t.Setenv("ORIS_LOG_LEVEL", "DEBUG")
	t.Setenv("ORIS_RASTERIZER_DPI", "150")
	t.Setenv("ORIS_FUSION_POLICY", "length")
	t.Setenv("ORIS_WORKERS", "8")
	t.Setenv("ORIS_ENGINES_MOCK_ENABLED", "true")
	t.Setenv("OPENAI_API_KEY", "sk-test-123456789")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.Rasterizer.DPI != 150 {
		t.Errorf("DPI = %d, want 150", cfg.Rasterizer.DPI)
	}
	if cfg.FusionPolicy != "length" {
		t.Errorf("FusionPolicy = %s", cfg.FusionPolicy)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d", cfg.Workers)
	}
	if !cfg.Engines.Mock.Enabled {
		t.Error("mock engine should be enabled")
	}
	if cfg.Engines.OpenAI.APIKey != "sk-test-123456789" {
		t.Errorf("OpenAI key not loaded from environment")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	tmpDir := isolate(t)
	configPath := filepath.Join(tmpDir, "oris.yaml")
	content := `
log-format: json
store:
  backend: file
  path: ` + filepath.Join(tmpDir, "db", "state.json") + `
classifier:
  sharpness-threshold: 80
selector:
  printed: [tesseract]
  handwritten: [ollama]
engines:
  ollama:
    model: llama3.2-vision
daemon:
  poll-interval: 5s
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %s", cfg.LogFormat)
	}
	if cfg.Store.Path != filepath.Join(tmpDir, "db", "state.json") {
		t.Errorf("Store.Path = %s", cfg.Store.Path)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "db")); err != nil {
		t.Errorf("store directory was not created: %v", err)
	}
	if cfg.Classifier.SharpnessThreshold != 80 {
		t.Errorf("SharpnessThreshold = %f", cfg.Classifier.SharpnessThreshold)
	}
	if len(cfg.Selector.Printed) != 1 || cfg.Selector.Printed[0] != "tesseract" {
		t.Errorf("Printed = %v", cfg.Selector.Printed)
	}
	if cfg.Engines.Ollama.Model != "llama3.2-vision" {
		t.Errorf("Ollama.Model = %s", cfg.Engines.Ollama.Model)
	}
	if cfg.Daemon.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %s", cfg.Daemon.PollInterval)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	tmpDir := isolate(t)
	configPath := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(configPath, []byte("store: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for malformed config file")
	}
}

func TestFromViper_FlagOverride(t *testing.T) {
	tmpDir := isolate(t)

	v := viper.New()
	v.Set("workers", 2)
	v.Set("engine-timeout", "30s")
	v.Set("data-dir", tmpDir)

	cfg, err := FromViper(v)
	if err != nil {
		t.Fatalf("FromViper() error = %v", err)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Workers)
	}
	if cfg.EngineTimeout != 30*time.Second {
		t.Errorf("EngineTimeout = %s", cfg.EngineTimeout)
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	isolate(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "data-dir"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log-level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log-format"},
		{"bad store", func(c *Config) { c.Store.Backend = "postgres" }, "store.backend"},
		{"firestore without project", func(c *Config) { c.Store.Backend = "firestore" }, "project-id"},
		{"gcs without bucket", func(c *Config) { c.PageStorage.Backend = "gcs" }, "bucket"},
		{"dpi too low", func(c *Config) { c.Rasterizer.DPI = 10 }, "dpi"},
		{"edge thresholds", func(c *Config) { c.Classifier.EdgeHigh = 10 }, "edge"},
		{"temperature", func(c *Config) { c.Engines.Temperature = 3 }, "temperature"},
		{"no tesseract languages", func(c *Config) { c.Engines.Tesseract.Languages = "" }, "tesseract"},
		{"zero timeout", func(c *Config) { c.EngineTimeout = 0 }, "engine-timeout"},
		{"fusion policy", func(c *Config) { c.FusionPolicy = "vote" }, "fusion.policy"},
		{"workers", func(c *Config) { c.Workers = 0 }, "workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnabledEngines(t *testing.T) {
	cfg := validConfig(t)
	cfg.Engines.Mock.Enabled = true
	cfg.Engines.Google.Enabled = true

	got := strings.Join(cfg.EnabledEngines(), ",")
	if got != "mock,tesseract,openai,google,ollama" {
		t.Errorf("EnabledEngines() = %s", got)
	}
}

func TestString_RedactsKeys(t *testing.T) {
	cfg := validConfig(t)
	cfg.Engines.OpenAI.APIKey = "sk-secret-abcdef1234"

	s := cfg.String()
	if strings.Contains(s, "sk-secret") {
		t.Error("String() leaked the API key")
	}
	if !strings.Contains(s, "***1234") {
		t.Errorf("String() should show redacted suffix, got:\n%s", s)
	}
}
