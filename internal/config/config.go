// Package config provides configuration management for the oris recognition pipeline.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting of the pipeline.
// Precedence: CLI flags > environment (ORIS_*) > config file > defaults
type Config struct {
	// DataDir is the root for the file store and locally stored page images
	DataDir string

	LogLevel  string
	LogFormat string
	LogFile   string

	Store       StoreConfig
	PageStorage PageStorageConfig
	Rasterizer  RasterizerConfig
	Classifier  ClassifierConfig
	Engines     EnginesConfig
	Selector    SelectorConfig

	// EngineTimeout bounds a single engine call on a single page
	EngineTimeout time.Duration

	// FusionPolicy is one of auto, confidence, length
	FusionPolicy string

	// Workers bounds the number of documents processed concurrently
	Workers int

	Daemon DaemonConfig
}

// StoreConfig selects where batches, documents and pages are persisted
type StoreConfig struct {
	// Backend is "file" or "firestore"
	Backend string

	// Path is the JSON state file for the file backend
	Path string

	ProjectID  string
	Collection string

	// LockTTL is the lease duration of a document lock in the firestore backend
	LockTTL time.Duration
}

// PageStorageConfig selects where rasterized page images are written
type PageStorageConfig struct {
	// Backend is "local" or "gcs"
	Backend string
	Dir     string
	Bucket  string
	Prefix  string
}

type RasterizerConfig struct {
	DPI        int
	LicenseKey string
}

// ClassifierConfig holds the printed/handwritten decision thresholds
type ClassifierConfig struct {
	SharpnessThreshold          float64
	AspectVarianceThreshold     float64
	HighAspectVarianceThreshold float64
	MinContourSize              int
	EdgeLow                     float64
	EdgeHigh                    float64
	MaxDimension                int
}

// EnginesConfig configures every recognition engine the registry may build
type EnginesConfig struct {
	Tesseract TesseractConfig
	Ollama    OllamaConfig
	OpenAI    LLMConfig
	Anthropic LLMConfig
	Google    LLMConfig
	Mock      MockConfig

	MaxRetries  int
	Temperature float64

	// HealthCheck probes each engine once when the registry starts
	HealthCheck bool

	// UseKeychain enables macOS Keychain lookup for API keys
	UseKeychain           bool
	KeychainServicePrefix string
}

type TesseractConfig struct {
	Enabled     bool
	Languages   string
	PageSegMode int
}

type OllamaConfig struct {
	Enabled  bool
	Endpoint string
	Model    string
}

// LLMConfig configures a hosted vision model. APIKey is resolved from the keychain
// or the provider's environment variable, never from the config file.
type LLMConfig struct {
	Enabled bool
	Model   string
	APIKey  string
}

// MockConfig enables the canned-text engine for development machines without models
type MockConfig struct {
	Enabled bool
}

// SelectorConfig is the priority table used when no explicit engine list is given
type SelectorConfig struct {
	Printed     []string
	Handwritten []string
}

type DaemonConfig struct {
	PollInterval time.Duration
	HealthAddr   string
	PIDFile      string
}

// Load reads the configuration file (if any), environment and defaults into a Config.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigName(".oris")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance. The CLI binds
// its flags to the global viper and calls this.
func FromViper(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix("ORIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		DataDir:   v.GetString("data-dir"),
		LogLevel:  v.GetString("log-level"),
		LogFormat: v.GetString("log-format"),
		LogFile:   v.GetString("log-file"),
		Store: StoreConfig{
			Backend:    v.GetString("store.backend"),
			Path:       v.GetString("store.path"),
			ProjectID:  v.GetString("store.project-id"),
			Collection: v.GetString("store.collection"),
			LockTTL:    v.GetDuration("store.lock-ttl"),
		},
		PageStorage: PageStorageConfig{
			Backend: v.GetString("page-storage.backend"),
			Dir:     v.GetString("page-storage.dir"),
			Bucket:  v.GetString("page-storage.bucket"),
			Prefix:  v.GetString("page-storage.prefix"),
		},
		Rasterizer: RasterizerConfig{
			DPI:        v.GetInt("rasterizer.dpi"),
			LicenseKey: v.GetString("rasterizer.license-key"),
		},
		Classifier: ClassifierConfig{
			SharpnessThreshold:          v.GetFloat64("classifier.sharpness-threshold"),
			AspectVarianceThreshold:     v.GetFloat64("classifier.aspect-variance-threshold"),
			HighAspectVarianceThreshold: v.GetFloat64("classifier.high-aspect-variance-threshold"),
			MinContourSize:              v.GetInt("classifier.min-contour-size"),
			EdgeLow:                     v.GetFloat64("classifier.edge-low"),
			EdgeHigh:                    v.GetFloat64("classifier.edge-high"),
			MaxDimension:                v.GetInt("classifier.max-dimension"),
		},
		Engines: EnginesConfig{
			Tesseract: TesseractConfig{
				Enabled:     v.GetBool("engines.tesseract.enabled"),
				Languages:   v.GetString("engines.tesseract.languages"),
				PageSegMode: v.GetInt("engines.tesseract.psm"),
			},
			Ollama: OllamaConfig{
				Enabled:  v.GetBool("engines.ollama.enabled"),
				Endpoint: v.GetString("engines.ollama.endpoint"),
				Model:    v.GetString("engines.ollama.model"),
			},
			OpenAI: LLMConfig{
				Enabled: v.GetBool("engines.openai.enabled"),
				Model:   v.GetString("engines.openai.model"),
			},
			Anthropic: LLMConfig{
				Enabled: v.GetBool("engines.anthropic.enabled"),
				Model:   v.GetString("engines.anthropic.model"),
			},
			Google: LLMConfig{
				Enabled: v.GetBool("engines.google.enabled"),
				Model:   v.GetString("engines.google.model"),
			},
			Mock: MockConfig{
				Enabled: v.GetBool("engines.mock.enabled"),
			},
			MaxRetries:            v.GetInt("engines.max-retries"),
			Temperature:           v.GetFloat64("engines.temperature"),
			HealthCheck:           v.GetBool("engines.health-check"),
			UseKeychain:           v.GetBool("engines.use-keychain"),
			KeychainServicePrefix: v.GetString("engines.keychain-service-prefix"),
		},
		Selector: SelectorConfig{
			Printed:     v.GetStringSlice("selector.printed"),
			Handwritten: v.GetStringSlice("selector.handwritten"),
		},
		EngineTimeout: v.GetDuration("engine-timeout"),
		FusionPolicy:  v.GetString("fusion.policy"),
		Workers:       v.GetInt("workers"),
		Daemon: DaemonConfig{
			PollInterval: v.GetDuration("daemon.poll-interval"),
			HealthAddr:   v.GetString("daemon.health-addr"),
			PIDFile:      v.GetString("daemon.pid-file"),
		},
	}

	e := &cfg.Engines
	e.OpenAI.APIKey = loadAPIKeyForProvider("openai", e.UseKeychain, e.KeychainServicePrefix)
	e.Anthropic.APIKey = loadAPIKeyForProvider("anthropic", e.UseKeychain, e.KeychainServicePrefix)
	e.Google.APIKey = loadAPIKeyForProvider("google", e.UseKeychain, e.KeychainServicePrefix)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SetDefaults registers the default value of every key. Safe to call repeatedly.
func SetDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".oris")

	v.SetDefault("data-dir", dataDir)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "console")
	v.SetDefault("log-file", "")

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", "")
	v.SetDefault("store.project-id", "")
	v.SetDefault("store.collection", "oris")
	v.SetDefault("store.lock-ttl", 10*time.Minute)

	v.SetDefault("page-storage.backend", "local")
	v.SetDefault("page-storage.dir", "")
	v.SetDefault("page-storage.bucket", "")
	v.SetDefault("page-storage.prefix", "pages")

	v.SetDefault("rasterizer.dpi", 300)
	v.SetDefault("rasterizer.license-key", "")

	v.SetDefault("classifier.sharpness-threshold", 100.0)
	v.SetDefault("classifier.aspect-variance-threshold", 0.5)
	v.SetDefault("classifier.high-aspect-variance-threshold", 1.0)
	v.SetDefault("classifier.min-contour-size", 10)
	v.SetDefault("classifier.edge-low", 50.0)
	v.SetDefault("classifier.edge-high", 150.0)
	v.SetDefault("classifier.max-dimension", 1600)

	v.SetDefault("engines.tesseract.enabled", true)
	v.SetDefault("engines.tesseract.languages", "fra+eng")
	v.SetDefault("engines.tesseract.psm", 6)
	v.SetDefault("engines.ollama.enabled", true)
	v.SetDefault("engines.ollama.endpoint", "http://localhost:11434")
	v.SetDefault("engines.ollama.model", "llava")
	v.SetDefault("engines.openai.enabled", true)
	v.SetDefault("engines.openai.model", "gpt-4o")
	v.SetDefault("engines.anthropic.enabled", false)
	v.SetDefault("engines.anthropic.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("engines.google.enabled", false)
	v.SetDefault("engines.google.model", "gemini-1.5-flash")
	v.SetDefault("engines.mock.enabled", false)
	v.SetDefault("engines.max-retries", 3)
	v.SetDefault("engines.temperature", 0.0)
	v.SetDefault("engines.health-check", true)
	v.SetDefault("engines.use-keychain", false)
	v.SetDefault("engines.keychain-service-prefix", "oris")

	v.SetDefault("selector.printed", []string{"openai", "tesseract"})
	v.SetDefault("selector.handwritten", []string{"ollama", "openai"})

	v.SetDefault("engine-timeout", 2*time.Minute)
	v.SetDefault("fusion.policy", "auto")
	v.SetDefault("workers", 4)

	v.SetDefault("daemon.poll-interval", 30*time.Second)
	v.SetDefault("daemon.health-addr", "")
	v.SetDefault("daemon.pid-file", "")
}

// Validate normalises paths and enums and rejects inconsistent settings.
// It creates the data directory when the local backends need it.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data-dir cannot be empty")
	}
	dir, err := expandHome(c.DataDir)
	if err != nil {
		return fmt.Errorf("failed to expand home directory in data-dir: %w", err)
	}
	c.DataDir = dir

	c.LogLevel = strings.ToLower(c.LogLevel)
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log-format %q, must be console or json", c.LogFormat)
	}

	c.Store.Backend = strings.ToLower(c.Store.Backend)
	switch c.Store.Backend {
	case "file":
		if c.Store.Path == "" {
			c.Store.Path = filepath.Join(c.DataDir, "state.json")
		}
		if c.Store.Path, err = expandHome(c.Store.Path); err != nil {
			return fmt.Errorf("failed to expand home directory in store.path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(c.Store.Path), 0755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	case "firestore":
		if c.Store.ProjectID == "" {
			return fmt.Errorf("store.project-id is required for the firestore backend")
		}
		if c.Store.LockTTL <= 0 {
			return fmt.Errorf("store.lock-ttl must be positive")
		}
	default:
		return fmt.Errorf("invalid store.backend %q, must be file or firestore", c.Store.Backend)
	}

	c.PageStorage.Backend = strings.ToLower(c.PageStorage.Backend)
	switch c.PageStorage.Backend {
	case "local":
		if c.PageStorage.Dir == "" {
			c.PageStorage.Dir = filepath.Join(c.DataDir, "pages")
		}
		if c.PageStorage.Dir, err = expandHome(c.PageStorage.Dir); err != nil {
			return fmt.Errorf("failed to expand home directory in page-storage.dir: %w", err)
		}
	case "gcs":
		if c.PageStorage.Bucket == "" {
			return fmt.Errorf("page-storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("invalid page-storage.backend %q, must be local or gcs", c.PageStorage.Backend)
	}

	if c.Rasterizer.DPI < 72 || c.Rasterizer.DPI > 1200 {
		return fmt.Errorf("rasterizer.dpi must be between 72 and 1200, got %d", c.Rasterizer.DPI)
	}

	if err := c.validateClassifier(); err != nil {
		return fmt.Errorf("invalid classifier configuration: %w", err)
	}
	if err := c.validateEngines(); err != nil {
		return fmt.Errorf("invalid engine configuration: %w", err)
	}

	if c.EngineTimeout <= 0 {
		return fmt.Errorf("engine-timeout must be positive")
	}

	c.FusionPolicy = strings.ToLower(c.FusionPolicy)
	switch c.FusionPolicy {
	case "auto", "confidence", "length":
	default:
		return fmt.Errorf("invalid fusion.policy %q, must be one of: auto, confidence, length", c.FusionPolicy)
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Daemon.PollInterval <= 0 {
		return fmt.Errorf("daemon.poll-interval must be positive")
	}

	return nil
}

func (c *Config) validateClassifier() error {
	cl := c.Classifier
	if cl.SharpnessThreshold < 0 || cl.AspectVarianceThreshold < 0 || cl.HighAspectVarianceThreshold < 0 {
		return fmt.Errorf("thresholds must be non-negative")
	}
	if cl.MinContourSize < 0 {
		return fmt.Errorf("min-contour-size must be non-negative")
	}
	if cl.EdgeLow <= 0 || cl.EdgeHigh < cl.EdgeLow {
		return fmt.Errorf("edge thresholds must satisfy 0 < edge-low <= edge-high")
	}
	if cl.MaxDimension < 64 {
		return fmt.Errorf("max-dimension must be at least 64, got %d", cl.MaxDimension)
	}
	return nil
}

func (c *Config) validateEngines() error {
	e := c.Engines
	if e.Temperature < 0.0 || e.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0, got %f", e.Temperature)
	}
	if e.MaxRetries < 0 {
		return fmt.Errorf("max-retries must be non-negative, got %d", e.MaxRetries)
	}
	if e.Tesseract.Enabled && e.Tesseract.Languages == "" {
		return fmt.Errorf("tesseract languages cannot be empty when tesseract is enabled")
	}
	if e.Ollama.Enabled && (e.Ollama.Endpoint == "" || e.Ollama.Model == "") {
		return fmt.Errorf("ollama endpoint and model are required when ollama is enabled")
	}
	for name, llm := range map[string]LLMConfig{"openai": e.OpenAI, "anthropic": e.Anthropic, "google": e.Google} {
		if llm.Enabled && llm.Model == "" {
			return fmt.Errorf("%s model cannot be empty when enabled", name)
		}
	}
	return nil
}

// EnabledEngines lists the configured engine names in registration order
func (c *Config) EnabledEngines() []string {
	var names []string
	e := c.Engines
	if e.Mock.Enabled {
		names = append(names, "mock")
	}
	if e.Tesseract.Enabled {
		names = append(names, "tesseract")
	}
	if e.OpenAI.Enabled {
		names = append(names, "openai")
	}
	if e.Anthropic.Enabled {
		names = append(names, "anthropic")
	}
	if e.Google.Enabled {
		names = append(names, "google")
	}
	if e.Ollama.Enabled {
		names = append(names, "ollama")
	}
	return names
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}

// loadAPIKeyForProvider resolves a hosted model API key from the keychain or environment
func loadAPIKeyForProvider(provider string, useKeychain bool, keychainPrefix string) string {
	if useKeychain {
		if key := loadFromKeychain(provider, keychainPrefix); key != "" {
			return key
		}
	}

	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "google":
		if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	default:
		return ""
	}
}

// loadFromKeychain reads "{prefix}-{provider}" from the macOS Keychain.
// Returns "" on other platforms or when the entry is missing.
func loadFromKeychain(provider, prefix string) string {
	if runtime.GOOS != "darwin" {
		return ""
	}

	service := fmt.Sprintf("%s-%s", prefix, provider)
	out, err := exec.Command("security", "find-generic-password", "-s", service, "-w").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func redact(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return "***" + key[len(key)-4:]
	default:
		return "***"
	}
}

// String renders the configuration with API keys redacted
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Configuration:\n")
	fmt.Fprintf(&b, "  DataDir: %s\n", c.DataDir)
	fmt.Fprintf(&b, "  Log: level=%s format=%s file=%q\n", c.LogLevel, c.LogFormat, c.LogFile)
	fmt.Fprintf(&b, "  Store: %s %s%s\n", c.Store.Backend, c.Store.Path, c.Store.ProjectID)
	fmt.Fprintf(&b, "  PageStorage: %s %s%s\n", c.PageStorage.Backend, c.PageStorage.Dir, c.PageStorage.Bucket)
	fmt.Fprintf(&b, "  Rasterizer: dpi=%d\n", c.Rasterizer.DPI)
	fmt.Fprintf(&b, "  Classifier: sharpness<%.1f aspectVar>%.2f highAspectVar>%.2f minContour=%d\n",
		c.Classifier.SharpnessThreshold, c.Classifier.AspectVarianceThreshold,
		c.Classifier.HighAspectVarianceThreshold, c.Classifier.MinContourSize)
	fmt.Fprintf(&b, "  Engines: %v\n", c.EnabledEngines())
	fmt.Fprintf(&b, "    Tesseract: languages=%s psm=%d\n", c.Engines.Tesseract.Languages, c.Engines.Tesseract.PageSegMode)
	fmt.Fprintf(&b, "    Ollama: %s model=%s\n", c.Engines.Ollama.Endpoint, c.Engines.Ollama.Model)
	fmt.Fprintf(&b, "    OpenAI: model=%s key=%s\n", c.Engines.OpenAI.Model, redact(c.Engines.OpenAI.APIKey))
	fmt.Fprintf(&b, "    Anthropic: model=%s key=%s\n", c.Engines.Anthropic.Model, redact(c.Engines.Anthropic.APIKey))
	fmt.Fprintf(&b, "    Google: model=%s key=%s\n", c.Engines.Google.Model, redact(c.Engines.Google.APIKey))
	fmt.Fprintf(&b, "  Selector: printed=%v handwritten=%v\n", c.Selector.Printed, c.Selector.Handwritten)
	fmt.Fprintf(&b, "  EngineTimeout: %s\n", c.EngineTimeout)
	fmt.Fprintf(&b, "  FusionPolicy: %s\n", c.FusionPolicy)
	fmt.Fprintf(&b, "  Workers: %d\n", c.Workers)
	fmt.Fprintf(&b, "  Daemon: poll=%s health=%q pid=%q", c.Daemon.PollInterval, c.Daemon.HealthAddr, c.Daemon.PIDFile)
	return b.String()
}
