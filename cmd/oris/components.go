package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/platinummonkey/oris/internal/classifier"
	"github.com/platinummonkey/oris/internal/config"
	"github.com/platinummonkey/oris/internal/engine"
	"github.com/platinummonkey/oris/internal/fusion"
	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/pagestore"
	"github.com/platinummonkey/oris/internal/pipeline"
	"github.com/platinummonkey/oris/internal/rasterizer"
	"github.com/platinummonkey/oris/internal/selector"
	"github.com/platinummonkey/oris/internal/store"
)

// components are the long-lived objects a command builds from the configuration
type components struct {
	cfg        *config.Config
	log        *logger.Logger
	registry   *engine.Registry
	recognizer *pipeline.Recognizer
	store      store.Store
	pages      pagestore.Store
	rasterizer *rasterizer.Rasterizer
	closers    []func() error
}

// newRecognition builds the engine registry and the recognizer on top of it
func newRecognition(ctx context.Context, cfg *config.Config, log *logger.Logger) (*components, error) {
	if cfg.Rasterizer.LicenseKey != "" {
		if err := rasterizer.SetLicenseKey(cfg.Rasterizer.LicenseKey); err != nil {
			return nil, err
		}
	}

	registry, err := buildRegistry(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	c := &components{cfg: cfg, log: log, registry: registry}
	c.closers = append(c.closers, registry.Close)

	policy, err := fusion.ParsePolicy(cfg.FusionPolicy)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.recognizer, err = pipeline.NewRecognizer(&pipeline.RecognizerConfig{
		Classifier: buildClassifier(cfg, log),
		Registry:   registry,
		Selector: selector.New(registry, selector.Priorities{
			selector.LabelPrinted:     cfg.Selector.Printed,
			selector.LabelHandwritten: cfg.Selector.Handwritten,
		}, log),
		Runner: fusion.NewRunner(cfg.EngineTimeout, log),
		Policy: policy,
		Logger: log,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create recognizer: %w", err)
	}
	return c, nil
}

// newPipeline adds the state store, page storage and rasterizer to newRecognition
func newPipeline(ctx context.Context, cfg *config.Config, log *logger.Logger) (*components, error) {
	c, err := newRecognition(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := c.openStorage(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// newStorage opens the state store and page storage only
func newStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (*components, error) {
	c := &components{cfg: cfg, log: log}
	if err := c.openStorage(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *components) openStorage(ctx context.Context) error {
	switch c.cfg.Store.Backend {
	case "firestore":
		client, err := store.NewFirestoreClient(ctx, c.cfg.Store.ProjectID)
		if err != nil {
			return err
		}
		c.store = store.NewFirestore(client, &store.FirestoreConfig{
			Collection: c.cfg.Store.Collection,
			LockTTL:    c.cfg.Store.LockTTL,
			Logger:     c.log,
		})
	default:
		fs, err := store.OpenFile(c.cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open state file: %w", err)
		}
		c.store = fs
	}
	c.closers = append(c.closers, c.store.Close)

	switch c.cfg.PageStorage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
		c.closers = append(c.closers, client.Close)
		gcs, err := pagestore.NewGCS(client, c.cfg.PageStorage.Bucket, c.cfg.PageStorage.Prefix)
		if err != nil {
			return err
		}
		c.pages = gcs
	default:
		local, err := pagestore.NewLocal(c.cfg.PageStorage.Dir)
		if err != nil {
			return fmt.Errorf("failed to create page directory: %w", err)
		}
		c.pages = local
	}

	r, err := rasterizer.New(&rasterizer.Config{
		DPI:    c.cfg.Rasterizer.DPI,
		Store:  c.pages,
		Logger: c.log,
	})
	if err != nil {
		return err
	}
	c.rasterizer = r
	return nil
}

// processor wires the pipeline. engines, when set, replaces per-page
// selection; onProgress may be nil.
func (c *components) processor(engines []string, onProgress pipeline.ProgressFunc) (*pipeline.Processor, error) {
	return pipeline.NewProcessor(&pipeline.Config{
		Store:      c.store,
		Pages:      c.pages,
		Rasterizer: c.rasterizer,
		Recognizer: c.recognizer,
		Engines:    engines,
		Workers:    c.cfg.Workers,
		OnProgress: onProgress,
		Logger:     c.log,
	})
}

// Close releases everything in reverse order of creation
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.log.WithError(err).Warn("Failed to release resource")
		}
	}
	c.closers = nil
}

func buildClassifier(cfg *config.Config, log *logger.Logger) *classifier.Classifier {
	cl := cfg.Classifier
	return classifier.New(&classifier.Config{
		SharpnessThreshold:          cl.SharpnessThreshold,
		AspectVarianceThreshold:     cl.AspectVarianceThreshold,
		HighAspectVarianceThreshold: cl.HighAspectVarianceThreshold,
		MinContourSize:              cl.MinContourSize,
		EdgeLow:                     cl.EdgeLow,
		EdgeHigh:                    cl.EdgeHigh,
		MaxDimension:                cl.MaxDimension,
		Logger:                      log,
	})
}

// buildRegistry registers every enabled engine and initialises the registry.
// A hosted engine without an API key is skipped with a warning.
func buildRegistry(ctx context.Context, cfg *config.Config, log *logger.Logger) (*engine.Registry, error) {
	registry := engine.NewRegistry(log)
	e := cfg.Engines

	for _, name := range cfg.EnabledEngines() {
		var eng engine.Engine

		switch name {
		case engine.MockName:
			eng = engine.NewMockEngine(1, 0)

		case engine.TesseractName:
			eng = engine.NewTesseractEngine(&engine.TesseractConfig{
				Languages:   strings.Split(e.Tesseract.Languages, "+"),
				PageSegMode: e.Tesseract.PageSegMode,
				Logger:      log,
			})

		default:
			vc, kind := visionConfig(cfg, name)
			client, err := engine.NewVisionClient(ctx, vc, log)
			if errors.Is(err, engine.ErrUnavailable) {
				log.WithEngine(name).WithError(err).Warn("Skipping engine")
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to create %s client: %w", name, err)
			}
			eng = engine.NewVisionEngine(&engine.VisionEngineConfig{
				Name:        name,
				Kind:        kind,
				Client:      client,
				Model:       vc.Model,
				HealthCheck: e.HealthCheck,
				Logger:      log,
			})
		}

		if err := registry.Register(eng); err != nil {
			return nil, err
		}
	}

	if err := registry.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialise engines: %w", err)
	}
	return registry, nil
}

// visionConfig maps a vision engine name to its client settings. Ollama runs
// the local handwriting model; the hosted providers read printed text.
func visionConfig(cfg *config.Config, name string) (*engine.VisionClientConfig, engine.Kind) {
	e := cfg.Engines
	vc := &engine.VisionClientConfig{
		Provider:    engine.ProviderType(name),
		MaxRetries:  e.MaxRetries,
		Temperature: e.Temperature,
	}

	switch name {
	case "ollama":
		vc.Endpoint = e.Ollama.Endpoint
		vc.Model = e.Ollama.Model
		return vc, engine.KindHandwriting
	case "openai":
		vc.Model, vc.APIKey = e.OpenAI.Model, e.OpenAI.APIKey
	case "anthropic":
		vc.Model, vc.APIKey = e.Anthropic.Model, e.Anthropic.APIKey
	case "google":
		vc.Model, vc.APIKey = e.Google.Model, e.Google.APIKey
	}
	return vc, engine.KindPrinted
}
