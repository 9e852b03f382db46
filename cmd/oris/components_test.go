package main

import (
	"context"
	"testing"

	"github.com/platinummonkey/oris/internal/config"
	"github.com/platinummonkey/oris/internal/engine"
	"github.com/platinummonkey/oris/internal/logger"
)

func TestVisionConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Engines.MaxRetries = 2
	cfg.Engines.Ollama = config.OllamaConfig{Enabled: true, Endpoint: "http://localhost:11434", Model: "llava"}
	cfg.Engines.OpenAI = config.LLMConfig{Enabled: true, Model: "gpt-4o", APIKey: "sk-test"}
	cfg.Engines.Anthropic = config.LLMConfig{Model: "claude", APIKey: "ak-test"}

	tests := []struct {
		name     string
		model    string
		apiKey   string
		endpoint string
		kind     engine.Kind
	}{
		{"ollama", "llava", "", "http://localhost:11434", engine.KindHandwriting},
		{"openai", "gpt-4o", "sk-test", "", engine.KindPrinted},
		{"anthropic", "claude", "ak-test", "", engine.KindPrinted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vc, kind := visionConfig(cfg, tt.name)
			if kind != tt.kind {
				t.Errorf("kind = %s, want %s", kind, tt.kind)
			}
			if string(vc.Provider) != tt.name {
				t.Errorf("Provider = %s", vc.Provider)
			}
			if vc.Model != tt.model || vc.APIKey != tt.apiKey || vc.Endpoint != tt.endpoint {
				t.Errorf("config = %+v", vc)
			}
			if vc.MaxRetries != 2 {
				t.Errorf("MaxRetries = %d, want 2", vc.MaxRetries)
			}
		})
	}
}

func TestBuildRegistry_SkipsHostedEngineWithoutKey(t *testing.T) {
	cfg := &config.Config{}
	cfg.Engines.Mock.Enabled = true
	cfg.Engines.Anthropic = config.LLMConfig{Enabled: true, Model: "claude"}

	registry, err := buildRegistry(context.Background(), cfg, logger.Nop())
	if err != nil {
		t.Fatalf("buildRegistry() error = %v", err)
	}
	defer func() { _ = registry.Close() }()

	names := registry.Names()
	if len(names) != 1 || names[0] != engine.MockName {
		t.Fatalf("Names() = %v, want [mock]", names)
	}
	if !registry.Available(engine.MockName) {
		t.Error("mock engine should be available")
	}
}
