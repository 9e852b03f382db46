package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"

	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/ollama"
)

func TestValidateProviderConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *VisionClientConfig
		wantErr bool
	}{
		{"nil", nil, true},
		{"ollama ok", &VisionClientConfig{Provider: ProviderOllama, Endpoint: "http://localhost:11434", Model: "llava"}, false},
		{"ollama without endpoint", &VisionClientConfig{Provider: ProviderOllama, Model: "llava"}, true},
		{"openai without key", &VisionClientConfig{Provider: ProviderOpenAI, Model: "gpt-4o"}, true},
		{"openai ok", &VisionClientConfig{Provider: ProviderOpenAI, Model: "gpt-4o", APIKey: "k"}, false},
		{"no model", &VisionClientConfig{Provider: ProviderAnthropic, APIKey: "k"}, true},
		{"bad temperature", &VisionClientConfig{Provider: ProviderOpenAI, Model: "m", APIKey: "k", Temperature: 5}, true},
		{"unknown provider", &VisionClientConfig{Provider: "azure", Model: "m"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProviderConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProviderConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	err := ValidateProviderConfig(&VisionClientConfig{Provider: ProviderGoogle, Model: "gemini-1.5-flash"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("missing key should be reported as unavailable, got %v", err)
	}
}

func TestNewVisionClient(t *testing.T) {
	c, err := NewVisionClient(context.Background(), &VisionClientConfig{
		Provider: ProviderOllama, Endpoint: "http://localhost:11434", Model: "llava",
	}, logger.Nop())
	if err != nil {
		t.Fatalf("NewVisionClient() error = %v", err)
	}
	if c.Name() != "ollama" {
		t.Errorf("Name() = %s", c.Name())
	}

	c, err = NewVisionClient(context.Background(), &VisionClientConfig{
		Provider: ProviderAnthropic, APIKey: "k", Model: "claude-3-5-sonnet-20241022",
	}, logger.Nop())
	if err != nil || c.Name() != "anthropic" {
		t.Errorf("anthropic client = %v, %v", c, err)
	}
}

func TestParseModelWords(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{"plain object", `{"words":[{"text":"a","bbox":[0,0,1,1],"confidence":0.9}]}`, 1, false},
		{"fenced json", "```json\n{\"words\":[{\"text\":\"a\"},{\"text\":\"b\"}]}\n```", 2, false},
		{"bare fence", "```\n[]\n```", 0, false},
		{"prose", "I cannot read this image.", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words, err := parseModelWords(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(words) != tt.want {
				t.Errorf("got %d words, want %d", len(words), tt.want)
			}
		})
	}
}

func TestVisionEngine_OllamaEndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(ollama.ListModelsResponse{Models: []ollama.Model{{Name: "llava:latest"}}})
		case "/api/generate":
			_ = json.NewEncoder(w).Encode(ollama.GenerateResponse{
				Response: `[{"text":"Veuillez","bbox":[5,5,60,20]},{"text":"signer","bbox":[70,6,50,20]}]`,
				Done:     true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewOllamaVisionClient(server.URL, 0, 0, logger.Nop())
	e := NewVisionEngine(&VisionEngineConfig{
		Name: "ollama", Kind: KindHandwriting, Client: client, Model: "llava", HealthCheck: true, Logger: logger.Nop(),
	})

	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	res := e.Recognize(context.Background(), page())
	if res.Failed() {
		t.Fatalf("Recognize() failed: %s", res.Error)
	}
	if res.Text != "Veuillez signer" {
		t.Errorf("Text = %q", res.Text)
	}
	if !res.SyntheticConfidence || res.Confidence != SyntheticConfidence("Veuillez signer") {
		t.Errorf("Confidence = %v synthetic=%v", res.Confidence, res.SyntheticConfidence)
	}
}

func TestOpenAIVisionClient_GenerateOCR(t *testing.T) {
	var sawImage bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		raw, _ := json.Marshal(body["messages"])
		sawImage = strings.Contains(string(raw), "data:image/png;base64,")

		content := `{"words":[{"text":"Facture","bbox":[0,0,10,10],"confidence":0.96}]}`
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4o",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": content},
			}},
		})
	}))
	defer server.Close()

	c := NewOpenAIVisionClient("sk-test", 0, 0, logger.Nop(), option.WithBaseURL(server.URL+"/v1/"))
	words, err := c.GenerateOCR(context.Background(), "gpt-4o", PrintedPrompt, "aW1n")
	if err != nil {
		t.Fatalf("GenerateOCR() error = %v", err)
	}
	if len(words) != 1 || words[0].Text != "Facture" || words[0].Confidence != 0.96 {
		t.Errorf("words = %+v", words)
	}
	if !sawImage {
		t.Error("request did not carry the page image")
	}
}

func TestOpenAIVisionClient_Truncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-2",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4o",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "length",
				"message":       map[string]interface{}{"role": "assistant", "content": `{"words":[{"text":"Fac`},
			}},
		})
	}))
	defer server.Close()

	c := NewOpenAIVisionClient("sk-test", 0, 0, logger.Nop(), option.WithBaseURL(server.URL+"/v1/"))
	_, err := c.GenerateOCR(context.Background(), "gpt-4o", PrintedPrompt, "aW1n")
	if !errors.Is(err, errTruncated) {
		t.Errorf("GenerateOCR() error = %v, want errTruncated", err)
	}
}
