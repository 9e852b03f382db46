package engine

import (
	"context"
	"image"
	"math/rand"
	"sync"
	"time"

	"github.com/platinummonkey/oris/internal/models"
)

// MockName is the registry name of the canned-text engine
const MockName = "mock"

var mockTexts = []string{
	"Ceci est un texte de facture simulé. Montant total : 123.45 EUR.",
	"Contrat de service entre l'entreprise A et l'entreprise B. Date : 01/09/2025.",
	"Rapport d'activité mensuel. Le projet avance bien.",
	"Texte manuscrit simulé : Veuillez trouver ci-joint les documents demandés.",
}

// MockEngine returns canned business texts with a confidence between 0.85 and
// 0.99. It loads no model and is meant for development machines.
type MockEngine struct {
	mu    sync.Mutex
	rng   *rand.Rand
	delay time.Duration
}

// NewMockEngine creates a mock engine. The same seed yields the same sequence.
func NewMockEngine(seed int64, delay time.Duration) *MockEngine {
	return &MockEngine{rng: rand.New(rand.NewSource(seed)), delay: delay}
}

func (m *MockEngine) Name() string    { return MockName }
func (m *MockEngine) Kind() Kind      { return KindPrinted }
func (m *MockEngine) Available() bool { return true }

func (m *MockEngine) Recognize(ctx context.Context, img image.Image) models.RecognitionResult {
	return Guard(ctx, MockName, func(ctx context.Context) (models.RecognitionResult, error) {
		if m.delay > 0 {
			select {
			case <-ctx.Done():
				return models.RecognitionResult{}, ctx.Err()
			case <-time.After(m.delay):
			}
		}

		m.mu.Lock()
		text := mockTexts[m.rng.Intn(len(mockTexts))]
		conf := 0.85 + m.rng.Float64()*0.14
		m.mu.Unlock()

		return models.RecognitionResult{Text: text, Confidence: conf}, nil
	})
}
