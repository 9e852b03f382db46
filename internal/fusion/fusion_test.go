package fusion

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/oris/internal/engine"
	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/models"
)

type fakeEngine struct {
	name      string
	kind      engine.Kind
	text      string
	conf      float64
	synthetic bool
	err       error
	delay     time.Duration
	calls     atomic.Int32
}

func (f *fakeEngine) Name() string      { return f.name }
func (f *fakeEngine) Kind() engine.Kind { return f.kind }
func (f *fakeEngine) Available() bool   { return true }

func (f *fakeEngine) Recognize(ctx context.Context, img image.Image) models.RecognitionResult {
	f.calls.Add(1)
	return engine.Guard(ctx, f.name, func(ctx context.Context) (models.RecognitionResult, error) {
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		if f.err != nil {
			return models.RecognitionResult{}, f.err
		}
		return models.RecognitionResult{Text: f.text, Confidence: f.conf, SyntheticConfidence: f.synthetic}, nil
	})
}

func printed(name, text string, conf float64) *fakeEngine {
	return &fakeEngine{name: name, kind: engine.KindPrinted, text: text, conf: conf}
}

func broken(name string) *fakeEngine {
	return &fakeEngine{name: name, kind: engine.KindPrinted, err: errors.New("model crashed")}
}

var blank = image.NewGray(image.Rect(0, 0, 4, 4))

func TestRunner_Confidence(t *testing.T) {
	r := NewRunner(time.Second, logger.Nop())

	out := r.Run(context.Background(), blank, []engine.Engine{
		printed("openai", "Facture n°12", 0.9),
		printed("tesseract", "Facture n 12", 0.6),
	}, PolicyConfidence)

	if out.Fused.Engine != "openai" || out.Fused.Text != "Facture n°12" || out.Fused.Confidence != 0.9 {
		t.Errorf("unexpected winner %+v", out.Fused)
	}
	if out.Fused.SuccessfulEngines != 2 || strings.Join(out.Fused.AttemptedEngines, ",") != "openai,tesseract" {
		t.Errorf("provenance = %v / %d", out.Fused.AttemptedEngines, out.Fused.SuccessfulEngines)
	}
	if len(out.Results) != 2 || out.Results["tesseract"].Confidence != 0.6 {
		t.Errorf("per-engine results = %+v", out.Results)
	}
}

func TestRunner_PartialFailure(t *testing.T) {
	r := NewRunner(time.Second, logger.Nop())

	out := r.Run(context.Background(), blank, []engine.Engine{
		broken("openai"),
		printed("tesseract", "texte", 0.4),
	}, PolicyConfidence)

	if out.Fused.Engine != "tesseract" || out.Fused.SuccessfulEngines != 1 {
		t.Errorf("unexpected fused %+v", out.Fused)
	}
	failed := out.Results["openai"]
	if !failed.Failed() || failed.Confidence != 0 {
		t.Errorf("failed engine result = %+v", failed)
	}
}

func TestRunner_AllFail(t *testing.T) {
	r := NewRunner(time.Second, logger.Nop())

	out := r.Run(context.Background(), blank, []engine.Engine{broken("openai"), broken("tesseract")}, PolicyAuto)

	f := out.Fused
	if f.Engine != NoEngine || f.Text != "" || f.Confidence != 0 {
		t.Errorf("unexpected fused %+v", f)
	}
	if f.SuccessfulEngines != 0 || !strings.Contains(f.Error, "model crashed") {
		t.Errorf("fused error = %q, successful = %d", f.Error, f.SuccessfulEngines)
	}
}

func TestRunner_NoEngines(t *testing.T) {
	out := NewRunner(0, logger.Nop()).Run(context.Background(), blank, nil, PolicyConfidence)
	if out.Fused.Engine != NoEngine || out.Fused.Error == "" || len(out.Results) != 0 {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestRunner_Timeout(t *testing.T) {
	r := NewRunner(50*time.Millisecond, logger.Nop())
	slow := printed("ollama", "trop tard", 0.99)
	slow.delay = 500 * time.Millisecond

	start := time.Now()
	out := r.Run(context.Background(), blank, []engine.Engine{slow, printed("tesseract", "à temps", 0.5)}, PolicyConfidence)

	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("run waited for the stalled engine: %s", elapsed)
	}
	if out.Fused.Engine != "tesseract" {
		t.Errorf("winner = %s, want tesseract", out.Fused.Engine)
	}
	if res := out.Results["ollama"]; !res.Failed() || !strings.Contains(res.Error, "deadline") {
		t.Errorf("timed out engine result = %+v", res)
	}
}

func TestRunner_DuplicatesRunOnce(t *testing.T) {
	e := printed("openai", "x", 0.5)
	out := NewRunner(time.Second, logger.Nop()).Run(context.Background(), blank, []engine.Engine{e, e}, PolicyConfidence)

	if e.calls.Load() != 1 || len(out.Order) != 1 {
		t.Errorf("calls = %d, order = %v", e.calls.Load(), out.Order)
	}
}

func TestRunner_AutoMixedKinds(t *testing.T) {
	hand := &fakeEngine{name: "ollama", kind: engine.KindHandwriting, text: "Cher Monsieur, merci pour votre lettre", conf: 0.38, synthetic: true}
	out := NewRunner(time.Second, logger.Nop()).Run(context.Background(), blank, []engine.Engine{
		hand,
		printed("openai", "Cher", 0.95),
	}, PolicyAuto)

	if out.Policy != PolicyLength {
		t.Errorf("Policy = %s, want length", out.Policy)
	}
	if out.Fused.Engine != "ollama" {
		t.Errorf("winner = %s, want ollama", out.Fused.Engine)
	}
}

func TestFuse(t *testing.T) {
	ok := func(text string, conf float64) models.RecognitionResult {
		return models.RecognitionResult{Text: text, Confidence: conf}
	}
	fail := func(text string) models.RecognitionResult {
		return models.RecognitionResult{Text: text, Error: "boom"}
	}

	tests := []struct {
		name    string
		policy  Policy
		order   []string
		results map[string]models.RecognitionResult
		want    string
	}{
		{
			name:    "highest confidence wins",
			policy:  PolicyConfidence,
			order:   []string{"a", "b", "c"},
			results: map[string]models.RecognitionResult{"a": ok("x", 0.3), "b": ok("y", 0.8), "c": ok("z", 0.5)},
			want:    "b",
		},
		{
			name:    "tie goes to the earlier engine",
			policy:  PolicyConfidence,
			order:   []string{"b", "a"},
			results: map[string]models.RecognitionResult{"a": ok("x", 0.7), "b": ok("y", 0.7)},
			want:    "b",
		},
		{
			name:    "failed results never win on confidence",
			policy:  PolicyConfidence,
			order:   []string{"a", "b"},
			results: map[string]models.RecognitionResult{"a": {Text: "x", Confidence: 0.99, Error: "late"}, "b": ok("y", 0.1)},
			want:    "b",
		},
		{
			name:    "all failed falls back to first text",
			policy:  PolicyConfidence,
			order:   []string{"a", "b", "c"},
			results: map[string]models.RecognitionResult{"a": fail(""), "b": fail("partial"), "c": fail("other")},
			want:    "b",
		},
		{
			name:    "all failed without text",
			policy:  PolicyConfidence,
			order:   []string{"a", "b"},
			results: map[string]models.RecognitionResult{"a": fail(""), "b": fail("")},
			want:    NoEngine,
		},
		{
			name:    "blank page read successfully",
			policy:  PolicyConfidence,
			order:   []string{"a"},
			results: map[string]models.RecognitionResult{"a": ok("", 0)},
			want:    "a",
		},
		{
			name:    "longest text wins",
			policy:  PolicyLength,
			order:   []string{"a", "b"},
			results: map[string]models.RecognitionResult{"a": ok("court", 0.9), "b": ok("beaucoup plus long", 0.2)},
			want:    "b",
		},
		{
			name:    "length tie goes to the earlier engine",
			policy:  PolicyLength,
			order:   []string{"a", "b"},
			results: map[string]models.RecognitionResult{"a": ok("abc", 0.1), "b": ok("xyz", 0.9)},
			want:    "a",
		},
		{
			name:    "length with only blank readings keeps the first success",
			policy:  PolicyLength,
			order:   []string{"a", "b"},
			results: map[string]models.RecognitionResult{"a": fail("x"), "b": ok("  ", 0.5)},
			want:    "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fuse(tt.policy, tt.order, tt.results)
			if got.Engine != tt.want {
				t.Errorf("Fuse() winner = %s, want %s", got.Engine, tt.want)
			}
			if got.Confidence < 0 || got.Confidence > 1 {
				t.Errorf("confidence %v out of range", got.Confidence)
			}
			if len(got.AttemptedEngines) != len(tt.order) {
				t.Errorf("AttemptedEngines = %v", got.AttemptedEngines)
			}
		})
	}
}

func TestFuse_Deterministic(t *testing.T) {
	results := map[string]models.RecognitionResult{
		"a": {Text: "one", Confidence: 0.5},
		"b": {Text: "two", Confidence: 0.5},
		"c": {Text: "three", Confidence: 0.5},
	}
	order := []string{"c", "a", "b"}

	first := Fuse(PolicyConfidence, order, results)
	for i := 0; i < 50; i++ {
		if got := Fuse(PolicyConfidence, order, results); got.Engine != first.Engine {
			t.Fatalf("iteration %d: winner %s, want %s", i, got.Engine, first.Engine)
		}
	}
	if first.Engine != "c" {
		t.Errorf("winner = %s, want c", first.Engine)
	}
}

func TestEffective(t *testing.T) {
	p, h := engine.KindPrinted, engine.KindHandwriting
	native := models.RecognitionResult{Confidence: 0.9}
	synthetic := models.RecognitionResult{Confidence: 0.4, SyntheticConfidence: true}
	failedSynthetic := models.RecognitionResult{SyntheticConfidence: true, Error: "x"}

	tests := []struct {
		name    string
		policy  Policy
		kinds   []engine.Kind
		results []models.RecognitionResult
		want    Policy
	}{
		{"explicit policy untouched", PolicyLength, []engine.Kind{p, p}, nil, PolicyLength},
		{"same kind native scores", PolicyAuto, []engine.Kind{p, p}, []models.RecognitionResult{native, native}, PolicyConfidence},
		{"mixed kinds", PolicyAuto, []engine.Kind{h, p}, []models.RecognitionResult{native, native}, PolicyLength},
		{"mixed score origins", PolicyAuto, []engine.Kind{p, p}, []models.RecognitionResult{native, synthetic}, PolicyLength},
		{"failed results ignored", PolicyAuto, []engine.Kind{p, p}, []models.RecognitionResult{native, failedSynthetic}, PolicyConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Effective(tt.policy, tt.kinds, tt.results); got != tt.want {
				t.Errorf("Effective() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": PolicyAuto, "Confidence": PolicyConfidence, " length ": PolicyLength, "auto": PolicyAuto} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("average"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
