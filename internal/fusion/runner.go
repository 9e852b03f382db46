// Package fusion runs several recognition engines on one page and keeps the
// best reading according to a named policy.
package fusion

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/platinummonkey/oris/internal/engine"
	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/models"
)

// DefaultTimeout bounds a single engine call
const DefaultTimeout = 2 * time.Minute

// Outcome is the result of one multi-engine run
type Outcome struct {
	// Fused is the kept reading, annotated with provenance
	Fused models.RecognitionResult

	// Results holds every engine's own result keyed by engine name
	Results map[string]models.RecognitionResult

	// Order is the attempted engine order
	Order []string

	// Policy is the policy actually applied, with auto resolved
	Policy Policy
}

// Runner executes engines against a page
type Runner struct {
	timeout time.Duration
	logger  *logger.Logger
}

// NewRunner creates a runner. A non-positive timeout selects DefaultTimeout.
func NewRunner(timeout time.Duration, log *logger.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Get()
	}
	return &Runner{timeout: timeout, logger: log}
}

// Run executes every engine concurrently, each under its own timeout, and
// fuses the results with policy. A call that exceeds the timeout is recorded as
// a failure; the engine call itself is left to finish in the background.
// Duplicate engines run once.
func (r *Runner) Run(ctx context.Context, img image.Image, engines []engine.Engine, policy Policy) Outcome {
	engines = unique(engines)

	order := make([]string, len(engines))
	kinds := make([]engine.Kind, len(engines))
	for i, e := range engines {
		order[i] = e.Name()
		kinds[i] = e.Kind()
	}

	collected := make([]models.RecognitionResult, len(engines))
	var wg sync.WaitGroup
	for i, e := range engines {
		wg.Add(1)
		go func(i int, e engine.Engine) {
			defer wg.Done()
			collected[i] = r.runOne(ctx, img, e)
		}(i, e)
	}
	wg.Wait()

	results := make(map[string]models.RecognitionResult, len(engines))
	for i, name := range order {
		results[name] = collected[i]
	}

	effective := Effective(policy, kinds, collected)
	fused := Fuse(effective, order, results)

	r.logger.WithFields(
		"engines", order,
		"winner", fused.Engine,
		"confidence", fused.Confidence,
		"successful", fused.SuccessfulEngines,
		"policy", effective,
	).Debug("Fused engine results")

	return Outcome{Fused: fused, Results: results, Order: order, Policy: effective}
}

func (r *Runner) runOne(ctx context.Context, img image.Image, e engine.Engine) models.RecognitionResult {
	name := e.Name()
	log := r.logger.WithEngine(name)

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	done := make(chan models.RecognitionResult, 1)
	start := time.Now()

	go func() {
		defer cancel()
		done <- engine.Guard(callCtx, name, func(ctx context.Context) (models.RecognitionResult, error) {
			res := e.Recognize(ctx, img)
			if res.Error != "" {
				return res, fmt.Errorf("%s", res.Error)
			}
			return res, nil
		})
	}()

	select {
	case res := <-done:
		if res.Failed() {
			log.WithFields("error", res.Error).Warn("Engine failed on page")
		}
		return res
	case <-callCtx.Done():
		select {
		case res := <-done:
			return res
		default:
		}
		err := fmt.Errorf("engine call aborted after %s: %w", time.Since(start).Round(time.Millisecond), callCtx.Err())
		log.WithError(err).Warn("Engine timed out")
		res := engine.Failed(name, err)
		res.Duration = time.Since(start)
		return res
	}
}

func unique(engines []engine.Engine) []engine.Engine {
	seen := make(map[string]bool, len(engines))
	out := make([]engine.Engine, 0, len(engines))
	for _, e := range engines {
		if e == nil || seen[e.Name()] {
			continue
		}
		seen[e.Name()] = true
		out = append(out, e)
	}
	return out
}
