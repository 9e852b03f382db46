package fusion

import (
	"fmt"
	"strings"

	"github.com/platinummonkey/oris/internal/engine"
	"github.com/platinummonkey/oris/internal/models"
)

// Policy names a fusion rule
type Policy string

const (
	// PolicyConfidence keeps the error-free result with the highest confidence
	PolicyConfidence Policy = "confidence"

	// PolicyLength keeps the error-free result with the longest text
	PolicyLength Policy = "length"

	// PolicyAuto uses PolicyConfidence when the scores are comparable and
	// PolicyLength when engines of different kinds, or native and synthetic
	// scores, meet in one run.
	PolicyAuto Policy = "auto"
)

// NoEngine labels a fused result no engine could produce
const NoEngine = "none"

// ParsePolicy validates a policy name. The empty string means auto.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyAuto, nil
	case PolicyConfidence, PolicyLength, PolicyAuto:
		return p, nil
	default:
		return "", fmt.Errorf("unknown fusion policy %q (want confidence, length or auto)", s)
	}
}

// Effective resolves auto to a concrete policy for a run of engines with the
// given kinds and results.
func Effective(p Policy, kinds []engine.Kind, results []models.RecognitionResult) Policy {
	if p != PolicyAuto {
		return p
	}

	for i := 1; i < len(kinds); i++ {
		if kinds[i] != kinds[0] {
			return PolicyLength
		}
	}

	var native, synthetic bool
	for _, r := range results {
		if r.Failed() {
			continue
		}
		if r.SyntheticConfidence {
			synthetic = true
		} else {
			native = true
		}
	}
	if native && synthetic {
		return PolicyLength
	}
	return PolicyConfidence
}

// Fuse picks one result out of results, where order is the attempted engine
// order and breaks ties. auto is treated as confidence; resolve it with
// Effective first when engine kinds are known.
//
// When no error-free result exists the first result with text is kept, and
// failing that an empty result labelled NoEngine. The returned result always
// carries the attempted engines and the count of error-free results.
func Fuse(p Policy, order []string, results map[string]models.RecognitionResult) models.RecognitionResult {
	successful := 0
	for _, name := range order {
		if r, ok := results[name]; ok && !r.Failed() {
			successful++
		}
	}

	var winner string
	switch p {
	case PolicyLength:
		winner = longest(order, results)
	default:
		winner = mostConfident(order, results)
	}
	if winner == "" {
		winner = firstWithText(order, results)
	}

	var fused models.RecognitionResult
	if winner == "" {
		fused = models.RecognitionResult{
			Engine: NoEngine,
			Error:  failureSummary(order, results),
		}
	} else {
		fused = results[winner]
		fused.Engine = winner
	}

	fused.Confidence = engine.ClampConfidence(fused.Confidence)
	fused.AttemptedEngines = append([]string(nil), order...)
	fused.SuccessfulEngines = successful
	return fused
}

func mostConfident(order []string, results map[string]models.RecognitionResult) string {
	winner, best := "", -1.0
	for _, name := range order {
		r, ok := results[name]
		if !ok || r.Failed() {
			continue
		}
		if r.Confidence > best {
			winner, best = name, r.Confidence
		}
	}
	return winner
}

func longest(order []string, results map[string]models.RecognitionResult) string {
	winner, best, firstOK := "", 0, ""
	for _, name := range order {
		r, ok := results[name]
		if !ok || r.Failed() {
			continue
		}
		if firstOK == "" {
			firstOK = name
		}
		if n := len([]rune(strings.TrimSpace(r.Text))); n > best {
			winner, best = name, n
		}
	}
	// every engine read a blank page
	if winner == "" {
		return firstOK
	}
	return winner
}

func firstWithText(order []string, results map[string]models.RecognitionResult) string {
	for _, name := range order {
		if r, ok := results[name]; ok && strings.TrimSpace(r.Text) != "" {
			return name
		}
	}
	return ""
}

func failureSummary(order []string, results map[string]models.RecognitionResult) string {
	if len(order) == 0 {
		return "no recognition engine available"
	}

	parts := make([]string, 0, len(order))
	for _, name := range order {
		r, ok := results[name]
		switch {
		case !ok:
			parts = append(parts, name+": no result")
		case r.Error != "":
			parts = append(parts, name+": "+r.Error)
		default:
			parts = append(parts, name+": empty output")
		}
	}
	return "all engines failed: " + strings.Join(parts, "; ")
}
