// Package selector decides which engines run on a page.
package selector

import (
	"github.com/platinummonkey/oris/internal/logger"
)

// Label is the content type of a page as seen by the classifier
type Label string

const (
	LabelPrinted     Label = "printed"
	LabelHandwritten Label = "handwritten"
)

// LabelFor converts a classifier decision to a label
func LabelFor(handwritten bool) Label {
	if handwritten {
		return LabelHandwritten
	}
	return LabelPrinted
}

// Availability is the view of the engine registry the selector needs
type Availability interface {
	Available(name string) bool
	AvailableNames() []string
}

// Priorities maps a label to engine names in preference order
type Priorities map[Label][]string

// DefaultPriorities prefers the handwriting model for handwritten pages and the
// vision LLM ahead of Tesseract for printed ones.
func DefaultPriorities() Priorities {
	return Priorities{
		LabelHandwritten: {"ollama", "openai"},
		LabelPrinted:     {"openai", "tesseract"},
	}
}

// Selector picks engines from a priority table
type Selector struct {
	engines    Availability
	priorities Priorities
	logger     *logger.Logger
}

// New creates a selector. Labels missing from priorities fall back to the defaults.
func New(engines Availability, priorities Priorities, log *logger.Logger) *Selector {
	if log == nil {
		log = logger.Get()
	}

	merged := DefaultPriorities()
	for label, names := range priorities {
		if len(names) > 0 {
			merged[label] = append([]string(nil), names...)
		}
	}

	return &Selector{engines: engines, priorities: merged, logger: log}
}

// Select returns the engines to run, in order. An explicit list is honoured
// as given minus unavailable entries. Otherwise the priority table for label
// applies; when none of its engines is available, the first available engine
// is used. An empty result means no engine can serve the page.
func (s *Selector) Select(label Label, explicit []string) []string {
	if len(explicit) > 0 {
		return s.filter(explicit)
	}

	var out []string
	for _, name := range s.priorities[label] {
		if s.engines.Available(name) {
			out = append(out, name)
		}
	}
	if len(out) > 0 {
		return out
	}

	available := s.engines.AvailableNames()
	if len(available) == 0 {
		s.logger.WithFields("label", label).Warn("No recognition engine available")
		return nil
	}

	s.logger.WithFields("label", label, "engine", available[0]).Info("No preferred engine available, falling back")
	return available[:1]
}

func (s *Selector) filter(names []string) []string {
	var out []string
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		if !s.engines.Available(name) {
			s.logger.WithEngine(name).Warn("Requested engine unavailable, skipping")
			continue
		}
		out = append(out, name)
	}
	return out
}

// Priorities returns a copy of the table in use
func (s *Selector) Priorities() Priorities {
	out := make(Priorities, len(s.priorities))
	for label, names := range s.priorities {
		out[label] = append([]string(nil), names...)
	}
	return out
}
