package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/platinummonkey/oris/internal/logger"
)

// Status describes one registered engine
type Status struct {
	Name      string `json:"name"`
	Kind      Kind   `json:"kind"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Registry owns the engines of a process. It is built once, initialised once
// with Init and torn down with Close; availability is probed during Init and
// cached afterwards.
type Registry struct {
	mu        sync.RWMutex
	engines   []Engine
	byName    map[string]Engine
	available map[string]bool
	errs      map[string]string
	ready     bool
	logger    *logger.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Get()
	}
	return &Registry{
		byName:    make(map[string]Engine),
		available: make(map[string]bool),
		errs:      make(map[string]string),
		logger:    log,
	}
}

// Register adds e. Names must be unique.
func (r *Registry) Register(e Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byName[e.Name()]; dup {
		return fmt.Errorf("engine %q already registered", e.Name())
	}
	r.engines = append(r.engines, e)
	r.byName[e.Name()] = e
	return nil
}

// Init initialises every engine. An engine whose Init fails stays registered
// but is reported unavailable. Init is idempotent.
func (r *Registry) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready {
		return nil
	}

	for _, e := range r.engines {
		log := r.logger.WithEngine(e.Name())
		if init, ok := e.(Initializer); ok {
			if err := init.Init(ctx); err != nil {
				log.WithError(err).Warn("Engine failed to initialise, marking unavailable")
				r.available[e.Name()] = false
				r.errs[e.Name()] = err.Error()
				continue
			}
		}
		r.available[e.Name()] = e.Available()
		if r.available[e.Name()] {
			log.Info("Engine ready")
		} else {
			log.Warn("Engine unavailable")
		}
	}

	r.ready = true
	return nil
}

// Close releases every engine's resources
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, e := range r.engines {
		if init, ok := e.(Initializer); ok {
			if err := init.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", e.Name(), err))
			}
		}
	}
	r.ready = false
	return errors.Join(errs...)
}

// Get returns the engine registered under name
func (r *Registry) Get(name string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

// Available reports whether name is registered and usable. Before Init the
// engine is asked directly.
func (r *Registry) Available(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byName[name]
	if !ok {
		return false
	}
	if r.ready {
		return r.available[name]
	}
	return e.Available()
}

// Names lists engines in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.engines))
	for i, e := range r.engines {
		names[i] = e.Name()
	}
	return names
}

// AvailableNames lists usable engines in registration order
func (r *Registry) AvailableNames() []string {
	var out []string
	for _, name := range r.Names() {
		if r.Available(name) {
			out = append(out, name)
		}
	}
	return out
}

// Resolve maps names to engines, skipping unknown ones
func (r *Registry) Resolve(names []string) []Engine {
	out := make([]Engine, 0, len(names))
	for _, n := range names {
		if e, ok := r.Get(n); ok {
			out = append(out, e)
		}
	}
	return out
}

// Status reports every registered engine
func (r *Registry) Status() []Status {
	names := r.Names()
	out := make([]Status, 0, len(names))
	for _, name := range names {
		e, _ := r.Get(name)
		r.mu.RLock()
		errMsg := r.errs[name]
		r.mu.RUnlock()
		out = append(out, Status{
			Name:      name,
			Kind:      e.Kind(),
			Available: r.Available(name),
			Error:     errMsg,
		})
	}
	return out
}
