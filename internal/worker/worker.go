// Package worker defines the capability interface the engine dispatches
// steps to and the registry of workers with real execution capability.
package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/step"
)

// Worker is an external capability provider. The engine never inspects a
// worker beyond this interface.
type Worker interface {
	// Name is the worker identity steps are assigned to.
	Name() string
	// Accepts returns a confidence in [0, 1] that the worker can handle task.
	Accepts(task string) float64
	// Execute runs one step. The context carries the step timeout.
	Execute(ctx context.Context, s step.ExecutionStep) (Result, error)
	// Capabilities returns free-form capability tags.
	Capabilities() []string
}

// Handoff asks the engine to continue work on another worker.
type Handoff struct {
	To    string
	Query string
}

// Result is what a worker returns for a successful step.
type Result struct {
	Output any
	// Quality is an optional measured quality in [0, 1].
	Quality *float64
	// Improved reports an observed improvement over the previous attempt.
	Improved bool
	// Handoffs are follow-up requests for other workers.
	Handoffs []Handoff
}

// Func adapts plain functions to the Worker interface.
type Func struct {
	WorkerName string
	Tags       []string
	AcceptFn   func(task string) float64
	ExecuteFn  func(ctx context.Context, s step.ExecutionStep) (Result, error)
}

func (f Func) Name() string           { return f.WorkerName }
func (f Func) Capabilities() []string { return f.Tags }

func (f Func) Accepts(task string) float64 {
	if f.AcceptFn == nil {
		return 0
	}
	return f.AcceptFn(task)
}

func (f Func) Execute(ctx context.Context, s step.ExecutionStep) (Result, error) {
	if f.ExecuteFn == nil {
		return Result{}, fmt.Errorf("worker %s has no execute function", f.WorkerName)
	}
	return f.ExecuteFn(ctx, s)
}

// Registry is the set of registered workers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Worker
}

// NewRegistry creates a registry holding the given workers.
func NewRegistry(workers ...Worker) (*Registry, error) {
	r := &Registry{workers: make(map[string]Worker)}
	for _, w := range workers {
		if err := r.Register(w); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a worker. Names must be unique and non-empty.
func (r *Registry) Register(w Worker) error {
	if w == nil || w.Name() == "" {
		return fmt.Errorf("register worker: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[w.Name()]; exists {
		return fmt.Errorf("register worker %q: already registered", w.Name())
	}
	r.workers[w.Name()] = w
	return nil
}

// Get returns the worker registered under name.
func (r *Registry) Get(name string) (Worker, error) {
	if r == nil {
		return nil, errors.Wrapf(errors.ErrUnknownWorker, "worker %q", name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownWorker, "worker %q", name)
	}
	return w, nil
}

// Has reports whether name is registered. A nil registry has no workers.
func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.workers[name]
	return ok
}

// Names returns registered worker names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Confidence returns each worker's Accepts score for task, clamped to [0, 1].
func (r *Registry) Confidence(task string) map[string]float64 {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	workers := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.RUnlock()

	out := make(map[string]float64, len(workers))
	for _, w := range workers {
		c := w.Accepts(task)
		switch {
		case c < 0:
			c = 0
		case c > 1:
			c = 1
		}
		out[w.Name()] = c
	}
	return out
}
