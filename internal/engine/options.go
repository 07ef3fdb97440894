package engine

import (
	"context"
	"time"

	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/router"
	"github.com/Iron-Ham/conductor/internal/step"
)

// Memory suggests step lists from previous plans and records finished ones.
// Failures never fail a run.
type Memory interface {
	Suggest(ctx context.Context, task string) ([]step.ExecutionStep, error)
	Record(ctx context.Context, plan *step.TaskPlan) error
}

// Checkpointer persists step updates as they are merged.
type Checkpointer interface {
	SaveSteps(ctx context.Context, planID string, steps []step.ExecutionStep) error
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	logger     *logging.Logger
	bus        *event.Bus
	classifier router.Classifier
	memory     Memory
	checkpoint Checkpointer
	router     *router.Router
	now        func() time.Time
}

// WithLogger sets the logger. Defaults to logging.NopLogger.
func WithLogger(l *logging.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// WithBus sets the event bus. Defaults to a private bus.
func WithBus(b *event.Bus) Option {
	return func(c *engineConfig) { c.bus = b }
}

// WithClassifier overrides the small-talk classifier built from the routing
// configuration.
func WithClassifier(cl router.Classifier) Option {
	return func(c *engineConfig) { c.classifier = cl }
}

// WithMemory enables plan suggestions and records completed plans.
func WithMemory(m Memory) Option {
	return func(c *engineConfig) { c.memory = m }
}

// WithCheckpointer persists every merged step update.
func WithCheckpointer(cp Checkpointer) Option {
	return func(c *engineConfig) { c.checkpoint = cp }
}

// WithRouter overrides the router built from the default keyword tables.
func WithRouter(r *router.Router) Option {
	return func(c *engineConfig) { c.router = r }
}

// WithClock overrides time.Now for step timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) { c.now = now }
}
