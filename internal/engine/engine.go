// Package engine drives a task plan from validation to completion.
//
// Each call to Run owns one coordinator loop. The loop is the only writer of
// the plan's step list: worker calls run on their own goroutines and report
// back over a channel, and every change is merged through step.Store. One
// iteration of the loop is
//
//	safety pass -> progress snapshot -> scheduling decision -> dispatch -> wait
//
// where the wait ends on a worker result, the next step deadline, the next
// backoff wake-up, or cancellation.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/escalation"
	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/ledger"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/resolver"
	"github.com/Iron-Ham/conductor/internal/retry"
	"github.com/Iron-Ham/conductor/internal/router"
	"github.com/Iron-Ham/conductor/internal/safety"
	"github.com/Iron-Ham/conductor/internal/step"
	"github.com/Iron-Ham/conductor/internal/worker"
)

// Engine coordinates plan execution over a worker registry.
type Engine struct {
	cfg        *config.Config
	registry   *worker.Registry
	logger     *logging.Logger
	bus        *event.Bus
	classifier router.Classifier
	router     *router.Router
	memory     Memory
	checkpoint Checkpointer
	validator  *safety.Validator
	policy     retry.Policy
	now        func() time.Time

	mu         sync.Mutex
	escalation *escalation.Controller
}

// New creates an engine. A nil cfg uses config.Default; a nil registry
// means no worker can execute, so every step is stub-completed.
func New(cfg *config.Config, registry *worker.Registry, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	ec := engineConfig{}
	for _, opt := range opts {
		opt(&ec)
	}
	if ec.logger == nil {
		ec.logger = logging.NopLogger()
	}
	if ec.bus == nil {
		ec.bus = event.NewBus(ec.logger)
	}
	if ec.now == nil {
		ec.now = time.Now
	}
	if ec.classifier == nil {
		cl, err := router.NewGlobClassifier(cfg.Routing.SmallTalk...)
		if err != nil {
			return nil, errors.Wrap(err, "engine: build classifier")
		}
		ec.classifier = cl
	}
	if ec.router == nil {
		r, err := router.New(router.DefaultTables(),
			router.WithThresholds(cfg.RouterThresholds()),
			router.WithPlanningRole(cfg.Execution.PlanningRole),
			router.WithConfidence(registry.Confidence))
		if err != nil {
			return nil, errors.Wrap(err, "engine: build router")
		}
		ec.router = r
	}

	e := &Engine{
		cfg:        cfg,
		registry:   registry,
		logger:     ec.logger,
		bus:        ec.bus,
		classifier: ec.classifier,
		router:     ec.router,
		memory:     ec.memory,
		checkpoint: ec.checkpoint,
		policy:     cfg.Execution.RetryPolicy(),
		now:        ec.now,
		validator: safety.New(
			safety.WithAutoFix(cfg.Execution.AutoFix),
			safety.WithMaxPasses(cfg.Execution.MaxPasses),
			safety.WithLogger(ec.logger),
			safety.WithBus(ec.bus),
		),
	}
	e.escalation = e.newController()
	return e, nil
}

func (e *Engine) newController() *escalation.Controller {
	return escalation.NewController(e.cfg.Escalation, escalation.WithClock(e.now))
}

// Bus returns the event bus the engine publishes to.
func (e *Engine) Bus() *event.Bus {
	return e.bus
}

// Run validates the plan and executes it until every step is terminal, a
// blocking safety violation is found, escalation reaches human
// intervention, or ctx is cancelled. The returned plan always reflects
// every merged update, including the attempt trail of each step.
//
// A plan whose dependency graph cannot complete is rejected with a
// *errors.PlanningError before any step starts.
func (e *Engine) Run(ctx context.Context, plan *step.TaskPlan) (*step.TaskPlan, error) {
	if plan == nil {
		return nil, errors.NewPlanningError(errors.ErrEmptyPlan, "nil plan")
	}

	if err := resolver.Check(plan.Steps); err != nil {
		e.logger.WithPlan(plan.ID).Error("plan rejected", "error", err.Error())
		e.bus.Publish(event.NewPlanFinishedEvent(plan.ID, string(ledger.PhaseFailed), err))
		return plan.Clone(), err
	}

	ctrl := e.newController()
	e.mu.Lock()
	e.escalation = ctrl
	e.mu.Unlock()

	return newRun(e, plan, ctrl).execute(ctx)
}

// Escalations returns the escalation transitions of the most recent run.
func (e *Engine) Escalations() []escalation.Transition {
	e.mu.Lock()
	ctrl := e.escalation
	e.mu.Unlock()
	return ctrl.Transitions()
}

// Collaboration returns the collaboration state of the most recent run.
func (e *Engine) Collaboration() escalation.CollaborationState {
	e.mu.Lock()
	ctrl := e.escalation
	e.mu.Unlock()
	return ctrl.State()
}

// ResetEscalation returns the collaboration level of the current or most
// recent run to normal. The reset is recorded as a transition and
// published as an EscalationResetEvent.
func (e *Engine) ResetEscalation(reason string) escalation.Transition {
	e.mu.Lock()
	ctrl := e.escalation
	e.mu.Unlock()
	return e.resetEscalation(ctrl, reason)
}

func (e *Engine) resetEscalation(ctrl *escalation.Controller, reason string) escalation.Transition {
	from := ctrl.Level()
	t := ctrl.Reset(reason)
	e.logger.Info("collaboration reset", "from_level", from.String(), "reason", reason)
	e.bus.Publish(event.NewEscalationResetEvent(from.Value(), reason))
	return t
}

// Route scores task against the keyword tables for plan builders.
func (e *Engine) Route(task string) router.Result {
	res := e.router.Route(task)
	e.logger.Debug("task routed",
		"worker", res.Worker,
		"decision", string(res.Decision),
		"score", res.Score,
		"reason", res.Reason)
	e.bus.Publish(event.NewRoutingDecidedEvent(task, res.Worker, string(res.Decision), res.Score))
	return res
}

// Classify reports whether task carries work the scheduler would dispatch.
func (e *Engine) Classify(task string) router.Signal {
	return e.classifier.Classify(task)
}

// SuggestPlan asks the memory collaborator for a step list used for a
// similar task before. It returns nil when no memory is configured or the
// lookup fails.
func (e *Engine) SuggestPlan(ctx context.Context, task string) []step.ExecutionStep {
	if e.memory == nil {
		return nil
	}
	steps, err := e.memory.Suggest(ctx, task)
	if err != nil {
		e.logger.Warn("plan suggestion unavailable", "error", err.Error())
		return nil
	}
	return steps
}
