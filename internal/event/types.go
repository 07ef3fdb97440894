// Package event provides a synchronous pub-sub bus and the typed events the
// orchestration core publishes: plan lifecycle, step transitions, safety
// violations and corrections, handoffs, escalation transitions and progress.
//
// Event types follow the pattern "category.action":
//   - plan.started, plan.finished
//   - step.transition
//   - safety.violation, safety.correction
//   - collaboration.handoff
//   - escalation.raised, escalation.reset
//   - progress.updated
//   - routing.decided, routing.tables_reloaded
package event

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time

	// ID returns a unique, time-sortable identifier.
	ID() string
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	id        string
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }
func (e baseEvent) ID() string           { return e.id }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	now := time.Now()
	return baseEvent{
		id:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		eventType: eventType,
		timestamp: now,
	}
}

// Event type names.
const (
	TypePlanStarted      = "plan.started"
	TypePlanFinished     = "plan.finished"
	TypeStepTransition   = "step.transition"
	TypeViolation        = "safety.violation"
	TypeCorrection       = "safety.correction"
	TypeHandoff          = "collaboration.handoff"
	TypeEscalationRaised = "escalation.raised"
	TypeEscalationReset  = "escalation.reset"
	TypeProgress         = "progress.updated"
	TypeRoutingDecided   = "routing.decided"
	TypeRoutingReloaded  = "routing.tables_reloaded"
)

// -----------------------------------------------------------------------------
// Plan Lifecycle Events
// -----------------------------------------------------------------------------

// PlanStartedEvent is emitted when the coordinator accepts a plan.
type PlanStartedEvent struct {
	baseEvent
	PlanID    string
	Task      string
	StepCount int
	Mode      string
}

// NewPlanStartedEvent creates a PlanStartedEvent.
func NewPlanStartedEvent(planID, task string, stepCount int, mode string) PlanStartedEvent {
	return PlanStartedEvent{
		baseEvent: newBaseEvent(TypePlanStarted),
		PlanID:    planID,
		Task:      task,
		StepCount: stepCount,
		Mode:      mode,
	}
}

// PlanFinishedEvent is emitted when a run returns, successfully or not.
type PlanFinishedEvent struct {
	baseEvent
	PlanID string
	Phase  string
	Error  string // Empty on success
}

// NewPlanFinishedEvent creates a PlanFinishedEvent.
func NewPlanFinishedEvent(planID, phase string, err error) PlanFinishedEvent {
	e := PlanFinishedEvent{
		baseEvent: newBaseEvent(TypePlanFinished),
		PlanID:    planID,
		Phase:     phase,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// -----------------------------------------------------------------------------
// Step Events
// -----------------------------------------------------------------------------

// StepTransitionEvent is emitted for every merged status change.
type StepTransitionEvent struct {
	baseEvent
	PlanID string
	StepID string
	Worker string
	From   string
	To     string
	Reason string
}

// NewStepTransitionEvent creates a StepTransitionEvent.
func NewStepTransitionEvent(planID, stepID, worker, from, to, reason string) StepTransitionEvent {
	return StepTransitionEvent{
		baseEvent: newBaseEvent(TypeStepTransition),
		PlanID:    planID,
		StepID:    stepID,
		Worker:    worker,
		From:      from,
		To:        to,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Safety Events
// -----------------------------------------------------------------------------

// ViolationEvent is emitted for each violation a validator pass finds.
type ViolationEvent struct {
	baseEvent
	RuleID       string
	Category     string
	Severity     string
	Evidence     string
	SuggestedFix string
	StepIDs      []string
}

// NewViolationEvent creates a ViolationEvent.
func NewViolationEvent(ruleID, category, severity, evidence, fix string, stepIDs []string) ViolationEvent {
	return ViolationEvent{
		baseEvent:    newBaseEvent(TypeViolation),
		RuleID:       ruleID,
		Category:     category,
		Severity:     severity,
		Evidence:     evidence,
		SuggestedFix: fix,
		StepIDs:      stepIDs,
	}
}

// CorrectionEvent is emitted for each automatic correction applied to a step.
type CorrectionEvent struct {
	baseEvent
	RuleID string
	StepID string
	From   string
	To     string
	Reason string
}

// NewCorrectionEvent creates a CorrectionEvent.
func NewCorrectionEvent(ruleID, stepID, from, to, reason string) CorrectionEvent {
	return CorrectionEvent{
		baseEvent: newBaseEvent(TypeCorrection),
		RuleID:    ruleID,
		StepID:    stepID,
		From:      from,
		To:        to,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Collaboration & Escalation Events
// -----------------------------------------------------------------------------

// HandoffEvent is emitted when a worker hands work to another worker.
type HandoffEvent struct {
	baseEvent
	From  string
	To    string
	Query string
}

// NewHandoffEvent creates a HandoffEvent.
func NewHandoffEvent(from, to, query string) HandoffEvent {
	return HandoffEvent{
		baseEvent: newBaseEvent(TypeHandoff),
		From:      from,
		To:        to,
		Query:     query,
	}
}

// EscalationEvent is emitted when the escalation level rises.
type EscalationEvent struct {
	baseEvent
	Level           float64 // Display value, e.g. 4.5
	Label           string
	Reason          string
	SuggestedWorker string
	SuggestedQuery  string
	TransitionAt    time.Time
}

// NewEscalationEvent creates an EscalationEvent.
func NewEscalationEvent(level float64, label, reason, worker, query string, at time.Time) EscalationEvent {
	return EscalationEvent{
		baseEvent:       newBaseEvent(TypeEscalationRaised),
		Level:           level,
		Label:           label,
		Reason:          reason,
		SuggestedWorker: worker,
		SuggestedQuery:  query,
		TransitionAt:    at,
	}
}

// EscalationResetEvent is emitted when escalation returns to normal.
type EscalationResetEvent struct {
	baseEvent
	FromLevel float64
	Reason    string
}

// NewEscalationResetEvent creates an EscalationResetEvent.
func NewEscalationResetEvent(from float64, reason string) EscalationResetEvent {
	return EscalationResetEvent{
		baseEvent: newBaseEvent(TypeEscalationReset),
		FromLevel: from,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Progress & Routing Events
// -----------------------------------------------------------------------------

// ProgressEvent is emitted after every ledger recomputation.
type ProgressEvent struct {
	baseEvent
	PlanID      string
	Phase       string
	Percent     float64
	Counts      map[string]int
	Bottlenecks []string
}

// NewProgressEvent creates a ProgressEvent.
func NewProgressEvent(planID, phase string, percent float64, counts map[string]int, bottlenecks []string) ProgressEvent {
	return ProgressEvent{
		baseEvent:   newBaseEvent(TypeProgress),
		PlanID:      planID,
		Phase:       phase,
		Percent:     percent,
		Counts:      counts,
		Bottlenecks: bottlenecks,
	}
}

// RoutingDecidedEvent is emitted when the router resolves a task.
type RoutingDecidedEvent struct {
	baseEvent
	Task     string
	Worker   string
	Decision string
	Score    float64
}

// NewRoutingDecidedEvent creates a RoutingDecidedEvent.
func NewRoutingDecidedEvent(task, worker, decision string, score float64) RoutingDecidedEvent {
	return RoutingDecidedEvent{
		baseEvent: newBaseEvent(TypeRoutingDecided),
		Task:      task,
		Worker:    worker,
		Decision:  decision,
		Score:     score,
	}
}

// TablesReloadedEvent is emitted when keyword tables are reloaded from disk.
type TablesReloadedEvent struct {
	baseEvent
	Path    string
	Workers int
	Error   string // Empty on success; previous tables stay active on error
}

// NewTablesReloadedEvent creates a TablesReloadedEvent.
func NewTablesReloadedEvent(path string, workers int, err error) TablesReloadedEvent {
	e := TablesReloadedEvent{
		baseEvent: newBaseEvent(TypeRoutingReloaded),
		Path:      path,
		Workers:   workers,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
