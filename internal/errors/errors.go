// Package errors provides centralized error definitions for the orchestration
// core. It defines the error taxonomy the engine surfaces, typed errors carrying
// step context, and classification helpers used by the retry policy.
//
// # Error Types
//
//   - PlanningError: unresolvable dependency, cycle, duplicate id. Fatal, the
//     plan never starts.
//   - ValidationViolation: an invariant or anti-pattern matched and blocked
//     scheduling. Carries the structured violation report.
//   - WorkerExecutionError: a worker returned an error for one step.
//     Retryable up to the step's retry budget.
//   - TimeoutError: a step ran past its timeout. Same retry policy as
//     WorkerExecutionError.
//
// Routing ambiguity is not an error (it is a routing decision) and an
// unroutable worker short-circuits to a stub completion, so neither has a type
// here.
//
// # Usage
//
//	if errors.Is(err, errors.ErrDependencyCycle) { ... }
//
//	var planErr *errors.PlanningError
//	if errors.As(err, &planErr) {
//	    fmt.Println(planErr.Path)
//	}
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Planning sentinel errors
var (
	// ErrEmptyPlan indicates that a plan has no steps.
	ErrEmptyPlan = New("plan has no steps")
	// ErrDuplicateStep indicates two steps share an id.
	ErrDuplicateStep = New("duplicate step id")
	// ErrMissingDependency indicates a dependency id that is not in the plan.
	ErrMissingDependency = New("dependency not found in plan")
	// ErrSelfDependency indicates a step that lists itself as a dependency.
	ErrSelfDependency = New("step depends on itself")
	// ErrDependencyCycle indicates a circular dependency between steps.
	ErrDependencyCycle = New("dependency cycle detected")
)

// Execution sentinel errors
var (
	// ErrValidationBlocked indicates that a safety violation blocked scheduling.
	ErrValidationBlocked = New("scheduling blocked by safety violation")
	// ErrWorkerFailed indicates that a worker returned an error for a step.
	ErrWorkerFailed = New("worker execution failed")
	// ErrStepTimeout indicates a step exceeded its timeout.
	ErrStepTimeout = New("step timed out")
	// ErrUnknownWorker indicates the worker is not registered.
	ErrUnknownWorker = New("worker not registered")
	// ErrStepNotFound indicates a step id that is not in the plan.
	ErrStepNotFound = New("step not found")
	// ErrHumanInterventionRequired indicates escalation reached its final level.
	ErrHumanInterventionRequired = New("human intervention required")
	// ErrPlanCancelled indicates the task was cancelled before it finished.
	ErrPlanCancelled = New("plan cancelled")
)

// -----------------------------------------------------------------------------
// PlanningError
// -----------------------------------------------------------------------------

// PlanningError reports a structural defect in a plan. Planning errors are
// fatal: they surface before any step reaches in_progress.
type PlanningError struct {
	// Kind is one of the planning sentinels (ErrDependencyCycle, ...).
	Kind error
	// StepIDs lists the steps the defect was found on.
	StepIDs []string
	// Path is the dependency path of a cycle, first id repeated at the end.
	Path []string
	// Detail is free-form context such as the missing dependency id.
	Detail string
}

// NewPlanningError creates a PlanningError of the given kind.
func NewPlanningError(kind error, detail string, stepIDs ...string) *PlanningError {
	return &PlanningError{Kind: kind, Detail: detail, StepIDs: stepIDs}
}

// NewCycleError creates a PlanningError for a dependency cycle.
func NewCycleError(path []string) *PlanningError {
	return &PlanningError{
		Kind:    ErrDependencyCycle,
		Path:    path,
		StepIDs: uniqueIDs(path),
		Detail:  strings.Join(path, " -> "),
	}
}

// Error returns the formatted error message.
func (e *PlanningError) Error() string {
	prefix := "planning error"
	if len(e.StepIDs) > 0 {
		prefix = fmt.Sprintf("planning error [steps=%s]", strings.Join(e.StepIDs, ","))
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %v: %s", prefix, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %v", prefix, e.Kind)
}

// Unwrap returns the planning sentinel.
func (e *PlanningError) Unwrap() error {
	return e.Kind
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// ValidationViolation
// -----------------------------------------------------------------------------

// ViolationDetail is the error-side view of one safety violation.
type ViolationDetail struct {
	RuleID       string
	Severity     string
	Evidence     string
	SuggestedFix string
}

// ValidationViolation is returned when the safety validator blocks scheduling.
type ValidationViolation struct {
	Details []ViolationDetail
}

// NewValidationViolation creates a ValidationViolation for the given details.
func NewValidationViolation(details []ViolationDetail) *ValidationViolation {
	return &ValidationViolation{Details: details}
}

// Error returns the formatted error message.
func (e *ValidationViolation) Error() string {
	if len(e.Details) == 0 {
		return ErrValidationBlocked.Error()
	}
	if len(e.Details) == 1 {
		d := e.Details[0]
		return fmt.Sprintf("%v: %s (%s): %s", ErrValidationBlocked, d.RuleID, d.Severity, d.Evidence)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%v: %d violations:", ErrValidationBlocked, len(e.Details))
	for i, d := range e.Details {
		fmt.Fprintf(&sb, "\n  %d. %s (%s): %s", i+1, d.RuleID, d.Severity, d.Evidence)
	}
	return sb.String()
}

// Unwrap returns ErrValidationBlocked.
func (e *ValidationViolation) Unwrap() error {
	return ErrValidationBlocked
}

// RuleIDs returns the rule ids of all violations in report order.
func (e *ValidationViolation) RuleIDs() []string {
	ids := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		ids = append(ids, d.RuleID)
	}
	return ids
}

// -----------------------------------------------------------------------------
// WorkerExecutionError
// -----------------------------------------------------------------------------

// WorkerExecutionError wraps an error returned by a worker for one step.
type WorkerExecutionError struct {
	StepID string
	Worker string
	Err    error
}

// NewWorkerExecutionError creates a WorkerExecutionError.
func NewWorkerExecutionError(stepID, worker string, err error) *WorkerExecutionError {
	return &WorkerExecutionError{StepID: stepID, Worker: worker, Err: err}
}

// Error returns the formatted error message.
func (e *WorkerExecutionError) Error() string {
	return fmt.Sprintf("worker error [step=%s, worker=%s]: %v", e.StepID, e.Worker, e.Err)
}

// Unwrap returns the worker's error.
func (e *WorkerExecutionError) Unwrap() error {
	return e.Err
}

// Is matches ErrWorkerFailed in addition to the wrapped error chain.
func (e *WorkerExecutionError) Is(target error) bool {
	return target == ErrWorkerFailed
}

// -----------------------------------------------------------------------------
// TimeoutError
// -----------------------------------------------------------------------------

// TimeoutError reports that a step exceeded its timeout.
type TimeoutError struct {
	StepID  string
	Timeout time.Duration
	Elapsed time.Duration
}

// NewTimeoutError creates a TimeoutError.
func NewTimeoutError(stepID string, timeout, elapsed time.Duration) *TimeoutError {
	return &TimeoutError{StepID: stepID, Timeout: timeout, Elapsed: elapsed}
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %s timed out after %v (timeout %v)", e.StepID, e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// Unwrap returns ErrStepTimeout.
func (e *TimeoutError) Unwrap() error {
	return ErrStepTimeout
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error belongs to a class the retry policy
// may retry: worker execution failures and step timeouts. Planning errors,
// validation violations and cancellations are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsPlanning(err) || Is(err, ErrValidationBlocked) || Is(err, ErrPlanCancelled) {
		return false
	}
	return Is(err, ErrWorkerFailed) || Is(err, ErrStepTimeout)
}

// IsPlanning returns true if err is (or wraps) a PlanningError.
func IsPlanning(err error) bool {
	var planErr *PlanningError
	return As(err, &planErr)
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
