// Package step defines the execution step model and the merge reducer that
// is the only write path for step state.
//
// Steps are values. Every helper in this package returns a new step and
// leaves its receiver untouched; a stored step changes only when a caller
// hands the updated value to [Merge] (directly or through [Store.Apply]).
package step

import (
	"fmt"
	"slices"
	"time"
)

// Status represents the lifecycle state of a step.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
	StatusCancelled  Status = "cancelled"
	StatusTimedOut   Status = "timed_out"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusBlocked,
	StatusCancelled,
	StatusTimedOut,
}

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBlocked, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// IsActive returns true for pending and in_progress.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusInProgress
}

// IsUnsuccessful returns true for terminal statuses other than completed.
func (s Status) IsUnsuccessful() bool {
	return s.IsTerminal() && s != StatusCompleted
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Outcome labels one entry of a step's attempt trail.
type Outcome string

const (
	OutcomeStarted   Outcome = "started"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeRetried   Outcome = "retried"
	OutcomeStubbed   Outcome = "stubbed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeCorrected Outcome = "corrected"
	OutcomeBlocked   Outcome = "blocked"
)

// Attempt is one entry of the itemized attempt trail.
type Attempt struct {
	Timestamp time.Time `json:"timestamp"`
	Outcome   Outcome   `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}

// ExecutionStep is a unit of work assigned to one worker.
type ExecutionStep struct {
	ID             string   `json:"id" yaml:"id"`
	Worker         string   `json:"worker" yaml:"worker"`
	Task           string   `json:"task" yaml:"task"`
	ExpectedOutput string   `json:"expected_output,omitempty" yaml:"expected_output,omitempty"`
	Dependencies   []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	Status Status `json:"status" yaml:"status"`
	Result any    `json:"result,omitempty" yaml:"-"`
	Error  string `json:"error,omitempty" yaml:"-"`

	// QueuedAt is the earliest time the step may dispatch. Backoff moves it
	// forward.
	QueuedAt  time.Time `json:"queued_at,omitzero" yaml:"-"`
	StartedAt time.Time `json:"started_at,omitzero" yaml:"-"`
	EndedAt   time.Time `json:"ended_at,omitzero" yaml:"-"`

	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RetryCount  int           `json:"retry_count" yaml:"-"`
	MaxRetries  int           `json:"max_retries" yaml:"max_retries,omitempty"`
	// RetryLimitSet marks MaxRetries as chosen by the plan, so zero means
	// no retries instead of the policy default.
	RetryLimitSet bool `json:"retry_limit_set,omitempty" yaml:"-"`
	BackoffBase time.Duration `json:"backoff_base,omitempty" yaml:"backoff_base,omitempty"`

	ParallelGroup        string  `json:"parallel_group,omitempty" yaml:"parallel_group,omitempty"`
	CompletionPercentage float64 `json:"completion_percentage" yaml:"-"`

	Attempts []Attempt `json:"attempts,omitempty" yaml:"-"`

	// Stub marks a step completed without being dispatched.
	Stub bool `json:"stub,omitempty" yaml:"-"`
	// HandoffFrom is the id of the step whose handoff created this one.
	HandoffFrom string `json:"handoff_from,omitempty" yaml:"-"`
}

// New creates a pending step.
func New(id, worker, task string, deps ...string) ExecutionStep {
	return ExecutionStep{
		ID:           id,
		Worker:       worker,
		Task:         task,
		Dependencies: deps,
		Status:       StatusPending,
	}
}

// Clone returns a deep copy of the step.
func (s ExecutionStep) Clone() ExecutionStep {
	c := s
	c.Dependencies = slices.Clone(s.Dependencies)
	c.Attempts = slices.Clone(s.Attempts)
	return c
}

// WithMaxRetries returns a copy with an explicit retry limit.
func (s ExecutionStep) WithMaxRetries(n int) ExecutionStep {
	c := s.Clone()
	c.MaxRetries = n
	c.RetryLimitSet = true
	return c
}

// WithStatus returns a copy with the status replaced and nothing else.
func (s ExecutionStep) WithStatus(status Status) ExecutionStep {
	c := s.Clone()
	c.Status = status
	return c
}

func (s ExecutionStep) record(now time.Time, outcome Outcome, errMsg string) ExecutionStep {
	c := s.Clone()
	c.Attempts = append(c.Attempts, Attempt{Timestamp: now, Outcome: outcome, Error: errMsg})
	return c
}

// Start returns a copy moved to in_progress.
func (s ExecutionStep) Start(now time.Time) ExecutionStep {
	c := s.record(now, OutcomeStarted, "")
	c.Status = StatusInProgress
	c.StartedAt = now
	c.EndedAt = time.Time{}
	c.Error = ""
	return c
}

// Complete returns a copy moved to completed with the given result.
func (s ExecutionStep) Complete(result any, now time.Time) ExecutionStep {
	c := s.record(now, OutcomeCompleted, "")
	c.Status = StatusCompleted
	c.Result = result
	c.Error = ""
	c.EndedAt = now
	c.CompletionPercentage = 100
	return c
}

// Fail returns a copy moved to failed.
func (s ExecutionStep) Fail(err error, now time.Time) ExecutionStep {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	c := s.record(now, OutcomeFailed, msg)
	c.Status = StatusFailed
	c.Error = msg
	c.EndedAt = now
	return c
}

// TimeOut returns a copy moved to timed_out.
func (s ExecutionStep) TimeOut(now time.Time) ExecutionStep {
	msg := fmt.Sprintf("exceeded timeout %v", s.Timeout)
	c := s.record(now, OutcomeTimedOut, msg)
	c.Status = StatusTimedOut
	c.Error = msg
	c.EndedAt = now
	return c
}

// Requeue returns a copy back in pending with the retry count incremented.
// The step becomes eligible for dispatch at the given time.
func (s ExecutionStep) Requeue(at, now time.Time) ExecutionStep {
	c := s.record(now, OutcomeRetried, s.Error)
	c.Status = StatusPending
	c.RetryCount++
	c.QueuedAt = at
	c.StartedAt = time.Time{}
	c.EndedAt = time.Time{}
	return c
}

// Cancel returns a copy moved to cancelled.
func (s ExecutionStep) Cancel(reason string, now time.Time) ExecutionStep {
	c := s.record(now, OutcomeCancelled, reason)
	c.Status = StatusCancelled
	c.Error = reason
	c.EndedAt = now
	return c
}

// Block returns a copy moved to blocked.
func (s ExecutionStep) Block(reason string, now time.Time) ExecutionStep {
	c := s.record(now, OutcomeBlocked, reason)
	c.Status = StatusBlocked
	c.Error = reason
	c.EndedAt = now
	return c
}

// StubComplete returns a copy completed without dispatch.
func (s ExecutionStep) StubComplete(reason string, now time.Time) ExecutionStep {
	c := s.record(now, OutcomeStubbed, reason)
	c.Status = StatusCompleted
	c.Stub = true
	c.Result = nil
	c.Error = ""
	c.EndedAt = now
	c.CompletionPercentage = 100
	return c
}

// Elapsed returns how long the step has been running, or ran.
func (s ExecutionStep) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if !s.EndedAt.IsZero() {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// Deadline returns StartedAt + Timeout. ok is false when the step has not
// started or has no timeout.
func (s ExecutionStep) Deadline() (deadline time.Time, ok bool) {
	if s.StartedAt.IsZero() || s.Timeout <= 0 {
		return time.Time{}, false
	}
	return s.StartedAt.Add(s.Timeout), true
}

// DependsOn reports whether id is a direct dependency.
func (s ExecutionStep) DependsOn(id string) bool {
	return slices.Contains(s.Dependencies, id)
}

// RetriesLeft reports whether another retry is allowed.
func (s ExecutionStep) RetriesLeft() bool {
	return s.RetryCount < s.MaxRetries
}

// Settled reports whether the step ended unsuccessfully for good. A failed
// or timed-out step with retries left may still be requeued.
func (s ExecutionStep) Settled() bool {
	switch s.Status {
	case StatusFailed, StatusTimedOut:
		return !s.RetriesLeft()
	default:
		return s.Status.IsUnsuccessful()
	}
}
