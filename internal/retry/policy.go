// Package retry decides whether a failed or timed-out step is requeued and
// when it becomes eligible again.
//
// Retry state lives on the step itself (RetryCount, MaxRetries, BackoffBase),
// so the policy is stateless and every decision is expressed as a new step
// value for the merge reducer.
package retry

import (
	"math"
	"time"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/step"
)

// Policy holds the plan-wide retry defaults.
type Policy struct {
	// MaxRetries applies to steps that did not choose their own limit.
	MaxRetries int
	// BackoffBase applies to steps whose own BackoffBase is zero.
	BackoffBase time.Duration
	// MaxBackoff caps a single delay. Zero means uncapped.
	MaxBackoff time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  2,
		BackoffBase: time.Second,
		MaxBackoff:  5 * time.Minute,
	}
}

// Backoff returns base * 2^retryCount, capped at max when max > 0.
func Backoff(base time.Duration, retryCount int, max time.Duration) time.Duration {
	if base <= 0 || retryCount < 0 {
		return 0
	}
	d := float64(base) * math.Pow(2, float64(retryCount))
	if max > 0 && d > float64(max) {
		return max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Defaults fills retry fields the step left unset. MaxRetries is filled
// only when the plan did not choose a limit, so an explicit zero stays zero.
func (p Policy) Defaults(s step.ExecutionStep) step.ExecutionStep {
	c := s.Clone()
	if !c.RetryLimitSet && c.MaxRetries == 0 && c.RetryCount == 0 {
		c.MaxRetries = p.MaxRetries
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = p.BackoffBase
	}
	return c
}

// Decision is the outcome of applying the policy to a step.
type Decision struct {
	// Step is the updated step to merge.
	Step step.ExecutionStep
	// Retry is true when the step went back to pending.
	Retry bool
	// Delay is the backoff applied when Retry is true.
	Delay time.Duration
}

// Apply takes a step that just ended with failed or timed_out status and
// either requeues it with exponential backoff or leaves it terminal.
// Errors that are not retryable are never requeued.
func (p Policy) Apply(s step.ExecutionStep, cause error, now time.Time) Decision {
	if s.Status != step.StatusFailed && s.Status != step.StatusTimedOut {
		return Decision{Step: s}
	}
	if cause != nil && !errors.IsRetryable(cause) {
		return Decision{Step: s}
	}
	if !s.RetriesLeft() {
		return Decision{Step: s}
	}

	base := s.BackoffBase
	if base == 0 {
		base = p.BackoffBase
	}
	delay := Backoff(base, s.RetryCount, p.MaxBackoff)
	return Decision{
		Step:  s.Requeue(now.Add(delay), now),
		Retry: true,
		Delay: delay,
	}
}
