// Package ledger computes read-only progress snapshots of a plan.
//
// A snapshot is a pure function of the plan and a point in time. The engine
// recomputes it after every merge; nothing writes to it independently.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/conductor/internal/step"
)

// Phase is the coarse state of a plan.
type Phase string

const (
	PhasePlanning  Phase = "planning"
	PhaseExecuting Phase = "executing"
	PhaseBlocked   Phase = "blocked"
	PhaseComplete  Phase = "complete"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// Metric names in Snapshot.Metrics.
const (
	MetricAttemptsTotal    = "attempts_total"
	MetricRetriesTotal     = "retries_total"
	MetricStubbed          = "stubbed"
	MetricElapsedSeconds   = "elapsed_seconds"
	MetricThroughputPerMin = "throughput_per_min"
)

// Options tune bottleneck detection.
type Options struct {
	// BottleneckRatio is the wait / expected-duration ratio at which a step
	// is reported as a bottleneck.
	BottleneckRatio float64 `mapstructure:"bottleneck_ratio"`
	// DefaultExpected is used when neither the plan estimate nor the step
	// timeout gives an expected duration.
	DefaultExpected time.Duration `mapstructure:"default_expected"`
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{BottleneckRatio: 1.5, DefaultExpected: 5 * time.Minute}
}

// Bottleneck is a step waiting or running longer than expected.
type Bottleneck struct {
	StepID   string        `json:"step_id"`
	Worker   string        `json:"worker"`
	Status   step.Status   `json:"status"`
	Waited   time.Duration `json:"waited"`
	Expected time.Duration `json:"expected"`
	Ratio    float64       `json:"ratio"`
}

// Snapshot is the aggregated progress of a plan.
type Snapshot struct {
	PlanID      string              `json:"plan_id"`
	Counts      map[step.Status]int `json:"counts"`
	Total       int                 `json:"total"`
	Phase       Phase               `json:"phase"`
	Percent     float64             `json:"percent"`
	Bottlenecks []Bottleneck        `json:"bottlenecks,omitempty"`
	Metrics     map[string]float64  `json:"metrics"`
	At          time.Time           `json:"at"`
}

// Compute aggregates plan at now.
func Compute(plan *step.TaskPlan, now time.Time, opts Options) Snapshot {
	snap := Snapshot{
		PlanID:  plan.ID,
		Counts:  make(map[step.Status]int, len(step.Statuses)),
		Total:   len(plan.Steps),
		Metrics: make(map[string]float64),
		At:      now,
	}
	for _, st := range step.Statuses {
		snap.Counts[st] = 0
	}

	var attempts, retries, stubbed int
	for _, s := range plan.Steps {
		snap.Counts[s.Status]++
		attempts += len(s.Attempts)
		retries += s.RetryCount
		if s.Stub {
			stubbed++
		}
	}

	if snap.Total > 0 {
		snap.Percent = float64(snap.Counts[step.StatusCompleted]) / float64(snap.Total) * 100
	}
	snap.Phase = phaseOf(snap)
	snap.Bottlenecks = bottlenecks(plan, now, opts)

	elapsed := 0.0
	if !plan.CreatedAt.IsZero() && now.After(plan.CreatedAt) {
		elapsed = now.Sub(plan.CreatedAt).Seconds()
	}
	snap.Metrics[MetricAttemptsTotal] = float64(attempts)
	snap.Metrics[MetricRetriesTotal] = float64(retries)
	snap.Metrics[MetricStubbed] = float64(stubbed)
	snap.Metrics[MetricElapsedSeconds] = elapsed
	if elapsed > 0 {
		snap.Metrics[MetricThroughputPerMin] = float64(snap.Counts[step.StatusCompleted]) / (elapsed / 60)
	} else {
		snap.Metrics[MetricThroughputPerMin] = 0
	}
	return snap
}

func phaseOf(s Snapshot) Phase {
	c := s.Counts
	active := c[step.StatusPending] + c[step.StatusInProgress]
	switch {
	case s.Total == 0:
		return PhasePlanning
	case active == 0 && c[step.StatusCompleted] == s.Total:
		return PhaseComplete
	case active == 0 && c[step.StatusCancelled] > 0:
		return PhaseCancelled
	case active == 0:
		return PhaseFailed
	case c[step.StatusInProgress] == 0 && c[step.StatusCompleted] == 0 && c[step.StatusFailed]+c[step.StatusTimedOut]+c[step.StatusBlocked] == 0:
		return PhasePlanning
	case c[step.StatusInProgress] == 0 && c[step.StatusBlocked] > 0:
		return PhaseBlocked
	default:
		return PhaseExecuting
	}
}

func expectedDuration(plan *step.TaskPlan, s step.ExecutionStep, opts Options) time.Duration {
	if plan.EstimatedDuration > 0 && len(plan.Steps) > 0 {
		return plan.EstimatedDuration / time.Duration(len(plan.Steps))
	}
	if s.Timeout > 0 {
		return s.Timeout
	}
	if opts.DefaultExpected > 0 {
		return opts.DefaultExpected
	}
	return DefaultOptions().DefaultExpected
}

func bottlenecks(plan *step.TaskPlan, now time.Time, opts Options) []Bottleneck {
	ratio := opts.BottleneckRatio
	if ratio <= 0 {
		ratio = DefaultOptions().BottleneckRatio
	}

	var out []Bottleneck
	for _, s := range plan.Steps {
		var since time.Time
		switch s.Status {
		case step.StatusInProgress:
			since = s.StartedAt
		case step.StatusPending:
			since = s.QueuedAt
			if since.IsZero() {
				since = plan.CreatedAt
			}
		default:
			continue
		}
		if since.IsZero() || !now.After(since) {
			continue
		}
		waited := now.Sub(since)
		expected := expectedDuration(plan, s, opts)
		r := float64(waited) / float64(expected)
		if r >= ratio {
			out = append(out, Bottleneck{
				StepID:   s.ID,
				Worker:   s.Worker,
				Status:   s.Status,
				Waited:   waited,
				Expected: expected,
				Ratio:    r,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ratio > out[j].Ratio })
	return out
}

// CountsByName returns counts keyed by status string.
func (s Snapshot) CountsByName() map[string]int {
	out := make(map[string]int, len(s.Counts))
	for st, n := range s.Counts {
		out[string(st)] = n
	}
	return out
}

// BottleneckIDs returns the ids of bottleneck steps, worst first.
func (s Snapshot) BottleneckIDs() []string {
	ids := make([]string, len(s.Bottlenecks))
	for i, b := range s.Bottlenecks {
		ids[i] = b.StepID
	}
	return ids
}

// Summary renders the snapshot as the plan's progress summary text.
func Summary(s Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d/%d completed (%.0f%%)", s.Phase, s.Counts[step.StatusCompleted], s.Total, s.Percent)

	var parts []string
	for _, st := range step.Statuses {
		if st == step.StatusCompleted || s.Counts[st] == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s", s.Counts[st], st))
	}
	if len(parts) > 0 {
		fmt.Fprintf(&sb, "; %s", strings.Join(parts, ", "))
	}
	if n := len(s.Bottlenecks); n > 0 {
		fmt.Fprintf(&sb, "; bottlenecks: %s", strings.Join(s.BottleneckIDs(), ", "))
	}
	return sb.String()
}
