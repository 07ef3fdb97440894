// Package scheduler decides which ready steps dispatch on a scheduling pass.
//
// Plan is pure: it reads a step snapshot and returns the transitions to
// merge. It never calls workers.
package scheduler

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/conductor/internal/resolver"
	"github.com/Iron-Ham/conductor/internal/router"
	"github.com/Iron-Ham/conductor/internal/step"
)

// Mode is the execution mode of a plan.
type Mode string

const (
	// ModeSequential keeps at most one step in progress.
	ModeSequential Mode = "sequential"
	// ModeParallel dispatches ready steps of one parallel group together.
	ModeParallel Mode = "parallel"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeSequential || m == ModeParallel
}

// Stub reasons recorded on the attempt trail.
const (
	ReasonUnregistered  = "worker not registered"
	ReasonPlanningRole  = "planning role is not executable"
	ReasonNonActionable = "task is not actionable"
)

// Input is one scheduling pass.
type Input struct {
	Steps []step.ExecutionStep
	Mode  Mode
	// IsRegistered reports whether a worker has real execution capability.
	// Nil means no worker is registered.
	IsRegistered func(worker string) bool
	PlanningRole string
	// Classifier optionally gates non-actionable tasks.
	Classifier router.Classifier
	// MaxParallel caps in-progress steps in parallel mode. Zero is unlimited.
	MaxParallel int
	Now         time.Time
}

// Decision is the outcome of a scheduling pass.
type Decision struct {
	// Dispatch holds steps already transitioned to in_progress.
	Dispatch []step.ExecutionStep
	// Stubbed holds steps completed without dispatch.
	Stubbed []step.ExecutionStep
	// Waiting is the earliest backoff wake-up among ready steps that are not
	// yet eligible. Zero when nothing is waiting.
	Waiting time.Time
}

// Empty reports whether the pass changed nothing.
func (d Decision) Empty() bool {
	return len(d.Dispatch) == 0 && len(d.Stubbed) == 0
}

// Updates returns every transition in the decision, stubs first.
func (d Decision) Updates() []step.ExecutionStep {
	out := make([]step.ExecutionStep, 0, len(d.Stubbed)+len(d.Dispatch))
	out = append(out, d.Stubbed...)
	return append(out, d.Dispatch...)
}

// Plan runs one scheduling pass.
func Plan(in Input) Decision {
	var d Decision

	var eligible []step.ExecutionStep
	for _, s := range resolver.Ready(in.Steps) {
		if s.QueuedAt.After(in.Now) {
			if d.Waiting.IsZero() || s.QueuedAt.Before(d.Waiting) {
				d.Waiting = s.QueuedAt
			}
			continue
		}
		eligible = append(eligible, s)
	}

	var runnable []step.ExecutionStep
	for _, s := range eligible {
		if reason := stubReason(in, s); reason != "" {
			d.Stubbed = append(d.Stubbed, s.StubComplete(reason, in.Now))
			continue
		}
		runnable = append(runnable, s)
	}

	var running []step.ExecutionStep
	for _, s := range in.Steps {
		if s.Status == step.StatusInProgress {
			running = append(running, s)
		}
	}

	switch in.Mode {
	case ModeParallel:
		d.Dispatch = planParallel(in, runnable, running)
	default:
		if len(running) == 0 && len(runnable) > 0 {
			d.Dispatch = []step.ExecutionStep{runnable[0].Start(in.Now)}
		}
	}
	return d
}

func planParallel(in Input, runnable, running []step.ExecutionStep) []step.ExecutionStep {
	if len(runnable) == 0 {
		return nil
	}

	var group string
	switch {
	case len(running) > 0:
		group = running[0].ParallelGroup
		if group == "" {
			return nil
		}
		for _, r := range running[1:] {
			if r.ParallelGroup != group {
				return nil
			}
		}
	default:
		group = runnable[0].ParallelGroup
		if group == "" {
			return []step.ExecutionStep{runnable[0].Start(in.Now)}
		}
	}

	capacity := -1
	if in.MaxParallel > 0 {
		capacity = in.MaxParallel - len(running)
		if capacity <= 0 {
			return nil
		}
	}

	var out []step.ExecutionStep
	for _, s := range runnable {
		if s.ParallelGroup != group {
			continue
		}
		if capacity >= 0 && len(out) >= capacity {
			break
		}
		out = append(out, s.Start(in.Now))
	}
	return out
}

func stubReason(in Input, s step.ExecutionStep) string {
	if in.PlanningRole != "" && s.Worker == in.PlanningRole {
		return ReasonPlanningRole
	}
	if in.IsRegistered == nil || !in.IsRegistered(s.Worker) {
		return fmt.Sprintf("%s: %s", ReasonUnregistered, s.Worker)
	}
	if in.Classifier != nil {
		if sig := in.Classifier.Classify(s.Task); !sig.IsActionable {
			return fmt.Sprintf("%s (%s)", ReasonNonActionable, sig.Category)
		}
	}
	return ""
}
