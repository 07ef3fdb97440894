// Package internal contains integration tests that verify the packages work
// together: a plan loaded from YAML runs through the engine with a real
// checkpoint store, plan memory and event bus.
package internal

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/conductor/internal/checkpoint"
	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/engine"
	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/ledger"
	"github.com/Iron-Ham/conductor/internal/planfile"
	"github.com/Iron-Ham/conductor/internal/step"
	"github.com/Iron-Ham/conductor/internal/worker"
)

const releasePlan = `
task: Release version 2
steps:
  - {id: plan, worker: planner, task: break the release into steps}
  - {id: api, worker: coder, task: implement the api changes, depends_on: [plan]}
  - {id: ui, worker: coder, task: implement the ui changes, depends_on: [plan], parallel_group: impl}
  - {id: docs, worker: writer, task: write the release notes, depends_on: [plan], parallel_group: impl}
  - {id: verify, worker: tester, task: run the release tests, depends_on: [api, ui, docs], max_retries: 2}
`

func echo(name string) worker.Func {
	return worker.Func{
		WorkerName: name,
		ExecuteFn: func(ctx context.Context, s step.ExecutionStep) (worker.Result, error) {
			return worker.Result{Output: s.ID + " by " + name}, nil
		},
	}
}

// TestPlanFileToCheckpoint runs a parallel plan end to end and checks that
// the checkpoint store holds exactly the final step list.
func TestPlanFileToCheckpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	plan, err := planfile.Parse([]byte(releasePlan), time.Now())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	store, err := checkpoint.Open(filepath.Join(t.TempDir(), "conductor.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = store.Close() }()
	if err := store.SavePlan(ctx, plan); err != nil {
		t.Fatalf("SavePlan() error = %v", err)
	}

	// The tester fails once before succeeding.
	var (
		mu       sync.Mutex
		attempts int
	)
	flaky := worker.Func{
		WorkerName: "tester",
		ExecuteFn: func(ctx context.Context, s step.ExecutionStep) (worker.Result, error) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return worker.Result{}, errors.New("flaky test run")
			}
			return worker.Result{Output: "green"}, nil
		},
	}
	registry, err := worker.NewRegistry(echo("coder"), echo("writer"), flaky)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	cfg := config.Default()
	cfg.Execution.Mode = "parallel"
	cfg.Execution.BackoffBase = time.Millisecond
	cfg.Execution.MaxBackoff = 5 * time.Millisecond

	bus := event.NewBus(nil)
	rec := event.NewRecorder(bus)
	memory := checkpoint.NewMemory(store)

	e, err := engine.New(cfg, registry,
		engine.WithBus(bus),
		engine.WithCheckpointer(store),
		engine.WithMemory(memory))
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}

	result, err := e.Run(ctx, plan)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, s := range result.Steps {
		if s.Status != step.StatusCompleted {
			t.Errorf("step %s status = %q, want completed", s.ID, s.Status)
		}
	}
	if got, _ := result.Lookup("plan"); !got.Stub {
		t.Error("planning-role step was dispatched, want stub completion")
	}
	if got, _ := result.Lookup("verify"); got.RetryCount != 1 {
		t.Errorf("verify RetryCount = %d, want 1", got.RetryCount)
	}

	stored, err := store.LoadSteps(ctx, plan.ID)
	if err != nil {
		t.Fatalf("LoadSteps() error = %v", err)
	}
	ids := make([]string, len(stored))
	for i, s := range stored {
		ids[i] = s.ID
		if s.Status != step.StatusCompleted {
			t.Errorf("stored step %s status = %q, want completed", s.ID, s.Status)
		}
	}
	if !reflect.DeepEqual(ids, result.IDs()) {
		t.Errorf("stored order = %v, want %v", ids, result.IDs())
	}

	snap := ledger.Compute(result, time.Now(), cfg.Ledger)
	if snap.Phase != ledger.PhaseComplete {
		t.Errorf("Phase = %q, want complete", snap.Phase)
	}

	var finished bool
	for _, ev := range rec.Events() {
		if ev.EventType() == event.TypePlanFinished {
			finished = true
		}
	}
	if !finished {
		t.Error("no plan.finished event recorded")
	}

	// The stub-completed planning step is not remembered; its dependents
	// lose the dependency on it.
	suggested := e.SuggestPlan(ctx, "release version 2.")
	var suggestedIDs []string
	for _, s := range suggested {
		suggestedIDs = append(suggestedIDs, s.ID)
		if s.Status != step.StatusPending {
			t.Errorf("suggested step %s status = %q, want pending", s.ID, s.Status)
		}
		if s.DependsOn("plan") {
			t.Errorf("suggested step %s still depends on the stubbed plan step", s.ID)
		}
	}
	if want := []string{"api", "ui", "docs", "verify"}; !reflect.DeepEqual(suggestedIDs, want) {
		t.Errorf("SuggestPlan() ids = %v, want %v", suggestedIDs, want)
	}
}

// TestCheckpointResume reloads a partially finished plan and completes the
// remaining steps without re-running finished ones.
func TestCheckpointResume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := checkpoint.Open(filepath.Join(t.TempDir(), "conductor.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	now := time.Now()
	plan := step.NewPlan("resume", []step.ExecutionStep{
		step.New("a", "coder", "first").Start(now).Complete("kept", now),
		step.New("b", "coder", "second", "a").Start(now),
	}, now)
	if err := store.SavePlan(ctx, plan); err != nil {
		t.Fatalf("SavePlan() error = %v", err)
	}

	loaded, err := store.LoadPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("LoadPlan() error = %v", err)
	}

	var (
		mu   sync.Mutex
		runs []string
	)
	coder := worker.Func{
		WorkerName: "coder",
		ExecuteFn: func(ctx context.Context, s step.ExecutionStep) (worker.Result, error) {
			mu.Lock()
			runs = append(runs, s.ID)
			mu.Unlock()
			return worker.Result{Output: "new"}, nil
		},
	}
	registry, err := worker.NewRegistry(coder)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	e, err := engine.New(config.Default(), registry, engine.WithCheckpointer(store))
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	result, err := e.Run(ctx, loaded)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !reflect.DeepEqual(runs, []string{"b"}) {
		t.Errorf("dispatched %v, want only [b]", runs)
	}
	if a, _ := result.Lookup("a"); a.Result != "kept" {
		t.Errorf("step a result = %v, want kept", a.Result)
	}
	if !result.Done() {
		t.Error("resumed plan not done")
	}
}
