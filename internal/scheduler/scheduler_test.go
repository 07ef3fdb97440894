package scheduler

import (
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/conductor/internal/router"
	"github.com/Iron-Ham/conductor/internal/step"
)

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func registered(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(w string) bool { return set[w] }
}

func dispatchedIDs(d Decision) []string {
	var ids []string
	for _, s := range d.Dispatch {
		ids = append(ids, s.ID)
	}
	return ids
}

func grouped(id, worker, group string, deps ...string) step.ExecutionStep {
	s := step.New(id, worker, "task "+id, deps...)
	s.ParallelGroup = group
	return s
}

// Architect first, codesmith only after architect completes.
func TestPlan_SequentialDependencyOrder(t *testing.T) {
	steps := []step.ExecutionStep{
		step.New("architect", "architect", "design"),
		step.New("codesmith", "codesmith", "build", "architect"),
	}
	in := Input{Steps: steps, Mode: ModeSequential, IsRegistered: registered("architect", "codesmith"), Now: now}

	d := Plan(in)
	if got := dispatchedIDs(d); len(got) != 1 || got[0] != "architect" {
		t.Fatalf("first pass dispatched %v, want [architect]", got)
	}
	if d.Dispatch[0].Status != step.StatusInProgress {
		t.Errorf("dispatched status = %v, want in_progress", d.Dispatch[0].Status)
	}

	in.Steps = step.Merge(steps, d.Dispatch)
	if d := Plan(in); !d.Empty() {
		t.Fatalf("pass with architect running dispatched %v", dispatchedIDs(d))
	}

	in.Steps = step.Merge(in.Steps, []step.ExecutionStep{d.Dispatch[0].Complete("schema", now)})
	d = Plan(in)
	if got := dispatchedIDs(d); len(got) != 1 || got[0] != "codesmith" {
		t.Fatalf("after completion dispatched %v, want [codesmith]", got)
	}
}

func TestPlan_SequentialOneAtATime(t *testing.T) {
	steps := []step.ExecutionStep{
		step.New("a", "w", "t"),
		step.New("b", "w", "t"),
	}
	d := Plan(Input{Steps: steps, Mode: ModeSequential, IsRegistered: registered("w"), Now: now})
	if got := dispatchedIDs(d); len(got) != 1 || got[0] != "a" {
		t.Errorf("dispatched %v, want [a]", got)
	}
}

// Two steps in the same group dispatch in the same pass.
func TestPlan_ParallelGroupDispatchesTogether(t *testing.T) {
	steps := []step.ExecutionStep{
		grouped("x", "codesmith", "g1"),
		grouped("y", "tester", "g1"),
		grouped("z", "scribe", "g2"),
	}
	d := Plan(Input{Steps: steps, Mode: ModeParallel, IsRegistered: registered("codesmith", "tester", "scribe"), Now: now})

	got := dispatchedIDs(d)
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Fatalf("dispatched %v, want [x y]", got)
	}
	for _, s := range d.Dispatch {
		if s.Status != step.StatusInProgress {
			t.Errorf("%s status = %v, want in_progress", s.ID, s.Status)
		}
	}
}

func TestPlan_ParallelRunningGroup(t *testing.T) {
	steps := []step.ExecutionStep{
		grouped("x", "w", "g1").Start(now),
		grouped("z", "w", "g2"),
		grouped("y", "w", "g1"),
	}
	reg := registered("w")

	d := Plan(Input{Steps: steps, Mode: ModeParallel, IsRegistered: reg, Now: now})
	if got := dispatchedIDs(d); len(got) != 1 || got[0] != "y" {
		t.Errorf("dispatched %v, want [y] joining running g1", got)
	}

	ungrouped := []step.ExecutionStep{
		step.New("solo", "w", "t").Start(now),
		grouped("y", "w", "g1"),
	}
	if d := Plan(Input{Steps: ungrouped, Mode: ModeParallel, IsRegistered: reg, Now: now}); len(d.Dispatch) != 0 {
		t.Errorf("dispatched %v while an ungrouped step runs", dispatchedIDs(d))
	}
}

func TestPlan_ParallelMaxParallel(t *testing.T) {
	steps := []step.ExecutionStep{
		grouped("a", "w", "g"),
		grouped("b", "w", "g"),
		grouped("c", "w", "g"),
	}
	d := Plan(Input{Steps: steps, Mode: ModeParallel, IsRegistered: registered("w"), MaxParallel: 2, Now: now})
	if got := dispatchedIDs(d); len(got) != 2 {
		t.Errorf("dispatched %v, want 2 steps", got)
	}
}

func TestPlan_StubsUnregisteredWorkers(t *testing.T) {
	steps := []step.ExecutionStep{
		step.New("a", "ghost", "haunt"),
		step.New("b", "codesmith", "build"),
	}
	d := Plan(Input{Steps: steps, Mode: ModeSequential, IsRegistered: registered("codesmith"), Now: now})

	if len(d.Stubbed) != 1 || d.Stubbed[0].ID != "a" {
		t.Fatalf("Stubbed = %v, want [a]", d.Stubbed)
	}
	s := d.Stubbed[0]
	if s.Status != step.StatusCompleted || !s.Stub {
		t.Errorf("stub = %+v, want completed stub", s)
	}
	if !strings.Contains(s.Attempts[len(s.Attempts)-1].Error, ReasonUnregistered) {
		t.Errorf("stub reason = %q", s.Attempts[len(s.Attempts)-1].Error)
	}
	if got := dispatchedIDs(d); len(got) != 1 || got[0] != "b" {
		t.Errorf("dispatched %v, want [b]", got)
	}
	if got := d.Updates(); len(got) != 2 || got[0].ID != "a" {
		t.Errorf("Updates() = %v", got)
	}
}

func TestPlan_NilRegistryStubsEverything(t *testing.T) {
	steps := []step.ExecutionStep{step.New("a", "codesmith", "build")}
	d := Plan(Input{Steps: steps, Mode: ModeSequential, Now: now})
	if len(d.Stubbed) != 1 || len(d.Dispatch) != 0 {
		t.Errorf("Plan() = %+v", d)
	}
}

func TestPlan_PlanningRoleNeverDispatched(t *testing.T) {
	steps := []step.ExecutionStep{step.New("p", "planner", "decompose")}
	d := Plan(Input{Steps: steps, Mode: ModeParallel, IsRegistered: registered("planner"), PlanningRole: "planner", Now: now})
	if len(d.Dispatch) != 0 || len(d.Stubbed) != 1 {
		t.Errorf("Plan() = %+v, want planning role stubbed", d)
	}
}

func TestPlan_ClassifierGatesSmallTalk(t *testing.T) {
	classifier, err := router.NewGlobClassifier()
	if err != nil {
		t.Fatal(err)
	}
	steps := []step.ExecutionStep{
		step.New("chat", "codesmith", "thanks!"),
		step.New("work", "codesmith", "implement the cache"),
	}
	d := Plan(Input{Steps: steps, Mode: ModeSequential, IsRegistered: registered("codesmith"), Classifier: classifier, Now: now})

	if len(d.Stubbed) != 1 || d.Stubbed[0].ID != "chat" {
		t.Errorf("Stubbed = %v, want [chat]", d.Stubbed)
	}
	if got := dispatchedIDs(d); len(got) != 1 || got[0] != "work" {
		t.Errorf("dispatched %v, want [work]", got)
	}
}

func TestPlan_BackoffWaiting(t *testing.T) {
	s := step.New("a", "w", "t")
	s.QueuedAt = now.Add(4 * time.Second)
	later := step.New("b", "w", "t")
	later.QueuedAt = now.Add(8 * time.Second)

	d := Plan(Input{Steps: []step.ExecutionStep{s, later}, Mode: ModeSequential, IsRegistered: registered("w"), Now: now})
	if !d.Empty() {
		t.Errorf("dispatched before backoff elapsed: %v", dispatchedIDs(d))
	}
	if !d.Waiting.Equal(now.Add(4 * time.Second)) {
		t.Errorf("Waiting = %v, want %v", d.Waiting, now.Add(4*time.Second))
	}

	d = Plan(Input{Steps: []step.ExecutionStep{s}, Mode: ModeSequential, IsRegistered: registered("w"), Now: now.Add(5 * time.Second)})
	if len(d.Dispatch) != 1 {
		t.Errorf("did not dispatch after backoff elapsed")
	}
}

func TestMode_Valid(t *testing.T) {
	if !ModeSequential.Valid() || !ModeParallel.Valid() || Mode("swarm").Valid() {
		t.Error("Mode.Valid() mismatch")
	}
}
