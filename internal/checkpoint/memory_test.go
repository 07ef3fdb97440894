package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/conductor/internal/step"
)

func completedPlan(task string) *step.TaskPlan {
	a := step.New("design", "architect", "design it")
	a.Timeout = time.Minute
	b := step.New("build", "coder", "build it", "design")
	b.MaxRetries = 2
	b.ParallelGroup = "g1"

	plan := step.NewPlan(task, []step.ExecutionStep{a, b}, fixed)
	for i, s := range plan.Steps {
		plan.Steps[i] = s.Start(fixed).Complete("done", fixed)
	}
	return plan
}

func TestTaskKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Ship the Feature.", "ship the feature"},
		{"  ship   the\tfeature!? ", "ship the feature"},
		{"", ""},
		{"...", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, TaskKey(tt.in))
		})
	}
}

func TestMemoryRecordAndSuggest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(openStore(t))

	require.NoError(t, m.Record(ctx, completedPlan("Ship the feature")))

	steps, err := m.Suggest(ctx, "ship the   FEATURE!")
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, "design", steps[0].ID)
	assert.Equal(t, time.Minute, steps[0].Timeout)
	assert.Equal(t, []string{"design"}, steps[1].Dependencies)
	assert.Equal(t, 2, steps[1].MaxRetries)
	assert.Equal(t, "g1", steps[1].ParallelGroup)

	for _, s := range steps {
		assert.Equal(t, step.StatusPending, s.Status)
		assert.Nil(t, s.Result)
		assert.Empty(t, s.Attempts)
		assert.True(t, s.StartedAt.IsZero())
	}
}

func TestMemorySkipsIncompletePlans(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(openStore(t))

	plan := completedPlan("flaky task")
	plan.Steps[1] = plan.Steps[1].Fail(assert.AnError, fixed)
	require.NoError(t, m.Record(ctx, plan))

	steps, err := m.Suggest(ctx, "flaky task")
	require.NoError(t, err)
	assert.Nil(t, steps)
}

func TestMemoryDropsStubAndHandoffSteps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(openStore(t))

	review := step.New("handoff-01", "fixer", "fix the lint", "build")
	review.HandoffFrom = "build"
	plan := step.NewPlan("release", []step.ExecutionStep{
		step.New("plan", "planner", "break it down").StubComplete("planning role", fixed),
		step.New("design", "architect", "design it", "plan").Start(fixed).Complete("ok", fixed),
		step.New("build", "coder", "build it", "design", "plan").Start(fixed).Complete("ok", fixed),
		review.Start(fixed).Complete("ok", fixed),
	}, fixed)
	require.NoError(t, m.Record(ctx, plan))

	steps, err := m.Suggest(ctx, "release")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "design", steps[0].ID)
	assert.Empty(t, steps[0].Dependencies)
	assert.Equal(t, "build", steps[1].ID)
	assert.Equal(t, []string{"design"}, steps[1].Dependencies)
}

func TestMemorySkipsAllStubPlans(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(openStore(t))

	plan := step.NewPlan("simulated", []step.ExecutionStep{
		step.New("a", "coder", "one").StubComplete("worker not registered", fixed),
		step.New("b", "coder", "two", "a").StubComplete("worker not registered", fixed),
	}, fixed)
	require.NoError(t, m.Record(ctx, plan))

	steps, err := m.Suggest(ctx, "simulated")
	require.NoError(t, err)
	assert.Nil(t, steps)
}

func TestMemoryOverwritesSameTask(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(openStore(t))

	require.NoError(t, m.Record(ctx, completedPlan("refactor")))

	second := step.NewPlan("Refactor.", []step.ExecutionStep{step.New("only", "coder", "just do it")}, fixed)
	second.Steps[0] = second.Steps[0].Complete(nil, fixed)
	require.NoError(t, m.Record(ctx, second))

	steps, err := m.Suggest(ctx, "refactor")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "only", steps[0].ID)
}

func TestMemorySuggestUnknown(t *testing.T) {
	m := NewMemory(openStore(t))
	steps, err := m.Suggest(context.Background(), "never seen")
	require.NoError(t, err)
	assert.Nil(t, steps)
}

func TestMemoryRecordNilPlan(t *testing.T) {
	m := NewMemory(openStore(t))
	assert.NoError(t, m.Record(context.Background(), nil))
}
