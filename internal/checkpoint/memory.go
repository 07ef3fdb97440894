package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Iron-Ham/conductor/internal/step"
)

// Memory remembers the step lists of fully completed plans, keyed by their
// normalized task text.
type Memory struct {
	store *Store
}

// NewMemory returns a plan memory backed by store.
func NewMemory(store *Store) *Memory {
	return &Memory{store: store}
}

// TaskKey normalizes task text for lookup: lower case, single spaces, no
// trailing punctuation.
func TaskKey(task string) string {
	key := strings.Join(strings.Fields(strings.ToLower(task)), " ")
	return strings.TrimRight(key, ".!?,;: ")
}

// Record stores the plan's step definitions if every step completed.
// Runtime fields (status, results, attempts) are not kept, and neither are
// stub-completed or handoff-generated steps: a dependency on a dropped step
// is replaced by that step's own dependencies. A plan with nothing left to
// reuse is not recorded.
func (m *Memory) Record(ctx context.Context, plan *step.TaskPlan) error {
	if plan == nil || len(plan.Steps) == 0 {
		return nil
	}
	for _, s := range plan.Steps {
		if s.Status != step.StatusCompleted {
			return nil
		}
	}
	key := TaskKey(plan.Task)
	if key == "" {
		return nil
	}

	defs := reusable(plan.Steps)
	if len(defs) == 0 {
		return nil
	}
	data, err := json.Marshal(defs)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	_, err = m.store.db.ExecContext(ctx, `
		INSERT INTO memory (task_key, task, plan_id, steps_json, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_key) DO UPDATE SET
			task = excluded.task,
			plan_id = excluded.plan_id,
			steps_json = excluded.steps_json,
			recorded_at = excluded.recorded_at
	`, key, plan.Task, plan.ID, string(data), m.store.now())
	if err != nil {
		return fmt.Errorf("record plan %s: %w", plan.ID, err)
	}
	return nil
}

// Suggest returns pending copies of the steps recorded for task, or nil if
// nothing was recorded.
func (m *Memory) Suggest(ctx context.Context, task string) ([]step.ExecutionStep, error) {
	var data string
	err := m.store.db.QueryRowContext(ctx, `
		SELECT steps_json FROM memory WHERE task_key = ?
	`, TaskKey(task)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("suggest plan: %w", err)
	}

	var steps []step.ExecutionStep
	if err := json.Unmarshal([]byte(data), &steps); err != nil {
		return nil, fmt.Errorf("decode suggested steps: %w", err)
	}
	for i := range steps {
		steps[i].Status = step.StatusPending
	}
	return steps, nil
}

func reusable(steps []step.ExecutionStep) []step.ExecutionStep {
	byID := make(map[string]step.ExecutionStep, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}
	dropped := func(s step.ExecutionStep) bool {
		return s.Stub || s.HandoffFrom != ""
	}

	var resolve func(ids []string, seen map[string]bool) []string
	resolve = func(ids []string, seen map[string]bool) []string {
		var out []string
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			d, ok := byID[id]
			switch {
			case !ok:
			case dropped(d):
				out = append(out, resolve(d.Dependencies, seen)...)
			default:
				out = append(out, id)
			}
		}
		return out
	}

	var defs []step.ExecutionStep
	for _, s := range steps {
		if dropped(s) {
			continue
		}
		d := definition(s)
		d.Dependencies = resolve(s.Dependencies, map[string]bool{})
		defs = append(defs, d)
	}
	return defs
}

func definition(s step.ExecutionStep) step.ExecutionStep {
	d := step.New(s.ID, s.Worker, s.Task)
	d.ExpectedOutput = s.ExpectedOutput
	d.Timeout = s.Timeout
	d.MaxRetries = s.MaxRetries
	d.RetryLimitSet = s.RetryLimitSet
	d.BackoffBase = s.BackoffBase
	d.ParallelGroup = s.ParallelGroup
	return d
}
