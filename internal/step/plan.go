package step

import (
	"time"

	"github.com/google/uuid"
)

// TaskPlan is the ordered collection of steps for one task plus metadata.
type TaskPlan struct {
	ID                 string          `json:"id" yaml:"id"`
	Task               string          `json:"task" yaml:"task"`
	Steps              []ExecutionStep `json:"steps" yaml:"steps"`
	CompletionCriteria []string        `json:"completion_criteria,omitempty" yaml:"completion_criteria,omitempty"`
	ProgressSummary    string          `json:"progress_summary,omitempty" yaml:"-"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`

	EstimatedDuration time.Duration `json:"estimated_duration,omitempty" yaml:"estimated_duration,omitempty"`
	ActualDuration    time.Duration `json:"actual_duration,omitempty" yaml:"-"`
}

// NewPlan creates a plan with a fresh ID. Step inputs are copied.
func NewPlan(task string, steps []ExecutionStep, now time.Time) *TaskPlan {
	return &TaskPlan{
		ID:        uuid.New().String(),
		Task:      task,
		Steps:     Merge(nil, steps),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the plan.
func (p *TaskPlan) Clone() *TaskPlan {
	c := *p
	c.Steps = Merge(p.Steps, nil)
	c.CompletionCriteria = append([]string(nil), p.CompletionCriteria...)
	return &c
}

// Apply returns a new plan with updates merged into its steps.
func (p *TaskPlan) Apply(now time.Time, updates ...ExecutionStep) *TaskPlan {
	c := p.Clone()
	c.Steps = Merge(p.Steps, updates)
	c.UpdatedAt = now
	return c
}

// Lookup returns the step with the given id.
func (p *TaskPlan) Lookup(id string) (ExecutionStep, bool) {
	if i := p.Index(id); i >= 0 {
		return p.Steps[i].Clone(), true
	}
	return ExecutionStep{}, false
}

// Index returns the position of id in the plan, or -1.
func (p *TaskPlan) Index(id string) int {
	for i, s := range p.Steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// IDs returns step ids in plan order.
func (p *TaskPlan) IDs() []string {
	ids := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.ID
	}
	return ids
}

// Done reports whether every step is terminal.
func (p *TaskPlan) Done() bool {
	for _, s := range p.Steps {
		if !s.Status.IsTerminal() {
			return false
		}
	}
	return true
}
