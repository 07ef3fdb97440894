// Package planfile reads and writes task plans as YAML.
//
// A plan file lists the task, optional completion criteria and the steps:
//
//	task: ship the login page
//	completion_criteria: [tests pass]
//	steps:
//	  - id: design
//	    worker: architect
//	    task: design the login flow
//	  - id: build
//	    worker: coder
//	    task: implement the login page
//	    depends_on: [design]
//	    timeout: 5m
//	    max_retries: 2
//
// The steps may also be nested under a top-level "plan" key.
package planfile

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/conductor/internal/step"
)

type fileStep struct {
	ID             string        `yaml:"id"`
	Worker         string        `yaml:"worker"`
	Task           string        `yaml:"task"`
	ExpectedOutput string        `yaml:"expected_output,omitempty"`
	DependsOn      []string      `yaml:"depends_on,omitempty"`
	Depends        []string      `yaml:"depends,omitempty"` // alias
	Status         step.Status   `yaml:"status,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	MaxRetries     *int          `yaml:"max_retries,omitempty"`
	BackoffBase    time.Duration `yaml:"backoff_base,omitempty"`
	ParallelGroup  string        `yaml:"parallel_group,omitempty"`
}

type fileContent struct {
	ID                 string        `yaml:"id,omitempty"`
	Task               string        `yaml:"task"`
	CompletionCriteria []string      `yaml:"completion_criteria,omitempty"`
	EstimatedDuration  time.Duration `yaml:"estimated_duration,omitempty"`
	Steps              []fileStep    `yaml:"steps"`
}

// Parse decodes a plan. Steps without a status start pending; a plan
// without an id gets a fresh one.
func Parse(data []byte, now time.Time) (*step.TaskPlan, error) {
	var fc fileContent
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse plan file: %w", err)
	}

	if len(fc.Steps) == 0 {
		var wrapped struct {
			Plan fileContent `yaml:"plan"`
		}
		if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.Plan.Steps) > 0 {
			fc = wrapped.Plan
		}
	}

	if len(fc.Steps) == 0 {
		return nil, fmt.Errorf("plan contains no steps")
	}

	steps := make([]step.ExecutionStep, len(fc.Steps))
	for i, fs := range fc.Steps {
		if fs.ID == "" {
			return nil, fmt.Errorf("step %d: missing id", i+1)
		}
		deps := fs.DependsOn
		if len(deps) == 0 {
			deps = fs.Depends
		}

		st := step.New(fs.ID, fs.Worker, fs.Task, deps...)
		if fs.Status != "" {
			if !fs.Status.Valid() {
				return nil, fmt.Errorf("step %s: unknown status %q", fs.ID, fs.Status)
			}
			st.Status = fs.Status
		}
		st.ExpectedOutput = fs.ExpectedOutput
		st.Timeout = fs.Timeout
		if fs.MaxRetries != nil {
			if *fs.MaxRetries < 0 {
				return nil, fmt.Errorf("step %s: max_retries must not be negative", fs.ID)
			}
			st = st.WithMaxRetries(*fs.MaxRetries)
		}
		st.BackoffBase = fs.BackoffBase
		st.ParallelGroup = fs.ParallelGroup
		steps[i] = st
	}

	plan := step.NewPlan(fc.Task, steps, now)
	if fc.ID != "" {
		plan.ID = fc.ID
	}
	plan.CompletionCriteria = fc.CompletionCriteria
	plan.EstimatedDuration = fc.EstimatedDuration
	return plan, nil
}

// Load reads and parses a plan file.
func Load(path string) (*step.TaskPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return Parse(data, time.Now())
}

// Marshal encodes the step definitions of plan in the file format.
// Runtime fields other than status are not written.
func Marshal(plan *step.TaskPlan) ([]byte, error) {
	fc := fileContent{
		ID:                 plan.ID,
		Task:               plan.Task,
		CompletionCriteria: plan.CompletionCriteria,
		EstimatedDuration:  plan.EstimatedDuration,
		Steps:              make([]fileStep, len(plan.Steps)),
	}
	for i, s := range plan.Steps {
		var maxRetries *int
		if s.RetryLimitSet || s.MaxRetries > 0 {
			n := s.MaxRetries
			maxRetries = &n
		}
		fc.Steps[i] = fileStep{
			ID:             s.ID,
			Worker:         s.Worker,
			Task:           s.Task,
			ExpectedOutput: s.ExpectedOutput,
			DependsOn:      s.Dependencies,
			Status:         s.Status,
			Timeout:        s.Timeout,
			MaxRetries:     maxRetries,
			BackoffBase:    s.BackoffBase,
			ParallelGroup:  s.ParallelGroup,
		}
	}
	return yaml.Marshal(fc)
}

// Save writes plan to path.
func Save(path string, plan *step.TaskPlan) error {
	data, err := Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}
