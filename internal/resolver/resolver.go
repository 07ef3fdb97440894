// Package resolver computes dependency readiness for a step list and rejects
// plans whose dependency graph cannot complete.
package resolver

import (
	"slices"
	"sort"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/step"
)

// Ready returns the pending steps whose dependencies are all completed, in
// plan order.
func Ready(steps []step.ExecutionStep) []step.ExecutionStep {
	status := statusIndex(steps)

	var ready []step.ExecutionStep
	for _, s := range steps {
		if isClaimable(s, status) {
			ready = append(ready, s.Clone())
		}
	}
	return ready
}

// isClaimable returns true if the step is pending and every dependency is
// completed. An unknown dependency is never satisfied.
func isClaimable(s step.ExecutionStep, status map[string]step.Status) bool {
	if s.Status != step.StatusPending {
		return false
	}
	for _, dep := range s.Dependencies {
		if st, ok := status[dep]; !ok || st != step.StatusCompleted {
			return false
		}
	}
	return true
}

// Check validates the dependency graph. It returns a *errors.PlanningError
// for an empty plan, duplicate ids, self dependencies, dependency ids that
// are not in the plan, and cycles. A nil error means the graph can be
// scheduled.
func Check(steps []step.ExecutionStep) error {
	if len(steps) == 0 {
		return errors.NewPlanningError(errors.ErrEmptyPlan, "")
	}

	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if seen[s.ID] {
			return errors.NewPlanningError(errors.ErrDuplicateStep, s.ID, s.ID)
		}
		seen[s.ID] = true
	}

	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if dep == s.ID {
				return errors.NewPlanningError(errors.ErrSelfDependency, dep, s.ID)
			}
			if !seen[dep] {
				return errors.NewPlanningError(errors.ErrMissingDependency, dep, s.ID)
			}
		}
	}

	if cycle := DetectCycle(steps); cycle != nil {
		return errors.NewCycleError(cycle)
	}
	return nil
}

// DetectCycle returns the first dependency cycle found, as a path that
// repeats its first id at the end (a -> b -> c -> a), or nil. Traversal
// starts from each step in plan order so the result is deterministic.
func DetectCycle(steps []step.ExecutionStep) []string {
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.ID] = s.Dependencies
	}

	visited := make(map[string]bool, len(steps))
	onStack := make(map[string]bool, len(steps))
	var stack []string

	var dfs func(id string) []string
	dfs = func(id string) []string {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, dep := range deps[id] {
			if _, known := deps[dep]; !known {
				continue
			}
			if onStack[dep] {
				start := slices.Index(stack, dep)
				cycle := slices.Clone(stack[start:])
				return append(cycle, dep)
			}
			if !visited[dep] {
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		onStack[id] = false
		return nil
	}

	for _, s := range steps {
		if !visited[s.ID] {
			if cycle := dfs(s.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Blocked returns the ids of pending steps that can never run because a
// dependency, direct or transitive, ended unsuccessfully with no retries
// left.
func Blocked(steps []step.ExecutionStep) []string {
	byID := make(map[string]step.ExecutionStep, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}

	memo := make(map[string]bool, len(steps))
	var doomed func(id string, visiting map[string]bool) bool
	doomed = func(id string, visiting map[string]bool) bool {
		if v, ok := memo[id]; ok {
			return v
		}
		if visiting[id] {
			return false
		}
		visiting[id] = true
		s := byID[id]
		result := false
		for _, dep := range s.Dependencies {
			d, ok := byID[dep]
			if !ok {
				continue
			}
			if d.Settled() || (d.Status == step.StatusPending && doomed(dep, visiting)) {
				result = true
				break
			}
		}
		memo[id] = result
		return result
	}

	var blocked []string
	for _, s := range steps {
		if s.Status == step.StatusPending && doomed(s.ID, map[string]bool{}) {
			blocked = append(blocked, s.ID)
		}
	}
	return blocked
}

// Dependents returns the ids of all steps that depend on id directly or
// transitively, in plan order.
func Dependents(steps []step.ExecutionStep, id string) []string {
	reached := map[string]bool{id: true}
	changed := true
	for changed {
		changed = false
		for _, s := range steps {
			if reached[s.ID] {
				continue
			}
			for _, dep := range s.Dependencies {
				if reached[dep] {
					reached[s.ID] = true
					changed = true
					break
				}
			}
		}
	}

	var out []string
	for _, s := range steps {
		if s.ID != id && reached[s.ID] {
			out = append(out, s.ID)
		}
	}
	return out
}

// Order returns step ids in topological level order (Kahn's algorithm).
// Within a level ids keep plan order. Steps on a cycle are omitted.
func Order(steps []step.ExecutionStep) [][]string {
	position := make(map[string]int, len(steps))
	for i, s := range steps {
		position[s.ID] = i
	}

	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		inDegree[s.ID] += 0
		for _, dep := range s.Dependencies {
			if _, ok := position[dep]; ok {
				inDegree[s.ID]++
				dependents[dep] = append(dependents[dep], s.ID)
			}
		}
	}

	var queue []string
	for _, s := range steps {
		if inDegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}

	var levels [][]string
	for len(queue) > 0 {
		sort.SliceStable(queue, func(i, j int) bool { return position[queue[i]] < position[queue[j]] })
		levels = append(levels, queue)

		var next []string
		for _, id := range queue {
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}
	return levels
}

func statusIndex(steps []step.ExecutionStep) map[string]step.Status {
	status := make(map[string]step.Status, len(steps))
	for _, s := range steps {
		status[s.ID] = s.Status
	}
	return status
}
