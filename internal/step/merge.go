package step

import "sync"

// Merge combines an existing step list with updates and returns a new list.
//
// An update whose ID is already present replaces that entry at the same
// index. An update with an unknown ID is appended in arrival order; a later
// update in the same call for an ID appended earlier replaces the appended
// entry. Neither input is modified and the result shares no slices with
// them.
func Merge(existing, updates []ExecutionStep) []ExecutionStep {
	merged := make([]ExecutionStep, 0, len(existing)+len(updates))
	index := make(map[string]int, len(existing)+len(updates))

	for _, s := range existing {
		index[s.ID] = len(merged)
		merged = append(merged, s.Clone())
	}

	for _, u := range updates {
		if i, ok := index[u.ID]; ok {
			merged[i] = u.Clone()
			continue
		}
		index[u.ID] = len(merged)
		merged = append(merged, u.Clone())
	}

	return merged
}

// Store is the canonical ordered step list for one plan. It is safe for
// concurrent use; its only write path is Apply.
type Store struct {
	mu    sync.RWMutex
	steps []ExecutionStep
}

// NewStore creates a store seeded with the given steps.
func NewStore(steps []ExecutionStep) *Store {
	return &Store{steps: Merge(nil, steps)}
}

// Apply merges updates into the store and returns the new snapshot.
func (s *Store) Apply(updates ...ExecutionStep) []ExecutionStep {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(updates) == 0 {
		return Merge(s.steps, nil)
	}
	s.steps = Merge(s.steps, updates)
	return Merge(s.steps, nil)
}

// Snapshot returns a deep copy of the current list.
func (s *Store) Snapshot() []ExecutionStep {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Merge(s.steps, nil)
}

// Get returns a copy of the step with the given id.
func (s *Store) Get(id string) (ExecutionStep, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.steps {
		if st.ID == id {
			return st.Clone(), true
		}
	}
	return ExecutionStep{}, false
}

// Len returns the number of steps.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.steps)
}
