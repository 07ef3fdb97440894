// Package router selects a worker for a task by confidence-weighted keyword
// scoring.
//
// Each worker has a table of action verbs (weight 2.0) and domain nouns
// (weight 1.0). A keyword counts once per task text, matched case-insensitively
// on word boundaries. The top score decides the route:
//
//   - top >= Direct: route directly to the top worker
//   - Floor <= top < Direct, runner-up >= RunnerUpFloor and within Gap of
//     the top: ambiguous, defer to the planning role
//   - top < Floor: defer to the planning role
//   - otherwise: route directly
//
// Candidates are ordered by score, then worker name, so identical input and
// tables always produce the same result.
package router

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Keyword weights.
const (
	VerbWeight = 2.0
	NounWeight = 1.0
)

// Decision is the routing outcome.
type Decision string

const (
	// DecisionDirect routes to the top-scoring worker.
	DecisionDirect Decision = "direct"
	// DecisionAmbiguous defers to the planning role because two workers
	// scored too close together.
	DecisionAmbiguous Decision = "ambiguous"
	// DecisionDeferred defers to the planning role because no worker
	// scored high enough.
	DecisionDeferred Decision = "deferred"
)

// Thresholds are the tunable routing cutoffs.
type Thresholds struct {
	Direct        float64 `mapstructure:"direct"`
	Floor         float64 `mapstructure:"floor"`
	RunnerUpFloor float64 `mapstructure:"runner_up_floor"`
	Gap           float64 `mapstructure:"gap"`
}

// DefaultThresholds returns 2.0 / 1.5 / 1.0 / 0.5.
func DefaultThresholds() Thresholds {
	return Thresholds{Direct: 2.0, Floor: 1.5, RunnerUpFloor: 1.0, Gap: 0.5}
}

// Validate checks the thresholds are ordered.
func (t Thresholds) Validate() error {
	if t.Floor < 0 || t.RunnerUpFloor < 0 || t.Gap < 0 {
		return fmt.Errorf("routing thresholds must be non-negative")
	}
	if t.Floor > t.Direct {
		return fmt.Errorf("routing floor %.2f exceeds direct threshold %.2f", t.Floor, t.Direct)
	}
	return nil
}

// Candidate is one scored worker.
type Candidate struct {
	Worker     string
	Score      float64
	Verbs      []string // Matched action verbs
	Nouns      []string // Matched domain nouns
	Confidence float64  // Registered worker Accepts() contribution
}

// Result is the outcome of routing one task.
type Result struct {
	// Worker is the chosen worker, or the planning role when deferred.
	Worker     string
	Decision   Decision
	Score      float64
	Candidates []Candidate
	Reason     string
}

// Deferred reports whether the task goes back to the planning role.
func (r Result) Deferred() bool {
	return r.Decision != DecisionDirect
}

// ConfidenceFunc returns per-worker confidence for a task, such as
// worker.Registry.Confidence.
type ConfidenceFunc func(task string) map[string]float64

type keyword struct {
	text string
	re   *regexp.Regexp
}

type compiledTable struct {
	worker string
	verbs  []keyword
	nouns  []keyword
}

// Router scores tasks against keyword tables. It is safe for concurrent use;
// tables can be replaced at runtime with SetTables.
type Router struct {
	mu           sync.RWMutex
	tables       Tables
	compiled     []compiledTable
	thresholds   Thresholds
	planningRole string
	confidence   ConfidenceFunc
}

// Option configures a Router.
type Option func(*Router)

// WithThresholds overrides the default thresholds.
func WithThresholds(t Thresholds) Option {
	return func(r *Router) { r.thresholds = t }
}

// WithPlanningRole sets the worker identity deferred tasks route to.
func WithPlanningRole(role string) Option {
	return func(r *Router) { r.planningRole = role }
}

// WithConfidence adds registered worker confidence to keyword scores.
func WithConfidence(fn ConfidenceFunc) Option {
	return func(r *Router) { r.confidence = fn }
}

// New creates a Router over the given tables.
func New(tables Tables, opts ...Option) (*Router, error) {
	r := &Router{
		thresholds:   DefaultThresholds(),
		planningRole: "planner",
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.thresholds.Validate(); err != nil {
		return nil, err
	}
	if err := r.SetTables(tables); err != nil {
		return nil, err
	}
	return r, nil
}

// SetTables validates, compiles and swaps in new tables. On error the
// current tables stay active.
func (r *Router) SetTables(tables Tables) error {
	if err := tables.Validate(); err != nil {
		return err
	}
	compiled := make([]compiledTable, 0, len(tables.Workers))
	for _, t := range tables.Workers {
		compiled = append(compiled, compiledTable{
			worker: strings.TrimSpace(t.Worker),
			verbs:  compileKeywords(t.ActionVerbs),
			nouns:  compileKeywords(t.DomainNouns),
		})
	}

	r.mu.Lock()
	r.tables = tables
	r.compiled = compiled
	r.mu.Unlock()
	return nil
}

// Tables returns the active tables.
func (r *Router) Tables() Tables {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tables
}

// PlanningRole returns the worker deferred tasks route to.
func (r *Router) PlanningRole() string {
	return r.planningRole
}

func compileKeywords(words []string) []keyword {
	out := make([]keyword, 0, len(words))
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		norm := strings.ToLower(strings.Join(strings.Fields(w), " "))
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		parts := strings.Fields(norm)
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		pattern := `(?i)\b` + strings.Join(parts, `\s+`) + `\b`
		out = append(out, keyword{text: norm, re: regexp.MustCompile(pattern)})
	}
	return out
}

func matched(task string, kws []keyword) []string {
	var hits []string
	for _, kw := range kws {
		if kw.re.MatchString(task) {
			hits = append(hits, kw.text)
		}
	}
	return hits
}

// Score returns every candidate with a positive score, ordered by score
// descending then worker name. The planning role is never a candidate.
func (r *Router) Score(task string) []Candidate {
	r.mu.RLock()
	compiled := r.compiled
	r.mu.RUnlock()

	byWorker := make(map[string]*Candidate, len(compiled))
	for _, t := range compiled {
		verbs := matched(task, t.verbs)
		nouns := matched(task, t.nouns)
		score := float64(len(verbs))*VerbWeight + float64(len(nouns))*NounWeight
		byWorker[t.worker] = &Candidate{Worker: t.worker, Score: score, Verbs: verbs, Nouns: nouns}
	}

	if r.confidence != nil {
		for name, c := range r.confidence(task) {
			c = min(max(c, 0), 1)
			cand, ok := byWorker[name]
			if !ok {
				cand = &Candidate{Worker: name}
				byWorker[name] = cand
			}
			cand.Confidence = c
			cand.Score += c
		}
	}

	candidates := make([]Candidate, 0, len(byWorker))
	for _, c := range byWorker {
		if c.Score > 0 && c.Worker != r.planningRole {
			candidates = append(candidates, *c)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Worker < candidates[j].Worker
	})
	return candidates
}

// Route scores task and applies the decision policy.
func (r *Router) Route(task string) Result {
	candidates := r.Score(task)
	th := r.thresholds

	var top, runnerUp float64
	if len(candidates) > 0 {
		top = candidates[0].Score
	}
	if len(candidates) > 1 {
		runnerUp = candidates[1].Score
	}

	res := Result{Score: top, Candidates: candidates}
	switch {
	case len(candidates) > 0 && top >= th.Direct:
		res.Decision = DecisionDirect
		res.Worker = candidates[0].Worker
		res.Reason = fmt.Sprintf("score %.2f >= %.2f", top, th.Direct)
	case len(candidates) == 0 || top < th.Floor:
		res.Decision = DecisionDeferred
		res.Worker = r.planningRole
		res.Reason = fmt.Sprintf("top score %.2f below floor %.2f", top, th.Floor)
	case len(candidates) > 1 && runnerUp >= th.RunnerUpFloor && top-runnerUp <= th.Gap:
		res.Decision = DecisionAmbiguous
		res.Worker = r.planningRole
		res.Reason = fmt.Sprintf("%s %.2f vs %s %.2f within %.2f",
			candidates[0].Worker, top, candidates[1].Worker, runnerUp, th.Gap)
	default:
		res.Decision = DecisionDirect
		res.Worker = candidates[0].Worker
		res.Reason = fmt.Sprintf("score %.2f clearly ahead of runner-up %.2f", top, runnerUp)
	}
	return res
}
