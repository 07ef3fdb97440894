package router

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTables() Tables {
	return Tables{
		Version: "1",
		Workers: []Table{
			{Worker: "codesmith", ActionVerbs: []string{"implement", "build"}, DomainNouns: []string{"endpoint", "handler"}},
			{Worker: "research", ActionVerbs: []string{"research", "look up"}, DomainNouns: []string{"library", "benchmark"}},
			{Worker: "reviewer", ActionVerbs: []string{"review"}, DomainNouns: []string{"diff", "style"}},
			{Worker: "fixer", ActionVerbs: []string{"fix"}, DomainNouns: []string{"lint", "diff"}},
		},
	}
}

func newTestRouter(t *testing.T, opts ...Option) *Router {
	t.Helper()
	r, err := New(testTables(), opts...)
	require.NoError(t, err)
	return r
}

func TestRoute_Decisions(t *testing.T) {
	tests := []struct {
		name     string
		task     string
		worker   string
		decision Decision
		score    float64
	}{
		{"verb routes directly", "Implement the login endpoint", "codesmith", DecisionDirect, 3},
		{"phrase verb", "Look up the fastest library", "research", DecisionDirect, 3},
		{"no match defers", "make it nicer", "planner", DecisionDeferred, 0},
		{"single noun defers", "the handler", "planner", DecisionDeferred, 1},
		{"keyword counts once", "build build build", "codesmith", DecisionDirect, 2},
		{"word boundary", "rebuilding everything", "planner", DecisionDeferred, 0},
		{"case insensitive", "REVIEW this", "reviewer", DecisionDirect, 2},
	}

	r := newTestRouter(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Route(tt.task)
			assert.Equal(t, tt.worker, res.Worker)
			assert.Equal(t, tt.decision, res.Decision)
			assert.InDelta(t, tt.score, res.Score, 1e-9)
		})
	}
}

func TestRoute_AmbiguousBand(t *testing.T) {
	// Nouns only: top 1.5 band is reachable through confidence.
	conf := func(string) map[string]float64 {
		return map[string]float64{"reviewer": 0.5}
	}
	r := newTestRouter(t, WithConfidence(conf))

	// reviewer: diff(1) + style(1) + 0.5 = 2.5 -> direct
	res := r.Route("the diff style")
	assert.Equal(t, DecisionDirect, res.Decision)
	assert.Equal(t, "reviewer", res.Worker)

	// reviewer: diff(1) + 0.5 = 1.5, fixer: diff(1) = 1.0 -> gap 0.5 -> ambiguous
	res = r.Route("the diff")
	assert.Equal(t, DecisionAmbiguous, res.Decision)
	assert.Equal(t, "planner", res.Worker)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "reviewer", res.Candidates[0].Worker)
	assert.Equal(t, "fixer", res.Candidates[1].Worker)
}

func TestRoute_ClearlyAheadInBand(t *testing.T) {
	conf := func(string) map[string]float64 { return map[string]float64{"codesmith": 0.75} }
	r := newTestRouter(t, WithConfidence(conf), WithPlanningRole("orchestrator"))

	// codesmith: handler(1) + 0.75 = 1.75, no runner-up -> direct
	res := r.Route("the handler")
	assert.Equal(t, DecisionDirect, res.Decision)
	assert.Equal(t, "codesmith", res.Worker)

	res = r.Route("nothing relevant")
	assert.Equal(t, "orchestrator", res.Worker)
	assert.True(t, res.Deferred())
}

func TestRoute_Deterministic(t *testing.T) {
	r := newTestRouter(t)
	// reviewer and fixer both score 2.0 + 1.0: tie broken by name.
	task := "review and fix the diff"

	first := r.Route(task)
	for range 50 {
		again := r.Route(task)
		assert.Equal(t, first.Worker, again.Worker)
		assert.Equal(t, first.Candidates, again.Candidates)
	}
	assert.Equal(t, "fixer", first.Candidates[0].Worker)
	assert.Equal(t, "reviewer", first.Candidates[1].Worker)
}

func TestConfidenceClamped(t *testing.T) {
	conf := func(string) map[string]float64 { return map[string]float64{"codesmith": 7, "ghost": -3} }
	r := newTestRouter(t, WithConfidence(conf))

	cands := r.Score("implement it")
	require.Len(t, cands, 1)
	assert.InDelta(t, 3.0, cands[0].Score, 1e-9)
}

func TestScore_ExcludesPlanningRole(t *testing.T) {
	tables := testTables()
	tables.Workers = append(tables.Workers, Table{Worker: "planner", ActionVerbs: []string{"plan"}, DomainNouns: []string{"roadmap"}})
	conf := func(string) map[string]float64 { return map[string]float64{"planner": 1} }
	r, err := New(tables, WithConfidence(conf))
	require.NoError(t, err)

	for _, c := range r.Score("plan the roadmap") {
		assert.NotEqual(t, "planner", c.Worker)
	}

	res := r.Route("plan the roadmap")
	assert.Equal(t, "planner", res.Worker)
	assert.NotEqual(t, DecisionDirect, res.Decision)
	assert.True(t, res.Deferred())
}

func TestThresholdsValidate(t *testing.T) {
	_, err := New(testTables(), WithThresholds(Thresholds{Direct: 1, Floor: 2}))
	assert.Error(t, err)
}

func TestParseTables(t *testing.T) {
	data := []byte(`
version: "1"
workers:
  - worker: scribe
    action_verbs: [document]
    domain_nouns: [readme]
`)
	tables, err := ParseTables(data)
	require.NoError(t, err)
	require.Len(t, tables.Workers, 1)
	assert.Equal(t, "scribe", tables.Workers[0].Worker)

	_, err = ParseTables([]byte("workers:\n  - worker: a\n  - worker: a\n    action_verbs: [x]\n"))
	assert.Error(t, err)

	_, err = ParseTables([]byte("version: \"9\"\nworkers: []\n"))
	assert.Error(t, err)
}

func TestDefaultTablesValid(t *testing.T) {
	assert.NoError(t, DefaultTables().Validate())
	r, err := New(DefaultTables())
	require.NoError(t, err)
	assert.Equal(t, "codesmith", r.Route("implement the payment endpoint").Worker)
}

func TestSetTables_KeepsPreviousOnError(t *testing.T) {
	r := newTestRouter(t)
	err := r.SetTables(Tables{Workers: []Table{{Worker: ""}}})
	assert.Error(t, err)
	assert.Len(t, r.Tables().Workers, 4)
}

func TestWatchTables_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers:\n  - worker: alpha\n    action_verbs: [ship]\n"), 0o644))

	r := newTestRouter(t)
	reloaded := make(chan error, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := WatchTables(ctx, path, r, nil, func(_ Tables, err error) { reloaded <- err })
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	assert.Equal(t, "alpha", r.Route("ship it").Worker)

	require.NoError(t, os.WriteFile(path, []byte("workers:\n  - worker: beta\n    action_verbs: [ship]\n"), 0o644))

	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tables were not reloaded")
	}
	assert.Equal(t, "beta", r.Route("ship it").Worker)
}

func TestGlobClassifier(t *testing.T) {
	c, err := NewGlobClassifier()
	require.NoError(t, err)

	tests := []struct {
		text       string
		actionable bool
		category   string
	}{
		{"Hello there!", false, CategorySmallTalk},
		{"thanks a lot", false, CategorySmallTalk},
		{"   ", false, CategoryEmpty},
		{"ok.", false, CategorySmallTalk},
		{"implement the cache", true, CategoryTask},
		{"hi, please fix the login bug", true, CategoryTask},
		{"hi team, implement the login endpoint", true, CategoryTask},
		{"hello world example: build the CLI scaffolding", true, CategoryTask},
		{"thanks to the new schema, refactor the handler", true, CategoryTask},
		{"Good morning", false, CategorySmallTalk},
		{"hey team!", false, CategorySmallTalk},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			sig := c.Classify(tt.text)
			assert.Equal(t, tt.actionable, sig.IsActionable)
			assert.Equal(t, tt.category, sig.Category)
		})
	}

	_, err = NewGlobClassifier("[")
	assert.Error(t, err)
}
