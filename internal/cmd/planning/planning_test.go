package planning

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/planfile"
	"github.com/Iron-Ham/conductor/internal/router"
	"github.com/Iron-Ham/conductor/internal/safety"
	"github.com/Iron-Ham/conductor/internal/step"
)

const validPlan = `
task: ship the login page
steps:
  - {id: design, worker: architect, task: design the login flow}
  - {id: build, worker: coder, task: implement the login page, depends_on: [design]}
  - {id: test, worker: tester, task: test the login page, depends_on: [build]}
`

// setupConfig points the config directory at a temp dir and registers
// viper defaults.
func setupConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	viper.Reset()
	config.SetDefaults()
	t.Cleanup(viper.Reset)
	return dir
}

func resetFlags() {
	validateJSON = false
	routeJSON = false
	simulateMode = ""
	simulateDispatch = false
	simulateEvents = false
	simulateVerbose = false
	simulateJSON = false
	simulateOut = ""
	simulateTask = ""
}

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write plan: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	root := &cobra.Command{Use: "conductor", SilenceUsage: true, SilenceErrors: true}
	Register(root)

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRegister(t *testing.T) {
	root := &cobra.Command{Use: "conductor"}
	Register(root)

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"validate", "route", "simulate"} {
		if !names[want] {
			t.Errorf("expected subcommand %q not found", want)
		}
	}
}

func TestValidatePlanFile(t *testing.T) {
	setupConfig(t)

	tests := []struct {
		name       string
		content    string
		wantValid  bool
		wantLayers [][]string
		wantRule   string
		wantErr    string
	}{
		{
			name:       "valid chain",
			content:    validPlan,
			wantValid:  true,
			wantLayers: [][]string{{"design"}, {"build"}, {"test"}},
		},
		{
			name: "cycle",
			content: `
task: loop
steps:
  - {id: a, worker: coder, task: one, depends_on: [c]}
  - {id: b, worker: coder, task: two, depends_on: [a]}
  - {id: c, worker: coder, task: three, depends_on: [b]}
`,
			wantErr: "cycle",
		},
		{
			name: "missing dependency",
			content: `
task: dangling
steps:
  - {id: a, worker: coder, task: one, depends_on: [ghost]}
`,
			wantErr: "ghost",
		},
		{
			name: "planning role step",
			content: `
task: plan it
steps:
  - {id: p, worker: planner, task: decompose the work}
  - {id: b, worker: coder, task: build it, depends_on: [p]}
`,
			wantRule: safety.RulePlanningRoleActive,
		},
		{
			name:    "unparseable",
			content: "task: [",
			wantErr: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := validatePlanFile(writePlan(t, tt.content))
			if err != nil {
				t.Fatalf("validatePlanFile() error = %v", err)
			}
			if out.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v (error %q)", out.Valid, tt.wantValid, out.Error)
			}
			if tt.wantLayers != nil && !reflect.DeepEqual(out.Layers, tt.wantLayers) {
				t.Errorf("Layers = %v, want %v", out.Layers, tt.wantLayers)
			}
			if tt.wantErr != "" && !strings.Contains(out.Error, tt.wantErr) {
				t.Errorf("Error = %q, want containing %q", out.Error, tt.wantErr)
			}
			if tt.wantRule != "" {
				found := false
				for _, v := range out.Violations {
					if v.RuleID == tt.wantRule {
						found = true
					}
				}
				if !found {
					t.Errorf("Violations = %+v, want rule %s", out.Violations, tt.wantRule)
				}
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	setupConfig(t)

	out, err := execute(t, "validate", writePlan(t, validPlan))
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(out, "Plan is valid") {
		t.Errorf("output missing validity line:\n%s", out)
	}

	out, err = execute(t, "validate", "--json", writePlan(t, "task: x\nsteps:\n  - {id: a, worker: planner, task: plan}\n"))
	if err == nil {
		t.Fatal("validate expected error for planning-role plan")
	}
	var result ValidationOutput
	if jerr := json.Unmarshal([]byte(out), &result); jerr != nil {
		t.Fatalf("output is not JSON: %v\n%s", jerr, out)
	}
	if result.Valid {
		t.Error("JSON result reported valid")
	}
}

func TestRouteCommand(t *testing.T) {
	setupConfig(t)

	out, err := execute(t, "route", "--json", "hello")
	if err != nil {
		t.Fatalf("route error = %v", err)
	}
	var result RouteOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if result.Actionable {
		t.Error("small talk reported actionable")
	}
	if result.Category != router.CategorySmallTalk {
		t.Errorf("Category = %q, want %q", result.Category, router.CategorySmallTalk)
	}
	if result.Result.Decision == router.DecisionDirect {
		t.Errorf("Decision = %q, want deferral for small talk", result.Result.Decision)
	}
}

func TestRouteUsesTablesFile(t *testing.T) {
	dir := setupConfig(t)

	tables := filepath.Join(dir, "tables.yaml")
	content := `
version: "1"
workers:
  - worker: gardener
    action_verbs: [prune, water, plant]
    domain_nouns: [roses, hedge, garden]
`
	if err := os.WriteFile(tables, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	viper.Set("routing.tables_path", tables)

	out, err := execute(t, "route", "prune", "the", "roses", "and", "water", "the", "garden")
	if err != nil {
		t.Fatalf("route error = %v", err)
	}
	if !strings.Contains(out, "gardener") {
		t.Errorf("output does not mention the table worker:\n%s", out)
	}
}

func TestSimulateStubsEverything(t *testing.T) {
	setupConfig(t)

	outFile := filepath.Join(t.TempDir(), "result.yaml")
	out, err := execute(t, "simulate", "--out", outFile, writePlan(t, validPlan))
	if err != nil {
		t.Fatalf("simulate error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "3/3 completed") {
		t.Errorf("output missing completion summary:\n%s", out)
	}

	plan, err := planfile.Load(outFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for _, s := range plan.Steps {
		if s.Status != step.StatusCompleted {
			t.Errorf("step %s status = %q, want completed", s.ID, s.Status)
		}
	}
}

func TestSimulateDispatchJSON(t *testing.T) {
	setupConfig(t)

	out, err := execute(t, "simulate", "--dispatch", "--mode", "parallel", "--json", writePlan(t, validPlan))
	if err != nil {
		t.Fatalf("simulate error = %v\n%s", err, out)
	}

	var plan step.TaskPlan
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	for _, s := range plan.Steps {
		if s.Stub {
			t.Errorf("step %s was stubbed, want dispatched", s.ID)
		}
		if s.Result != s.Task {
			t.Errorf("step %s result = %v, want echoed task", s.ID, s.Result)
		}
	}
}

func TestSimulateEvents(t *testing.T) {
	setupConfig(t)

	out, err := execute(t, "simulate", "--events", writePlan(t, validPlan))
	if err != nil {
		t.Fatalf("simulate error = %v", err)
	}
	for _, want := range []string{"plan.started", "step.transition", "plan.finished"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSimulateInvalidMode(t *testing.T) {
	setupConfig(t)

	if _, err := execute(t, "simulate", "--mode", "sideways", writePlan(t, validPlan)); err == nil {
		t.Fatal("simulate expected error for unknown mode")
	}
}

func TestSimulateRequiresPlanOrTask(t *testing.T) {
	setupConfig(t)

	_, err := execute(t, "simulate")
	if err == nil || !strings.Contains(err.Error(), "--task") {
		t.Fatalf("simulate error = %v, want plan-or-task error", err)
	}
}

func TestSimulateMemoryRoundTrip(t *testing.T) {
	dir := setupConfig(t)
	viper.Set("memory.enabled", true)
	viper.Set("checkpoint.enabled", true)
	viper.Set("checkpoint.path", filepath.Join(dir, "state", "conductor.db"))

	if _, err := execute(t, "simulate", "--dispatch", writePlan(t, validPlan)); err != nil {
		t.Fatalf("first simulate error = %v", err)
	}

	out, err := execute(t, "simulate", "--task", "Ship the login page!")
	if err != nil {
		t.Fatalf("remembered simulate error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "3/3 completed") {
		t.Errorf("remembered plan did not complete:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "state", "conductor.db")); err != nil {
		t.Errorf("checkpoint database not created: %v", err)
	}
}
