// Package planning provides CLI commands that load, check, route and
// execute task plans.
package planning

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/conductor/internal/planfile"
	"github.com/Iron-Ham/conductor/internal/resolver"
	"github.com/Iron-Ham/conductor/internal/safety"
)

var validateCmd = &cobra.Command{
	Use:   "validate <plan-file>",
	Short: "Validate a YAML plan file",
	Long: `Validate a YAML plan file without executing it.

This command checks:
  - YAML syntax and required fields
  - Dependency validity (no cycles, no missing or duplicate steps)
  - Safety rules (planning role steps, ceilings, stale dependencies)

The exit code indicates the result:
  0 - Plan is valid (may have warnings)
  1 - Plan has errors or could not be parsed

Examples:
  conductor validate plan.yaml
  conductor validate --json plan.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var validateJSON bool

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output validation result as JSON")
}

// RegisterValidateCmd registers the validate command with the given parent command.
func RegisterValidateCmd(parent *cobra.Command) {
	parent.AddCommand(validateCmd)
}

// ValidationOutput is the JSON output format for validation results.
type ValidationOutput struct {
	Valid      bool               `json:"valid"`
	FilePath   string             `json:"file_path"`
	StepCount  int                `json:"step_count"`
	Layers     [][]string         `json:"layers,omitempty"`
	Violations []safety.Violation `json:"violations,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// validatePlanFile loads and checks a plan. Structural problems are
// reported in the output rather than returned; the error covers only
// configuration failures.
func validatePlanFile(path string) (ValidationOutput, error) {
	out := ValidationOutput{FilePath: path}

	cfg, err := loadConfig()
	if err != nil {
		return out, err
	}

	plan, err := planfile.Load(path)
	if err != nil {
		out.Error = err.Error()
		return out, nil
	}
	out.StepCount = len(plan.Steps)

	if err := resolver.Check(plan.Steps); err != nil {
		out.Error = err.Error()
		return out, nil
	}
	out.Layers = resolver.Order(plan.Steps)

	report := safety.New(safety.WithAutoFix(false)).Validate(safety.Input{
		Steps:        plan.Steps,
		PlanningRole: cfg.Execution.PlanningRole,
		Limits:       cfg.Safety,
		Now:          time.Now(),
	})
	out.Violations = report.Violations
	out.Valid = !report.Blocked()
	if err := report.Err(); err != nil {
		out.Error = err.Error()
	}
	return out, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	result, err := validatePlanFile(args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if validateJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	} else {
		printValidation(w, result)
	}

	if !result.Valid {
		return fmt.Errorf("plan %s is invalid", result.FilePath)
	}
	return nil
}

func printValidation(w io.Writer, r ValidationOutput) {
	fmt.Fprintf(w, "Plan: %s (%d steps)\n", r.FilePath, r.StepCount)
	if len(r.Layers) > 0 {
		fmt.Fprintln(w, "Execution order:")
		for i, layer := range r.Layers {
			fmt.Fprintf(w, "  %d. %s\n", i+1, strings.Join(layer, ", "))
		}
	}
	for _, v := range r.Violations {
		fmt.Fprintf(w, "[%s] %s: %s\n", v.Severity, v.RuleID, v.Evidence)
		if v.SuggestedFix != "" {
			fmt.Fprintf(w, "    fix: %s\n", v.SuggestedFix)
		}
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
	}
	if r.Valid {
		fmt.Fprintln(w, "✓ Plan is valid")
	} else {
		fmt.Fprintln(w, "✗ Plan is invalid")
	}
}
