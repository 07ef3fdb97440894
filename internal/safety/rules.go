package safety

import (
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/conductor/internal/resolver"
	"github.com/Iron-Ham/conductor/internal/step"
)

// Rule ids.
const (
	RulePlanningRoleActive  = "planning-role-active"
	RuleStepCeiling         = "step-ceiling"
	RuleMessageCeiling      = "message-ceiling"
	RuleStepTimeout         = "step-timeout"
	RuleDependencyCycle     = "dependency-cycle"
	RuleSelfHandoff         = "self-handoff"
	RuleCollaborationSpiral = "collaboration-spiral"
	RuleResourcePressure    = "resource-pressure"
	RuleStaleDependency     = "stale-dependency"
)

// DetectFunc returns the violations a rule finds. Implementations fill
// Evidence and StepIDs, and may set Severity to override the rule default;
// the rule fills the remaining fields.
type DetectFunc func(in Input) []Violation

// FixFunc returns corrected steps for one violation.
type FixFunc func(in Input, v Violation) []step.ExecutionStep

// AntiPatternRule is one entry in the rule table.
type AntiPatternRule struct {
	ID          string
	Category    Category
	Severity    Severity
	Remediation string
	Detect      DetectFunc
	// Fix is nil for rules that cannot be corrected automatically.
	Fix FixFunc
	// Enforced fixes apply on every pass, whether or not auto-fix is on.
	Enforced bool
}

// Fixable reports whether the rule has an automatic correction.
func (r AntiPatternRule) Fixable() bool {
	return r.Fix != nil
}

// Evaluate runs the rule on its own.
func (r AntiPatternRule) Evaluate(in Input) []Violation {
	found := r.Detect(in)
	for i := range found {
		found[i].RuleID = r.ID
		found[i].Category = r.Category
		if found[i].Severity == 0 {
			found[i].Severity = r.Severity
		}
		if found[i].SuggestedFix == "" {
			found[i].SuggestedFix = r.Remediation
		}
	}
	return found
}

// Invariants returns the invariant rules.
func Invariants() []AntiPatternRule {
	return []AntiPatternRule{
		{
			ID:          RulePlanningRoleActive,
			Category:    CategorySelfRouting,
			Severity:    SeverityCritical,
			Remediation: "complete the planning-role step as a stub; the planning role never executes",
			Detect:      detectPlanningRoleActive,
			Fix:         fixStubComplete,
		},
		{
			ID:          RuleStepCeiling,
			Category:    CategoryResourceExhaustion,
			Severity:    SeverityCritical,
			Remediation: "split the task or raise safety.max_steps",
			Detect:      detectStepCeiling,
		},
		{
			ID:          RuleMessageCeiling,
			Category:    CategoryResourceExhaustion,
			Severity:    SeverityCritical,
			Remediation: "stop the run; collaboration produced more messages than allowed",
			Detect:      detectMessageCeiling,
		},
		{
			ID:          RuleStepTimeout,
			Category:    CategoryStaleStep,
			Severity:    SeverityError,
			Remediation: "transition the step to timed_out and apply the retry policy",
			Detect:      detectStepTimeout,
			Fix:         fixTimeOut,
			Enforced:    true,
		},
	}
}

// AntiPatterns returns the anti-pattern rules.
func AntiPatterns() []AntiPatternRule {
	return []AntiPatternRule{
		{
			ID:          RuleDependencyCycle,
			Category:    CategoryCycle,
			Severity:    SeverityCritical,
			Remediation: "remove one dependency on the reported path",
			Detect:      detectDependencyCycle,
		},
		{
			ID:          RuleSelfHandoff,
			Category:    CategorySelfRouting,
			Severity:    SeverityError,
			Remediation: "block the follow-up step; a worker cannot hand work to itself",
			Detect:      detectSelfHandoff,
			Fix:         fixBlock,
		},
		{
			ID:          RuleCollaborationSpiral,
			Category:    CategoryCollaborationSpiral,
			Severity:    SeverityWarning,
			Remediation: "escalate: bring in research, an alternate worker or the user",
			Detect:      detectCollaborationSpiral,
		},
		{
			ID:          RuleResourcePressure,
			Category:    CategoryResourceExhaustion,
			Severity:    SeverityWarning,
			Remediation: "consolidate remaining steps before the ceiling is reached",
			Detect:      detectResourcePressure,
		},
		{
			ID:          RuleStaleDependency,
			Category:    CategoryStaleStep,
			Severity:    SeverityWarning,
			Remediation: "block the step; a dependency ended unsuccessfully",
			Detect:      detectStaleDependency,
			Fix:         fixBlock,
			Enforced:    true,
		},
	}
}

// DefaultRules returns invariants followed by anti-patterns.
func DefaultRules() []AntiPatternRule {
	return append(Invariants(), AntiPatterns()...)
}

// -----------------------------------------------------------------------------
// Detection
// -----------------------------------------------------------------------------

func detectPlanningRoleActive(in Input) []Violation {
	if in.PlanningRole == "" {
		return nil
	}
	var out []Violation
	for _, s := range in.Steps {
		if s.Worker == in.PlanningRole && s.Status.IsActive() {
			out = append(out, Violation{
				Evidence: fmt.Sprintf("step %s assigned to planning role %q is %s", s.ID, s.Worker, s.Status),
				StepIDs:  []string{s.ID},
			})
		}
	}
	return out
}

func detectStepCeiling(in Input) []Violation {
	if in.Limits.MaxSteps <= 0 || len(in.Steps) <= in.Limits.MaxSteps {
		return nil
	}
	return []Violation{{
		Evidence: fmt.Sprintf("%d steps exceeds ceiling %d", len(in.Steps), in.Limits.MaxSteps),
	}}
}

func detectMessageCeiling(in Input) []Violation {
	if in.Limits.MaxMessages <= 0 || in.MessageCount <= in.Limits.MaxMessages {
		return nil
	}
	return []Violation{{
		Evidence: fmt.Sprintf("%d messages exceeds ceiling %d", in.MessageCount, in.Limits.MaxMessages),
	}}
}

func detectStepTimeout(in Input) []Violation {
	var out []Violation
	for _, s := range in.Steps {
		if s.Status != step.StatusInProgress {
			continue
		}
		deadline, ok := s.Deadline()
		if !ok || !in.Now.After(deadline) {
			continue
		}
		out = append(out, Violation{
			Evidence: fmt.Sprintf("step %s running %v, timeout %v", s.ID, s.Elapsed(in.Now).Round(time.Millisecond), s.Timeout),
			StepIDs:  []string{s.ID},
		})
	}
	return out
}

func detectDependencyCycle(in Input) []Violation {
	cycle := resolver.DetectCycle(in.Steps)
	if cycle == nil {
		return nil
	}
	return []Violation{{
		Evidence: "dependency cycle " + strings.Join(cycle, " -> "),
		StepIDs:  cycle[:len(cycle)-1],
	}}
}

func detectSelfHandoff(in Input) []Violation {
	var out []Violation
	for _, h := range in.Handoffs {
		if h.From != h.To {
			continue
		}
		v := Violation{Evidence: fmt.Sprintf("worker %q handed work to itself", h.From)}
		if h.StepID != "" {
			s, ok := findStep(in.Steps, h.StepID)
			if ok && !s.Status.IsActive() {
				continue
			}
			v.StepIDs = []string{h.StepID}
		}
		out = append(out, v)
	}
	return out
}

func detectCollaborationSpiral(in Input) []Violation {
	c := in.Collaboration
	warn, limit := in.Limits.SpiralWarn, in.Limits.SpiralLimit
	if warn <= 0 || c.Streak < warn {
		return nil
	}
	v := Violation{
		Evidence: fmt.Sprintf("%d consecutive handoffs between %s without improvement (escalation %s)",
			c.Streak, c.CurrentPair, c.Level),
	}
	if limit > 0 && c.Streak >= limit {
		v.Severity = SeverityError
	}
	return []Violation{v}
}

func detectResourcePressure(in Input) []Violation {
	ratio := in.Limits.PressureRatio
	if ratio <= 0 {
		return nil
	}
	var out []Violation
	if ceiling := in.Limits.MaxSteps; ceiling > 0 {
		n := len(in.Steps)
		if n <= ceiling && float64(n) >= ratio*float64(ceiling) {
			out = append(out, Violation{Evidence: fmt.Sprintf("%d of %d steps used", n, ceiling)})
		}
	}
	if ceiling := in.Limits.MaxMessages; ceiling > 0 {
		n := in.MessageCount
		if n <= ceiling && float64(n) >= ratio*float64(ceiling) {
			out = append(out, Violation{Evidence: fmt.Sprintf("%d of %d messages used", n, ceiling)})
		}
	}
	return out
}

func detectStaleDependency(in Input) []Violation {
	var out []Violation
	for _, id := range resolver.Blocked(in.Steps) {
		out = append(out, Violation{
			Evidence: fmt.Sprintf("step %s can never run: a dependency ended unsuccessfully", id),
			StepIDs:  []string{id},
		})
	}
	return out
}

// -----------------------------------------------------------------------------
// Correction
// -----------------------------------------------------------------------------

func fixStubComplete(in Input, v Violation) []step.ExecutionStep {
	return eachStep(in, v, func(s step.ExecutionStep) step.ExecutionStep {
		return s.StubComplete("auto-fix "+v.RuleID, in.Now)
	})
}

func fixTimeOut(in Input, v Violation) []step.ExecutionStep {
	return eachStep(in, v, func(s step.ExecutionStep) step.ExecutionStep {
		return s.TimeOut(in.Now)
	})
}

func fixBlock(in Input, v Violation) []step.ExecutionStep {
	return eachStep(in, v, func(s step.ExecutionStep) step.ExecutionStep {
		return s.Block(v.RuleID+": "+v.Evidence, in.Now)
	})
}

func eachStep(in Input, v Violation, fn func(step.ExecutionStep) step.ExecutionStep) []step.ExecutionStep {
	var out []step.ExecutionStep
	for _, id := range v.StepIDs {
		if s, ok := findStep(in.Steps, id); ok && s.Status.IsActive() {
			out = append(out, fn(s))
		}
	}
	return out
}

func findStep(steps []step.ExecutionStep, id string) (step.ExecutionStep, bool) {
	for _, s := range steps {
		if s.ID == id {
			return s, true
		}
	}
	return step.ExecutionStep{}, false
}
