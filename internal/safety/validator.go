// Package safety checks a step list and its collaboration state for unsafe
// execution shapes before every scheduling decision.
//
// Rules come in two groups. Invariants must always hold: the planning role
// never executes, step and message counts stay under their ceilings, and no
// step runs past its timeout. Anti-patterns are known bad shapes: dependency
// cycles, self handoffs, collaboration spirals, resource pressure and steps
// stranded behind a failed dependency.
//
// Without auto-fix, any uncorrected error or critical violation blocks
// scheduling. With auto-fix, rules that have a correction rewrite the
// affected steps through step.Merge and the validator re-checks the result,
// for a bounded number of passes. Enforced corrections (timeouts, stranded
// steps) apply on every pass regardless. Every correction is logged and
// published on the event bus.
package safety

import (
	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/step"
)

// DefaultMaxPasses bounds the correct-and-recheck loop.
const DefaultMaxPasses = 3

// Validator evaluates a rule table against an Input.
type Validator struct {
	rules     []AntiPatternRule
	autoFix   bool
	maxPasses int
	logger    *logging.Logger
	bus       *event.Bus
}

// Option configures a Validator.
type Option func(*Validator)

// WithAutoFix enables automatic correction of fixable rules.
func WithAutoFix(enabled bool) Option {
	return func(v *Validator) { v.autoFix = enabled }
}

// WithMaxPasses bounds the number of correct-and-recheck passes.
func WithMaxPasses(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxPasses = n
		}
	}
}

// WithLogger sets the logger corrections are written to.
func WithLogger(l *logging.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithBus sets the bus violations and corrections are published on.
func WithBus(b *event.Bus) Option {
	return func(v *Validator) { v.bus = b }
}

// WithRules replaces the rule table.
func WithRules(rules ...AntiPatternRule) Option {
	return func(v *Validator) { v.rules = rules }
}

// New creates a Validator with the default rule table.
func New(opts ...Option) *Validator {
	v := &Validator{
		rules:     DefaultRules(),
		maxPasses: DefaultMaxPasses,
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.WithPhase("validation")
	return v
}

// Rules returns the rule table.
func (v *Validator) Rules() []AntiPatternRule {
	return append([]AntiPatternRule(nil), v.rules...)
}

// AutoFix reports whether auto-fix is enabled.
func (v *Validator) AutoFix() bool {
	return v.autoFix
}

// Evaluate runs every rule once without correcting anything.
func (v *Validator) Evaluate(in Input) []Violation {
	var out []Violation
	for _, r := range v.rules {
		out = append(out, r.Evaluate(in)...)
	}
	return out
}

// Validate evaluates the rules, applies permitted corrections and re-checks
// until nothing more is corrected or the pass limit is reached.
func (v *Validator) Validate(in Input) Report {
	report := Report{Steps: step.Merge(in.Steps, nil)}
	in.Steps = report.Steps

	var violations []Violation
	for report.Passes < v.maxPasses {
		report.Passes++
		violations = v.Evaluate(in)

		var updates []step.ExecutionStep
		for _, r := range v.rules {
			if r.Fix == nil || !(r.Enforced || v.autoFix) {
				continue
			}
			for _, viol := range violations {
				if viol.RuleID != r.ID {
					continue
				}
				for _, fixed := range r.Fix(in, viol) {
					prev, _ := findStep(in.Steps, fixed.ID)
					c := Correction{
						RuleID: r.ID,
						StepID: fixed.ID,
						From:   prev.Status,
						To:     fixed.Status,
						Reason: viol.Evidence,
						At:     in.Now,
					}
					report.Corrections = append(report.Corrections, c)
					v.recordCorrection(c)
					updates = append(updates, fixed)
				}
			}
		}

		if len(updates) == 0 {
			break
		}
		in.Steps = step.Merge(in.Steps, updates)
		report.Steps = in.Steps
		violations = nil
	}
	if violations == nil {
		violations = v.Evaluate(in)
	}

	report.Violations = violations
	for _, viol := range violations {
		v.recordViolation(viol)
		if viol.Severity.Blocks() {
			report.Blocking = append(report.Blocking, viol)
		}
	}
	return report
}

func (v *Validator) recordCorrection(c Correction) {
	v.logger.WithStep(c.StepID).Warn("auto-fix applied",
		"rule", c.RuleID,
		"from", string(c.From),
		"to", string(c.To),
		"reason", c.Reason)
	if v.bus != nil {
		v.bus.Publish(event.NewCorrectionEvent(c.RuleID, c.StepID, string(c.From), string(c.To), c.Reason))
	}
}

func (v *Validator) recordViolation(viol Violation) {
	log := v.logger.With("rule", viol.RuleID, "severity", viol.Severity.String(), "step_ids", viol.StepIDs)
	if viol.Severity.Blocks() {
		log.Error("safety violation", "evidence", viol.Evidence)
	} else {
		log.Warn("safety violation", "evidence", viol.Evidence)
	}
	if v.bus != nil {
		v.bus.Publish(event.NewViolationEvent(viol.RuleID, string(viol.Category), viol.Severity.String(),
			viol.Evidence, viol.SuggestedFix, viol.StepIDs))
	}
}
