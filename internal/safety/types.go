package safety

import (
	"time"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/escalation"
	"github.com/Iron-Ham/conductor/internal/step"
)

// Severity represents how serious a violation is. The zero value is unset:
// a detector leaves it zero to take the rule's default.
type Severity int

const (
	// SeverityInfo is informational only.
	SeverityInfo Severity = iota + 1
	// SeverityWarning is reported but never blocks scheduling.
	SeverityWarning
	// SeverityError blocks scheduling unless corrected.
	SeverityError
	// SeverityCritical blocks scheduling unless corrected.
	SeverityCritical
)

// String returns the string representation of a Severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a string to a Severity level.
// Returns SeverityInfo for unrecognized strings.
func ParseSeverity(s string) Severity {
	switch s {
	case "critical":
		return SeverityCritical
	case "error":
		return SeverityError
	case "warning":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Blocks reports whether an uncorrected violation of this severity blocks
// scheduling.
func (s Severity) Blocks() bool {
	return s >= SeverityError
}

// Category groups rules by the unsafe shape they detect.
type Category string

const (
	CategoryCycle               Category = "cycle"
	CategorySelfRouting         Category = "self_routing"
	CategoryResourceExhaustion  Category = "resource_exhaustion"
	CategoryCollaborationSpiral Category = "collaboration_spiral"
	CategoryStaleStep           Category = "stale_step"
)

// Violation is one rule match.
type Violation struct {
	RuleID       string   `json:"rule_id"`
	Category     Category `json:"category"`
	Severity     Severity `json:"severity"`
	Evidence     string   `json:"evidence"`
	SuggestedFix string   `json:"suggested_fix"`
	// StepIDs lists the steps the violation was found on. Empty for
	// plan-level violations.
	StepIDs []string `json:"step_ids,omitempty"`
}

// Detail converts the violation to its error-side form.
func (v Violation) Detail() errors.ViolationDetail {
	return errors.ViolationDetail{
		RuleID:       v.RuleID,
		Severity:     v.Severity.String(),
		Evidence:     v.Evidence,
		SuggestedFix: v.SuggestedFix,
	}
}

// Handoff is a handoff observed since the previous validator pass.
type Handoff struct {
	From  string
	To    string
	Query string
	// StepID is the follow-up step created for the handoff.
	StepID string
}

// Limits are the hard ceilings and spiral thresholds.
type Limits struct {
	// MaxSteps is the step count ceiling. Zero disables the check.
	MaxSteps int `mapstructure:"max_steps"`
	// MaxMessages is the message/event count ceiling. Zero disables it.
	MaxMessages int `mapstructure:"max_messages"`
	// PressureRatio is the fraction of a ceiling that raises a warning.
	PressureRatio float64 `mapstructure:"pressure_ratio"`
	// SpiralWarn is the same-pair streak that raises a warning.
	SpiralWarn int `mapstructure:"spiral_warn"`
	// SpiralLimit is the same-pair streak that raises an error.
	SpiralLimit int `mapstructure:"spiral_limit"`
}

// DefaultLimits returns the default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxSteps:      100,
		MaxMessages:   1000,
		PressureRatio: 0.8,
		SpiralWarn:    4,
		SpiralLimit:   16,
	}
}

// Input is everything a rule may inspect.
type Input struct {
	Steps         []step.ExecutionStep
	Collaboration escalation.CollaborationState
	// Handoffs are the handoffs observed since the previous pass.
	Handoffs     []Handoff
	MessageCount int
	PlanningRole string
	Limits       Limits
	Now          time.Time
}

// Correction is one automatic rewrite applied to a step.
type Correction struct {
	RuleID string      `json:"rule_id"`
	StepID string      `json:"step_id"`
	From   step.Status `json:"from"`
	To     step.Status `json:"to"`
	Reason string      `json:"reason"`
	At     time.Time   `json:"at"`
}

// Report is the outcome of a validation.
type Report struct {
	// Steps is the step list after corrections. Equal to the input when no
	// correction applied.
	Steps []step.ExecutionStep
	// Violations holds the violations still present after corrections.
	Violations []Violation
	// Corrections lists every rewrite, in application order.
	Corrections []Correction
	// Blocking holds the violations that block scheduling.
	Blocking []Violation
	// Passes is the number of evaluation passes run.
	Passes int
}

// Blocked reports whether scheduling must stop.
func (r Report) Blocked() bool {
	return len(r.Blocking) > 0
}

// Err returns a *errors.ValidationViolation for blocking violations, or nil.
func (r Report) Err() error {
	if !r.Blocked() {
		return nil
	}
	details := make([]errors.ViolationDetail, len(r.Blocking))
	for i, v := range r.Blocking {
		details[i] = v.Detail()
	}
	return errors.NewValidationViolation(details)
}

// Updates returns the corrected steps that differ from the input, keyed by
// the corrections applied.
func (r Report) Updates() []step.ExecutionStep {
	seen := make(map[string]bool, len(r.Corrections))
	var out []step.ExecutionStep
	for _, c := range r.Corrections {
		if seen[c.StepID] {
			continue
		}
		seen[c.StepID] = true
		for _, s := range r.Steps {
			if s.ID == c.StepID {
				out = append(out, s.Clone())
				break
			}
		}
	}
	return out
}
