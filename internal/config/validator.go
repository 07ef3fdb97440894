package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/router"
	"github.com/Iron-Ham/conductor/internal/scheduler"
	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "execution.max_parallel")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	levels := logging.ValidLevels()
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = strings.ToLower(l)
	}
	return out
}

// ValidModes returns the list of valid execution modes
func ValidModes() []string {
	return []string{string(scheduler.ModeSequential), string(scheduler.ModeParallel)}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateExecution()...)
	errors = append(errors, c.validateSafety()...)
	errors = append(errors, c.validateRouting()...)
	errors = append(errors, c.validateEscalation()...)
	errors = append(errors, c.validateLedger()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateExecution() []ValidationError {
	var errors []ValidationError
	e := c.Execution

	if !scheduler.Mode(e.Mode).Valid() {
		errors = append(errors, ValidationError{
			Field:   "execution.mode",
			Value:   e.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidModes(), ", ")),
		})
	}
	if e.MaxParallel < 0 {
		errors = append(errors, ValidationError{
			Field:   "execution.max_parallel",
			Value:   e.MaxParallel,
			Message: "must be non-negative (0 = no cap)",
		})
	}
	if strings.TrimSpace(e.PlanningRole) == "" {
		errors = append(errors, ValidationError{
			Field:   "execution.planning_role",
			Value:   e.PlanningRole,
			Message: "must not be empty",
		})
	}
	if e.DefaultTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "execution.default_timeout",
			Value:   e.DefaultTimeout,
			Message: "must be non-negative",
		})
	}
	if e.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "execution.max_retries",
			Value:   e.MaxRetries,
			Message: "must be non-negative",
		})
	}
	if e.BackoffBase < 0 {
		errors = append(errors, ValidationError{
			Field:   "execution.backoff_base",
			Value:   e.BackoffBase,
			Message: "must be non-negative",
		})
	}
	if e.MaxBackoff < 0 {
		errors = append(errors, ValidationError{
			Field:   "execution.max_backoff",
			Value:   e.MaxBackoff,
			Message: "must be non-negative",
		})
	} else if e.MaxBackoff > 0 && e.MaxBackoff < e.BackoffBase {
		errors = append(errors, ValidationError{
			Field:   "execution.max_backoff",
			Value:   e.MaxBackoff,
			Message: fmt.Sprintf("must not be less than backoff_base (%v)", e.BackoffBase),
		})
	}
	if e.MaxPasses < 1 {
		errors = append(errors, ValidationError{
			Field:   "execution.max_passes",
			Value:   e.MaxPasses,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateSafety() []ValidationError {
	var errors []ValidationError
	s := c.Safety

	if s.MaxSteps < 0 {
		errors = append(errors, ValidationError{
			Field:   "safety.max_steps",
			Value:   s.MaxSteps,
			Message: "must be non-negative (0 = disabled)",
		})
	}
	if s.MaxMessages < 0 {
		errors = append(errors, ValidationError{
			Field:   "safety.max_messages",
			Value:   s.MaxMessages,
			Message: "must be non-negative (0 = disabled)",
		})
	}
	if s.PressureRatio <= 0 || s.PressureRatio > 1 {
		errors = append(errors, ValidationError{
			Field:   "safety.pressure_ratio",
			Value:   s.PressureRatio,
			Message: "must be in (0, 1]",
		})
	}
	if s.SpiralWarn < 1 {
		errors = append(errors, ValidationError{
			Field:   "safety.spiral_warn",
			Value:   s.SpiralWarn,
			Message: "must be at least 1",
		})
	}
	if s.SpiralLimit < s.SpiralWarn {
		errors = append(errors, ValidationError{
			Field:   "safety.spiral_limit",
			Value:   s.SpiralLimit,
			Message: fmt.Sprintf("must not be less than spiral_warn (%d)", s.SpiralWarn),
		})
	}

	return errors
}

func (c *Config) validateRouting() []ValidationError {
	var errors []ValidationError

	if err := c.Routing.Thresholds.Validate(); err != nil {
		errors = append(errors, ValidationError{
			Field:   "routing.thresholds",
			Value:   c.Routing.Thresholds,
			Message: err.Error(),
		})
	}
	if c.Routing.Watch && c.Routing.TablesPath == "" {
		errors = append(errors, ValidationError{
			Field:   "routing.watch",
			Value:   c.Routing.Watch,
			Message: "requires routing.tables_path",
		})
	}
	for _, p := range c.Routing.SmallTalk {
		if _, err := glob.Compile(strings.ToLower(p)); err != nil {
			errors = append(errors, ValidationError{
				Field:   "routing.small_talk",
				Value:   p,
				Message: "invalid glob pattern",
			})
		}
	}

	return errors
}

func (c *Config) validateEscalation() []ValidationError {
	var errors []ValidationError
	e := c.Escalation

	if e.Base < 1 {
		errors = append(errors, ValidationError{
			Field:   "escalation.base",
			Value:   e.Base,
			Message: "must be at least 1",
		})
	}
	if e.Step < 0 {
		errors = append(errors, ValidationError{
			Field:   "escalation.step",
			Value:   e.Step,
			Message: "must be non-negative",
		})
	}
	if e.MinQualityDelta < 0 || e.MinQualityDelta > 1 {
		errors = append(errors, ValidationError{
			Field:   "escalation.min_quality_delta",
			Value:   e.MinQualityDelta,
			Message: "must be between 0 and 1",
		})
	}
	for _, from := range slices.Sorted(maps.Keys(e.Alternates)) {
		if to := e.Alternates[from]; from == to {
			errors = append(errors, ValidationError{
				Field:   "escalation.alternates." + from,
				Value:   to,
				Message: "a worker cannot be its own alternate",
			})
		}
	}
	if e.ResearchWorker == "" {
		errors = append(errors, ValidationError{
			Field:   "escalation.research_worker",
			Value:   e.ResearchWorker,
			Message: "must not be empty",
		})
	}
	if e.ArbitrationWorker == "" {
		errors = append(errors, ValidationError{
			Field:   "escalation.arbitration_worker",
			Value:   e.ArbitrationWorker,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateLedger() []ValidationError {
	var errors []ValidationError

	if c.Ledger.BottleneckRatio <= 1 {
		errors = append(errors, ValidationError{
			Field:   "ledger.bottleneck_ratio",
			Value:   c.Ledger.BottleneckRatio,
			Message: "must be greater than 1",
		})
	}
	if c.Ledger.DefaultExpected <= 0 {
		errors = append(errors, ValidationError{
			Field:   "ledger.default_expected",
			Value:   c.Ledger.DefaultExpected,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

// RouterThresholds returns the validated routing thresholds, or the defaults
// when the configured ones are inconsistent.
func (c *Config) RouterThresholds() router.Thresholds {
	if err := c.Routing.Thresholds.Validate(); err != nil {
		return router.DefaultThresholds()
	}
	return c.Routing.Thresholds
}
