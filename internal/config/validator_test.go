package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

func hasField(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_Validate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"unknown mode", func(c *Config) { c.Execution.Mode = "turbo" }, "execution.mode"},
		{"negative max parallel", func(c *Config) { c.Execution.MaxParallel = -1 }, "execution.max_parallel"},
		{"blank planning role", func(c *Config) { c.Execution.PlanningRole = "  " }, "execution.planning_role"},
		{"negative timeout", func(c *Config) { c.Execution.DefaultTimeout = -time.Second }, "execution.default_timeout"},
		{"negative retries", func(c *Config) { c.Execution.MaxRetries = -1 }, "execution.max_retries"},
		{"negative backoff", func(c *Config) { c.Execution.BackoffBase = -time.Second }, "execution.backoff_base"},
		{"cap below base", func(c *Config) { c.Execution.MaxBackoff = time.Millisecond }, "execution.max_backoff"},
		{"zero passes", func(c *Config) { c.Execution.MaxPasses = 0 }, "execution.max_passes"},
		{"negative step ceiling", func(c *Config) { c.Safety.MaxSteps = -1 }, "safety.max_steps"},
		{"negative message ceiling", func(c *Config) { c.Safety.MaxMessages = -1 }, "safety.max_messages"},
		{"pressure above one", func(c *Config) { c.Safety.PressureRatio = 1.5 }, "safety.pressure_ratio"},
		{"zero spiral warn", func(c *Config) { c.Safety.SpiralWarn = 0 }, "safety.spiral_warn"},
		{"spiral limit below warn", func(c *Config) { c.Safety.SpiralLimit = 2 }, "safety.spiral_limit"},
		{"floor above direct", func(c *Config) { c.Routing.Thresholds.Floor = 5 }, "routing.thresholds"},
		{"watch without path", func(c *Config) { c.Routing.Watch = true }, "routing.watch"},
		{"bad small talk glob", func(c *Config) { c.Routing.SmallTalk = []string{"[unclosed"} }, "routing.small_talk"},
		{"zero escalation base", func(c *Config) { c.Escalation.Base = 0 }, "escalation.base"},
		{"negative escalation step", func(c *Config) { c.Escalation.Step = -1 }, "escalation.step"},
		{"quality delta above one", func(c *Config) { c.Escalation.MinQualityDelta = 2 }, "escalation.min_quality_delta"},
		{"self alternate", func(c *Config) { c.Escalation.Alternates = map[string]string{"fixer": "fixer"} }, "escalation.alternates.fixer"},
		{"empty research worker", func(c *Config) { c.Escalation.ResearchWorker = "" }, "escalation.research_worker"},
		{"empty arbitration worker", func(c *Config) { c.Escalation.ArbitrationWorker = "" }, "escalation.arbitration_worker"},
		{"bottleneck ratio at one", func(c *Config) { c.Ledger.BottleneckRatio = 1 }, "ledger.bottleneck_ratio"},
		{"zero expected duration", func(c *Config) { c.Ledger.DefaultExpected = 0 }, "ledger.default_expected"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			errs := cfg.Validate()
			if !hasField(errs, tt.field) {
				t.Errorf("expected error for %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestConfig_Validate_Logging(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "INFO", ""} {
		cfg := Default()
		cfg.Logging.Level = level
		if errs := cfg.Validate(); hasField(errs, "logging.level") {
			t.Errorf("level %q should be valid", level)
		}
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Execution.Mode = "turbo"
	cfg.Safety.PressureRatio = 0
	cfg.Logging.Level = "loud"

	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(errs), errs)
	}
}

func TestValidLogLevels(t *testing.T) {
	levels := ValidLogLevels()
	want := []string{"debug", "info", "warn", "error"}
	if strings.Join(levels, ",") != strings.Join(want, ",") {
		t.Errorf("ValidLogLevels() = %v, want %v", levels, want)
	}
}

func TestConfig_RouterThresholds(t *testing.T) {
	cfg := Default()
	cfg.Routing.Thresholds.Direct = 4
	if got := cfg.RouterThresholds(); got.Direct != 4 {
		t.Errorf("RouterThresholds().Direct = %v, want 4", got.Direct)
	}

	cfg.Routing.Thresholds.Floor = 10
	if got := cfg.RouterThresholds(); got.Floor != 1.5 {
		t.Errorf("inconsistent thresholds should fall back to defaults, got %+v", got)
	}
}
