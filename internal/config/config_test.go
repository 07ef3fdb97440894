package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/conductor/internal/scheduler"
	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Execution.Mode != "sequential" {
		t.Errorf("Execution.Mode = %q, want %q", cfg.Execution.Mode, "sequential")
	}
	if cfg.Execution.PlanningRole != "planner" {
		t.Errorf("Execution.PlanningRole = %q, want %q", cfg.Execution.PlanningRole, "planner")
	}
	if cfg.Execution.MaxRetries != 2 {
		t.Errorf("Execution.MaxRetries = %d, want 2", cfg.Execution.MaxRetries)
	}
	if cfg.Execution.BackoffBase != time.Second {
		t.Errorf("Execution.BackoffBase = %v, want 1s", cfg.Execution.BackoffBase)
	}
	if !cfg.Execution.AutoFix {
		t.Error("Execution.AutoFix should be true by default")
	}

	if cfg.Safety.MaxSteps != 100 || cfg.Safety.MaxMessages != 1000 {
		t.Errorf("Safety ceilings = %d/%d, want 100/1000", cfg.Safety.MaxSteps, cfg.Safety.MaxMessages)
	}
	if cfg.Routing.Thresholds.Direct != 2.0 || cfg.Routing.Thresholds.Floor != 1.5 {
		t.Errorf("Routing.Thresholds = %+v", cfg.Routing.Thresholds)
	}
	if len(cfg.Routing.SmallTalk) == 0 {
		t.Error("Routing.SmallTalk should carry the default patterns")
	}
	if cfg.Escalation.Base != 3 {
		t.Errorf("Escalation.Base = %d, want 3", cfg.Escalation.Base)
	}
	if cfg.Checkpoint.Enabled || cfg.Memory.Enabled {
		t.Error("checkpoint and memory should be disabled by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestExecutionConfig_RetryPolicy(t *testing.T) {
	e := ExecutionConfig{MaxRetries: 5, BackoffBase: 2 * time.Second, MaxBackoff: time.Minute}
	p := e.RetryPolicy()

	if p.MaxRetries != 5 || p.BackoffBase != 2*time.Second || p.MaxBackoff != time.Minute {
		t.Errorf("RetryPolicy() = %+v", p)
	}
}

func TestExecutionConfig_SchedulerMode(t *testing.T) {
	tests := []struct {
		mode string
		want scheduler.Mode
	}{
		{"sequential", scheduler.ModeSequential},
		{"parallel", scheduler.ModeParallel},
		{"", scheduler.ModeSequential},
		{"turbo", scheduler.ModeSequential},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			e := ExecutionConfig{Mode: tt.mode}
			if got := e.SchedulerMode(); got != tt.want {
				t.Errorf("SchedulerMode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheckpointConfig_DatabasePath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	c := CheckpointConfig{}
	if got := c.DatabasePath(); got != "/custom/config/conductor/conductor.db" {
		t.Errorf("DatabasePath() = %q", got)
	}

	c.Path = "/tmp/steps.db"
	if got := c.DatabasePath(); got != "/tmp/steps.db" {
		t.Errorf("DatabasePath() = %q, want explicit path", got)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		result := ConfigDir()
		expected := "/custom/config/conductor"
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		result := ConfigDir()

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "conductor")
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	result := ConfigFile()
	expected := "/custom/config/conductor/config.yaml"
	if result != expected {
		t.Errorf("ConfigFile() = %q, want %q", result, expected)
	}
}

func TestGet(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	// Set defaults in viper first (normally done by cmd init)
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Execution.PlanningRole != "planner" {
		t.Errorf("Get().Execution.PlanningRole = %q, want planner", cfg.Execution.PlanningRole)
	}
	if cfg.Escalation.Alternates["fixer"] != "debugger" {
		t.Errorf("Get().Escalation.Alternates = %v", cfg.Escalation.Alternates)
	}
}

func TestLoad_FromYAML(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()

	viper.SetConfigType("yaml")
	yaml := `
execution:
  mode: parallel
  max_parallel: 2
  default_timeout: 30s
  backoff_base: 250ms
safety:
  max_steps: 10
routing:
  thresholds:
    direct: 3
ledger:
  default_expected: 2m
`
	if err := viper.ReadConfig(strings.NewReader(yaml)); err != nil {
		t.Fatalf("ReadConfig() error = %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Execution.SchedulerMode() != scheduler.ModeParallel {
		t.Errorf("Execution.Mode = %q", cfg.Execution.Mode)
	}
	if cfg.Execution.MaxParallel != 2 {
		t.Errorf("Execution.MaxParallel = %d", cfg.Execution.MaxParallel)
	}
	if cfg.Execution.DefaultTimeout != 30*time.Second {
		t.Errorf("Execution.DefaultTimeout = %v", cfg.Execution.DefaultTimeout)
	}
	if cfg.Execution.BackoffBase != 250*time.Millisecond {
		t.Errorf("Execution.BackoffBase = %v", cfg.Execution.BackoffBase)
	}
	if cfg.Safety.MaxSteps != 10 || cfg.Safety.MaxMessages != 1000 {
		t.Errorf("Safety = %+v", cfg.Safety)
	}
	if cfg.Routing.Thresholds.Direct != 3 || cfg.Routing.Thresholds.Floor != 1.5 {
		t.Errorf("Routing.Thresholds = %+v", cfg.Routing.Thresholds)
	}
	if cfg.Ledger.DefaultExpected != 2*time.Minute {
		t.Errorf("Ledger.DefaultExpected = %v", cfg.Ledger.DefaultExpected)
	}
}

func TestLoad_InvalidReturnsValidationErrors(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()
	viper.Set("execution.mode", "turbo")
	viper.Set("escalation.base", 0)

	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail for an invalid mode")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("Load() error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("got %d validation errors, want 2: %v", len(verrs), verrs)
	}

	if cfg := Get(); cfg.Execution.Mode != "sequential" {
		t.Errorf("Get() should fall back to defaults, got mode %q", cfg.Execution.Mode)
	}
}
