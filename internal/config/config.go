package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/conductor/internal/escalation"
	"github.com/Iron-Ham/conductor/internal/ledger"
	"github.com/Iron-Ham/conductor/internal/retry"
	"github.com/Iron-Ham/conductor/internal/router"
	"github.com/Iron-Ham/conductor/internal/safety"
	"github.com/Iron-Ham/conductor/internal/scheduler"
	"github.com/spf13/viper"
)

// Config represents the complete conductor configuration
type Config struct {
	Execution  ExecutionConfig   `mapstructure:"execution"`
	Safety     safety.Limits     `mapstructure:"safety"`
	Routing    RoutingConfig     `mapstructure:"routing"`
	Escalation escalation.Config `mapstructure:"escalation"`
	Ledger     ledger.Options    `mapstructure:"ledger"`
	Checkpoint CheckpointConfig  `mapstructure:"checkpoint"`
	Memory     MemoryConfig      `mapstructure:"memory"`
	Logging    LoggingConfig     `mapstructure:"logging"`
}

// ExecutionConfig controls how the engine dispatches steps
type ExecutionConfig struct {
	// Mode is "sequential" or "parallel"
	Mode string `mapstructure:"mode"`
	// MaxParallel caps concurrent steps in parallel mode (0 = no cap)
	MaxParallel int `mapstructure:"max_parallel"`
	// PlanningRole names the worker that only plans; its steps are never executed
	PlanningRole string `mapstructure:"planning_role"`
	// DefaultTimeout applies to steps without their own timeout (0 = none)
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// MaxRetries applies to steps that do not set their own retry budget
	MaxRetries int `mapstructure:"max_retries"`
	// BackoffBase is the first retry delay; each retry doubles it
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	// MaxBackoff caps a single retry delay (0 = uncapped)
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
	// AutoFix applies every fixable correction, not only enforced ones
	AutoFix bool `mapstructure:"auto_fix"`
	// MaxPasses bounds validator re-runs after corrections
	MaxPasses int `mapstructure:"max_passes"`
}

// RoutingConfig controls keyword routing
type RoutingConfig struct {
	Thresholds router.Thresholds `mapstructure:"thresholds"`
	// TablesPath is an optional YAML file replacing the built-in keyword tables
	TablesPath string `mapstructure:"tables_path"`
	// Watch reloads TablesPath when it changes
	Watch bool `mapstructure:"watch"`
	// SmallTalk holds glob patterns for text that is never treated as a task
	SmallTalk []string `mapstructure:"small_talk"`
}

// CheckpointConfig controls the sqlite step store
type CheckpointConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path is the database file; empty means <config dir>/conductor.db
	Path string `mapstructure:"path"`
}

// MemoryConfig controls plan suggestions from previous runs
type MemoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level"`
	// Dir is where conductor.log is written; empty logs to stderr
	Dir string `mapstructure:"dir"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	policy := retry.DefaultPolicy()
	return &Config{
		Execution: ExecutionConfig{
			Mode:           string(scheduler.ModeSequential),
			MaxParallel:    4,
			PlanningRole:   "planner",
			DefaultTimeout: 10 * time.Minute,
			MaxRetries:     policy.MaxRetries,
			BackoffBase:    policy.BackoffBase,
			MaxBackoff:     policy.MaxBackoff,
			AutoFix:        true,
			MaxPasses:      safety.DefaultMaxPasses,
		},
		Safety: safety.DefaultLimits(),
		Routing: RoutingConfig{
			Thresholds: router.DefaultThresholds(),
			SmallTalk:  append([]string(nil), router.DefaultSmallTalkPatterns...),
		},
		Escalation: escalation.DefaultConfig(),
		Ledger:     ledger.DefaultOptions(),
		Checkpoint: CheckpointConfig{
			Enabled: false,
			Path:    "",
		},
		Memory: MemoryConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "",
		},
	}
}

// RetryPolicy returns the execution retry settings as a retry.Policy
func (c *ExecutionConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:  c.MaxRetries,
		BackoffBase: c.BackoffBase,
		MaxBackoff:  c.MaxBackoff,
	}
}

// SchedulerMode returns the configured mode, falling back to sequential
func (c *ExecutionConfig) SchedulerMode() scheduler.Mode {
	if m := scheduler.Mode(c.Mode); m.Valid() {
		return m
	}
	return scheduler.ModeSequential
}

// DatabasePath returns the checkpoint database path
func (c *CheckpointConfig) DatabasePath() string {
	if c.Path != "" {
		return c.Path
	}
	return filepath.Join(ConfigDir(), "conductor.db")
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Execution defaults
	viper.SetDefault("execution.mode", defaults.Execution.Mode)
	viper.SetDefault("execution.max_parallel", defaults.Execution.MaxParallel)
	viper.SetDefault("execution.planning_role", defaults.Execution.PlanningRole)
	viper.SetDefault("execution.default_timeout", defaults.Execution.DefaultTimeout)
	viper.SetDefault("execution.max_retries", defaults.Execution.MaxRetries)
	viper.SetDefault("execution.backoff_base", defaults.Execution.BackoffBase)
	viper.SetDefault("execution.max_backoff", defaults.Execution.MaxBackoff)
	viper.SetDefault("execution.auto_fix", defaults.Execution.AutoFix)
	viper.SetDefault("execution.max_passes", defaults.Execution.MaxPasses)

	// Safety defaults
	viper.SetDefault("safety.max_steps", defaults.Safety.MaxSteps)
	viper.SetDefault("safety.max_messages", defaults.Safety.MaxMessages)
	viper.SetDefault("safety.pressure_ratio", defaults.Safety.PressureRatio)
	viper.SetDefault("safety.spiral_warn", defaults.Safety.SpiralWarn)
	viper.SetDefault("safety.spiral_limit", defaults.Safety.SpiralLimit)

	// Routing defaults
	viper.SetDefault("routing.thresholds.direct", defaults.Routing.Thresholds.Direct)
	viper.SetDefault("routing.thresholds.floor", defaults.Routing.Thresholds.Floor)
	viper.SetDefault("routing.thresholds.runner_up_floor", defaults.Routing.Thresholds.RunnerUpFloor)
	viper.SetDefault("routing.thresholds.gap", defaults.Routing.Thresholds.Gap)
	viper.SetDefault("routing.tables_path", defaults.Routing.TablesPath)
	viper.SetDefault("routing.watch", defaults.Routing.Watch)
	viper.SetDefault("routing.small_talk", defaults.Routing.SmallTalk)

	// Escalation defaults
	viper.SetDefault("escalation.base", defaults.Escalation.Base)
	viper.SetDefault("escalation.step", defaults.Escalation.Step)
	viper.SetDefault("escalation.min_quality_delta", defaults.Escalation.MinQualityDelta)
	viper.SetDefault("escalation.alternates", defaults.Escalation.Alternates)
	viper.SetDefault("escalation.research_worker", defaults.Escalation.ResearchWorker)
	viper.SetDefault("escalation.arbitration_worker", defaults.Escalation.ArbitrationWorker)

	// Ledger defaults
	viper.SetDefault("ledger.bottleneck_ratio", defaults.Ledger.BottleneckRatio)
	viper.SetDefault("ledger.default_expected", defaults.Ledger.DefaultExpected)

	// Checkpoint and memory defaults
	viper.SetDefault("checkpoint.enabled", defaults.Checkpoint.Enabled)
	viper.SetDefault("checkpoint.path", defaults.Checkpoint.Path)
	viper.SetDefault("memory.enabled", defaults.Memory.Enabled)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "conductor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(home, ".config", "conductor")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
