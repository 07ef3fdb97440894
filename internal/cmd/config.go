package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/conductor/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify Conductor configuration",
	Long: `View or modify Conductor configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  conductor config set execution.mode parallel
  conductor config set execution.default_timeout 15m
  conductor config set escalation.base 2`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// settableKeys maps each key accepted by "config set" to its value kind.
var settableKeys = map[string]string{
	"execution.mode":            "string",
	"execution.max_parallel":    "int",
	"execution.planning_role":   "string",
	"execution.default_timeout": "duration",
	"execution.max_retries":     "int",
	"execution.backoff_base":    "duration",
	"execution.max_backoff":     "duration",
	"execution.auto_fix":        "bool",
	"execution.max_passes":      "int",
	"safety.max_steps":          "int",
	"safety.max_messages":       "int",
	"safety.pressure_ratio":     "float",
	"routing.tables_path":       "string",
	"routing.watch":             "bool",
	"escalation.base":           "int",
	"escalation.step":           "int",
	"ledger.bottleneck_ratio":   "float",
	"ledger.default_expected":   "duration",
	"checkpoint.enabled":        "bool",
	"checkpoint.path":           "string",
	"memory.enabled":            "bool",
	"logging.level":             "string",
	"logging.dir":               "string",
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	fmt.Fprint(out, string(data))

	if _, err := config.Load(); err != nil {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Configuration problems:\n%v\n", err)
	}
	return nil
}

func parseConfigValue(key, value string) (any, error) {
	kind, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'conductor config set --help' to see examples", key)
	}

	switch kind {
	case "bool":
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	case "float":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected number", key)
		}
		return f, nil
	case "duration":
		if _, err := time.ParseDuration(value); err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected duration like 30s or 5m", key)
		}
		return value, nil
	}

	switch key {
	case "execution.mode":
		if !slices.Contains(config.ValidModes(), value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidModes(), ", "))
		}
	case "logging.level":
		if !slices.Contains(config.ValidLogLevels(), strings.ToLower(value)) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidLogLevels(), ", "))
		}
	}
	return value, nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseConfigValue(key, args[1])
	if err != nil {
		return err
	}

	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set(key, typedValue)

	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

const defaultConfigContent = `# Conductor Configuration

execution:
  # sequential or parallel
  mode: sequential
  # Maximum concurrent steps in parallel mode
  max_parallel: 4
  # Steps assigned to this worker are never dispatched
  planning_role: planner
  default_timeout: 10m
  max_retries: 2
  backoff_base: 1s
  max_backoff: 5m
  # Let the safety validator rewrite fixable violations
  auto_fix: true

routing:
  # Optional YAML keyword tables replacing the built-in ones
  tables_path: ""
  # Reload tables_path when it changes
  watch: false

escalation:
  # Non-improving handoffs before the first escalation
  base: 3
  # Extra handoffs required per level
  step: 1

checkpoint:
  # Persist step updates to SQLite
  enabled: false

memory:
  # Remember completed plans and suggest them for similar tasks
  enabled: false

logging:
  level: info
  # Write JSON logs to this directory instead of stderr
  dir: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'conductor config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: CONDUCTOR_* (e.g., CONDUCTOR_EXECUTION_MODE)")
	return nil
}
