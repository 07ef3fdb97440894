package router

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Table is the keyword table for one worker.
type Table struct {
	// Worker is the worker identity the keywords route to.
	Worker string `yaml:"worker"`
	// ActionVerbs are strong signals, weight 2.0 each.
	ActionVerbs []string `yaml:"action_verbs,omitempty"`
	// DomainNouns are weak signals, weight 1.0 each.
	DomainNouns []string `yaml:"domain_nouns,omitempty"`
}

// Tables is the full keyword table file.
type Tables struct {
	// Version is the file format version (currently "1")
	Version string  `yaml:"version"`
	Workers []Table `yaml:"workers"`
}

// ParseTables decodes keyword tables from YAML and validates them.
func ParseTables(data []byte) (Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tables{}, fmt.Errorf("failed to parse keyword tables: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tables{}, err
	}
	return t, nil
}

// LoadTables reads and parses a keyword table file.
func LoadTables(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("failed to read keyword tables: %w", err)
	}
	return ParseTables(data)
}

// Validate checks that worker names are unique and non-empty and that every
// worker has at least one keyword.
func (t Tables) Validate() error {
	if t.Version != "" && t.Version != "1" {
		return fmt.Errorf("unsupported keyword table version %q", t.Version)
	}
	seen := make(map[string]bool, len(t.Workers))
	for i, w := range t.Workers {
		name := strings.TrimSpace(w.Worker)
		if name == "" {
			return fmt.Errorf("keyword table %d: worker name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("keyword table %d: duplicate worker %q", i, name)
		}
		seen[name] = true
		if len(w.ActionVerbs)+len(w.DomainNouns) == 0 {
			return fmt.Errorf("keyword table %q: no keywords", name)
		}
		for _, kw := range append(append([]string(nil), w.ActionVerbs...), w.DomainNouns...) {
			if strings.TrimSpace(kw) == "" {
				return fmt.Errorf("keyword table %q: empty keyword", name)
			}
		}
	}
	return nil
}

// DefaultTables returns the built-in keyword tables.
func DefaultTables() Tables {
	return Tables{
		Version: "1",
		Workers: []Table{
			{
				Worker:      "architect",
				ActionVerbs: []string{"design", "architect", "plan out", "structure"},
				DomainNouns: []string{"architecture", "schema", "interface", "module", "system"},
			},
			{
				Worker:      "codesmith",
				ActionVerbs: []string{"implement", "build", "write", "code", "refactor"},
				DomainNouns: []string{"function", "endpoint", "feature", "class", "handler"},
			},
			{
				Worker:      "research",
				ActionVerbs: []string{"research", "investigate", "find out", "compare", "look up"},
				DomainNouns: []string{"documentation", "library", "benchmark", "alternatives"},
			},
			{
				Worker:      "reviewer",
				ActionVerbs: []string{"review", "audit", "critique", "check"},
				DomainNouns: []string{"pull request", "diff", "quality", "style"},
			},
			{
				Worker:      "fixer",
				ActionVerbs: []string{"fix", "repair", "patch", "resolve"},
				DomainNouns: []string{"lint", "warning", "regression"},
			},
			{
				Worker:      "debugger",
				ActionVerbs: []string{"debug", "diagnose", "trace", "reproduce"},
				DomainNouns: []string{"bug", "crash", "stack trace", "error", "panic"},
			},
			{
				Worker:      "tester",
				ActionVerbs: []string{"test", "verify", "validate"},
				DomainNouns: []string{"coverage", "unit test", "fixture", "assertion"},
			},
			{
				Worker:      "scribe",
				ActionVerbs: []string{"document", "summarize", "explain"},
				DomainNouns: []string{"readme", "changelog", "docs", "guide"},
			},
		},
	}
}
