package dsl

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"gopkg.in/yaml.v3"
)

// Config is the parsed front matter of a script.
type Config struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Variables are injected at BUILTIN scope before the body is walked.
	Variables map[string]any `yaml:"variables"`

	// Functions maps a function name to the script implementing it.
	Functions map[string]string `yaml:"functions"`

	// Agents lists agents the script may hand off to.
	Agents []string `yaml:"agents"`

	// When is an expression over variables; a false result skips the body.
	When string `yaml:"when"`

	// Enabled defaults to true when absent.
	Enabled *bool `yaml:"enabled"`

	Model   string `yaml:"model"`
	Agentic bool   `yaml:"agentic"`

	BeforeStreaming []string `yaml:"beforeStreaming"`
	OnStreaming     []string `yaml:"onStreaming"`
	OnStreamingEnd  []string `yaml:"onStreamingEnd"`
	AfterStreaming  []string `yaml:"afterStreaming"`
}

// ParseConfig decodes a front matter body.
// On error the returned config is nil.
func ParseConfig(body string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(body) == "" {
		return cfg, nil
	}

	if err := yaml.Unmarshal([]byte(body), cfg); err != nil {
		return nil, fmt.Errorf("parse front matter: %w", err)
	}

	return cfg, nil
}

// IsEnabled reports whether the script body should run.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Hooks returns the lifecycle hooks keyed by their front matter name.
func (c *Config) Hooks() map[string][]string {
	hooks := make(map[string][]string)
	add := func(name string, v []string) {
		if len(v) > 0 {
			hooks[name] = v
		}
	}
	add("beforeStreaming", c.BeforeStreaming)
	add("onStreaming", c.OnStreaming)
	add("onStreamingEnd", c.OnStreamingEnd)
	add("afterStreaming", c.AfterStreaming)
	return hooks
}

// Matches evaluates the when condition against vars.
// An empty condition always matches. Unknown names evaluate to nil.
func (c *Config) Matches(vars map[string]any) (bool, error) {
	if strings.TrimSpace(c.When) == "" {
		return true, nil
	}
	if vars == nil {
		vars = map[string]any{}
	}

	program, err := expr.Compile(c.When, expr.Env(vars), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile when %q: %w", c.When, err)
	}

	out, err := expr.Run(program, vars)
	if err != nil {
		return false, fmt.Errorf("evaluate when %q: %w", c.When, err)
	}

	matched, _ := out.(bool)
	return matched, nil
}
