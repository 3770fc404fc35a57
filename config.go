package devins

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/everydev1618/devins/compiler"
	"github.com/everydev1618/devins/mcp"
	"github.com/everydev1618/devins/schedule"
	"github.com/everydev1618/devins/skills"
	"github.com/everydev1618/devins/speckit"
)

// Config is the runtime configuration, usually read from
// $DEVINS_HOME/config.yaml.
type Config struct {
	// Workspace is the project root. Defaults to the working directory.
	Workspace string `yaml:"workspace"`

	// Sandbox rejects file access outside the workspace.
	Sandbox bool `yaml:"sandbox"`

	Skills    skills.LoaderConfig `yaml:"skills"`
	Speckit   SpeckitConfig       `yaml:"speckit"`
	Commands  CommandsConfig      `yaml:"commands"`
	MCP       MCPConfig           `yaml:"mcp"`
	Container ContainerConfig     `yaml:"container"`
	History   HistoryConfig       `yaml:"history"`
	Schedules []schedule.Job      `yaml:"schedules"`
	Compiler  CompilerConfig      `yaml:"compiler"`

	// Variables seed every compilation as user-defined variables.
	Variables map[string]any `yaml:"variables"`
}

// SpeckitConfig locates prompt templates.
type SpeckitConfig struct {
	Directory string `yaml:"directory"`
}

// CommandsConfig locates custom command scripts (<name>.devin).
type CommandsConfig struct {
	Directory string `yaml:"directory"`
}

// MCPConfig lists tool servers.
type MCPConfig struct {
	Servers []ServerSpec `yaml:"servers"`
}

// ServerSpec configures one tool server. Registry names a well-known
// server from mcp.DefaultRegistry; the other fields then only override
// its environment.
type ServerSpec struct {
	Name      string            `yaml:"name"`
	Registry  string            `yaml:"registry"`
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	Timeout   time.Duration     `yaml:"timeout"`
}

// ContainerConfig runs shell commands inside a Docker container.
type ContainerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Image   string `yaml:"image"`
}

// HistoryConfig controls result persistence.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// CompilerConfig holds compiler option defaults.
type CompilerConfig struct {
	Debug                     bool `yaml:"debug"`
	Strict                    bool `yaml:"strict"`
	MaxRecursionDepth         int  `yaml:"max_recursion_depth"`
	EnableTemplateCompilation bool `yaml:"enable_template_compilation"`
	KeepRawOutput             bool `yaml:"keep_raw_output"`
}

// Options converts the config to compiler options.
func (c CompilerConfig) Options() compiler.Options {
	opts := compiler.DefaultOptions()
	opts.Debug = c.Debug
	opts.Strict = c.Strict
	opts.EnableTemplateCompilation = c.EnableTemplateCompilation
	opts.KeepRawOutput = c.KeepRawOutput
	if c.MaxRecursionDepth > 0 {
		opts.MaxRecursionDepth = c.MaxRecursionDepth
	}
	return opts
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Workspace: ".",
		Skills: skills.LoaderConfig{
			Directories: []string{".devins/skills", SkillsPath()},
		},
		Speckit:  SpeckitConfig{Directory: speckit.DefaultDirectory},
		Commands: CommandsConfig{Directory: ".devins/commands"},
		History:  HistoryConfig{Enabled: true, Path: DefaultDBPath()},
		Compiler: CompilerConfig{MaxRecursionDepth: compiler.DefaultMaxRecursionDepth},
	}
}

// LoadConfig reads a YAML config over DefaultConfig. A missing file yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, s := range c.MCP.Servers {
		name := s.Name
		if name == "" {
			name = s.Registry
		}
		if name == "" {
			return fmt.Errorf("mcp.servers[%d]: name or registry is required", i)
		}
		if seen[name] {
			return fmt.Errorf("mcp.servers[%d]: duplicate server %q", i, name)
		}
		seen[name] = true
		if s.Registry != "" {
			if _, ok := mcp.Lookup(s.Registry); !ok {
				return fmt.Errorf("mcp.servers[%d]: unknown registry server %q", i, s.Registry)
			}
		}
	}

	names := make(map[string]bool)
	for i, j := range c.Schedules {
		if j.Name == "" || j.Cron == "" || j.Script == "" {
			return fmt.Errorf("schedules[%d]: name, cron and script are required", i)
		}
		if names[j.Name] {
			return fmt.Errorf("schedules[%d]: duplicate schedule %q", i, j.Name)
		}
		names[j.Name] = true
	}

	if c.Compiler.MaxRecursionDepth < 0 {
		return fmt.Errorf("compiler.max_recursion_depth must not be negative")
	}
	return nil
}

// ServerConfigs resolves the MCP server specs.
func (c *Config) ServerConfigs() ([]mcp.ServerConfig, error) {
	out := make([]mcp.ServerConfig, 0, len(c.MCP.Servers))
	for _, s := range c.MCP.Servers {
		if s.Registry != "" {
			cfg, err := mcp.Resolve(s.Registry, s.Env)
			if err != nil {
				return nil, err
			}
			if s.Name != "" {
				cfg.Name = s.Name
			}
			cfg.Args = append(cfg.Args, s.Args...)
			if s.Timeout > 0 {
				cfg.Timeout = s.Timeout
			}
			out = append(out, cfg)
			continue
		}
		out = append(out, mcp.ServerConfig{
			Name:      s.Name,
			Transport: mcp.TransportType(s.Transport),
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
			URL:       s.URL,
			Headers:   s.Headers,
			Timeout:   s.Timeout,
		})
	}
	return out, nil
}

// resolve makes a path relative to the workspace absolute.
func (c *Config) resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
