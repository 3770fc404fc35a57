package mcp

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// RegistryEntry describes a well-known tool server that a config can name
// by short name instead of spelling out its command line.
type RegistryEntry struct {
	Name        string
	Description string
	Command     string
	Args        []string

	// RequiredEnv must be set, either in the process environment or in the
	// config overrides, for the server to start.
	RequiredEnv []string
	OptionalEnv []string
}

// DefaultRegistry lists the servers resolvable by short name.
var DefaultRegistry = map[string]RegistryEntry{
	"filesystem": {
		Name:        "filesystem",
		Description: "File system access (read, write, search, list)",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-filesystem"},
	},
	"git": {
		Name:        "git",
		Description: "Git repository inspection (log, diff, blame)",
		Command:     "uvx",
		Args:        []string{"mcp-server-git"},
	},
	"github": {
		Name:        "github",
		Description: "GitHub API access (repos, issues, PRs, files)",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-github"},
		RequiredEnv: []string{"GITHUB_PERSONAL_ACCESS_TOKEN"},
	},
	"fetch": {
		Name:        "fetch",
		Description: "HTTP fetch for web content retrieval",
		Command:     "uvx",
		Args:        []string{"mcp-server-fetch"},
	},
	"memory": {
		Name:        "memory",
		Description: "Persistent knowledge graph memory",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-memory"},
	},
	"sqlite": {
		Name:        "sqlite",
		Description: "SQLite database access",
		Command:     "uvx",
		Args:        []string{"mcp-server-sqlite"},
		OptionalEnv: []string{"SQLITE_DB_PATH"},
	},
	"sequential-thinking": {
		Name:        "sequential-thinking",
		Description: "Dynamic reasoning and thought revision",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-sequential-thinking"},
	},
}

// Lookup finds a registry entry by name.
func Lookup(name string) (RegistryEntry, bool) {
	entry, ok := DefaultRegistry[name]
	return entry, ok
}

// RegistryNames returns the short names in DefaultRegistry, sorted.
func RegistryNames() []string {
	names := make([]string, 0, len(DefaultRegistry))
	for name := range DefaultRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToServerConfig converts the entry to a stdio ServerConfig. Declared
// environment variables are copied from the process environment; overrides
// win over both.
func (e RegistryEntry) ToServerConfig(overrideEnv map[string]string) ServerConfig {
	cfg := ServerConfig{
		Name:      e.Name,
		Transport: TransportStdio,
		Command:   e.Command,
		Args:      append([]string{}, e.Args...),
		Env:       make(map[string]string),
		Timeout:   DefaultTimeout,
	}

	for _, key := range append(append([]string{}, e.RequiredEnv...), e.OptionalEnv...) {
		if val := os.Getenv(key); val != "" {
			cfg.Env[key] = val
		}
	}
	for k, v := range overrideEnv {
		cfg.Env[k] = v
	}
	return cfg
}

// Resolve builds the config for a short name, failing when the name is
// unknown or a required variable is missing.
func Resolve(name string, overrideEnv map[string]string) (ServerConfig, error) {
	entry, ok := Lookup(name)
	if !ok {
		return ServerConfig{}, fmt.Errorf("unknown server %q (known: %s)", name, strings.Join(RegistryNames(), ", "))
	}

	cfg := entry.ToServerConfig(overrideEnv)
	var missing []string
	for _, key := range entry.RequiredEnv {
		if cfg.Env[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return ServerConfig{}, fmt.Errorf("server %s: missing environment %s", name, strings.Join(missing, ", "))
	}
	return cfg, nil
}
