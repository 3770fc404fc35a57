package devins

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the home directory.
const HomeEnv = "DEVINS_HOME"

// Home returns the DevIns home directory.
// It defaults to ~/.devins but can be overridden with the DEVINS_HOME environment variable.
func Home() string {
	if v := os.Getenv(HomeEnv); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".devins")
}

// DefaultConfigPath returns the default configuration file (~/.devins/config.yaml).
func DefaultConfigPath() string {
	return filepath.Join(Home(), "config.yaml")
}

// DefaultDBPath returns the default history database path (~/.devins/history.db).
func DefaultDBPath() string {
	return filepath.Join(Home(), "history.db")
}

// SkillsPath returns the user-level skills directory.
func SkillsPath() string {
	return filepath.Join(Home(), "skills")
}

// EnsureHome creates the home and skills directories if they don't exist.
func EnsureHome() error {
	return os.MkdirAll(SkillsPath(), 0o755)
}
