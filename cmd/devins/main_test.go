package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Vars{
		"config":   "config.yaml",
		"profiles": profileModes,
	})
	if err != nil {
		t.Fatalf("kong.New: %v", err)
	}
	ktx, err := parser.Parse(args)
	if err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}
	return &cli, ktx
}

func TestParseCommands(t *testing.T) {
	tests := []struct {
		args    []string
		command string
	}{
		{[]string{"run", "a.devin"}, "run <file>"},
		{[]string{"run", "-", "--var", "project=devins", "--json"}, "run <file>"},
		{[]string{"check", "a.devin"}, "check <file>"},
		{[]string{"commands"}, "commands"},
		{[]string{"commands", "spec"}, "commands <query>"},
		{[]string{"history", "-n", "5"}, "history"},
		{[]string{"serve", "--no-watch"}, "serve"},
		{[]string{"version"}, "version"},
	}
	for _, tt := range tests {
		_, ktx := parse(t, tt.args...)
		if got := ktx.Command(); got != tt.command {
			t.Errorf("Command(%v) = %q, want %q", tt.args, got, tt.command)
		}
	}
}

func TestParseFlags(t *testing.T) {
	cli, _ := parse(t, "--log-level", "debug", "--log-format", "json", "run", "a.devin", "-v", "a=1", "-v", "b=2")

	if cli.Log.level() != slog.LevelDebug {
		t.Errorf("level = %v", cli.Log.level())
	}
	if cli.Run.Var["a"] != "1" || cli.Run.Var["b"] != "2" {
		t.Errorf("vars = %v", cli.Run.Var)
	}
	if cli.Profile != "" {
		t.Errorf("profile = %q", cli.Profile)
	}

	cli, _ = parse(t, "history")
	if cli.History.Limit != 20 {
		t.Errorf("default limit = %d", cli.History.Limit)
	}
}

func TestReadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.devin")
	if err := os.WriteFile(path, []byte("hello $name"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := readScript(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello $name" {
		t.Errorf("readScript = %q", got)
	}
	if _, err := readScript(filepath.Join(t.TempDir(), "missing.devin")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStartProfileDisabled(t *testing.T) {
	if _, ok := startProfile("").(noProfile); !ok {
		t.Error("empty mode should not start a profile")
	}
}
