package compiler

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerRingDropsOldest(t *testing.T) {
	l := NewLogger(3, slog.LevelInfo, nil)
	for _, msg := range []string{"one", "two", "three", "four", "five"} {
		l.Info(msg)
	}

	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("len(Entries()) = %d, want 3", len(entries))
	}
	for i, want := range []string{"three", "four", "five"} {
		if entries[i].Message != want {
			t.Errorf("Entries()[%d] = %q, want %q", i, entries[i].Message, want)
		}
	}

	l.Clear()
	if n := len(l.Entries()); n != 0 {
		t.Errorf("len(Entries()) after Clear = %d", n)
	}
}

func TestLoggerLevelsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	next := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := NewLogger(10, slog.LevelInfo, next)

	l.Debug("hidden from ring")
	l.With("command", "file").WithGroup("req").Warn("failed", "path", "a.go")

	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("len(Entries()) = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Level != slog.LevelWarn || e.Attrs["command"] != "file" || e.Attrs["req.path"] != "a.go" {
		t.Errorf("entry = %+v", e)
	}

	out := buf.String()
	if !strings.Contains(out, "hidden from ring") || !strings.Contains(out, "req.path=a.go") {
		t.Errorf("forwarded output = %q", out)
	}
}
