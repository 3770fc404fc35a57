package vcs

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/everydev1618/devins/process"
)

type recordingExecutor struct {
	calls  []process.Command
	result *process.Result
}

func (r *recordingExecutor) Run(ctx context.Context, cmd process.Command) (*process.Result, error) {
	r.calls = append(r.calls, cmd)
	if r.result != nil {
		return r.result, nil
	}
	return &process.Result{Stdout: "ok\n"}, nil
}

func TestShowArguments(t *testing.T) {
	rec := &recordingExecutor{}
	g := NewGit(rec, "")

	if _, err := g.Show(context.Background(), ""); err != nil {
		t.Fatalf("Show() returned error: %v", err)
	}
	got := strings.Join(rec.calls[0].Args, " ")
	if got != "show --no-color HEAD" {
		t.Errorf("args = %q", got)
	}

	if _, err := g.Show(context.Background(), "--output=/tmp/x"); err == nil {
		t.Error("option-like revision should be rejected")
	}
}

func TestCommitPassesMessageOnStdin(t *testing.T) {
	rec := &recordingExecutor{}
	g := NewGit(rec, "")

	if _, err := g.Commit(context.Background(), "  fix: handle empty input \n"); err != nil {
		t.Fatalf("Commit() returned error: %v", err)
	}
	if len(rec.calls) != 2 {
		t.Fatalf("expected 2 git calls, got %d", len(rec.calls))
	}
	if rec.calls[1].Stdin != "fix: handle empty input" {
		t.Errorf("stdin = %q", rec.calls[1].Stdin)
	}

	if _, err := g.Commit(context.Background(), "   "); err == nil {
		t.Error("empty message should fail")
	}
}

func TestGitErrorOnNonZeroExit(t *testing.T) {
	rec := &recordingExecutor{result: &process.Result{ExitCode: 1, Stderr: "error: patch failed"}}
	g := NewGit(rec, "")

	_, err := g.Apply(context.Background(), "--- a\n+++ b\n")
	var gitErr *GitError
	if !errors.As(err, &gitErr) {
		t.Fatalf("expected *GitError, got %v", err)
	}
	if gitErr.ExitCode != 1 || !strings.Contains(gitErr.Error(), "patch failed") {
		t.Errorf("GitError = %v", gitErr)
	}

	rec.result = &process.Result{ExitCode: 128, Stderr: "fatal: not a git repository"}
	if _, err := g.Show(context.Background(), "HEAD"); !errors.Is(err, ErrNotRepository) {
		t.Errorf("expected ErrNotRepository, got %v", err)
	}
}

func TestGitEndToEnd(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	ctx := context.Background()
	ex := process.NewLocalExecutor(process.WithEnv(
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	))
	g := NewGit(ex, dir)

	if _, err := g.run(ctx, "", "init", "-q"); err != nil {
		t.Fatalf("git init: %v", err)
	}
	if !g.IsRepository(ctx) {
		t.Fatal("expected a repository")
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Commit(ctx, "initial"); err != nil {
		t.Fatalf("Commit() returned error: %v", err)
	}

	patch := "--- a/a.txt\n+++ b/a.txt\n@@ -1 +1 @@\n-one\n+two\n"
	stat, err := g.Apply(ctx, patch)
	if err != nil {
		t.Fatalf("Apply() returned error: %v", err)
	}
	if !strings.Contains(stat, "a.txt") {
		t.Errorf("Apply() stat = %q", stat)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "a.txt"))
	if string(data) != "two\n" {
		t.Errorf("a.txt = %q", data)
	}

	show, err := g.Show(ctx, "HEAD")
	if err != nil || !strings.Contains(show, "initial") {
		t.Errorf("Show() = %q, %v", show, err)
	}
}
