// Package vcs performs the git actions scripts can request.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/everydev1618/devins/process"
)

// ErrNotRepository is returned when the working directory is not in a git repository.
var ErrNotRepository = errors.New("not a git repository")

// GitError reports a failed git invocation.
type GitError struct {
	Args     []string
	ExitCode int
	Output   string
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s: exit %d: %s", strings.Join(e.Args, " "), e.ExitCode, strings.TrimSpace(e.Output))
}

// Git runs git through a process executor.
type Git struct {
	exec process.Executor
	dir  string
}

// NewGit creates a git collaborator rooted at dir.
func NewGit(exec process.Executor, dir string) *Git {
	return &Git{exec: exec, dir: dir}
}

// Show returns the commit message and diff of a revision.
func (g *Git) Show(ctx context.Context, rev string) (string, error) {
	if rev == "" {
		rev = "HEAD"
	}
	if strings.HasPrefix(rev, "-") {
		return "", fmt.Errorf("invalid revision %q", rev)
	}
	return g.run(ctx, "", "show", "--no-color", rev)
}

// Diff returns the working tree diff, optionally limited to paths.
func (g *Git) Diff(ctx context.Context, paths ...string) (string, error) {
	args := append([]string{"diff", "--no-color", "--"}, paths...)
	return g.run(ctx, "", args...)
}

// Commit stages all changes and commits them with message.
func (g *Git) Commit(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("empty commit message")
	}
	if _, err := g.run(ctx, "", "add", "--all"); err != nil {
		return "", err
	}
	return g.run(ctx, message, "commit", "--file", "-")
}

// Apply applies a unified diff to the working tree.
func (g *Git) Apply(ctx context.Context, patch string) (string, error) {
	if strings.TrimSpace(patch) == "" {
		return "", errors.New("empty patch")
	}
	if !strings.HasSuffix(patch, "\n") {
		patch += "\n"
	}

	if _, err := g.run(ctx, patch, "apply", "--check"); err != nil {
		return "", err
	}
	if _, err := g.run(ctx, patch, "apply"); err != nil {
		return "", err
	}
	return g.run(ctx, patch, "apply", "--stat")
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "", "rev-parse", "--abbrev-ref", "HEAD")
	return strings.TrimSpace(out), err
}

// IsRepository reports whether dir is inside a work tree.
func (g *Git) IsRepository(ctx context.Context) bool {
	out, err := g.run(ctx, "", "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

func (g *Git) run(ctx context.Context, stdin string, args ...string) (string, error) {
	dir := g.dir
	if dir != "" {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
	}

	result, err := g.exec.Run(ctx, process.Command{
		Name:  "git",
		Args:  args,
		Dir:   dir,
		Stdin: stdin,
	})
	if err != nil {
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	if !result.Success() {
		if strings.Contains(result.Stderr, "not a git repository") {
			return "", fmt.Errorf("%w: %s", ErrNotRepository, dir)
		}
		return "", &GitError{Args: args, ExitCode: result.ExitCode, Output: result.Output()}
	}
	return result.Stdout, nil
}
