// Package process runs commands for the compiler: one-shot executions
// through an Executor and long-running background processes through a
// Manager.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DefaultTimeout bounds a single command execution.
const DefaultTimeout = 60 * time.Second

// waitDelay bounds how long output pipes are drained after the child is killed.
const waitDelay = 2 * time.Second

// maxOutput is the number of bytes kept from each stream.
const maxOutput = 8000

// Command describes one execution. When Line is set it runs via sh -c,
// otherwise Name is run with Args.
type Command struct {
	Line    string
	Name    string
	Args    []string
	Dir     string
	Env     []string
	Stdin   string
	Timeout time.Duration
}

// Argv returns the argument vector for the command.
func (c Command) Argv() []string {
	if c.Line != "" {
		return []string{"sh", "-c", c.Line}
	}
	return append([]string{c.Name}, c.Args...)
}

func (c Command) String() string {
	if c.Line != "" {
		return c.Line
	}
	return strings.Join(c.Argv(), " ")
}

// Result is the outcome of a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports a zero exit code.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Output returns stdout followed by stderr.
func (r *Result) Output() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return strings.TrimRight(r.Stdout, "\n") + "\n" + r.Stderr
	}
}

// Executor runs a command to completion.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// LocalExecutor runs commands on the host.
type LocalExecutor struct {
	dir     string
	sandbox string
	env     []string
	timeout time.Duration
}

// LocalOption configures a LocalExecutor.
type LocalOption func(*LocalExecutor)

// WithDir sets the default working directory.
func WithDir(dir string) LocalOption {
	return func(e *LocalExecutor) {
		e.dir = dir
	}
}

// WithSandbox confines working directories and shell paths to a directory.
func WithSandbox(path string) LocalOption {
	return func(e *LocalExecutor) {
		e.sandbox = path
		if e.dir == "" {
			e.dir = path
		}
	}
}

// WithEnv appends environment variables to every command.
func WithEnv(env ...string) LocalOption {
	return func(e *LocalExecutor) {
		e.env = append(e.env, env...)
	}
}

// WithTimeout sets the default timeout.
func WithTimeout(d time.Duration) LocalOption {
	return func(e *LocalExecutor) {
		e.timeout = d
	}
}

// NewLocalExecutor creates a host executor.
func NewLocalExecutor(opts ...LocalOption) *LocalExecutor {
	e := &LocalExecutor{
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes cmd. A non-zero exit is reported in the Result, not as an error.
// Cancelling ctx kills the child process.
func (e *LocalExecutor) Run(ctx context.Context, cmd Command) (*Result, error) {
	argv := cmd.Argv()
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("empty command")
	}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = e.timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if e.sandbox != "" && cmd.Line != "" {
		argv[2] = rewriteCommandPaths(cmd.Line, e.sandbox)
	}

	c := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	c.Dir = e.workDir(cmd.Dir)
	c.Env = e.environ(cmd.Env)
	c.WaitDelay = waitDelay
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	result := &Result{
		Stdout: truncate(stdout.String()),
		Stderr: truncate(stderr.String()),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr) && execCtx.Err() == nil:
		result.ExitCode = exitErr.ExitCode()
	case execCtx.Err() != nil:
		return result, fmt.Errorf("command %q: %w", cmd.String(), execCtx.Err())
	default:
		return nil, fmt.Errorf("command %q: %w", cmd.String(), err)
	}

	return result, nil
}

func (e *LocalExecutor) workDir(dir string) string {
	if dir == "" {
		return e.dir
	}
	if !filepath.IsAbs(dir) && e.dir != "" {
		dir = filepath.Join(e.dir, dir)
	}
	dir = filepath.Clean(dir)
	if e.sandbox != "" {
		rel, err := filepath.Rel(e.sandbox, dir)
		if err != nil || strings.HasPrefix(rel, "..") {
			return e.sandbox
		}
	}
	return dir
}

func (e *LocalExecutor) environ(extra []string) []string {
	env := os.Environ()
	if e.sandbox != "" {
		env = sandboxEnv(env, e.sandbox)
	}
	env = append(env, e.env...)
	return append(env, extra...)
}

// absPathRe matches absolute path tokens inside shell command strings.
var absPathRe = regexp.MustCompile(`(/[^\s"'<>|&;(){}\[\]\\]+)`)

// rewriteCommandPaths redirects absolute paths that escape the sandbox to sandbox/basename.
func rewriteCommandPaths(command, sandbox string) string {
	return absPathRe.ReplaceAllStringFunc(command, func(match string) string {
		clean := filepath.Clean(match)
		rel, err := filepath.Rel(sandbox, clean)
		if err != nil || strings.HasPrefix(rel, "..") {
			return filepath.Join(sandbox, filepath.Base(clean))
		}
		return match
	})
}

// sandboxEnv points HOME and TMPDIR at the sandbox.
func sandboxEnv(env []string, sandbox string) []string {
	result := make([]string, 0, len(env)+2)
	for _, e := range env {
		if strings.HasPrefix(e, "HOME=") || strings.HasPrefix(e, "TMPDIR=") {
			continue
		}
		result = append(result, e)
	}
	return append(result, "HOME="+sandbox, "TMPDIR="+sandbox)
}

func truncate(s string) string {
	if len(s) > maxOutput {
		return s[:maxOutput] + "\n... (truncated)"
	}
	return s
}
