// Package command maps command names used in scripts to executable
// handlers: built-in commands, namespaced families such as skill and
// speckit, and dynamically registered providers.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorMarker prefixes every error rendered into compiled output.
const ErrorMarker = "<DevInsError>"

// Standard errors
var (
	// ErrCommandNotFound is returned when no handler matches a name.
	ErrCommandNotFound = errors.New("command not found")

	// ErrCommandAlreadyRegistered is returned for duplicate built-in names.
	ErrCommandAlreadyRegistered = errors.New("command already registered")

	// ErrProviderAlreadyRegistered is returned for duplicate provider names.
	ErrProviderAlreadyRegistered = errors.New("provider already registered")

	// ErrSubcommandNotFound is returned when a family has no such subcommand.
	ErrSubcommandNotFound = errors.New("subcommand not found")
)

// ExecutionError wraps a failure raised while running a command.
type ExecutionError struct {
	Command string
	Err     error
}

func (e *ExecutionError) Error() string {
	return e.Command + ": " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ErrorString renders a message as an error-marker string.
func ErrorString(format string, args ...any) string {
	return ErrorMarker + " " + fmt.Sprintf(format, args...)
}

// IsError reports whether output carries the error marker.
func IsError(output string) bool {
	return strings.Contains(output, ErrorMarker)
}

// Command is one prepared invocation of a built-in.
type Command interface {
	IsApplicable(ctx context.Context) bool
	Execute(ctx context.Context) (string, error)
}

// CodeUser is implemented by commands that decide per invocation whether
// they read the following code block. Commands that do not implement it
// use the block whenever their descriptor has ConsumesCode.
type CodeUser interface {
	UsesCode() bool
}

// Descriptor describes a command for dispatch and completion.
type Descriptor struct {
	Name          string
	Description   string
	HasCompletion bool
	RequiresProps bool

	// ConsumesCode commands read the next code block and suppress it on success.
	ConsumesCode bool

	// Local commands act on the local workspace.
	Local bool

	// Provider names the provider that contributed the command, if any.
	Provider string
}

// Invocation is a command occurrence in a script.
type Invocation struct {
	// Name is the name as written, e.g. "speckit.plan".
	Name string
	Prop string

	// Code is the next code block when HasCode is set.
	Code    string
	HasCode bool

	// Source is the raw script text of the invocation.
	Source    string
	Variables map[string]any
}

// Factory prepares a Command for an invocation.
type Factory func(env *Env, inv Invocation) Command

// Builtin is a statically registered command.
type Builtin struct {
	Descriptor
	New Factory
}

// Provider contributes commands discovered at runtime, such as tools on an
// external tool server.
type Provider interface {
	// Name identifies the provider.
	Name() string

	// FuncNames lists the command names the provider can run.
	FuncNames(ctx context.Context) []string

	// IsApplicable reports whether the provider handles name.
	IsApplicable(ctx context.Context, name string) bool

	// Execute runs a command. args holds the following code block, if any.
	Execute(ctx context.Context, prop string, args []string, vars map[string]any, commandName string) (any, error)
}

// Describer is implemented by providers that can describe their commands.
type Describer interface {
	Describe(ctx context.Context) []Descriptor
}

// Func adapts a function to a Command that is always applicable.
type Func func(ctx context.Context) (string, error)

func (f Func) IsApplicable(context.Context) bool { return true }

func (f Func) Execute(ctx context.Context) (string, error) { return f(ctx) }
