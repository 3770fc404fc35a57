package compiler

import (
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/everydev1618/devins/variable"
)

// DefaultMaxRecursionDepth bounds custom command nesting and job chains.
const DefaultMaxRecursionDepth = 10

// Options tune one compilation.
type Options struct {
	// Debug keeps debug records in the context log.
	Debug bool

	// Strict flags unresolved variable references as errors. They are
	// still emitted literally.
	Strict bool

	MaxRecursionDepth int

	// EnableTemplateCompilation expands variable references in command
	// output.
	EnableTemplateCompilation bool

	// KeepRawOutput emits comments instead of dropping them.
	KeepRawOutput bool

	// ContextValues supplies the context namespace (filePath, selection, ...).
	ContextValues map[string]any
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{MaxRecursionDepth: DefaultMaxRecursionDepth}
}

// Context is the mutable state of one compilation pass.
type Context struct {
	ID        string
	Options   Options
	Variables *variable.Table
	Result    *Result

	// SkipNextCode suppresses the next code block; it resets once a block
	// is consumed.
	SkipNextCode bool

	output  strings.Builder
	logger  *Logger
	handler slog.Handler
	depth   int
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithOptions sets the compiler options.
func WithOptions(opts Options) ContextOption {
	return func(c *Context) {
		c.Options = opts
	}
}

// WithVariables seeds the context with an existing table.
func WithVariables(t *variable.Table) ContextOption {
	return func(c *Context) {
		c.Variables = t
	}
}

// WithLogHandler forwards context log records to h as well.
func WithLogHandler(h slog.Handler) ContextOption {
	return func(c *Context) {
		c.handler = h
	}
}

// NewContext creates a context with an empty output buffer and result.
func NewContext(opts ...ContextOption) *Context {
	c := &Context{
		ID:      uuid.NewString(),
		Options: DefaultOptions(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Options.MaxRecursionDepth <= 0 {
		c.Options.MaxRecursionDepth = DefaultMaxRecursionDepth
	}
	if c.Variables == nil {
		c.Variables = variable.NewTable()
	}

	level := slog.LevelInfo
	if c.Options.Debug {
		level = slog.LevelDebug
	}
	c.logger = NewLogger(DefaultLogCapacity, level, c.handler)
	c.Result = &Result{Variables: c.Variables}
	return c
}

// Logger returns the context logger.
func (c *Context) Logger() *Logger {
	return c.logger
}

// AppendOutput appends text to the output buffer.
func (c *Context) AppendOutput(text string) {
	c.output.WriteString(text)
}

// Output returns the accumulated output.
func (c *Context) Output() string {
	return c.output.String()
}

// SetError sets the advisory error flag. The latest message wins.
func (c *Context) SetError(hasError bool, message string) {
	c.Result.HasError = hasError
	if hasError {
		c.Result.ErrorMessage = message
	} else {
		c.Result.ErrorMessage = ""
	}
}

// HasError reports whether any failure was recorded.
func (c *Context) HasError() bool {
	return c.Result.HasError
}

// Reset clears output and result for a recompilation, keeping
// USER_DEFINED variables.
func (c *Context) Reset() {
	c.output.Reset()
	c.SkipNextCode = false
	c.Variables.Reset()
	c.logger.Clear()
	c.Result = &Result{Variables: c.Variables}
}

// Depth is the custom command nesting level of the context.
func (c *Context) Depth() int {
	return c.depth
}

// child creates a context for a nested script. It sees a copy of every
// variable of c and logs to the same handler.
func (c *Context) child() *Context {
	vars := variable.NewTable()
	for _, e := range c.Variables.All() {
		vars.AddVariable(e.Name, e.Type, e.Value, e.Scope)
	}

	child := NewContext(WithOptions(c.Options), WithVariables(vars), WithLogHandler(c.handler))
	child.ID = c.ID
	child.depth = c.depth + 1
	return child
}

// Fork creates an independent context for a chained script. Only
// USER_DEFINED variables carry over; host context values belong to the
// first script and are dropped.
func (c *Context) Fork() *Context {
	vars := variable.NewTable()
	vars.Inherit(c.Variables)
	opts := c.Options
	opts.ContextValues = nil
	return NewContext(WithOptions(opts), WithVariables(vars), WithLogHandler(c.handler))
}
