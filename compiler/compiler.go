// Package compiler walks a parsed script, substituting variables and
// dispatching commands, and produces a compiled Result.
package compiler

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/everydev1618/devins/command"
	"github.com/everydev1618/devins/dsl"
	"github.com/everydev1618/devins/variable"
)

// FlowDirective marks a comment that loads the next script.
const FlowDirective = "[flow]:"

// CustomCommandExt is the file extension of custom command scripts.
const CustomCommandExt = ".devin"

// Parser turns script text into elements.
type Parser interface {
	Parse(text string) ([]dsl.Element, error)
}

// FileSystem loads chained scripts and custom commands.
type FileSystem interface {
	ReadFile(path string) (string, error)
	Exists(path string) bool
}

// state is the engine position while walking elements.
type state int

const (
	awaitingElement state = iota
	emittingText
	substitutingVariable
	dispatchingCommand
	chaining
)

func (s state) String() string {
	switch s {
	case awaitingElement:
		return "AWAITING_ELEMENT"
	case emittingText:
		return "EMITTING_TEXT"
	case substitutingVariable:
		return "SUBSTITUTING_VARIABLE"
	case dispatchingCommand:
		return "DISPATCHING_COMMAND"
	case chaining:
		return "CHAINING"
	default:
		return "UNKNOWN"
	}
}

// Compiler turns scripts into compiled results.
type Compiler struct {
	parser      Parser
	registry    *command.Registry
	fs          FileSystem
	commandsDir string
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithParser replaces the default parser.
func WithParser(p Parser) Option {
	return func(c *Compiler) {
		c.parser = p
	}
}

// WithFileSystem sets where chained scripts and custom commands are read from.
func WithFileSystem(fs FileSystem) Option {
	return func(c *Compiler) {
		c.fs = fs
	}
}

// WithCommandsDir sets the directory searched for <name>.devin custom commands.
func WithCommandsDir(dir string) Option {
	return func(c *Compiler) {
		c.commandsDir = dir
	}
}

// New creates a compiler dispatching through registry.
func New(registry *command.Registry, opts ...Option) *Compiler {
	if registry == nil {
		registry = command.NewRegistry()
	}
	c := &Compiler{
		parser:   dsl.NewParser(),
		registry: registry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the command registry.
func (c *Compiler) Registry() *command.Registry {
	return c.registry
}

// Compile compiles script in cc, or in a fresh context when cc is nil.
//
// A parse failure is the only error that yields no result. When ctx is
// cancelled the walk stops before the next command and the partial
// result is returned together with ctx.Err().
func (c *Compiler) Compile(ctx context.Context, script string, cc *Context) (*Result, error) {
	if cc == nil {
		cc = NewContext()
	}
	res := cc.Result
	res.Input = script
	res.Statistics.StartTime = time.Now()

	elements, err := c.parser.Parse(script)
	if err != nil {
		cc.Logger().Error("parse failed", "error", err)
		return nil, fmt.Errorf("compile: %w", err)
	}

	variable.InjectBuiltins(cc.Variables, cc.Options.ContextValues)

	w := &walker{compiler: c, cc: cc, elements: elements}
	err = w.run(ctx)

	res.Output = cc.Output()
	res.Variables = cc.Variables
	res.Statistics.EndTime = time.Now()

	cc.Logger().Debug("compiled",
		"nodes", res.Statistics.NodeCount,
		"commands", res.Statistics.CommandCount,
		"duration", res.Statistics.Duration(),
		"has_error", res.HasError,
	)
	return res, err
}

// walker holds the position of one pass over the elements.
type walker struct {
	compiler *Compiler
	cc       *Context
	elements []dsl.Element
	state    state
}

func (w *walker) transition(s state, e dsl.Element) {
	w.state = s
	w.cc.Logger().Debug("element", "state", s.String(), "kind", e.Kind().String())
}

func (w *walker) run(ctx context.Context) error {
	cc := w.cc
	res := cc.Result

	for i, e := range w.elements {
		res.Statistics.NodeCount++

		switch el := e.(type) {
		case dsl.Text:
			w.transition(emittingText, e)
			cc.AppendOutput(el.Value)

		case dsl.Newline:
			w.transition(emittingText, e)
			cc.AppendOutput("\n")

		case dsl.CodeBlock:
			w.transition(emittingText, e)
			res.Statistics.CodeBlockCount++
			if cc.SkipNextCode {
				cc.SkipNextCode = false
				break
			}
			cc.AppendOutput(el.Source)

		case dsl.VariableRef:
			w.transition(substitutingVariable, e)
			res.Statistics.VariableCount++
			cc.AppendOutput(w.resolve(el))

		case dsl.AgentRef:
			res.Statistics.AgentCount++
			res.ExecuteAgent = &AgentConfig{Name: el.Name}

		case dsl.Command:
			if err := ctx.Err(); err != nil {
				cc.Logger().Warn("compilation cancelled", "command", el.Name, "error", err)
				return err
			}
			w.transition(dispatchingCommand, e)
			res.Statistics.CommandCount++
			w.dispatch(ctx, el, i)

		case dsl.Comment:
			if target, ok := strings.CutPrefix(el.Body, FlowDirective); ok {
				w.transition(chaining, e)
				w.chain(strings.TrimSpace(target))
				break
			}
			if cc.Options.KeepRawOutput {
				cc.AppendOutput(el.Source)
			}

		case dsl.FrontMatter:
			if !w.frontMatter(el) {
				res.Skipped = true
				cc.Logger().Info("script body skipped by front matter")
				return nil
			}

		default:
			cc.Logger().Warn("unknown element", "kind", e.Kind().String())
			cc.AppendOutput(e.Raw())
		}

		w.state = awaitingElement
	}
	return nil
}

func (w *walker) resolve(ref dsl.VariableRef) string {
	entry, ok := w.cc.Variables.GetVariable(ref.Name)
	if !ok || entry.Value == nil {
		if w.cc.Options.Strict {
			w.cc.Logger().Warn("unresolved variable", "name", ref.Name)
			w.cc.SetError(true, "unresolved variable: "+ref.Name)
		}
		return ref.Source
	}
	if s, ok := entry.Value.(string); ok {
		return s
	}
	return fmt.Sprint(entry.Value)
}

// expand substitutes resolvable variable references in s.
func (w *walker) expand(s string) string {
	return dsl.Expand(s, func(name string) (string, bool) {
		entry, ok := w.cc.Variables.GetVariable(name)
		if !ok || entry.Value == nil {
			return "", false
		}
		return fmt.Sprint(entry.Value), true
	})
}

// nextCode returns the code block following element i, skipping only
// newlines and blank text.
func (w *walker) nextCode(i int) (dsl.CodeBlock, bool) {
	for _, e := range w.elements[i+1:] {
		switch el := e.(type) {
		case dsl.CodeBlock:
			return el, true
		case dsl.Newline:
			continue
		case dsl.Text:
			if strings.TrimSpace(el.Value) == "" {
				continue
			}
		}
		return dsl.CodeBlock{}, false
	}
	return dsl.CodeBlock{}, false
}

func (w *walker) dispatch(ctx context.Context, cmd dsl.Command, i int) {
	cc := w.cc
	inv := command.Invocation{
		Name:      cmd.Name,
		Prop:      w.expand(cmd.Prop),
		Source:    cmd.Source,
		Variables: cc.Variables.Values(),
	}
	if code, ok := w.nextCode(i); ok {
		inv.Code = code.Code
		inv.HasCode = true
	}

	out := w.compiler.registry.Dispatch(ctx, inv)
	if !out.Found {
		if output, ok := w.custom(ctx, inv); ok {
			cc.AppendOutput(output)
			return
		}
		cc.Logger().Warn("unknown command", "command", cmd.Name)
		cc.SetError(true, "unknown command: "+cmd.Name)
		cc.AppendOutput(cmd.Source)
		return
	}

	if out.Failed {
		cc.Logger().Warn("command failed", "command", cmd.Name, "output", out.Output)
		cc.SetError(true, out.Output)
		cc.AppendOutput(out.Output)
		return
	}

	if out.Descriptor.Local {
		cc.Result.IsLocalCommand = true
	}
	if out.CodeConsumed {
		cc.SkipNextCode = true
	}

	output := out.Output
	if cc.Options.EnableTemplateCompilation {
		output = w.expand(output)
	}
	cc.AppendOutput(output)
}

// custom runs a front matter function or a <name>.devin script from the
// commands directory in a child context.
func (w *walker) custom(ctx context.Context, inv command.Invocation) (string, bool) {
	cc := w.cc
	c := w.compiler

	var script string
	switch {
	case cc.Result.Config != nil && cc.Result.Config.Functions[inv.Name] != "":
		script = cc.Result.Config.Functions[inv.Name]
	case c.fs != nil && c.commandsDir != "":
		p := filepath.Join(c.commandsDir, inv.Name+CustomCommandExt)
		if !c.fs.Exists(p) {
			return "", false
		}
		content, err := c.fs.ReadFile(p)
		if err != nil {
			cc.Logger().Warn("read custom command", "command", inv.Name, "error", err)
			return "", false
		}
		script = content
	default:
		return "", false
	}

	if cc.depth >= cc.Options.MaxRecursionDepth {
		msg := command.ErrorString("%s: maximum recursion depth %d exceeded", inv.Name, cc.Options.MaxRecursionDepth)
		cc.SetError(true, msg)
		return msg, true
	}

	child := cc.child()
	child.Variables.AddVariable("input", variable.TypeString, inv.Prop, variable.ScopeLocal)

	res, err := c.Compile(ctx, script, child)
	if res == nil {
		msg := command.ErrorString("%s: %v", inv.Name, err)
		cc.SetError(true, msg)
		return msg, true
	}
	if res.HasError {
		cc.SetError(true, res.ErrorMessage)
	}
	if res.IsLocalCommand {
		cc.Result.IsLocalCommand = true
	}
	if res.NextJob != nil {
		w.queue(res.NextJob)
	}
	return strings.TrimSuffix(res.Output, "\n"), true
}

// chain loads target as the next job. The current pass continues.
func (w *walker) chain(target string) {
	cc := w.cc
	fs := w.compiler.fs
	if target == "" {
		cc.Logger().Warn("flow directive without a target")
		return
	}
	if fs == nil {
		cc.Logger().Warn("no file system to load flow", "path", target)
		cc.SetError(true, "cannot load flow: "+target)
		return
	}

	content, err := fs.ReadFile(target)
	if err != nil {
		cc.Logger().Warn("load flow", "path", target, "error", err)
		cc.SetError(true, fmt.Sprintf("cannot load flow %s: %v", target, err))
		return
	}
	if _, err := w.compiler.parser.Parse(content); err != nil {
		cc.Logger().Warn("parse flow", "path", target, "error", err)
		cc.SetError(true, fmt.Sprintf("cannot parse flow %s: %v", target, err))
		return
	}

	w.queue(&Result{Input: content, SourcePath: target})
}

// queue makes next the job run after this script. A flow reached later in
// the script, directly or through a custom command, replaces an earlier one.
func (w *walker) queue(next *Result) {
	cc := w.cc
	if prev := cc.Result.NextJob; prev != nil {
		cc.Logger().Warn("flow replaces queued job", "queued", prev.SourcePath, "path", next.SourcePath)
	}
	cc.Result.NextJob = next
	cc.Logger().Info("next job queued", "path", next.SourcePath)
}

// frontMatter applies a front matter block. It reports whether the body
// should be walked.
func (w *walker) frontMatter(fm dsl.FrontMatter) bool {
	cc := w.cc
	cfg, err := dsl.ParseConfig(fm.Body)
	if err != nil {
		cc.Logger().Warn("malformed front matter", "error", err)
		return true
	}
	cc.Result.Config = cfg

	names := make([]string, 0, len(cfg.Variables))
	for name := range cfg.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := cfg.Variables[name]
		cc.Variables.AddVariable(name, variable.InferType(value), value, variable.ScopeBuiltin)
	}

	if !cfg.IsEnabled() {
		return false
	}
	ok, err := cfg.Matches(cc.Variables.Values())
	if err != nil {
		cc.Logger().Warn("when condition failed", "when", cfg.When, "error", err)
		cc.SetError(true, err.Error())
		return false
	}
	return ok
}
