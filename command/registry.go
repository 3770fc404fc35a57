package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Outcome is the result of dispatching one invocation.
type Outcome struct {
	Descriptor Descriptor
	Output     string

	// Found is false when no provider or built-in matched the name.
	Found bool

	// Failed is set when the output carries the error marker.
	Failed bool

	// CodeConsumed is set when the command read the following code block.
	CodeConsumed bool
}

// Registry resolves command names to handlers. Providers are consulted in
// registration order before built-ins; the first match wins.
type Registry struct {
	builtins  map[string]*Builtin
	order     []string
	families  map[string]*Family
	providers []Provider
	env       *Env
	logger    *slog.Logger
	mu        sync.RWMutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithEnv sets the collaborators passed to built-in commands.
func WithEnv(env *Env) RegistryOption {
	return func(r *Registry) {
		r.env = env
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		builtins: make(map[string]*Builtin),
		families: make(map[string]*Family),
		env:      &Env{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = r.env.logger()
	}
	return r
}

// Env returns the collaborators passed to built-in commands.
func (r *Registry) Env() *Env {
	return r.env
}

// Register adds a built-in command.
func (r *Registry) Register(b Builtin) error {
	if b.Name == "" {
		return errors.New("command name is required")
	}
	if b.New == nil {
		return fmt.Errorf("command %s: factory is required", b.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.builtins[b.Name]; exists {
		return fmt.Errorf("%w: %s", ErrCommandAlreadyRegistered, b.Name)
	}

	r.builtins[b.Name] = &b
	r.order = append(r.order, b.Name)
	return nil
}

// RegisterFamily adds a namespaced family. Names of the form family.sub
// resolve to it.
func (r *Registry) RegisterFamily(f *Family) error {
	if f.Logger == nil {
		f.Logger = r.logger
	}

	err := r.Register(Builtin{
		Descriptor: Descriptor{
			Name:          f.Name,
			Description:   f.Description,
			HasCompletion: true,
			RequiresProps: false,
			Local:         true,
		},
		New: func(env *Env, inv Invocation) Command {
			return Func(func(ctx context.Context) (string, error) {
				return f.Execute(ctx, inv.Name, inv.Prop), nil
			})
		},
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.families[f.Name] = f
	r.mu.Unlock()
	return nil
}

// AddProvider registers a provider. Safe to call while dispatching.
func (r *Registry) AddProvider(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.providers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, p.Name())
		}
	}
	r.providers = append(r.providers, p)
	return nil
}

// RemoveProvider deregisters a provider by name.
func (r *Registry) RemoveProvider(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.providers {
		if p.Name() == name {
			r.providers = append(r.providers[:i:i], r.providers[i+1:]...)
			return true
		}
	}
	return false
}

// Providers returns a snapshot of registered providers.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Lookup finds the built-in for name, including family.sub names.
func (r *Registry) Lookup(name string) (Builtin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if b, ok := r.builtins[name]; ok {
		return *b, true
	}
	if idx := strings.IndexByte(name, '.'); idx > 0 {
		if _, ok := r.families[name[:idx]]; ok {
			return *r.builtins[name[:idx]], true
		}
	}
	return Builtin{}, false
}

// Family returns a registered family.
func (r *Registry) Family(name string) (*Family, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.families[name]
	return f, ok
}

// Dispatch runs an invocation. Failures are rendered into Output with the
// error marker; Dispatch never panics because of a handler.
func (r *Registry) Dispatch(ctx context.Context, inv Invocation) Outcome {
	for _, p := range r.Providers() {
		if !p.IsApplicable(ctx, inv.Name) {
			continue
		}
		out := r.runProvider(ctx, p, inv)
		return Outcome{
			Descriptor: Descriptor{
				Name:         inv.Name,
				Provider:     p.Name(),
				ConsumesCode: inv.HasCode,
				Local:        true,
			},
			Output:       out,
			Found:        true,
			Failed:       IsError(out),
			CodeConsumed: inv.HasCode,
		}
	}

	b, ok := r.Lookup(inv.Name)
	if !ok {
		return Outcome{Output: inv.Source}
	}

	if b.RequiresProps && inv.Prop == "" {
		r.logger.Warn("command requires a prop", "command", inv.Name, "source", inv.Source)
		return Outcome{Descriptor: b.Descriptor, Output: inv.Source, Found: true, Failed: true}
	}

	cmd := b.New(r.env, inv)
	out := r.run(ctx, inv.Name, cmd)
	consumed := b.ConsumesCode && inv.HasCode
	if u, ok := cmd.(CodeUser); ok && consumed {
		consumed = u.UsesCode()
	}
	return Outcome{
		Descriptor:   b.Descriptor,
		Output:       out,
		Found:        true,
		Failed:       IsError(out),
		CodeConsumed: consumed,
	}
}

func (r *Registry) run(ctx context.Context, name string, cmd Command) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("command panicked", "command", name, "panic", rec)
			out = ErrorString("%s: %v", name, rec)
		}
	}()

	if !cmd.IsApplicable(ctx) {
		return ErrorString("%s: command is not available", name)
	}

	res, err := cmd.Execute(ctx)
	if err != nil {
		execErr := &ExecutionError{Command: name, Err: err}
		r.logger.Warn("command failed", "command", name, "error", err)
		return ErrorString("%s", execErr.Error())
	}
	return res
}

func (r *Registry) runProvider(ctx context.Context, p Provider, inv Invocation) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("provider panicked", "provider", p.Name(), "command", inv.Name, "panic", rec)
			out = ErrorString("%s: %v", inv.Name, rec)
		}
	}()

	var args []string
	if inv.HasCode {
		args = []string{inv.Code}
	}

	res, err := p.Execute(ctx, inv.Prop, args, inv.Variables, inv.Name)
	if err != nil {
		execErr := &ExecutionError{Command: inv.Name, Err: err}
		r.logger.Warn("provider command failed", "provider", p.Name(), "command", inv.Name, "error", err)
		return ErrorString("%s", execErr.Error())
	}
	if res == nil {
		return ""
	}
	return fmt.Sprint(res)
}
