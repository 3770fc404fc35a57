package devins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/everydev1618/devins/command"
	"github.com/everydev1618/devins/compiler"
	"github.com/everydev1618/devins/container"
	"github.com/everydev1618/devins/mcp"
	"github.com/everydev1618/devins/process"
	"github.com/everydev1618/devins/skills"
	"github.com/everydev1618/devins/speckit"
	"github.com/everydev1618/devins/store"
	"github.com/everydev1618/devins/variable"
	"github.com/everydev1618/devins/vcs"
	"github.com/everydev1618/devins/workspace"
)

// Runtime wires the compiler to its collaborators: the workspace file
// system, a process executor, git, background processes, the skill and
// speckit families, tool servers and the history store.
type Runtime struct {
	cfg    *Config
	logger *slog.Logger

	ws        *workspace.Workspace
	executor  process.Executor
	container *container.Manager
	processes *process.Manager
	registry  *command.Registry
	compiler  *compiler.Compiler
	skills    *skills.Loader
	speckit   *speckit.Catalogue
	mcp       *mcp.Provider
	store     store.Store
	ownsStore bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger for the runtime and its commands.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// WithStore overrides the history store from the config.
func WithStore(s store.Store) Option {
	return func(r *Runtime) {
		r.store = s
	}
}

// WithExecutor overrides the process executor.
func WithExecutor(e process.Executor) Option {
	return func(r *Runtime) {
		r.executor = e
	}
}

// WithProvider creates a runtime whose tool servers are served by p
// instead of the configured ones.
func WithProvider(p *mcp.Provider) Option {
	return func(r *Runtime) {
		r.mcp = p
	}
}

// New assembles a runtime. Tool servers are connected here; servers that
// fail to start are logged and skipped.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	root := cfg.Workspace
	if root == "" {
		root = "."
	}
	ws, err := workspace.New(root, workspace.WithSandbox(cfg.Sandbox))
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	r.ws = ws
	root = ws.Root()

	if r.executor == nil {
		r.executor = r.newExecutor(root)
	}
	r.processes = process.NewManager(process.WithManagerDir(root))

	if err := r.openStore(); err != nil {
		r.Close()
		return nil, err
	}

	r.registry = command.NewRegistry(
		command.WithLogger(r.logger),
		command.WithEnv(&command.Env{
			FS:        ws,
			Executor:  r.executor,
			VCS:       vcs.NewGit(r.executor, root),
			Processes: r.processes,
			Logger:    r.logger,
		}),
	)
	if err := command.RegisterBuiltins(r.registry); err != nil {
		r.Close()
		return nil, err
	}

	if err := r.loadFamilies(ctx, root); err != nil {
		r.Close()
		return nil, err
	}

	if err := r.connectServers(ctx); err != nil {
		r.Close()
		return nil, err
	}

	r.compiler = compiler.New(r.registry,
		compiler.WithFileSystem(ws),
		compiler.WithCommandsDir(cfg.Commands.Directory),
	)
	return r, nil
}

func (r *Runtime) newExecutor(root string) process.Executor {
	local := process.NewLocalExecutor(process.WithDir(root))
	if !r.cfg.Container.Enabled {
		return local
	}

	var opts []container.ManagerOption
	if r.cfg.Container.Image != "" {
		opts = append(opts, container.WithImage(r.cfg.Container.Image))
	}
	m, err := container.NewManager(root, opts...)
	if err != nil || !m.IsAvailable() {
		r.logger.Warn("container executor unavailable, running on host", "error", errors.Join(err, container.ErrDockerUnavailable))
		return local
	}
	r.container = m
	return m
}

func (r *Runtime) openStore() error {
	if r.store != nil || !r.cfg.History.Enabled {
		return nil
	}
	path := r.cfg.History.Path
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("history dir: %w", err)
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if err := s.Init(); err != nil {
		s.Close()
		return fmt.Errorf("init history: %w", err)
	}
	r.store = s
	r.ownsStore = true
	return nil
}

func (r *Runtime) loadFamilies(ctx context.Context, root string) error {
	skillCfg := r.cfg.Skills
	dirs := make([]string, len(skillCfg.Directories))
	for i, d := range skillCfg.Directories {
		dirs[i] = r.cfg.resolve(root, d)
	}
	skillCfg.Directories = dirs

	r.skills = skills.WithConfig(skillCfg)
	if err := r.skills.Load(ctx); err != nil {
		return fmt.Errorf("load skills: %w", err)
	}
	r.speckit = speckit.NewCatalogue(r.ws, speckit.WithDirectory(r.cfg.Speckit.Directory))

	r.ws.OnRefresh(func(ctx context.Context) {
		r.speckit.Invalidate()
		if err := r.skills.Reload(ctx); err != nil {
			r.logger.Warn("reload skills failed", "error", err)
		}
	})

	for _, f := range []*command.Family{
		skills.NewFamily(r.skills, r.ws.Refresh),
		speckit.NewFamily(r.speckit, r.ws.Refresh),
	} {
		if err := r.registry.RegisterFamily(f); err != nil {
			return err
		}
	}
	r.logger.Info("command families loaded", "skills", r.skills.Count(), "prompts", len(r.speckit.Prompts()))
	return nil
}

func (r *Runtime) connectServers(ctx context.Context) error {
	if r.mcp == nil {
		configs, err := r.cfg.ServerConfigs()
		if err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		if len(configs) == 0 {
			return nil
		}
		p, err := mcp.NewProviderFromConfigs(configs)
		if err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		if err := p.Connect(ctx); err != nil {
			r.logger.Warn("some tool servers failed to connect", "error", err)
		}
		r.mcp = p
	}
	return r.registry.AddProvider(r.mcp)
}

// Workspace returns the workspace file system.
func (r *Runtime) Workspace() *workspace.Workspace {
	return r.ws
}

// Registry returns the command registry.
func (r *Runtime) Registry() *command.Registry {
	return r.registry
}

// Compiler returns the compiler.
func (r *Runtime) Compiler() *compiler.Compiler {
	return r.compiler
}

// Store returns the history store, or nil when history is disabled.
func (r *Runtime) Store() store.Store {
	return r.store
}

// Skills returns the skill loader.
func (r *Runtime) Skills() *skills.Loader {
	return r.skills
}

// Commands lists the commands matching query, best match first.
func (r *Runtime) Commands(ctx context.Context, query string) []command.Descriptor {
	return r.registry.Complete(ctx, query)
}

// NewContext creates a compiler context seeded with the configured
// variables and option defaults.
func (r *Runtime) NewContext(contextValues map[string]any) *compiler.Context {
	opts := r.cfg.Compiler.Options()
	opts.ContextValues = contextValues

	cc := compiler.NewContext(compiler.WithOptions(opts), compiler.WithLogHandler(r.logger.Handler()))
	for name, value := range r.cfg.Variables {
		cc.Variables.AddVariable(name, variable.InferType(value), value, variable.ScopeUserDefined)
	}
	return cc
}

// Close releases servers, processes, the container client and the store.
func (r *Runtime) Close() error {
	var errs []error
	if r.mcp != nil {
		errs = append(errs, r.mcp.Close())
	}
	if r.processes != nil {
		errs = append(errs, r.processes.Close())
	}
	if r.container != nil {
		errs = append(errs, r.container.Close())
	}
	if r.store != nil && r.ownsStore {
		errs = append(errs, r.store.Close())
	}
	return errors.Join(errs...)
}
