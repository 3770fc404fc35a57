package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/everydev1618/devins/command"
)

// ProviderName is the name the provider registers under.
const ProviderName = "mcp"

// maxConcurrentConnects bounds parallel server start-up.
const maxConcurrentConnects = 4

type toolEntry struct {
	client *Client
	tool   MCPTool
}

// Provider exposes the tools of connected servers as commands named
// server__tool. It implements command.Provider and command.Describer.
type Provider struct {
	clients []*Client

	mu    sync.RWMutex
	tools map[string]toolEntry
}

// NewProvider creates a provider over clients. Call Connect before use.
func NewProvider(clients ...*Client) *Provider {
	return &Provider{
		clients: clients,
		tools:   make(map[string]toolEntry),
	}
}

// NewProviderFromConfigs creates a client per config.
func NewProviderFromConfigs(configs []ServerConfig) (*Provider, error) {
	clients := make([]*Client, 0, len(configs))
	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		if seen[cfg.Name] {
			return nil, fmt.Errorf("duplicate server name %q", cfg.Name)
		}
		seen[cfg.Name] = true

		c, err := NewClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", cfg.Name, err)
		}
		clients = append(clients, c)
	}
	return NewProvider(clients...), nil
}

// Connect connects every server concurrently and indexes its tools.
// Servers that fail to connect are logged and left out; the joined error
// reports them, and the provider stays usable with the rest.
func (p *Provider) Connect(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentConnects)
	for _, c := range p.clients {
		g.Go(func() error {
			n, err := p.connect(gctx, c)
			if err != nil {
				slog.Warn("mcp: failed to connect server", "server", c.Name(), "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
				mu.Unlock()
				return nil
			}
			slog.Info("mcp: connected server", "server", c.Name(), "tools", n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func (p *Provider) connect(ctx context.Context, c *Client) (int, error) {
	if err := c.Connect(ctx); err != nil {
		return 0, err
	}
	tools, err := c.DiscoverTools(ctx)
	if err != nil {
		c.Close()
		return 0, fmt.Errorf("discover tools: %w", err)
	}
	p.index(c, tools)
	c.OnToolsChanged(p.index)
	return len(tools), nil
}

// index replaces the commands of c with tools.
func (p *Provider) index(c *Client, tools []MCPTool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, entry := range p.tools {
		if entry.client == c {
			delete(p.tools, name)
		}
	}
	for _, tool := range tools {
		p.tools[CommandName(c.Name(), tool.Name)] = toolEntry{client: c, tool: tool}
	}
}

// Close disconnects every server.
func (p *Provider) Close() error {
	var errs []error
	for _, c := range p.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	p.mu.Lock()
	p.tools = make(map[string]toolEntry)
	p.mu.Unlock()
	return errors.Join(errs...)
}

// Name implements command.Provider.
func (p *Provider) Name() string {
	return ProviderName
}

// FuncNames implements command.Provider.
func (p *Provider) FuncNames(ctx context.Context) []string {
	p.mu.RLock()
	names := make([]string, 0, len(p.tools))
	for name := range p.tools {
		names = append(names, name)
	}
	p.mu.RUnlock()
	sort.Strings(names)
	return names
}

// IsApplicable implements command.Provider.
func (p *Provider) IsApplicable(ctx context.Context, name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.tools[name]
	return ok
}

// Execute implements command.Provider. Arguments come from a JSON object in
// the code block, else from the prop (see ToolArguments).
func (p *Provider) Execute(ctx context.Context, prop string, args []string, vars map[string]any, commandName string) (any, error) {
	p.mu.RLock()
	entry, ok := p.tools[commandName]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", command.ErrCommandNotFound, commandName)
	}

	var code string
	if len(args) > 0 {
		code = args[0]
	}
	arguments, err := ToolArguments(entry.tool.InputSchema, prop, code)
	if err != nil {
		return nil, err
	}
	return entry.client.CallTool(ctx, entry.tool.Name, arguments)
}

// Describe implements command.Describer.
func (p *Provider) Describe(ctx context.Context) []command.Descriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]command.Descriptor, 0, len(p.tools))
	for name, entry := range p.tools {
		out = append(out, command.Descriptor{
			Name:          name,
			Description:   entry.tool.Description,
			RequiresProps: len(requiredParams(entry.tool.InputSchema)) > 0,
			ConsumesCode:  true,
			Local:         true,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ToolArguments builds tool-call arguments:
//   - a JSON object in code wins;
//   - a prop that is a JSON object is decoded;
//   - a plain prop fills the single required parameter of the schema, or
//     "input" when the schema does not name exactly one;
//   - an empty prop gives no arguments.
func ToolArguments(schema map[string]any, prop, code string) (map[string]any, error) {
	if strings.TrimSpace(code) != "" {
		return decodeObject(code)
	}

	prop = strings.TrimSpace(prop)
	switch {
	case prop == "":
		return nil, nil
	case strings.HasPrefix(prop, "{"):
		return decodeObject(prop)
	}

	key := "input"
	if required := requiredParams(schema); len(required) == 1 {
		key = required[0]
	}
	return map[string]any{key: prop}, nil
}

func decodeObject(s string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("tool arguments must be a JSON object: %w", err)
	}
	return out, nil
}

func requiredParams(schema map[string]any) []string {
	list, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
