package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ClientName and ClientVersion identify this client during the handshake.
const (
	ClientName    = "devins"
	ClientVersion = "0.1.0"
)

// DefaultTimeout applies when a server config leaves Timeout unset.
const DefaultTimeout = 30 * time.Second

// maxToolPages bounds tools/list pagination against servers that never
// stop handing out cursors.
const maxToolPages = 64

// Client is a connection to one server.
type Client struct {
	name      string
	transport Transport

	mu        sync.RWMutex
	connected bool
	info      ServerInfo
	tools     []MCPTool
	onTools   func(*Client, []MCPTool)
}

// NewClient builds the transport config asks for. Nothing is started until
// Connect.
func NewClient(config ServerConfig) (*Client, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if strings.Contains(config.Name, ToolSeparator) {
		return nil, fmt.Errorf("server name %q must not contain %q", config.Name, ToolSeparator)
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	var transport Transport
	switch config.Transport {
	case "", TransportStdio:
		if config.Command == "" {
			return nil, fmt.Errorf("server %s: stdio transport needs a command", config.Name)
		}
		transport = NewStdioTransport(config)
	case TransportHTTP:
		if config.URL == "" {
			return nil, fmt.Errorf("server %s: http transport needs a url", config.Name)
		}
		transport = NewHTTPTransport(config)
	default:
		return nil, fmt.Errorf("server %s: unknown transport %q", config.Name, config.Transport)
	}
	return NewClientWithTransport(config.Name, transport), nil
}

// NewClientWithTransport wraps an existing transport.
func NewClientWithTransport(name string, transport Transport) *Client {
	return &Client{name: name, transport: transport}
}

// OnToolsChanged registers fn to receive the tool list each time it is
// fetched again after a list_changed notification.
func (c *Client) OnToolsChanged(fn func(*Client, []MCPTool)) {
	c.mu.Lock()
	c.onTools = fn
	c.mu.Unlock()
}

// rpc sends one request and decodes its result into out, if out is not nil.
func (c *Client) rpc(ctx context.Context, method string, params, out any) error {
	raw, err := c.transport.Send(ctx, method, params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// call is rpc for an established session.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.rpc(ctx, method, params, out)
}

// Connect starts the transport and performs the initialize handshake.
// Connecting an already connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}

	var res InitializeResult
	err := c.rpc(ctx, "initialize", InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      Implementation{Name: ClientName, Version: ClientVersion},
	}, &res)
	if err != nil {
		c.transport.Close()
		return err
	}
	if res.ProtocolVersion != "" && res.ProtocolVersion != ProtocolVersion {
		slog.Debug("mcp: server negotiated another protocol version",
			"server", c.name, "version", res.ProtocolVersion)
	}
	c.info = ServerInfo{
		Name:             res.ServerInfo.Name,
		Version:          res.ServerInfo.Version,
		ProtocolVersion:  res.ProtocolVersion,
		ToolsListChanged: res.Capabilities.Tools != nil && res.Capabilities.Tools.ListChanged,
	}

	// Some servers reject the notification; the session is usable anyway.
	if err := c.rpc(ctx, "notifications/initialized", nil, nil); err != nil {
		slog.Debug("mcp: initialized notification failed", "server", c.name, "error", err)
	}

	c.transport.OnNotification(c.notified)
	c.connected = true
	return nil
}

// DiscoverTools fetches every page of the server's tool list and caches it.
func (c *Client) DiscoverTools(ctx context.Context) ([]MCPTool, error) {
	var (
		tools  []MCPTool
		cursor string
	)
	for page := 0; ; page++ {
		if page == maxToolPages {
			return nil, fmt.Errorf("tools/list: more than %d pages", maxToolPages)
		}
		var params any
		if cursor != "" {
			params = listParams{Cursor: cursor}
		}
		var res ToolsListResult
		if err := c.call(ctx, "tools/list", params, &res); err != nil {
			return nil, err
		}
		for _, t := range res.Tools {
			t.ServerName = c.name
			tools = append(tools, t)
		}
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return tools, nil
}

// CallTool runs a tool and returns its content blocks joined by newlines.
// A result flagged isError comes back as a *ToolError.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	var res ToolCallResult
	if err := c.call(ctx, "tools/call", ToolCallParams{Name: name, Arguments: args}, &res); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(res.Content))
	for _, b := range res.Content {
		parts = append(parts, b.render())
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		return "", &ToolError{Tool: name, Message: text}
	}
	return text, nil
}

// Close ends the session. Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	return c.transport.Close()
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Tools returns the tools from the last successful DiscoverTools.
func (c *Client) Tools() []MCPTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// ServerInfo returns what the server reported when connecting.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// notified refreshes the tool list when the server says it changed.
func (c *Client) notified(method string, _ json.RawMessage) {
	if method != "notifications/tools/list_changed" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	tools, err := c.DiscoverTools(ctx)
	if err != nil {
		slog.Warn("mcp: tool list refresh failed", "server", c.name, "error", err)
		return
	}
	c.mu.RLock()
	fn := c.onTools
	c.mu.RUnlock()
	if fn != nil {
		fn(c, tools)
	}
}
