// Package mcp connects to Model Context Protocol servers and exposes their
// tools as DevIns commands named server__tool.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ProtocolVersion is the protocol revision sent in the handshake.
const ProtocolVersion = "2024-11-05"

// ToolSeparator joins server and tool names into a command name.
const ToolSeparator = "__"

// CommandName returns the command a script uses to call tool on server.
func CommandName(server, tool string) string {
	return server + ToolSeparator + tool
}

// TransportType selects how a server is reached.
type TransportType string

const (
	// TransportStdio spawns the server and speaks over its stdin/stdout.
	TransportStdio TransportType = "stdio"
	// TransportHTTP posts each message to a streamable HTTP endpoint.
	TransportHTTP TransportType = "http"
)

// Transport carries JSON-RPC messages to one server.
type Transport interface {
	Connect(ctx context.Context) error

	// Send issues a request and returns its result. Methods under
	// notifications/ are sent without an id and return a nil result.
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)

	Close() error

	// OnNotification registers the handler for server-initiated messages.
	OnNotification(handler func(method string, params json.RawMessage))
}

// ServerConfig describes one server connection.
type ServerConfig struct {
	// Name prefixes every tool command of the server.
	Name string

	// Transport defaults to stdio.
	Transport TransportType

	// Command, Args and Env start a stdio server.
	Command string
	Args    []string
	Env     map[string]string

	// URL and Headers reach an HTTP server.
	URL     string
	Headers map[string]string

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
}

// MCPTool is a tool advertised by a server.
type MCPTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`

	// ServerName is filled in by the client.
	ServerName string `json:"-"`
}

// ServerInfo is what a server reported during the handshake.
type ServerInfo struct {
	Name            string
	Version         string
	ProtocolVersion string

	// ToolsListChanged is set when the server announces tool list changes.
	ToolsListChanged bool
}

// ErrNotConnected is returned for calls made before Connect or after Close.
var ErrNotConnected = errors.New("not connected")

// ToolError is the text content of a tool result flagged isError.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

// JSON-RPC framing.

// ErrCodeMethodNotFound is the JSON-RPC code for an unknown method.
const ErrCodeMethodNotFound = -32601

type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

type JSONRPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCError is an error object returned by a server.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// envelope holds the fields that tell a response from a notification.
type envelope struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Handshake and tool messages.

// Implementation names a client or server in the handshake.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ClientInfo      Implementation `json:"clientInfo"`
	Capabilities    struct{}       `json:"capabilities"`
}

type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Capabilities    serverCapabilities `json:"capabilities"`
}

type serverCapabilities struct {
	Tools *toolsCapability `json:"tools,omitempty"`
}

type toolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type listParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type ToolsListResult struct {
	Tools      []MCPTool `json:"tools"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one piece of a tool result. Only text is rendered
// verbatim; other kinds become a bracketed placeholder.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

func (b ContentBlock) render() string {
	switch b.Type {
	case "text":
		return b.Text
	case "image", "audio":
		return fmt.Sprintf("[%s: %s]", b.Type, b.MimeType)
	default:
		if b.Text != "" {
			return fmt.Sprintf("[%s: %s]", b.Type, b.Text)
		}
		return fmt.Sprintf("[%s]", b.Type)
	}
}
