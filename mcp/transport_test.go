package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

// TestHelperProcess is a minimal stdio tool server used by the transport
// tests. It only runs when started by helperConfig.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("DEVINS_MCP_HELPER") != "1" {
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	enc := json.NewEncoder(os.Stdout)
	for scanner.Scan() {
		var req struct {
			ID     *int64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || req.ID == nil {
			continue
		}

		var result any
		switch req.Method {
		case "initialize":
			result = InitializeResult{ProtocolVersion: ProtocolVersion, ServerInfo: Implementation{Name: "helper"}}
		case "tools/list":
			result = ToolsListResult{Tools: []MCPTool{{Name: "echo", Description: "Echo text"}}}
		case "tools/call":
			var p ToolCallParams
			json.Unmarshal(req.Params, &p)
			enc.Encode(JSONRPCNotification{JSONRPC: "2.0", Method: "notifications/message", Params: map[string]any{"level": "info"}})
			result = ToolCallResult{Content: []ContentBlock{{Type: "text", Text: fmt.Sprint(p.Arguments["input"])}}}
		default:
			enc.Encode(JSONRPCResponse{JSONRPC: "2.0", ID: *req.ID, Error: &JSONRPCError{Code: ErrCodeMethodNotFound, Message: "unknown method"}})
			continue
		}
		data, _ := json.Marshal(result)
		enc.Encode(JSONRPCResponse{JSONRPC: "2.0", ID: *req.ID, Result: data})
	}
	os.Exit(0)
}

func helperConfig() ServerConfig {
	return ServerConfig{
		Name:    "helper",
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess"},
		Env:     map[string]string{"DEVINS_MCP_HELPER": "1"},
		Timeout: 10 * time.Second,
	}
}

func TestStdioTransportRoundTrip(t *testing.T) {
	client, err := NewClient(helperConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if client.ServerInfo().Name != "helper" {
		t.Errorf("ServerInfo = %+v", client.ServerInfo())
	}

	tools, err := client.DiscoverTools(ctx)
	if err != nil {
		t.Fatalf("DiscoverTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" || tools[0].ServerName != "helper" {
		t.Errorf("tools = %+v", tools)
	}

	out, err := client.CallTool(ctx, "echo", map[string]any{"input": "hi there"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if out != "hi there" {
		t.Errorf("CallTool = %q", out)
	}

	err = client.call(ctx, "resources/read", map[string]string{"uri": "file:///x"}, nil)
	var rpcErr *JSONRPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != ErrCodeMethodNotFound || !strings.Contains(err.Error(), "unknown method") {
		t.Errorf("resources/read error = %v", err)
	}
}

func TestStdioTransportNotConnected(t *testing.T) {
	tr := NewStdioTransport(helperConfig())
	if _, err := tr.Send(context.Background(), "tools/list", nil); err == nil {
		t.Fatal("expected error before Connect")
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close before Connect: %v", err)
	}
}

func TestHTTPTransport(t *testing.T) {
	var sawSession, sawAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Header.Get("Authorization") == "Bearer token" {
			sawAuth = true
		}

		var req JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)

		switch req.Method {
		case "initialize":
			w.Header().Set(sessionHeader, "s-1")
			data, _ := json.Marshal(InitializeResult{ServerInfo: Implementation{Name: "remote"}})
			json.NewEncoder(w).Encode(JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: data})
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		case "tools/list":
			if r.Header.Get(sessionHeader) == "s-1" {
				sawSession = true
			}
			w.Header().Set("Content-Type", "text/event-stream")
			data, _ := json.Marshal(ToolsListResult{Tools: []MCPTool{{Name: "search"}}})
			resp, _ := json.Marshal(JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: data})
			fmt.Fprintf(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", resp)
		default:
			http.Error(w, "nope", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	client, err := NewClient(ServerConfig{
		Name:      "remote",
		Transport: TransportHTTP,
		URL:       srv.URL,
		Headers:   map[string]string{"Authorization": "Bearer token"},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	tools, err := client.DiscoverTools(ctx)
	if err != nil {
		t.Fatalf("DiscoverTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "search" {
		t.Errorf("tools = %+v", tools)
	}
	if !sawSession || !sawAuth {
		t.Errorf("sawSession=%v sawAuth=%v", sawSession, sawAuth)
	}

	if _, err := client.CallTool(ctx, "search", nil); err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("CallTool error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
