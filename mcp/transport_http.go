package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// sessionHeader carries the server-assigned session between requests.
const sessionHeader = "Mcp-Session-Id"

// HTTPTransport posts JSON-RPC requests to a streamable HTTP endpoint.
// Responses may be plain JSON or an event stream; notifications that arrive
// on a response stream are passed to the notification handler.
type HTTPTransport struct {
	config ServerConfig
	client *http.Client
	nextID atomic.Int64

	mu      sync.Mutex
	session string
	notify  func(method string, params json.RawMessage)
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.client = c
	}
}

// NewHTTPTransport creates a transport for config.URL.
func NewHTTPTransport(config ServerConfig, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect is a no-op; the session starts with the initialize request.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	return ctx.Err()
}

// Send posts a request and returns its result.
func (t *HTTPTransport) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var (
		msg any
		id  int64
	)
	if isNotification(method) {
		msg = JSONRPCNotification{JSONRPC: "2.0", Method: method, Params: params}
	} else {
		id = t.nextID.Add(1)
		msg = JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	t.mu.Lock()
	if t.session != "" {
		req.Header.Set(sessionHeader, t.session)
	}
	t.mu.Unlock()

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", method, err)
	}
	defer resp.Body.Close()

	if s := resp.Header.Get(sessionHeader); s != "" {
		t.mu.Lock()
		t.session = s
		t.mu.Unlock()
	}

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s returned %d: %s", method, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if isNotification(method) {
		return nil, nil
	}

	var rpc *JSONRPCResponse
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		rpc, err = t.readStream(resp.Body, id)
	} else {
		rpc = &JSONRPCResponse{}
		err = json.NewDecoder(resp.Body).Decode(rpc)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	if rpc.Error != nil {
		return nil, rpc.Error
	}
	return rpc.Result, nil
}

// readStream scans server-sent events until the response with id arrives.
func (t *HTTPTransport) readStream(r io.Reader, id int64) (*JSONRPCResponse, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var msg envelope
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		if msg.ID == nil {
			t.mu.Lock()
			handler := t.notify
			t.mu.Unlock()
			if handler != nil && msg.Method != "" {
				go handler(msg.Method, msg.Params)
			}
			continue
		}
		if *msg.ID != id {
			continue
		}

		var resp JSONRPCResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.ErrUnexpectedEOF
}

// Close ends the session on the server when one was assigned.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	session := t.session
	t.session = ""
	t.mu.Unlock()
	if session == "" {
		return nil
	}

	req, err := http.NewRequest(http.MethodDelete, t.config.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set(sessionHeader, session)
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// OnNotification registers a handler for server notifications.
func (t *HTTPTransport) OnNotification(handler func(method string, params json.RawMessage)) {
	t.mu.Lock()
	t.notify = handler
	t.mu.Unlock()
}
