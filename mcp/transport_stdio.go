package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
)

// maxMessageSize bounds a single newline-delimited JSON-RPC message.
const maxMessageSize = 4 * 1024 * 1024

// StdioTransport speaks newline-delimited JSON-RPC with a subprocess over
// its stdin and stdout.
type StdioTransport struct {
	config ServerConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *JSONRPCResponse
	notify  func(method string, params json.RawMessage)
	done    chan struct{}
	readErr error
	closed  bool

	writeMu sync.Mutex
}

// NewStdioTransport creates a transport that launches config.Command.
func NewStdioTransport(config ServerConfig) *StdioTransport {
	return &StdioTransport{
		config:  config,
		pending: make(map[int64]chan *JSONRPCResponse),
		done:    make(chan struct{}),
	}
}

// Connect starts the subprocess and its read loop. The process outlives ctx;
// Close stops it.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = os.Environ()
	for k, v := range t.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", t.config.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	go t.readLoop(stdout)
	return nil
}

func (t *StdioTransport) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		t.dispatch(line)
	}

	t.mu.Lock()
	t.readErr = scanner.Err()
	if t.readErr == nil {
		t.readErr = io.EOF
	}
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	t.mu.Unlock()
	close(t.done)
}

// dispatch routes a message to its waiting request or to the notification
// handler. Messages with neither an id nor a method are dropped.
func (t *StdioTransport) dispatch(line []byte) {
	var msg envelope
	if err := json.Unmarshal(line, &msg); err != nil {
		slog.Debug("mcp: dropping malformed message", "server", t.config.Name, "error", err)
		return
	}

	if msg.ID == nil {
		t.mu.Lock()
		handler := t.notify
		t.mu.Unlock()
		if handler != nil && msg.Method != "" {
			// Handlers may issue requests of their own.
			go handler(msg.Method, msg.Params)
		}
		return
	}

	var resp JSONRPCResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	delete(t.pending, resp.ID)
	t.mu.Unlock()
	if ok {
		ch <- &resp
	}
}

// Send writes a request and waits for its response. Methods under
// notifications/ are sent without an id and return immediately.
func (t *StdioTransport) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if t.stdin == nil {
		return nil, fmt.Errorf("transport not connected")
	}

	if isNotification(method) {
		return nil, t.write(JSONRPCNotification{JSONRPC: "2.0", Method: method, Params: params})
	}

	id := t.nextID.Add(1)
	ch := make(chan *JSONRPCResponse, 1)

	t.mu.Lock()
	if t.readErr != nil {
		err := t.readErr
		t.mu.Unlock()
		return nil, fmt.Errorf("server closed: %w", err)
	}
	t.pending[id] = ch
	t.mu.Unlock()

	if err := t.write(JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		t.forget(id)
		return nil, err
	}

	if t.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		defer cancel()
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("server closed before responding to %s", method)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		t.forget(id)
		return nil, ctx.Err()
	}
}

func (t *StdioTransport) forget(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *StdioTransport) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close stops the subprocess.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed || t.cmd == nil {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.stdin.Close()
	if t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	<-t.done
	t.cmd.Wait()
	return nil
}

// OnNotification registers a handler for server notifications.
func (t *StdioTransport) OnNotification(handler func(method string, params json.RawMessage)) {
	t.mu.Lock()
	t.notify = handler
	t.mu.Unlock()
}

func isNotification(method string) bool {
	return strings.HasPrefix(method, "notifications/")
}
