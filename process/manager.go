package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrProcessNotFound is returned for an unknown process ID.
var ErrProcessNotFound = errors.New("process not found")

// Status is the lifecycle state of a background process.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusKilled  Status = "killed"
)

// Info is a snapshot of a background process.
type Info struct {
	ID        string
	Command   string
	PID       int
	Status    Status
	ExitCode  int
	StartedAt time.Time
	EndedAt   time.Time
}

// Manager launches and tracks background processes.
type Manager struct {
	dir       string
	procs     map[string]*managed
	maxBuffer int
	mu        sync.RWMutex
}

type managed struct {
	info   Info
	cmd    *exec.Cmd
	cancel context.CancelFunc
	out    *syncBuffer
	done   chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerDir sets the default working directory for launched processes.
func WithManagerDir(dir string) ManagerOption {
	return func(m *Manager) {
		m.dir = dir
	}
}

// NewManager creates a background process manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		procs:     make(map[string]*managed),
		maxBuffer: 64 * 1024,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Launch starts cmd in the background and returns its ID.
// The process is not bound to ctx; use Kill or Close to stop it.
func (m *Manager) Launch(ctx context.Context, cmd Command) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}

	argv := cmd.Argv()
	if len(argv) == 0 || argv[0] == "" {
		return Info{}, errors.New("empty command")
	}

	procCtx, cancel := context.WithCancel(context.Background())
	c := exec.CommandContext(procCtx, argv[0], argv[1:]...)
	c.Dir = cmd.Dir
	if c.Dir == "" {
		c.Dir = m.dir
	}
	c.Env = append(os.Environ(), cmd.Env...)
	c.WaitDelay = waitDelay

	out := &syncBuffer{max: m.maxBuffer}
	c.Stdout = out
	c.Stderr = out

	if err := c.Start(); err != nil {
		cancel()
		return Info{}, fmt.Errorf("start %q: %w", cmd.String(), err)
	}

	p := &managed{
		info: Info{
			ID:        uuid.New().String()[:8],
			Command:   cmd.String(),
			PID:       c.Process.Pid,
			Status:    StatusRunning,
			StartedAt: time.Now(),
		},
		cmd:    c,
		cancel: cancel,
		out:    out,
		done:   make(chan struct{}),
	}

	info := p.info

	m.mu.Lock()
	m.procs[info.ID] = p
	m.mu.Unlock()

	go m.wait(p)

	slog.Info("process launched", "id", info.ID, "pid", info.PID, "command", info.Command)
	return info, nil
}

func (m *Manager) wait(p *managed) {
	err := p.cmd.Wait()

	m.mu.Lock()
	p.info.EndedAt = time.Now()
	if p.info.Status != StatusKilled {
		p.info.Status = StatusExited
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		p.info.ExitCode = exitErr.ExitCode()
	}
	code := p.info.ExitCode
	m.mu.Unlock()

	close(p.done)
	slog.Info("process finished", "id", p.info.ID, "exit_code", code)
}

// List returns all known processes ordered by start time.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.procs))
	for _, p := range m.procs {
		infos = append(infos, p.info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Get returns a snapshot of one process.
func (m *Manager) Get(id string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.procs[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrProcessNotFound, id)
	}
	return p.info, nil
}

// Output returns the captured stdout and stderr of a process.
func (m *Manager) Output(id string) (string, error) {
	m.mu.RLock()
	p, ok := m.procs[id]
	m.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrProcessNotFound, id)
	}
	return p.out.String(), nil
}

// Kill stops a running process and waits for it to exit.
func (m *Manager) Kill(id string) error {
	m.mu.Lock()
	p, ok := m.procs[id]
	if ok && p.info.Status == StatusRunning {
		p.info.Status = StatusKilled
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrProcessNotFound, id)
	}

	p.cancel()
	<-p.done
	return nil
}

// Wait blocks until the process exits or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Info, error) {
	m.mu.RLock()
	p, ok := m.procs[id]
	m.mu.RUnlock()

	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrProcessNotFound, id)
	}

	select {
	case <-p.done:
		return m.Get(id)
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
}

// Close kills every running process.
func (m *Manager) Close() error {
	for _, info := range m.List() {
		if info.Status == StatusRunning {
			_ = m.Kill(info.ID)
		}
	}
	return nil
}

// syncBuffer is a size-bounded buffer safe for concurrent writers.
type syncBuffer struct {
	buf bytes.Buffer
	max int
	mu  sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if room := b.max - b.buf.Len(); room < len(p) {
		if room <= 0 {
			return n, nil
		}
		p = p[:room]
	}
	b.buf.Write(p)
	return n, nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
