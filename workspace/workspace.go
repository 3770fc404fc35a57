// Package workspace is the file-system view scripts compile against.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrOutsideSandbox is returned for paths that escape the workspace root.
var ErrOutsideSandbox = errors.New("path outside workspace")

// RefreshFunc is notified after the workspace is refreshed.
type RefreshFunc func(ctx context.Context)

// Workspace resolves script paths against a root directory.
type Workspace struct {
	root      string
	sandbox   bool
	skipDirs  map[string]bool
	listeners []RefreshFunc
	timeout   time.Duration
	mu        sync.RWMutex
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithSandbox rejects paths outside the root.
func WithSandbox(enabled bool) Option {
	return func(w *Workspace) {
		w.sandbox = enabled
	}
}

// WithSkipDirs sets directory names ListDir never descends into.
func WithSkipDirs(names ...string) Option {
	return func(w *Workspace) {
		for _, n := range names {
			w.skipDirs[n] = true
		}
	}
}

// New creates a workspace rooted at root.
func New(root string, opts ...Option) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	w := &Workspace{
		root:     abs,
		skipDirs: map[string]bool{".git": true, "node_modules": true},
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps a script path to an absolute path.
func (w *Workspace) Resolve(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.root, path)
	}
	path = filepath.Clean(path)

	if w.sandbox {
		rel, err := filepath.Rel(w.root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s", ErrOutsideSandbox, path)
		}
	}
	return path, nil
}

// ReadFile returns the content of a file.
func (w *Workspace) ReadFile(path string) (string, error) {
	abs, err := w.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes content, creating parent directories.
func (w *Workspace) WriteFile(path, content string) error {
	abs, err := w.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

// Exists reports whether path exists.
func (w *Workspace) Exists(path string) bool {
	abs, err := w.Resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// ListDir returns paths under dir relative to it, up to depth levels.
// Directories carry a trailing slash.
func (w *Workspace) ListDir(dir string, depth int) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := w.Resolve(dir)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = 1
	}

	var out []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == abs {
			return nil
		}
		rel, _ := filepath.Rel(abs, path)
		level := strings.Count(rel, string(filepath.Separator)) + 1
		if d.IsDir() {
			if w.skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			out = append(out, filepath.ToSlash(rel)+"/")
			if level >= depth {
				return filepath.SkipDir
			}
			return nil
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(out)
	return out, nil
}

// OnRefresh registers fn to run after each Refresh.
func (w *Workspace) OnRefresh(fn RefreshFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Refresh notifies listeners in the background and returns immediately.
func (w *Workspace) Refresh() {
	w.mu.RLock()
	listeners := make([]RefreshFunc, len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		for _, fn := range listeners {
			fn(ctx)
		}
		slog.Debug("workspace refreshed", "root", w.root, "listeners", len(listeners))
	}()
}
