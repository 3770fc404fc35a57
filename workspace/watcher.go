package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher refreshes a Workspace when files change in watched directories.
type Watcher struct {
	ws       *Workspace
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewWatcher creates a watcher for the given directories.
// Missing directories are skipped.
func NewWatcher(ws *Workspace, dirs ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	for _, dir := range dirs {
		abs, err := ws.Resolve(dir)
		if err != nil {
			continue
		}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := fw.Add(abs); err != nil {
			slog.Warn("watcher: add directory failed", "dir", abs, "error", err)
		}
	}

	return &Watcher{
		ws:       ws,
		watcher:  fw,
		debounce: 200 * time.Millisecond,
	}, nil
}

// Watched returns the directories being watched.
func (w *Watcher) Watched() []string {
	return w.watcher.WatchList()
}

// Run refreshes the workspace on changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.watcher.Add(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.ws.Refresh()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}
