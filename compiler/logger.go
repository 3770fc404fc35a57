package compiler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultLogCapacity is the number of entries a context logger keeps.
const DefaultLogCapacity = 256

// LogEntry is one record kept by a context logger.
type LogEntry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// ring is a fixed-size buffer of log entries; the oldest entry is dropped
// when it is full.
type ring struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &ring{entries: make([]LogEntry, capacity)}
}

func (r *ring) add(e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) snapshot() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]LogEntry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]LogEntry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}

func (r *ring) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.entries)
	r.next = 0
	r.full = false
}

// ringHandler records into a ring and forwards to an optional handler.
type ringHandler struct {
	ring  *ring
	level slog.Leveler
	next  slog.Handler
	attrs []slog.Attr
	group string
}

func (h *ringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

func (h *ringHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() {
		attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
		for _, a := range h.attrs {
			attrs[a.Key] = a.Value.Any()
		}
		r.Attrs(func(a slog.Attr) bool {
			attrs[h.key(a.Key)] = a.Value.Any()
			return true
		})
		h.ring.add(LogEntry{Time: r.Time, Level: r.Level, Message: r.Message, Attrs: attrs})
	}

	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *ringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		a.Key = h.key(a.Key)
		clone.attrs = append(clone.attrs, a)
	}
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return &clone
}

func (h *ringHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.group = h.key(name)
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}

func (h *ringHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

// Logger is a structured logger that also keeps its recent records in
// memory so callers can inspect what happened during a compilation.
type Logger struct {
	*slog.Logger
	ring *ring
}

// NewLogger creates a logger keeping up to capacity entries at or above
// level. Records are also forwarded to next when it is non-nil.
func NewLogger(capacity int, level slog.Leveler, next slog.Handler) *Logger {
	if level == nil {
		level = slog.LevelInfo
	}
	r := newRing(capacity)
	return &Logger{
		Logger: slog.New(&ringHandler{ring: r, level: level, next: next}),
		ring:   r,
	}
}

// Entries returns the kept records, oldest first.
func (l *Logger) Entries() []LogEntry {
	return l.ring.snapshot()
}

// Clear drops all kept records.
func (l *Logger) Clear() {
	l.ring.reset()
}
