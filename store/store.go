// Package store persists the history of compiled scripts and the
// recurring schedules that produce them.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store persists compilation history.
type Store interface {
	// Init creates tables if they don't exist.
	Init() error

	// Close closes the store.
	Close() error

	// InsertRun records one compiled link of a chain.
	InsertRun(r Run) error

	// ListRuns returns recent runs, newest first.
	ListRuns(limit int) ([]Run, error)

	// GetRun returns a run by ID.
	GetRun(id string) (Run, error)

	// ListChain returns the links of a chain in order.
	ListChain(chainID string) ([]Run, error)

	// UpsertSchedule creates or replaces a schedule.
	UpsertSchedule(s Schedule) error

	// DeleteSchedule removes a schedule by name.
	DeleteSchedule(name string) error

	// ListSchedules returns all schedules.
	ListSchedules() ([]Schedule, error)
}

// Run is a persisted compiled result. Links of one chain share ChainID and
// are numbered from zero.
type Run struct {
	ID           string    `json:"id"`
	ChainID      string    `json:"chain_id"`
	Link         int       `json:"link"`
	SourcePath   string    `json:"source_path,omitempty"`
	Input        string    `json:"input"`
	Output       string    `json:"output"`
	HasError     bool      `json:"has_error"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Skipped      bool      `json:"skipped,omitempty"`
	Agent        string    `json:"agent,omitempty"`
	Local        bool      `json:"local"`
	Stats        RunStats  `json:"stats"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Duration returns how long the compilation took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunStats are the element counters of a compilation.
type RunStats struct {
	Nodes      int `json:"nodes"`
	Variables  int `json:"variables"`
	Commands   int `json:"commands"`
	Agents     int `json:"agents"`
	CodeBlocks int `json:"code_blocks"`
}

// Schedule is a persisted recurring script run.
type Schedule struct {
	Name      string    `json:"name"`
	Cron      string    `json:"cron"`
	Script    string    `json:"script"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}
