package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Init creates the schema tables.
func (s *SQLiteStore) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id            TEXT PRIMARY KEY,
		chain_id      TEXT NOT NULL,
		link          INTEGER NOT NULL DEFAULT 0,
		source_path   TEXT NOT NULL DEFAULT '',
		input         TEXT NOT NULL DEFAULT '',
		output        TEXT NOT NULL DEFAULT '',
		has_error     INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		skipped       INTEGER NOT NULL DEFAULT 0,
		agent         TEXT NOT NULL DEFAULT '',
		local         INTEGER NOT NULL DEFAULT 0,
		stats         TEXT NOT NULL DEFAULT '{}',
		started_at    DATETIME NOT NULL,
		finished_at   DATETIME NOT NULL,
		seq           INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS schedules (
		name       TEXT PRIMARY KEY,
		cron       TEXT NOT NULL,
		script     TEXT NOT NULL,
		enabled    INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_chain ON runs(chain_id, link);
	CREATE INDEX IF NOT EXISTS idx_runs_seq ON runs(seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertRun records a compiled link.
func (s *SQLiteStore) InsertRun(r Run) error {
	stats, err := json.Marshal(r.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO runs
		 (id, chain_id, link, source_path, input, output, has_error, error_message, skipped, agent, local, stats, started_at, finished_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM runs))`,
		r.ID, r.ChainID, r.Link, r.SourcePath, r.Input, r.Output, r.HasError, r.ErrorMessage,
		r.Skipped, r.Agent, r.Local, string(stats), r.StartedAt, r.FinishedAt,
	)
	return err
}

const runColumns = `id, chain_id, link, source_path, input, output, has_error, error_message, skipped, agent, local, stats, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r     Run
		stats string
	)
	if err := row.Scan(
		&r.ID, &r.ChainID, &r.Link, &r.SourcePath, &r.Input, &r.Output, &r.HasError, &r.ErrorMessage,
		&r.Skipped, &r.Agent, &r.Local, &stats, &r.StartedAt, &r.FinishedAt,
	); err != nil {
		return Run{}, err
	}
	json.Unmarshal([]byte(stats), &r.Stats)
	return r, nil
}

func (s *SQLiteStore) queryRuns(query string, args ...any) ([]Run, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRuns returns recent runs, newest first.
func (s *SQLiteStore) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryRuns(`SELECT `+runColumns+` FROM runs ORDER BY seq DESC LIMIT ?`, limit)
}

// ListChain returns the links of a chain in order.
func (s *SQLiteStore) ListChain(chainID string) ([]Run, error) {
	return s.queryRuns(`SELECT `+runColumns+` FROM runs WHERE chain_id = ? ORDER BY link ASC`, chainID)
}

// GetRun returns a run by ID.
func (s *SQLiteStore) GetRun(id string) (Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// UpsertSchedule creates or replaces a schedule.
func (s *SQLiteStore) UpsertSchedule(sc Schedule) error {
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO schedules (name, cron, script, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sc.Name, sc.Cron, sc.Script, sc.Enabled, sc.CreatedAt,
	)
	return err
}

// DeleteSchedule removes a schedule by name.
func (s *SQLiteStore) DeleteSchedule(name string) error {
	result, err := s.db.Exec(`DELETE FROM schedules WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("schedule %s: %w", name, ErrNotFound)
	}
	return nil
}

// ListSchedules returns all schedules, oldest first.
func (s *SQLiteStore) ListSchedules() ([]Schedule, error) {
	rows, err := s.db.Query(
		`SELECT name, cron, script, enabled, created_at FROM schedules ORDER BY created_at ASC, name ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var sc Schedule
		if err := rows.Scan(&sc.Name, &sc.Cron, &sc.Script, &sc.Enabled, &sc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
