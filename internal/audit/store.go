// Package audit records tool executions, session events and permission
// decisions in an embedded SQLite database, and answers the aggregate
// queries used by the CLI and the metrics exporter.
//
// Writes never return errors to the caller. A failed write is passed to the
// store's ErrorReporter so that auditing cannot break the action it observes.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// ErrorReporter receives audit failures that are not returned to callers.
type ErrorReporter func(op string, err error)

// Config holds audit store parameters.
type Config struct {
	// Path is the SQLite database file. Its directory is created if needed.
	Path string
	// Logger receives operational messages. Nil discards.
	Logger *slog.Logger
	// Reporter receives swallowed write and read errors. Nil logs them at
	// error level through Logger.
	Reporter ErrorReporter
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store is the audit database. It holds a single connection shared by all
// callers; SQLite's own locking serializes concurrent writers.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	report ErrorReporter
	now    func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS tool_execution_log (
	id             TEXT PRIMARY KEY,
	timestamp      INTEGER NOT NULL,
	session_id     TEXT NOT NULL,
	call_id        TEXT NOT NULL,
	tool_name      TEXT NOT NULL,
	decision       TEXT NOT NULL CHECK (decision IN ('started', 'completed', 'failed')),
	args           TEXT,
	result_summary TEXT,
	duration_ms    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tool_execution_timestamp ON tool_execution_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_tool_execution_session ON tool_execution_log(session_id);
CREATE INDEX IF NOT EXISTS idx_tool_execution_name ON tool_execution_log(tool_name);
CREATE INDEX IF NOT EXISTS idx_tool_execution_decision ON tool_execution_log(decision);
CREATE INDEX IF NOT EXISTS idx_tool_execution_call ON tool_execution_log(call_id, decision);

CREATE TABLE IF NOT EXISTS session_log (
	id         TEXT PRIMARY KEY,
	timestamp  INTEGER NOT NULL,
	session_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	details    TEXT
);
CREATE INDEX IF NOT EXISTS idx_session_log_timestamp ON session_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_session_log_session ON session_log(session_id);
CREATE INDEX IF NOT EXISTS idx_session_log_event ON session_log(event_type);

CREATE TABLE IF NOT EXISTS permission_event (
	id              TEXT PRIMARY KEY,
	timestamp       INTEGER NOT NULL,
	session_id      TEXT NOT NULL,
	permission_type TEXT NOT NULL,
	resource        TEXT,
	status          TEXT NOT NULL,
	details         TEXT
);
CREATE INDEX IF NOT EXISTS idx_permission_event_timestamp ON permission_event(timestamp);
CREATE INDEX IF NOT EXISTS idx_permission_event_session ON permission_event(session_id);
CREATE INDEX IF NOT EXISTS idx_permission_event_type ON permission_event(permission_type, status);
`

// Open opens (or creates) the audit database and applies the schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit: Path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// WAL: readers never block the writer. busy_timeout lets a second
	// process wait for the lock instead of failing immediately.
	dsn := cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}

	s := &Store{
		db:     db,
		path:   cfg.Path,
		logger: logger,
		report: cfg.Reporter,
		now:    cfg.Now,
	}
	if s.report == nil {
		s.report = func(op string, err error) {
			logger.Error("audit operation failed", "op", op, "error", err)
		}
	}
	if s.now == nil {
		s.now = time.Now
	}

	logger.Info("audit store opened", "path", cfg.Path)
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("audit: close %s: %w", s.path, err)
	}
	return nil
}

// SizeBytes returns the on-disk size of the database including its WAL.
// Missing files count as zero.
func (s *Store) SizeBytes() int64 {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

func (s *Store) timestamp(t time.Time) int64 {
	if t.IsZero() {
		t = s.now()
	}
	return t.UnixMilli()
}

func newID() string {
	return ulid.Make().String()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// swallow reports err under op. Used at the boundary of every public write
// and read so failures never propagate.
func (s *Store) swallow(op string, err error) {
	if err != nil {
		s.report(op, err)
	}
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}
