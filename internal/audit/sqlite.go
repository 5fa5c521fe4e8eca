// Spool is a print dispatch service for networked receipt printers.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"spool/internal/metrics"
	"spool/pkg/spool"
)

const (
	defaultBusyTimeout = 5 * time.Second

	// bufferDepth is the write-behind queue. Dispatch paths enqueue and
	// move on; a full buffer drops the event instead of blocking a poll.
	bufferDepth = 1024

	schemaVersionKey = "schema_version"
)

// ErrNotFound indicates no rows matched the query.
var ErrNotFound = errors.New("not found")

// SQLiteSink appends lifecycle events to a SQLite file from a single writer
// goroutine. It is the only durable record the service keeps; dispatch state
// itself never touches disk.
type SQLiteSink struct {
	db     *sql.DB
	logger *slog.Logger
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// OpenSQLite opens (or creates) the audit database at path, applies
// connection pragmas, runs migrations, and starts the writer goroutine.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// busy_timeout backs off on a locked database, WAL keeps the reader
	// side (spoolctl, ad-hoc sqlite3) from blocking the writer.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, int(defaultBusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One writer goroutine plus occasional readers.
	db.SetConnMaxLifetime(0)
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(4)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteSink{
		db:     db,
		logger: logger,
		events: make(chan Event, bufferDepth),
		done:   make(chan struct{}),
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	go s.writeLoop()
	return s, nil
}

// Record enqueues the event for the writer goroutine. Never blocks: when the
// buffer is full the event is dropped and counted. Events arriving after
// Close are dropped silently.
func (s *SQLiteSink) Record(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- e:
	default:
		metrics.IncAuditDropped()
		s.logger.Warn("audit buffer full, dropping event",
			"stage", e.Stage, "token", e.Token)
	}
}

// Close drains buffered events and closes the database.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	<-s.done
	return s.db.Close()
}

func (s *SQLiteSink) writeLoop() {
	defer close(s.done)
	for e := range s.events {
		if err := s.insert(e); err != nil {
			s.logger.Warn("audit write failed", "stage", e.Stage, "token", e.Token, "error", err)
		}
	}
}

func (s *SQLiteSink) insert(e Event) error {
	const q = `
INSERT INTO events (at, stage, token, tenant, serial, detail)
VALUES (?, ?, ?, ?, ?, ?);`
	_, err := s.db.Exec(q,
		e.At.UTC().Format(time.RFC3339Nano),
		e.Stage.String(),
		e.Token,
		e.Tenant,
		e.Serial,
		e.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// TokenEvents returns the recorded events for one token, oldest first.
func (s *SQLiteSink) TokenEvents(ctx context.Context, token string) ([]Event, error) {
	const q = `
SELECT at, stage, token, tenant, serial, detail
FROM events WHERE token = ? ORDER BY id ASC;`
	rows, err := s.db.QueryContext(ctx, q, token)
	if err != nil {
		return nil, fmt.Errorf("query token events: %w", err)
	}
	defer rows.Close()

	out, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("token %s: %w", token, ErrNotFound)
	}
	return out, nil
}

// Recent returns the newest events, most recent first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT at, stage, token, tenant, serial, detail
FROM events ORDER BY id DESC LIMIT ?;`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		var at, stage string
		if err := rows.Scan(&at, &stage, &e.Token, &e.Tenant, &e.Serial, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		e.At = ts
		e.Stage = spool.Stage(stage)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// --------------- Migrations ---------------

func (s *SQLiteSink) migrate(ctx context.Context) error {
	if err := s.ensureSettingsTable(ctx); err != nil {
		return err
	}

	cur, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	if cur < 1 {
		if err := s.migrateToV1(ctx); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
		if err := s.setSchemaVersion(ctx, 1); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteSink) ensureSettingsTable(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS settings (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *SQLiteSink) getSchemaVersion(ctx context.Context) (int, error) {
	const q = `SELECT value FROM settings WHERE key=?`
	var val string
	err := s.db.QueryRowContext(ctx, q, schemaVersionKey).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	var v int
	if _, err := fmt.Sscanf(val, "%d", &v); err != nil {
		return 0, nil
	}
	return v, nil
}

func (s *SQLiteSink) setSchemaVersion(ctx context.Context, v int) error {
	const upsert = `
INSERT INTO settings(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value;`
	_, err := s.db.ExecContext(ctx, upsert, schemaVersionKey, fmt.Sprintf("%d", v))
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func (s *SQLiteSink) migrateToV1(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
  id     INTEGER PRIMARY KEY AUTOINCREMENT,
  at     TEXT NOT NULL,
  stage  TEXT NOT NULL,
  token  TEXT NOT NULL,
  tenant TEXT NOT NULL,
  serial TEXT NOT NULL DEFAULT '',
  detail TEXT NOT NULL DEFAULT ''
);`,
		`CREATE INDEX IF NOT EXISTS idx_events_token ON events(token);`,
		`CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec ddl: %w", err)
		}
	}
	return nil
}
