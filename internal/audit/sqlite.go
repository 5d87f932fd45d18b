package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL,
	ts         INTEGER NOT NULL,
	type       TEXT NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	resource   TEXT NOT NULL DEFAULT '',
	allowed    INTEGER NOT NULL,
	ip         TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS audit_events_session ON audit_events (session_id);
CREATE TRIGGER IF NOT EXISTS audit_events_no_update BEFORE UPDATE ON audit_events
BEGIN SELECT RAISE(ABORT, 'audit log is append-only'); END;
CREATE TRIGGER IF NOT EXISTS audit_events_no_delete BEFORE DELETE ON audit_events
BEGIN SELECT RAISE(ABORT, 'audit log is append-only'); END;
`

// SQLiteSink appends events to a local SQLite table. Updates and deletes
// are rejected by triggers.
type SQLiteSink struct {
	db      *sql.DB
	onError func(error)
}

// OpenSQLiteSink opens (or creates) the database at path.
func OpenSQLiteSink(path string, onError func(error)) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}

	// SQLite allows one writer; the dispatcher already serializes emits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("audit: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}

	if onError == nil {
		onError = func(error) {}
	}
	return &SQLiteSink{db: db, onError: onError}, nil
}

func (s *SQLiteSink) Emit(ctx context.Context, event Event) {
	detail := []byte("{}")
	if len(event.Detail) > 0 {
		if b, err := json.Marshal(event.Detail); err == nil {
			detail = b
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, ts, type, user_id, session_id, resource, allowed, ip, error, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.Timestamp.UnixMilli(), event.Type, event.UserID, event.SessionID,
		event.Resource, event.Allowed, event.IP, event.Error, string(detail))
	if err != nil {
		s.onError(err)
	}
}

// Query returns the events recorded for a session, oldest first.
func (s *SQLiteSink) Query(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, type, user_id, session_id, resource, allowed, ip, error, detail
		FROM audit_events WHERE session_id = ? ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e      Event
			ts     int64
			detail string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.UserID, &e.SessionID, &e.Resource, &e.Allowed, &e.IP, &e.Error, &detail); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts)
		if detail != "{}" {
			_ = json.Unmarshal([]byte(detail), &e.Detail)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DB exposes the underlying handle for read-side tooling.
func (s *SQLiteSink) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
