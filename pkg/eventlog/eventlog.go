// Package eventlog implements the Event Log: an append-only, per-project
// sequence of data-change events backed by SQLite, following the teacher's
// sqliteutil connection-pool pattern (single writer, WAL mode) used
// throughout pkg/rag/strategy for its own per-strategy SQLite databases.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/docker/contex/pkg/sqliteutil"
)

// Event is the immutable, totally-ordered-within-project record the rest of
// the system treats as the source of truth.
type Event struct {
	Sequence  int64
	Project   string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

type Log struct {
	db *sql.DB
}

func Open(path string) (*Log, error) {
	db, err := sqliteutil.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	l := &Log{db: db}
	if err := l.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: schema: %w", err)
	}
	return l, nil
}

func (l *Log) createSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS events (
		project    TEXT NOT NULL,
		sequence   INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		payload    BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (project, sequence)
	);
	CREATE TABLE IF NOT EXISTS project_sequences (
		project TEXT PRIMARY KEY,
		next_sequence INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_events_project_created ON events(project, created_at);
	`)
	return err
}

// Append assigns the next sequence for project inside one transaction, so
// the returned sequence strictly exceeds every sequence previously returned
// for that project (I3-adjacent monotonicity, at the Event Log layer).
func (l *Log) Append(ctx context.Context, project, eventType string, payload []byte) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("eventlog: append: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO project_sequences (project, next_sequence) VALUES (?, 2)
		 ON CONFLICT(project) DO UPDATE SET next_sequence = next_sequence + 1
		 RETURNING next_sequence - 1`, project).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("eventlog: append: allocate sequence: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (project, sequence, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		project, next, eventType, payload, now)
	if err != nil {
		return 0, fmt.Errorf("eventlog: append: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("eventlog: append: commit: %w", err)
	}
	return next, nil
}

// Range returns events for project with sequence > sinceExclusive, in
// ascending order, capped at maxCount (0 means unbounded). Callers loop if
// they need more than one page.
func (l *Log) Range(ctx context.Context, project string, sinceExclusive int64, maxCount int) ([]Event, error) {
	query := `SELECT project, sequence, event_type, payload, created_at
	          FROM events WHERE project = ? AND sequence > ? ORDER BY sequence ASC`
	args := []any{project, sinceExclusive}
	if maxCount > 0 {
		query += ` LIMIT ?`
		args = append(args, maxCount)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: range: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Project, &e.Sequence, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("eventlog: range: scan: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Latest returns the highest sequence recorded for project, or (0, false)
// if the project has no events.
func (l *Log) Latest(ctx context.Context, project string) (int64, bool, error) {
	var seq sql.NullInt64
	err := l.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM events WHERE project = ?`, project).Scan(&seq)
	if err != nil {
		return 0, false, fmt.Errorf("eventlog: latest: %w", err)
	}
	if !seq.Valid {
		return 0, false, nil
	}
	return seq.Int64, true, nil
}

func (l *Log) Length(ctx context.Context, project string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE project = ?`, project).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("eventlog: length: %w", err)
	}
	return n, nil
}

// Delete drops all events (and the sequence counter) for project.
func (l *Log) Delete(ctx context.Context, project string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventlog: delete: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE project = ?`, project); err != nil {
		return fmt.Errorf("eventlog: delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM project_sequences WHERE project = ?`, project); err != nil {
		return fmt.Errorf("eventlog: delete: %w", err)
	}
	return tx.Commit()
}

// TrimByCount keeps at most keep newest events per project, deleting the
// rest. Used by retention for max_stream_length enforcement.
func (l *Log) TrimByCount(ctx context.Context, project string, keep int) error {
	_, err := l.db.ExecContext(ctx, `
	DELETE FROM events WHERE project = ? AND sequence NOT IN (
		SELECT sequence FROM events WHERE project = ? ORDER BY sequence DESC LIMIT ?
	)`, project, project, keep)
	if err != nil {
		return fmt.Errorf("eventlog: trim by count: %w", err)
	}
	return nil
}

// TrimByAge deletes events older than cutoff for project. Used by
// retention for events_ttl enforcement.
func (l *Log) TrimByAge(ctx context.Context, project string, cutoff time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM events WHERE project = ? AND created_at < ?`, project, cutoff)
	if err != nil {
		return fmt.Errorf("eventlog: trim by age: %w", err)
	}
	return nil
}

// Projects lists every project with at least one event, used by retention
// sweeps that need to iterate all known projects.
func (l *Log) Projects(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT DISTINCT project FROM events`)
	if err != nil {
		return nil, fmt.Errorf("eventlog: projects: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (l *Log) Close() error {
	return l.db.Close()
}
