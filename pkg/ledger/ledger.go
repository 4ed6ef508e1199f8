// Package ledger keeps a queryable record of every finished call attempt,
// including failed ones and completed calls whose result row could not be
// written.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

type Attempt struct {
	CallID          string
	TraceID         string
	From            string
	To              string
	State           string
	Reason          string
	Transcript      string
	DurationSeconds int
	HasDuration     bool
	CreatedAt       time.Time
	FinishedAt      time.Time
}

type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path with WAL enabled.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying ledger schema: %w", err)
	}
	slog.Info("ledger opened", "path", path)
	return &Ledger{db: db}, nil
}

// Record stores the outcome of an attempt. Recording the same call again
// replaces the earlier row.
func (l *Ledger) Record(ctx context.Context, a Attempt) error {
	var duration sql.NullInt64
	if a.HasDuration {
		duration = sql.NullInt64{Int64: int64(a.DurationSeconds), Valid: true}
	}
	if a.FinishedAt.IsZero() {
		a.FinishedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO attempts (call_id, trace_id, from_number, to_number, state,
		 reason, transcript, duration_seconds, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET
		 trace_id = excluded.trace_id, from_number = excluded.from_number,
		 to_number = excluded.to_number, state = excluded.state,
		 reason = excluded.reason, transcript = excluded.transcript,
		 duration_seconds = excluded.duration_seconds,
		 created_at = excluded.created_at, finished_at = excluded.finished_at`,
		a.CallID, a.TraceID, a.From, a.To, a.State, a.Reason, a.Transcript,
		duration, formatTime(a.CreatedAt), formatTime(a.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("recording attempt %s: %w", a.CallID, err)
	}
	return nil
}

// Get returns the attempt for callID, or nil when none is recorded.
func (l *Ledger) Get(ctx context.Context, callID string) (*Attempt, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT call_id, trace_id, from_number, to_number, state, reason,
		 transcript, duration_seconds, created_at, finished_at
		 FROM attempts WHERE call_id = ?`, callID)
	a, err := scan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying attempt %s: %w", callID, err)
	}
	return a, nil
}

// List returns attempts newest first, optionally filtered by state.
func (l *Ledger) List(ctx context.Context, state string, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT call_id, trace_id, from_number, to_number, state, reason,
		 transcript, duration_seconds, created_at, finished_at FROM attempts`
	args := []any{}
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY finished_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Counts returns the number of attempts per final state.
func (l *Ledger) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM attempts GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("counting attempts: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		out[state] = n
	}
	return out, rows.Err()
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*Attempt, error) {
	var a Attempt
	var duration sql.NullInt64
	var created, finished string
	if err := s.Scan(&a.CallID, &a.TraceID, &a.From, &a.To, &a.State, &a.Reason,
		&a.Transcript, &duration, &created, &finished); err != nil {
		return nil, err
	}
	if duration.Valid {
		a.DurationSeconds = int(duration.Int64)
		a.HasDuration = true
	}
	a.CreatedAt = parseTime(created)
	a.FinishedAt = parseTime(finished)
	return &a, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
