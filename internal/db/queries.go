package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/contextcore/coyote/internal/orchestrator"
)

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID        int
	RunID     string
	Event     string
	Stage     string
	Attempt   int
	Detail    string
	Timestamp string
}

// RunEvent implements orchestrator.Notifier: every transition the
// orchestrator emits lands in the event log.
func (d *DB) RunEvent(e orchestrator.Event) error {
	return d.LogRunEvent(e.RunID, e.Type, e.Stage, e.Attempt, e.Detail, e.Time)
}

// LogRunEvent inserts a run transition event.
func (d *DB) LogRunEvent(runID, event, stage string, attempt int, detail string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := d.conn.Exec(
		`INSERT INTO run_events (run_id, event, stage, attempt, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, event, stage, attempt, detail, at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// ListRunEvents returns all events for a run in insertion order.
func (d *DB) ListRunEvents(runID string) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, event, stage, attempt, detail, timestamp
		 FROM run_events WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		e, err := scanRunEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LastRunEvent returns the most recent event for a run, or nil if none.
func (d *DB) LastRunEvent(runID string) (*RunEvent, error) {
	row := d.conn.QueryRow(
		`SELECT id, run_id, event, stage, attempt, detail, timestamp
		 FROM run_events WHERE run_id = ? ORDER BY id DESC LIMIT 1`,
		runID,
	)
	e, err := scanRunEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CountEvents returns per-event-type counts across all runs. Used by the CLI
// status summary.
func (d *DB) CountEvents() (map[string]int, error) {
	rows, err := d.conn.Query(`SELECT event, COUNT(*) FROM run_events GROUP BY event`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var event string
		var n int
		if err := rows.Scan(&event, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[event] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunEvent(row rowScanner) (RunEvent, error) {
	var e RunEvent
	var stage, detail sql.NullString
	var attempt sql.NullInt64
	err := row.Scan(&e.ID, &e.RunID, &e.Event, &stage, &attempt, &detail, &e.Timestamp)
	if err != nil {
		if err == sql.ErrNoRows {
			return e, err
		}
		return e, fmt.Errorf("scan run event: %w", err)
	}
	e.Stage = stage.String
	e.Attempt = int(attempt.Int64)
	e.Detail = detail.String
	return e, nil
}
