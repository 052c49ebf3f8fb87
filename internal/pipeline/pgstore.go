package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists runs in Postgres. The run document is stored as JSONB
// with the version in its own column so Save can compare-and-swap in a
// single UPDATE. Used when several workers share one run database.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ RunStore = (*PGStore)(nil)

// NewPGStore connects to Postgres and ensures the runs table exists.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			version    INTEGER NOT NULL,
			data       JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

// Create inserts a new run. Fails if the run ID already exists.
func (s *PGStore) Create(run *PipelineRun) error {
	ctx := context.Background()
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, version, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, string(run.Status), run.Version, data, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// Get loads a run by ID.
func (s *PGStore) Get(runID string) (*PipelineRun, error) {
	ctx := context.Background()
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM runs WHERE id = $1`, runID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{RunID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("select run %s: %w", runID, err)
	}
	var run PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", runID, err)
	}
	return &run, nil
}

// Save writes the run back, guarded by the version column. A stale writer
// matches zero rows and gets ConcurrentModificationError.
func (s *PGStore) Save(run *PipelineRun) error {
	ctx := context.Background()
	expected := run.Version
	run.Version++
	run.UpdatedAt = nowUTC()

	data, err := json.Marshal(run)
	if err != nil {
		run.Version = expected
		return fmt.Errorf("marshal run: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2, version = $3, data = $4, updated_at = $5
		 WHERE id = $1 AND version = $6`,
		run.ID, string(run.Status), run.Version, data, run.UpdatedAt, expected,
	)
	if err != nil {
		run.Version = expected
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		run.Version = expected
		// Distinguish a missing run from a lost race.
		var exists bool
		if qerr := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, run.ID).Scan(&exists); qerr == nil && !exists {
			return &NotFoundError{RunID: run.ID}
		}
		return &ConcurrentModificationError{RunID: run.ID}
	}
	return nil
}

// List returns all runs, optionally filtered by status.
func (s *PGStore) List(statusFilter RunStatus) ([]*PipelineRun, error) {
	ctx := context.Background()
	query := `SELECT data FROM runs ORDER BY created_at`
	args := []any{}
	if statusFilter != "" {
		query = `SELECT data FROM runs WHERE status = $1 ORDER BY created_at`
		args = append(args, string(statusFilter))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*PipelineRun
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var run PipelineRun
		if err := json.Unmarshal(data, &run); err != nil {
			continue // skip broken rows
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// Delete removes a run.
func (s *PGStore) Delete(runID string) error {
	ctx := context.Background()
	tag, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{RunID: runID}
	}
	return nil
}
