package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// RunStore persists pipeline runs. Save uses optimistic versioning: a write
// whose in-memory version does not match the persisted one fails with
// ConcurrentModificationError, so a stale writer can never clobber state.
type RunStore interface {
	Create(run *PipelineRun) error
	Get(runID string) (*PipelineRun, error)
	Save(run *PipelineRun) error
	List(statusFilter RunStatus) ([]*PipelineRun, error)
	Delete(runID string) error
}

// Store manages run state on disk as JSON, one directory per run.
type Store struct {
	baseDir string // defaults to ~/.coyote/runs
}

var _ RunStore = (*Store)(nil)

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.coyote/runs, creating the directory if
// needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".coyote", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

// AttemptDir returns the artifact directory for a specific stage attempt
// (prompts, raw replies). Created lazily by callers that store artifacts.
func (s *Store) AttemptDir(runID, stage string, attempt int) string {
	return filepath.Join(s.runDir(runID), "stages", stage, fmt.Sprintf("attempt-%d", attempt))
}

// Create persists a new run. Fails if the run ID already exists.
func (s *Store) Create(run *PipelineRun) error {
	dir := s.runDir(run.ID)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if err := os.MkdirAll(filepath.Join(dir, "stages"), 0o755); err != nil {
		return fmt.Errorf("mkdir stages: %w", err)
	}
	if err := WriteJSON(s.runPath(run.ID), run); err != nil {
		return fmt.Errorf("write run.json: %w", err)
	}
	return nil
}

// Get reads the persisted state of a run.
func (s *Store) Get(runID string) (*PipelineRun, error) {
	var run PipelineRun
	if err := ReadJSON(s.runPath(runID), &run); err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{RunID: runID}
		}
		return nil, err
	}
	return &run, nil
}

// Save writes the run back to disk after checking that nobody else has
// written since this copy was loaded. On success the run's version is
// incremented, both in memory and on disk.
func (s *Store) Save(run *PipelineRun) error {
	current, err := s.Get(run.ID)
	if err != nil {
		return err
	}
	if current.Version != run.Version {
		return &ConcurrentModificationError{RunID: run.ID}
	}
	run.Version++
	run.UpdatedAt = nowUTC()
	if err := WriteJSON(s.runPath(run.ID), run); err != nil {
		return fmt.Errorf("write run.json: %w", err)
	}
	return nil
}

// List returns all runs, optionally filtered by status. Pass "" to return
// everything. Runs are ordered by creation time.
func (s *Store) List(statusFilter RunStatus) ([]*PipelineRun, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []*PipelineRun
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || run.Status == statusFilter {
			runs = append(runs, run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

// Delete removes all persisted data for a run.
func (s *Store) Delete(runID string) error {
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	}
	return os.RemoveAll(dir)
}
