package pipeline

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/contextcore/coyote/internal/incident"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func testRun(id string, stages ...string) *PipelineRun {
	if len(stages) == 0 {
		stages = []string{"investigate", "design"}
	}
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	return &PipelineRun{
		ID: id,
		Incident: incident.FromError("NullPointerException in checkout",
			`  File "shop/checkout.py", line 88, in charge`),
		Stages:    stages,
		History:   map[string][]StageResult{},
		Status:    RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	run := testRun("run-1")
	if err := s.Create(run); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get("run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "run-1" {
		t.Errorf("ID = %q, want %q", got.ID, "run-1")
	}
	if got.Status != RunPending {
		t.Errorf("Status = %q, want %q", got.Status, RunPending)
	}
	if got.Incident == nil || got.Incident.Title != "NullPointerException in checkout" {
		t.Errorf("Incident did not round-trip: %+v", got.Incident)
	}
	if len(got.Incident.StackTrace) != 1 || got.Incident.StackTrace[0].Function != "charge" {
		t.Errorf("StackTrace did not round-trip: %+v", got.Incident.StackTrace)
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create(testRun("run-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(testRun("run-1")); err == nil {
		t.Fatal("expected error creating duplicate run")
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("nope")
	if err == nil {
		t.Fatal("expected error for non-existent run")
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("error type = %T, want *NotFoundError", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	s := newTestStore(t)

	run := testRun("run-1")
	if err := s.Create(run); err != nil {
		t.Fatalf("Create: %v", err)
	}

	run.Status = RunRunning
	run.AppendResult(StageResult{
		Stage:       "investigate",
		Attempt:     1,
		Status:      StageSucceeded,
		StartedAt:   run.CreatedAt,
		CompletedAt: run.CreatedAt.Add(3 * time.Second),
		Investigation: &InvestigationPayload{
			RootCause:    "nil guard missing",
			AffectedCode: []CodeRef{{File: "shop/checkout.py", Line: 88, Function: "charge"}},
		},
	})
	run.Cursor = 1
	if err := s.Save(run); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get("run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Cursor != 1 {
		t.Errorf("Cursor = %d, want 1", got.Cursor)
	}
	if got.Status != RunRunning {
		t.Errorf("Status = %q, want %q", got.Status, RunRunning)
	}
	if !reflect.DeepEqual(got.History, run.History) {
		t.Errorf("History mismatch:\n got  %+v\n want %+v", got.History, run.History)
	}
	if got.Version != run.Version {
		t.Errorf("Version = %d, want %d", got.Version, run.Version)
	}
}

func TestSaveStaleVersion(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create(testRun("run-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	a, _ := s.Get("run-1")
	b, _ := s.Get("run-1")

	a.Status = RunRunning
	if err := s.Save(a); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	b.Status = RunAborted
	err := s.Save(b)
	if err == nil {
		t.Fatal("expected stale save to fail")
	}
	var cm *ConcurrentModificationError
	if !errors.As(err, &cm) {
		t.Errorf("error type = %T, want *ConcurrentModificationError", err)
	}

	// The winning write must survive.
	got, _ := s.Get("run-1")
	if got.Status != RunRunning {
		t.Errorf("Status = %q, want %q after lost race", got.Status, RunRunning)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"run-a", "run-b", "run-c"} {
		if err := s.Create(testRun(id)); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	b, _ := s.Get("run-b")
	b.Status = RunSucceeded
	if err := s.Save(b); err != nil {
		t.Fatalf("Save: %v", err)
	}

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List(\"\") returned %d runs, want 3", len(all))
	}

	done, err := s.List(RunSucceeded)
	if err != nil {
		t.Fatalf("List succeeded: %v", err)
	}
	if len(done) != 1 || done[0].ID != "run-b" {
		t.Errorf("List(succeeded) = %+v, want just run-b", done)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create(testRun("run-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete("run-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("run-1"); err == nil {
		t.Fatal("expected Get after Delete to fail")
	}
	if err := s.Delete("run-1"); err == nil {
		t.Fatal("expected second Delete to fail")
	}
}

func TestAttemptDirLayout(t *testing.T) {
	s := newTestStore(t)

	got := s.AttemptDir("run-1", "design", 2)
	want := filepath.Join(s.BaseDir(), "run-1", "stages", "design", "attempt-2")
	if got != want {
		t.Errorf("AttemptDir = %q, want %q", got, want)
	}
}
