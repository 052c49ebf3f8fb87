package db

import (
	"testing"
	"time"

	"github.com/contextcore/coyote/internal/orchestrator"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestLogAndListRunEvents(t *testing.T) {
	d := testDB(t)

	at := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	if err := d.LogRunEvent("run-1", "run_started", "investigate", 0, "INC-1", at); err != nil {
		t.Fatalf("LogRunEvent: %v", err)
	}
	if err := d.LogRunEvent("run-1", "stage_completed", "investigate", 1, "", at.Add(time.Minute)); err != nil {
		t.Fatalf("LogRunEvent: %v", err)
	}
	if err := d.LogRunEvent("run-2", "run_started", "", 0, "INC-2", at); err != nil {
		t.Fatalf("LogRunEvent: %v", err)
	}

	events, err := d.ListRunEvents("run-1")
	if err != nil {
		t.Fatalf("ListRunEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Event != "run_started" || events[1].Event != "stage_completed" {
		t.Errorf("events out of order: %+v", events)
	}
	if events[0].Detail != "INC-1" {
		t.Errorf("Detail = %q, want INC-1", events[0].Detail)
	}
	if events[1].Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", events[1].Attempt)
	}
}

func TestLastRunEvent(t *testing.T) {
	d := testDB(t)

	got, err := d.LastRunEvent("run-1")
	if err != nil {
		t.Fatalf("LastRunEvent: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown run, got %+v", got)
	}

	now := time.Now().UTC()
	_ = d.LogRunEvent("run-1", "run_started", "", 0, "", now)
	_ = d.LogRunEvent("run-1", "run_failed", "design", 2, "budget exhausted", now)

	got, err = d.LastRunEvent("run-1")
	if err != nil {
		t.Fatalf("LastRunEvent: %v", err)
	}
	if got == nil || got.Event != "run_failed" {
		t.Errorf("LastRunEvent = %+v, want run_failed", got)
	}
}

func TestNotifierAdapter(t *testing.T) {
	d := testDB(t)

	var n orchestrator.Notifier = d
	err := n.RunEvent(orchestrator.Event{
		RunID: "run-1",
		Type:  "checkpoint_reached",
		Stage: "design",
		Time:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("RunEvent: %v", err)
	}

	events, _ := d.ListRunEvents("run-1")
	if len(events) != 1 || events[0].Event != "checkpoint_reached" {
		t.Errorf("events = %+v, want one checkpoint_reached", events)
	}
}

func TestCountEvents(t *testing.T) {
	d := testDB(t)

	now := time.Now().UTC()
	_ = d.LogRunEvent("run-1", "run_started", "", 0, "", now)
	_ = d.LogRunEvent("run-2", "run_started", "", 0, "", now)
	_ = d.LogRunEvent("run-1", "run_succeeded", "", 0, "", now)

	counts, err := d.CountEvents()
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if counts["run_started"] != 2 || counts["run_succeeded"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
