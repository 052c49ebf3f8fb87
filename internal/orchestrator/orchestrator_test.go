package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/contextcore/coyote/internal/incident"
	"github.com/contextcore/coyote/internal/pipeline"
	"github.com/contextcore/coyote/internal/stage"
)

// --- Mocks ---

type outcome struct {
	res *pipeline.StageResult
	err error
}

// scriptedStage returns its scripted outcomes in order; the last one repeats.
type scriptedStage struct {
	name     string
	script   []outcome
	calls    int
	lastCtx  *stage.Context
	blockOn  chan struct{} // when set, Execute waits before returning
	started  chan struct{} // when set, Execute signals here on entry
}

func (s *scriptedStage) Name() string { return s.name }

func (s *scriptedStage) Execute(_ context.Context, sc *stage.Context) (*pipeline.StageResult, error) {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.blockOn != nil {
		<-s.blockOn
	}
	s.calls++
	s.lastCtx = sc
	i := s.calls - 1
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	out := s.script[i]
	if out.err != nil {
		return nil, out.err
	}
	if out.res == nil {
		return nil, nil
	}
	res := *out.res
	return &res, nil
}

func succeeds(name string) *scriptedStage {
	return &scriptedStage{name: name, script: []outcome{
		{res: &pipeline.StageResult{Status: pipeline.StageSucceeded, Summary: name + " ok"}},
	}}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) RunEvent(e Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

// --- Helpers ---

func testIncident() *incident.Incident {
	inc := incident.FromError("TypeError: cannot read properties of undefined", "")
	inc.ID = "INC-1"
	return inc
}

func newTestOrchestrator(t *testing.T, stages []stage.Stage, opts ...Option) *Orchestrator {
	t.Helper()
	store := pipeline.NewStore(t.TempDir())
	return New(store, stages, opts...)
}

func mustStart(t *testing.T, o *Orchestrator, opts StartOpts) string {
	t.Helper()
	id, err := o.Start(testIncident(), opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return id
}

func mustAdvance(t *testing.T, o *Orchestrator, runID string) *pipeline.PipelineRun {
	t.Helper()
	run, err := o.Advance(context.Background(), runID)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	return run
}

// --- Tests ---

func TestStartValidation(t *testing.T) {
	o := newTestOrchestrator(t, []stage.Stage{succeeds("investigate")})

	if _, err := o.Start(nil, StartOpts{Stages: []string{"investigate"}}); err == nil {
		t.Error("expected error for nil incident")
	}
	if _, err := o.Start(testIncident(), StartOpts{}); err == nil {
		t.Error("expected error for empty stage list")
	}
	if _, err := o.Start(testIncident(), StartOpts{Stages: []string{"bogus"}}); err == nil {
		t.Error("expected error for unregistered stage")
	}
}

func TestStartStampsCreationTime(t *testing.T) {
	o := newTestOrchestrator(t, []stage.Stage{succeeds("investigate")})
	runID := mustStart(t, o, StartOpts{Stages: []string{"investigate"}})

	run, err := o.Status(runID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if run.CreatedAt.IsZero() {
		t.Error("CreatedAt not set on a started run")
	}
	if run.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set on a started run")
	}
}

func TestTwoStageHappyPath(t *testing.T) {
	inv, des := succeeds("investigate"), succeeds("design")
	o := newTestOrchestrator(t, []stage.Stage{inv, des})
	runID := mustStart(t, o, StartOpts{Stages: []string{"investigate", "design"}})

	run := mustAdvance(t, o, runID)
	if run.Status != pipeline.RunRunning {
		t.Errorf("after stage 1: Status = %s, want running", run.Status)
	}
	if run.Cursor != 1 {
		t.Errorf("after stage 1: Cursor = %d, want 1", run.Cursor)
	}

	run = mustAdvance(t, o, runID)
	if run.Status != pipeline.RunSucceeded {
		t.Errorf("final Status = %s, want succeeded", run.Status)
	}
	if run.Cursor != 2 {
		t.Errorf("final Cursor = %d, want 2", run.Cursor)
	}
	if n := run.Attempts("investigate"); n != 1 {
		t.Errorf("investigate attempts = %d, want 1", n)
	}
	if n := run.Attempts("design"); n != 1 {
		t.Errorf("design attempts = %d, want 1", n)
	}
}

func TestDesignerReceivesInvestigationHistory(t *testing.T) {
	inv := &scriptedStage{name: "investigate", script: []outcome{{
		res: &pipeline.StageResult{
			Status:        pipeline.StageSucceeded,
			Investigation: &pipeline.InvestigationPayload{RootCause: "off-by-one in pagination"},
		},
	}}}
	des := succeeds("design")
	o := newTestOrchestrator(t, []stage.Stage{inv, des})
	runID := mustStart(t, o, StartOpts{Stages: []string{"investigate", "design"}})

	mustAdvance(t, o, runID)
	mustAdvance(t, o, runID)

	if des.lastCtx == nil {
		t.Fatal("design stage never executed")
	}
	got := des.lastCtx.Investigation()
	if got == nil || got.RootCause != "off-by-one in pagination" {
		t.Errorf("design stage saw investigation payload %+v", got)
	}
	if des.lastCtx.Incident.ID != "INC-1" {
		t.Errorf("design stage saw incident %q, want INC-1", des.lastCtx.Incident.ID)
	}
}

func TestCheckpointBlocksAdvance(t *testing.T) {
	o := newTestOrchestrator(t, []stage.Stage{succeeds("investigate"), succeeds("design")})
	runID := mustStart(t, o, StartOpts{
		Stages:      []string{"investigate", "design"},
		Checkpoints: map[string]bool{"design": true},
	})

	mustAdvance(t, o, runID)
	run := mustAdvance(t, o, runID)
	if run.Status != pipeline.RunAwaitingCheckpoint {
		t.Fatalf("Status = %s, want awaiting_checkpoint", run.Status)
	}
	if run.Cursor != 1 {
		t.Errorf("Cursor = %d, want 1 (unchanged at checkpoint)", run.Cursor)
	}

	// Advance in awaiting_checkpoint always fails, with no side effects.
	for i := 0; i < 2; i++ {
		_, err := o.Advance(context.Background(), runID)
		var cp *pipeline.CheckpointPendingError
		if !errors.As(err, &cp) {
			t.Fatalf("Advance #%d error = %v, want CheckpointPendingError", i+1, err)
		}
	}
	run, _ = o.Status(runID)
	if run.Cursor != 1 || run.Attempts("design") != 1 {
		t.Errorf("rejected Advance had side effects: cursor=%d attempts=%d", run.Cursor, run.Attempts("design"))
	}

	run, err := o.Approve(runID, DecisionProceed)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if run.Status != pipeline.RunSucceeded {
		t.Errorf("after proceed: Status = %s, want succeeded", run.Status)
	}
	if run.Cursor != 2 {
		t.Errorf("after proceed: Cursor = %d, want 2", run.Cursor)
	}
}

func TestCheckpointReject(t *testing.T) {
	o := newTestOrchestrator(t, []stage.Stage{succeeds("investigate")})
	runID := mustStart(t, o, StartOpts{
		Stages:      []string{"investigate"},
		Checkpoints: map[string]bool{"investigate": true},
	})
	mustAdvance(t, o, runID)

	run, err := o.Approve(runID, DecisionReject)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if run.Status != pipeline.RunAborted {
		t.Errorf("Status = %s, want aborted", run.Status)
	}

	// Terminal: both advance and approve are now invalid.
	var ise *pipeline.InvalidStateError
	if _, err := o.Advance(context.Background(), runID); !errors.As(err, &ise) {
		t.Errorf("Advance after reject: error = %v, want InvalidStateError", err)
	}
	if _, err := o.Approve(runID, DecisionProceed); !errors.As(err, &ise) {
		t.Errorf("Approve after reject: error = %v, want InvalidStateError", err)
	}
}

func TestCheckpointRetryStage(t *testing.T) {
	inv := succeeds("investigate")
	o := newTestOrchestrator(t, []stage.Stage{inv, succeeds("design")})
	runID := mustStart(t, o, StartOpts{
		Stages:      []string{"investigate", "design"},
		Checkpoints: map[string]bool{"investigate": true},
	})
	mustAdvance(t, o, runID)

	run, err := o.Approve(runID, DecisionRetryStage)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if run.Status != pipeline.RunRunning || run.Cursor != 0 {
		t.Fatalf("after retry-stage: status=%s cursor=%d, want running/0", run.Status, run.Cursor)
	}

	run = mustAdvance(t, o, runID)
	if run.Status != pipeline.RunAwaitingCheckpoint {
		t.Errorf("Status = %s, want awaiting_checkpoint again", run.Status)
	}
	if n := run.Attempts("investigate"); n != 2 {
		t.Errorf("investigate attempts = %d, want 2 (fresh attempt pushed)", n)
	}
}

func TestApproveRequiresCheckpoint(t *testing.T) {
	o := newTestOrchestrator(t, []stage.Stage{succeeds("investigate")})
	runID := mustStart(t, o, StartOpts{Stages: []string{"investigate"}})

	_, err := o.Approve(runID, DecisionProceed)
	var ise *pipeline.InvalidStateError
	if !errors.As(err, &ise) {
		t.Errorf("error = %v, want InvalidStateError", err)
	}
}

func TestTransientRetryConsumesBudget(t *testing.T) {
	boom := pipeline.Transient("investigate", fmt.Errorf("model timeout"))
	inv := &scriptedStage{name: "investigate", script: []outcome{
		{err: boom},
		{res: &pipeline.StageResult{Status: pipeline.StageSucceeded}},
	}}
	o := newTestOrchestrator(t, []stage.Stage{inv, succeeds("design")})
	runID := mustStart(t, o, StartOpts{
		Stages:      []string{"investigate", "design"},
		MaxAttempts: map[string]int{"investigate": 2},
	})

	run := mustAdvance(t, o, runID)
	if run.Status != pipeline.RunRunning {
		t.Errorf("after transient failure: Status = %s, want running", run.Status)
	}
	if run.Cursor != 0 {
		t.Errorf("after transient failure: Cursor = %d, want 0", run.Cursor)
	}
	if n := run.Attempts("investigate"); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
	if res := run.LastResult("investigate"); res == nil || res.Status != pipeline.StageFailed {
		t.Errorf("first attempt result = %+v, want failed", res)
	}

	run = mustAdvance(t, o, runID)
	if run.Cursor != 1 {
		t.Errorf("after retry success: Cursor = %d, want 1", run.Cursor)
	}
	if n := run.Attempts("investigate"); n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}
}

func TestTransientFailuresExhaustBudget(t *testing.T) {
	boom := pipeline.Transient("investigate", fmt.Errorf("model timeout"))
	inv := &scriptedStage{name: "investigate", script: []outcome{{err: boom}}}
	o := newTestOrchestrator(t, []stage.Stage{inv})
	runID := mustStart(t, o, StartOpts{
		Stages:      []string{"investigate"},
		MaxAttempts: map[string]int{"investigate": 3},
	})

	for i := 0; i < 2; i++ {
		run := mustAdvance(t, o, runID)
		if run.Status != pipeline.RunRunning {
			t.Fatalf("attempt %d: Status = %s, want running", i+1, run.Status)
		}
	}
	run := mustAdvance(t, o, runID)
	if run.Status != pipeline.RunFailed {
		t.Errorf("Status = %s, want failed after budget exhausted", run.Status)
	}
	if n := run.Attempts("investigate"); n != 3 {
		t.Errorf("attempts = %d, want exactly 3", n)
	}
	if run.Cursor != 0 {
		t.Errorf("Cursor = %d, want frozen at failing stage", run.Cursor)
	}
	if run.LastError() == "" {
		t.Error("failed run must carry the last error detail")
	}
}

func TestPermanentFailureIgnoresBudget(t *testing.T) {
	boom := pipeline.Permanent("investigate", fmt.Errorf("malformed prompt template"))
	inv := &scriptedStage{name: "investigate", script: []outcome{{err: boom}}}
	o := newTestOrchestrator(t, []stage.Stage{inv})
	runID := mustStart(t, o, StartOpts{
		Stages:      []string{"investigate"},
		MaxAttempts: map[string]int{"investigate": 5},
	})

	run := mustAdvance(t, o, runID)
	if run.Status != pipeline.RunFailed {
		t.Errorf("Status = %s, want failed", run.Status)
	}
	if n := run.Attempts("investigate"); n != 1 {
		t.Errorf("attempts = %d, want exactly 1 for permanent failure", n)
	}
}

func TestStageWithoutResultFailsPermanently(t *testing.T) {
	inv := &scriptedStage{name: "investigate", script: []outcome{{}}}
	o := newTestOrchestrator(t, []stage.Stage{inv})
	runID := mustStart(t, o, StartOpts{
		Stages:      []string{"investigate"},
		MaxAttempts: map[string]int{"investigate": 3},
	})

	run := mustAdvance(t, o, runID)
	if run.Status != pipeline.RunFailed {
		t.Errorf("Status = %s, want failed", run.Status)
	}
	if n := run.Attempts("investigate"); n != 1 {
		t.Errorf("attempts = %d, want exactly 1 despite remaining budget", n)
	}
	if res := run.LastResult("investigate"); res == nil || res.Status != pipeline.StageFailed || res.Error == "" {
		t.Errorf("result = %+v, want failed with error detail", res)
	}
}

func TestDefaultBudgetIsSingleAttempt(t *testing.T) {
	boom := pipeline.Transient("investigate", fmt.Errorf("flaky"))
	inv := &scriptedStage{name: "investigate", script: []outcome{{err: boom}}}
	o := newTestOrchestrator(t, []stage.Stage{inv})
	runID := mustStart(t, o, StartOpts{Stages: []string{"investigate"}})

	run := mustAdvance(t, o, runID)
	if run.Status != pipeline.RunFailed {
		t.Errorf("Status = %s, want failed with default budget", run.Status)
	}
}

func TestSkippedStageAdvancesCursor(t *testing.T) {
	skip := &scriptedStage{name: "test", script: []outcome{{
		res: &pipeline.StageResult{Status: pipeline.StageSkipped, Summary: "no test harness configured"},
	}}}
	o := newTestOrchestrator(t, []stage.Stage{succeeds("investigate"), skip})
	runID := mustStart(t, o, StartOpts{Stages: []string{"investigate", "test"}})

	mustAdvance(t, o, runID)
	run := mustAdvance(t, o, runID)
	if run.Status != pipeline.RunSucceeded {
		t.Errorf("Status = %s, want succeeded (skip counts as done)", run.Status)
	}
	if res := run.LastResult("test"); res == nil || res.Status != pipeline.StageSkipped {
		t.Errorf("test result = %+v, want skipped", res)
	}
}

func TestAbortDiscardsInFlightResult(t *testing.T) {
	inv := &scriptedStage{
		name:    "investigate",
		script:  []outcome{{res: &pipeline.StageResult{Status: pipeline.StageSucceeded}}},
		blockOn: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	o := newTestOrchestrator(t, []stage.Stage{inv})
	runID := mustStart(t, o, StartOpts{Stages: []string{"investigate"}})

	done := make(chan *pipeline.PipelineRun, 1)
	go func() {
		run, err := o.Advance(context.Background(), runID)
		if err != nil {
			done <- nil
			return
		}
		done <- run
	}()

	<-inv.started
	if _, err := o.Abort(runID); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	close(inv.blockOn)

	run := <-done
	if run == nil {
		t.Fatal("Advance returned an error after abort")
	}
	if run.Status != pipeline.RunAborted {
		t.Errorf("Status = %s, want aborted", run.Status)
	}
	if n := run.Attempts("investigate"); n != 0 {
		t.Errorf("attempts = %d, want 0 (in-flight result discarded)", n)
	}
}

func TestConcurrentAdvanceLosesRace(t *testing.T) {
	inv := &scriptedStage{
		name:    "investigate",
		script:  []outcome{{res: &pipeline.StageResult{Status: pipeline.StageSucceeded}}},
		blockOn: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	o := newTestOrchestrator(t, []stage.Stage{inv})
	runID := mustStart(t, o, StartOpts{Stages: []string{"investigate"}})

	go func() {
		_, _ = o.Advance(context.Background(), runID)
	}()
	<-inv.started

	_, err := o.Advance(context.Background(), runID)
	var cm *pipeline.ConcurrentModificationError
	if !errors.As(err, &cm) {
		t.Errorf("second Advance error = %v, want ConcurrentModificationError", err)
	}
	close(inv.blockOn)
}

func TestAbortOnTerminalRunFails(t *testing.T) {
	o := newTestOrchestrator(t, []stage.Stage{succeeds("investigate")})
	runID := mustStart(t, o, StartOpts{Stages: []string{"investigate"}})
	mustAdvance(t, o, runID)

	_, err := o.Abort(runID)
	var ise *pipeline.InvalidStateError
	if !errors.As(err, &ise) {
		t.Errorf("error = %v, want InvalidStateError", err)
	}
}

func TestRunNotFound(t *testing.T) {
	o := newTestOrchestrator(t, []stage.Stage{succeeds("investigate")})

	_, err := o.Advance(context.Background(), "run-missing")
	if !pipeline.IsNotFound(err) {
		t.Errorf("error = %v, want NotFoundError", err)
	}
	_, err = o.Status("run-missing")
	if !pipeline.IsNotFound(err) {
		t.Errorf("Status error = %v, want NotFoundError", err)
	}
}

func TestEventSequence(t *testing.T) {
	n := &recordingNotifier{}
	boom := pipeline.Transient("design", fmt.Errorf("timeout"))
	des := &scriptedStage{name: "design", script: []outcome{
		{err: boom},
		{res: &pipeline.StageResult{Status: pipeline.StageSucceeded}},
	}}
	o := newTestOrchestrator(t, []stage.Stage{succeeds("investigate"), des}, WithNotifier(n))
	runID := mustStart(t, o, StartOpts{
		Stages:      []string{"investigate", "design"},
		Checkpoints: map[string]bool{"design": true},
		MaxAttempts: map[string]int{"design": 2},
	})

	mustAdvance(t, o, runID) // investigate ok
	mustAdvance(t, o, runID) // design transient failure
	mustAdvance(t, o, runID) // design ok -> checkpoint
	if _, err := o.Approve(runID, DecisionProceed); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	want := []string{
		EventRunStarted,
		EventStageCompleted,
		EventStageFailed,
		EventStageCompleted,
		EventCheckpointReached,
		EventRunSucceeded,
	}
	got := n.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestCursorMonotonicAndBounded(t *testing.T) {
	stages := []stage.Stage{succeeds("investigate"), succeeds("design"), succeeds("implement")}
	o := newTestOrchestrator(t, stages)
	runID := mustStart(t, o, StartOpts{Stages: []string{"investigate", "design", "implement"}})

	prev := 0
	for {
		run, err := o.Advance(context.Background(), runID)
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if run.Cursor < prev {
			t.Fatalf("cursor decreased: %d -> %d", prev, run.Cursor)
		}
		if run.Cursor > len(run.Stages) {
			t.Fatalf("cursor %d exceeds stage count %d", run.Cursor, len(run.Stages))
		}
		prev = run.Cursor
		if run.Status.Terminal() {
			break
		}
	}
}
