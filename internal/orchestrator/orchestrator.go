package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/contextcore/coyote/internal/incident"
	"github.com/contextcore/coyote/internal/pipeline"
	"github.com/contextcore/coyote/internal/stage"
)

// Classifier maps a stage failure to its retry class. The default honours
// the classification carried by *pipeline.StageError and treats everything
// else as permanent.
type Classifier func(stageName string, err error) pipeline.FailureClass

// Orchestrator drives pipeline runs stage by stage. Every transition is
// persisted before control returns, so a crash between stages never loses
// more than the in-flight stage's partial work.
type Orchestrator struct {
	store    pipeline.RunStore
	stages   map[string]stage.Stage
	notifier Notifier
	classify Classifier

	mu       sync.Mutex
	inFlight map[string]bool // run IDs with an Advance or Approve in progress
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets the transition-event sink.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithClassifier overrides the failure classification function.
func WithClassifier(c Classifier) Option {
	return func(o *Orchestrator) { o.classify = c }
}

// New creates an Orchestrator over the given store and stage implementations.
func New(store pipeline.RunStore, stages []stage.Stage, opts ...Option) *Orchestrator {
	reg := make(map[string]stage.Stage, len(stages))
	for _, s := range stages {
		reg[s.Name()] = s
	}
	o := &Orchestrator{
		store:    store,
		stages:   reg,
		classify: func(_ string, err error) pipeline.FailureClass { return pipeline.Classify(err) },
		inFlight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartOpts configures a new run.
type StartOpts struct {
	Stages      []string        // ordered stage names to execute
	Checkpoints map[string]bool // stage -> requires approval after success
	MaxAttempts map[string]int  // stage -> attempt budget (default 1)
}

// Start creates and persists a new run for the incident. The run begins in
// pending; call Advance to execute stages one at a time.
func (o *Orchestrator) Start(inc *incident.Incident, opts StartOpts) (string, error) {
	if inc == nil {
		return "", fmt.Errorf("incident is required")
	}
	if len(opts.Stages) == 0 {
		return "", fmt.Errorf("at least one stage is required")
	}
	for _, name := range opts.Stages {
		if _, ok := o.stages[name]; !ok {
			return "", fmt.Errorf("unknown stage %q", name)
		}
	}

	now := nowUTC()
	run := &pipeline.PipelineRun{
		ID:          "run-" + uuid.NewString(),
		Incident:    inc,
		Stages:      opts.Stages,
		History:     make(map[string][]pipeline.StageResult),
		Status:      pipeline.RunPending,
		Checkpoints: opts.Checkpoints,
		MaxAttempts: opts.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.Create(run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	o.emit(Event{RunID: run.ID, Type: EventRunStarted, Stage: run.CurrentStage(), Detail: inc.ID})
	return run.ID, nil
}

// Advance executes exactly one pending stage of the run, applies the retry
// policy on failure, and persists the updated run before returning.
//
// The run lock is not held while the stage capability executes; only the
// in-flight marker is. Other runs are never blocked by one run's stage call,
// and Abort may interleave; its transition wins and the stage result is
// discarded.
func (o *Orchestrator) Advance(ctx context.Context, runID string) (*pipeline.PipelineRun, error) {
	if err := o.acquire(runID); err != nil {
		return nil, err
	}
	defer o.release(runID)

	run, err := o.store.Get(runID)
	if err != nil {
		return nil, err
	}

	switch {
	case run.Status == pipeline.RunAwaitingCheckpoint:
		return nil, &pipeline.CheckpointPendingError{RunID: runID, Stage: run.CurrentStage()}
	case run.Status.Terminal():
		return nil, &pipeline.InvalidStateError{RunID: runID, Status: run.Status, Op: "advance"}
	}

	stageName := run.CurrentStage()
	if stageName == "" {
		return nil, &pipeline.InvalidStateError{RunID: runID, Status: run.Status, Op: "advance"}
	}
	st := o.stages[stageName]
	if st == nil {
		return nil, fmt.Errorf("no implementation registered for stage %q", stageName)
	}

	if run.Status == pipeline.RunPending {
		run.Status = pipeline.RunRunning
	}
	if err := o.store.Save(run); err != nil {
		return nil, err
	}

	// Snapshot what the stage needs; the run itself is not shared with the
	// (possibly long-running) capability call.
	attempt := run.Attempts(stageName) + 1
	sc := &stage.Context{
		Incident: run.Incident,
		History:  run.PriorResults(),
	}

	result, class := o.executeStage(ctx, st, sc, stageName, attempt)

	// Reload: Abort may have transitioned the run while the stage ran. Its
	// result is discarded in that case.
	run, err = o.store.Get(runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}

	run.AppendResult(result)

	switch result.Status {
	case pipeline.StageFailed:
		o.emit(Event{RunID: runID, Type: EventStageFailed, Stage: stageName, Attempt: attempt, Detail: result.Error})
		if class == pipeline.FailurePermanent || run.Attempts(stageName) >= run.AttemptBudget(stageName) {
			run.Status = pipeline.RunFailed
			o.emit(Event{RunID: runID, Type: EventRunFailed, Stage: stageName, Attempt: attempt, Detail: result.Error})
		}
		// Otherwise the budget has room: status stays running and the cursor
		// is unchanged, so the next Advance retries the same stage.

	default: // succeeded or skipped
		o.emit(Event{RunID: runID, Type: EventStageCompleted, Stage: stageName, Attempt: attempt})
		if result.Status == pipeline.StageSucceeded && run.RequiresCheckpoint(stageName) {
			run.Status = pipeline.RunAwaitingCheckpoint
			o.emit(Event{RunID: runID, Type: EventCheckpointReached, Stage: stageName, Attempt: attempt})
		} else {
			o.advanceCursor(run, stageName)
		}
	}

	if err := o.store.Save(run); err != nil {
		// A concurrent Abort between reload and save wins; drop the result.
		var cm *pipeline.ConcurrentModificationError
		if errors.As(err, &cm) {
			if latest, gerr := o.store.Get(runID); gerr == nil && latest.Status.Terminal() {
				return latest, nil
			}
		}
		return nil, err
	}
	return run, nil
}

// advanceCursor moves past the given stage and completes the run when the
// cursor passes the last stage.
func (o *Orchestrator) advanceCursor(run *pipeline.PipelineRun, stageName string) {
	run.Cursor++
	if run.Cursor >= len(run.Stages) {
		run.Status = pipeline.RunSucceeded
		o.emit(Event{RunID: run.ID, Type: EventRunSucceeded, Stage: stageName})
	}
}

// executeStage invokes the capability and normalises its outcome into a
// StageResult plus its failure class. Capability errors are converted, never
// propagated: the retry policy owns them.
func (o *Orchestrator) executeStage(ctx context.Context, st stage.Stage, sc *stage.Context, stageName string, attempt int) (pipeline.StageResult, pipeline.FailureClass) {
	started := nowUTC()
	res, err := st.Execute(ctx, sc)

	if err != nil {
		return pipeline.StageResult{
			Stage:       stageName,
			Attempt:     attempt,
			Status:      pipeline.StageFailed,
			StartedAt:   started,
			CompletedAt: nowUTC(),
			Error:       err.Error(),
		}, o.classify(stageName, err)
	}
	if res == nil {
		// A capability violating its contract is not retried.
		return pipeline.StageResult{
			Stage:       stageName,
			Attempt:     attempt,
			Status:      pipeline.StageFailed,
			StartedAt:   started,
			CompletedAt: nowUTC(),
			Error:       fmt.Sprintf("stage %s returned no result", stageName),
		}, pipeline.FailurePermanent
	}

	out := *res
	out.Stage = stageName
	out.Attempt = attempt
	if out.StartedAt.IsZero() {
		out.StartedAt = started
	}
	if out.CompletedAt.IsZero() {
		out.CompletedAt = nowUTC()
	}
	if out.Status == "" {
		out.Status = pipeline.StageSucceeded
	}
	if out.Status == pipeline.StageFailed && out.Error == "" {
		// A stage that reports failure in-band is not retried.
		out.Error = "stage reported failure"
	}
	return out, pipeline.FailurePermanent
}

// Decision resolves a checkpoint.
type Decision string

const (
	DecisionProceed    Decision = "proceed"
	DecisionReject     Decision = "reject"
	DecisionRetryStage Decision = "retry-stage"
)

// Approve resolves an awaiting_checkpoint run. Proceed moves past the gated
// stage; reject terminates the run as aborted; retry-stage re-arms the gated
// stage so the next Advance pushes a fresh attempt.
func (o *Orchestrator) Approve(runID string, decision Decision) (*pipeline.PipelineRun, error) {
	if err := o.acquire(runID); err != nil {
		return nil, err
	}
	defer o.release(runID)

	run, err := o.store.Get(runID)
	if err != nil {
		return nil, err
	}
	if run.Status != pipeline.RunAwaitingCheckpoint {
		return nil, &pipeline.InvalidStateError{RunID: runID, Status: run.Status, Op: "approve"}
	}

	stageName := run.CurrentStage()
	switch decision {
	case DecisionProceed:
		run.Status = pipeline.RunRunning
		o.advanceCursor(run, stageName)
	case DecisionReject:
		run.Status = pipeline.RunAborted
		o.emit(Event{RunID: runID, Type: EventRunAborted, Stage: stageName, Detail: "checkpoint rejected"})
	case DecisionRetryStage:
		run.Status = pipeline.RunRunning
	default:
		return nil, fmt.Errorf("unknown approval decision %q", decision)
	}

	if err := o.store.Save(run); err != nil {
		return nil, err
	}
	return run, nil
}

// Abort transitions any non-terminal run to aborted. It does not interrupt an
// in-flight stage call; that call's result is discarded when it returns.
func (o *Orchestrator) Abort(runID string) (*pipeline.PipelineRun, error) {
	run, err := o.store.Get(runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, &pipeline.InvalidStateError{RunID: runID, Status: run.Status, Op: "abort"}
	}

	run.Status = pipeline.RunAborted
	if err := o.store.Save(run); err != nil {
		return nil, err
	}
	o.emit(Event{RunID: runID, Type: EventRunAborted, Stage: run.CurrentStage()})
	return run, nil
}

// Status returns the persisted state of a run.
func (o *Orchestrator) Status(runID string) (*pipeline.PipelineRun, error) {
	return o.store.Get(runID)
}

// acquire marks a run as having an operation in flight. A second caller for
// the same run loses the race instead of corrupting state.
func (o *Orchestrator) acquire(runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[runID] {
		return &pipeline.ConcurrentModificationError{RunID: runID}
	}
	o.inFlight[runID] = true
	return nil
}

func (o *Orchestrator) release(runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, runID)
}

func (o *Orchestrator) emit(e Event) {
	if o.notifier == nil {
		return
	}
	e.Time = nowUTC()
	_ = o.notifier.RunEvent(e)
}
