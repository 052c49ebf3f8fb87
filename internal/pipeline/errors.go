package pipeline

import (
	"errors"
	"fmt"
)

// FailureClass determines whether a stage failure is worth retrying.
type FailureClass string

const (
	FailureTransient FailureClass = "transient"
	FailurePermanent FailureClass = "permanent"
)

// StageError is raised by a stage capability when execution fails. It carries
// the retry classification; the orchestrator converts it into a failed
// StageResult, so it never escapes Advance.
type StageError struct {
	Stage string
	Class FailureClass
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v (%s)", e.Stage, e.Err, e.Class)
}

func (e *StageError) Unwrap() error { return e.Err }

// Transient wraps err as a retry-eligible stage failure.
func Transient(stage string, err error) *StageError {
	return &StageError{Stage: stage, Class: FailureTransient, Err: err}
}

// Permanent wraps err as a stage failure that must not be retried.
func Permanent(stage string, err error) *StageError {
	return &StageError{Stage: stage, Class: FailurePermanent, Err: err}
}

// Classify returns the failure class of err. Anything that is not a
// StageError with an explicit transient class is treated as permanent, so
// classification is deterministic for identical error content.
func Classify(err error) FailureClass {
	var se *StageError
	if errors.As(err, &se) && se.Class == FailureTransient {
		return FailureTransient
	}
	return FailurePermanent
}

// NotFoundError reports a run ID with no persisted state.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("run %s not found", e.RunID)
}

// CheckpointPendingError reports an Advance call on a run that is waiting for
// approval. The caller must resolve the checkpoint first.
type CheckpointPendingError struct {
	RunID string
	Stage string
}

func (e *CheckpointPendingError) Error() string {
	return fmt.Sprintf("run %s awaiting checkpoint approval after stage %s", e.RunID, e.Stage)
}

// InvalidStateError reports an operation that is illegal for the run's
// current status, e.g. approving a run that is not awaiting a checkpoint.
type InvalidStateError struct {
	RunID  string
	Status RunStatus
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s run %s in status %s", e.Op, e.RunID, e.Status)
}

// ConcurrentModificationError reports a lost race on a run: either another
// caller holds the run or a persisted write was stale.
type ConcurrentModificationError struct {
	RunID string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("run %s modified concurrently", e.RunID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
