package orchestrator

import "time"

// Transition event types emitted on every run status change.
const (
	EventRunStarted        = "run_started"
	EventStageCompleted    = "stage_completed"
	EventStageFailed       = "stage_failed"
	EventCheckpointReached = "checkpoint_reached"
	EventRunSucceeded      = "run_succeeded"
	EventRunFailed         = "run_failed"
	EventRunAborted        = "run_aborted"
)

// Event describes one run transition.
type Event struct {
	RunID   string    `json:"run_id"`
	Type    string    `json:"type"`
	Stage   string    `json:"stage,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Time    time.Time `json:"time"`
}

// Notifier consumes transition events. Delivery is best-effort: the
// orchestrator never fails a transition because a notifier did.
type Notifier interface {
	RunEvent(e Event) error
}

// MultiNotifier fans events out to several sinks.
type MultiNotifier []Notifier

func (m MultiNotifier) RunEvent(e Event) error {
	for _, n := range m {
		_ = n.RunEvent(e)
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
