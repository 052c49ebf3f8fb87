package pipeline

import (
	"time"

	"github.com/contextcore/coyote/internal/incident"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunPending            RunStatus = "pending"
	RunRunning            RunStatus = "running"
	RunAwaitingCheckpoint RunStatus = "awaiting_checkpoint"
	RunSucceeded          RunStatus = "succeeded"
	RunFailed             RunStatus = "failed"
	RunAborted            RunStatus = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunAborted
}

// StageStatus is the outcome of a single stage attempt.
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageResult records one execution attempt of a stage. A retried stage gets
// a fresh StageResult appended to its attempt history; results are never
// mutated after the attempt completes.
type StageResult struct {
	Stage       string      `json:"stage"`
	Attempt     int         `json:"attempt"`
	Status      StageStatus `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
	Summary     string      `json:"summary,omitempty"`
	Error       string      `json:"error,omitempty"` // set only when Status is failed

	// Exactly one payload pointer is set for a succeeded attempt, matching
	// the stage that produced it.
	Investigation  *InvestigationPayload  `json:"investigation,omitempty"`
	Design         *DesignPayload         `json:"design,omitempty"`
	Implementation *ImplementationPayload `json:"implementation,omitempty"`
	Test           *TestPayload           `json:"test,omitempty"`
	Knowledge      *KnowledgePayload      `json:"knowledge,omitempty"`
}

// Duration returns how long the attempt took.
func (r *StageResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// CodeRef points at a location in the affected codebase.
type CodeRef struct {
	File     string `json:"file"`
	Line     int    `json:"line,omitempty"`
	Function string `json:"function,omitempty"`
}

// InvestigationPayload is the Investigator's structured findings.
type InvestigationPayload struct {
	RootCause     string    `json:"root_cause"`
	AffectedCode  []CodeRef `json:"affected_code,omitempty"`
	OriginatingPR string    `json:"originating_pr,omitempty"`
	Severity      string    `json:"severity,omitempty"`
	NextSteps     []string  `json:"next_steps,omitempty"`
}

// DesignPayload is the Designer's proposed fix.
type DesignPayload struct {
	FixDescription string   `json:"fix_description"`
	RiskScore      float64  `json:"risk_score"` // 0 (safe) to 1 (risky)
	Tradeoffs      []string `json:"tradeoffs,omitempty"`
	Alternatives   []string `json:"alternatives,omitempty"`
}

// ImplementationPayload is the Implementer's produced change.
type ImplementationPayload struct {
	Diff         string   `json:"diff"`
	FilesChanged []string `json:"files_changed,omitempty"`
	PRURL        string   `json:"pr_url,omitempty"`
}

// TestPayload is the Tester's verdict on the change.
type TestPayload struct {
	Passed         bool   `json:"passed"`
	Output         string `json:"output,omitempty"`
	RegressionRisk string `json:"regression_risk,omitempty"`
}

// LessonEntry is one lesson captured by the Knowledge agent.
type LessonEntry struct {
	Category   string   `json:"category"`
	Lesson     string   `json:"lesson"`
	Prevention string   `json:"prevention"`
	Tags       []string `json:"tags,omitempty"`
}

// KnowledgePayload is the Knowledge agent's captured lessons.
type KnowledgePayload struct {
	Lessons []LessonEntry `json:"lessons"`
}

// PipelineRun is the mutable execution record for one incident's trip through
// the stage list. It is owned by a single orchestrator and persisted after
// every transition so a run survives process restarts.
type PipelineRun struct {
	ID          string                   `json:"id"`
	Incident    *incident.Incident       `json:"incident"`
	Stages      []string                 `json:"stages"`
	History     map[string][]StageResult `json:"history"`
	Cursor      int                      `json:"cursor"`
	Status      RunStatus                `json:"status"`
	Checkpoints map[string]bool          `json:"checkpoints,omitempty"`  // stage -> requires approval after
	MaxAttempts map[string]int           `json:"max_attempts,omitempty"` // stage -> attempt budget (default 1)
	Version     int                      `json:"version"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// CurrentStage returns the stage at the cursor, or "" when the run is past
// the last stage.
func (r *PipelineRun) CurrentStage() string {
	if r.Cursor < 0 || r.Cursor >= len(r.Stages) {
		return ""
	}
	return r.Stages[r.Cursor]
}

// Attempts returns how many attempts a stage has recorded.
func (r *PipelineRun) Attempts(stage string) int {
	return len(r.History[stage])
}

// LastResult returns the most recent attempt for a stage, or nil.
func (r *PipelineRun) LastResult(stage string) *StageResult {
	h := r.History[stage]
	if len(h) == 0 {
		return nil
	}
	return &h[len(h)-1]
}

// LastError returns the error detail of the most recent attempt of the stage
// at the cursor. Used to surface the root failure of a failed run.
func (r *PipelineRun) LastError() string {
	res := r.LastResult(r.CurrentStage())
	if res == nil {
		return ""
	}
	return res.Error
}

// AttemptBudget returns the configured attempt budget for a stage, defaulting
// to one attempt (no retry).
func (r *PipelineRun) AttemptBudget(stage string) int {
	if n, ok := r.MaxAttempts[stage]; ok && n > 0 {
		return n
	}
	return 1
}

// RequiresCheckpoint reports whether the stage has an approval gate after it.
func (r *PipelineRun) RequiresCheckpoint(stage string) bool {
	return r.Checkpoints[stage]
}

// PriorResults returns the latest attempt of every stage before the cursor,
// in stage order. This is the history handed to the
// next stage: later stages may need any earlier output, not just the
// immediately preceding one.
func (r *PipelineRun) PriorResults() []StageResult {
	var out []StageResult
	for i := 0; i < r.Cursor && i < len(r.Stages); i++ {
		if res := r.LastResult(r.Stages[i]); res != nil {
			out = append(out, *res)
		}
	}
	return out
}

// AppendResult records a new attempt in the stage's history.
func (r *PipelineRun) AppendResult(res StageResult) {
	if r.History == nil {
		r.History = make(map[string][]StageResult)
	}
	r.History[res.Stage] = append(r.History[res.Stage], res)
}
