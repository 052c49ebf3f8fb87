package web

import (
	"time"

	"github.com/contextcore/coyote/internal/pipeline"
)

// RunSummary is the list-view shape of a run.
type RunSummary struct {
	ID           string             `json:"id"`
	IncidentID   string             `json:"incident_id"`
	Title        string             `json:"title"`
	Status       pipeline.RunStatus `json:"status"`
	CurrentStage string             `json:"current_stage,omitempty"`
	Cursor       int                `json:"cursor"`
	StageCount   int                `json:"stage_count"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// RunDetail is the full run plus derived fields the UI would otherwise
// recompute.
type RunDetail struct {
	RunSummary
	Stages    []StageView           `json:"stages"`
	LastError string                `json:"last_error,omitempty"`
	Run       *pipeline.PipelineRun `json:"run"`
}

// StageView is one stage's position in the run with its latest outcome.
type StageView struct {
	Name       string               `json:"name"`
	Checkpoint bool                 `json:"checkpoint"`
	Attempts   int                  `json:"attempts"`
	Budget     int                  `json:"budget"`
	Status     pipeline.StageStatus `json:"status,omitempty"` // empty when not yet attempted
	Summary    string               `json:"summary,omitempty"`
}

func summarize(run *pipeline.PipelineRun) RunSummary {
	s := RunSummary{
		ID:           run.ID,
		Status:       run.Status,
		CurrentStage: run.CurrentStage(),
		Cursor:       run.Cursor,
		StageCount:   len(run.Stages),
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}
	if run.Incident != nil {
		s.IncidentID = run.Incident.ID
		s.Title = run.Incident.Title
	}
	return s
}

func detail(run *pipeline.PipelineRun) RunDetail {
	d := RunDetail{
		RunSummary: summarize(run),
		LastError:  run.LastError(),
		Run:        run,
	}
	for _, name := range run.Stages {
		sv := StageView{
			Name:       name,
			Checkpoint: run.RequiresCheckpoint(name),
			Attempts:   run.Attempts(name),
			Budget:     run.AttemptBudget(name),
		}
		if res := run.LastResult(name); res != nil {
			sv.Status = res.Status
			sv.Summary = res.Summary
		}
		d.Stages = append(d.Stages, sv)
	}
	return d
}
