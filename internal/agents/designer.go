package agents

import (
	"context"
	"fmt"

	"github.com/contextcore/coyote/internal/incident"
	"github.com/contextcore/coyote/internal/llm"
	"github.com/contextcore/coyote/internal/pipeline"
	"github.com/contextcore/coyote/internal/stage"
)

// Designer turns a diagnosed root cause into a fix proposal with an explicit
// risk score and the tradeoffs it accepts.
type Designer struct {
	gen  llm.Generator
	tmpl string
}

func NewDesigner(gen llm.Generator, promptOverride string) *Designer {
	return &Designer{gen: gen, tmpl: promptOverride}
}

func (a *Designer) Name() string { return StageDesign }

type designData struct {
	Incident      *incident.Incident
	Investigation *pipeline.InvestigationPayload
}

func (a *Designer) Execute(ctx context.Context, sc *stage.Context) (*pipeline.StageResult, error) {
	inv := sc.Investigation()
	if inv == nil {
		// Missing upstream output is a pipeline wiring problem, not a flake.
		return nil, pipeline.Permanent(StageDesign,
			fmt.Errorf("no investigation result in history"))
	}
	tmpl, err := parseTemplate(StageDesign, a.tmpl, defaultDesignPrompt)
	if err != nil {
		return nil, pipeline.Permanent(StageDesign, err)
	}
	prompt, err := render(StageDesign, tmpl, designData{Incident: sc.Incident, Investigation: inv})
	if err != nil {
		return nil, err
	}
	reply, err := generate(ctx, StageDesign, a.gen, prompt)
	if err != nil {
		return nil, err
	}

	secs := sections(reply)
	payload := &pipeline.DesignPayload{
		FixDescription: section(secs, "fix description", "fix"),
		RiskScore:      riskScore(section(secs, "risk score", "risk")),
		Tradeoffs:      bullets(section(secs, "tradeoffs")),
		Alternatives:   bullets(section(secs, "alternatives")),
	}
	if payload.FixDescription == "" {
		return nil, pipeline.Transient(StageDesign,
			fmt.Errorf("reply missing fix description section"))
	}

	return &pipeline.StageResult{
		Stage:   StageDesign,
		Status:  pipeline.StageSucceeded,
		Summary: firstLineOf(payload.FixDescription),
		Design:  payload,
	}, nil
}
