package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/contextcore/coyote/internal/incident"
	"github.com/contextcore/coyote/internal/llm"
	"github.com/contextcore/coyote/internal/pipeline"
	"github.com/contextcore/coyote/internal/stage"
)

// Implementer produces the actual change as a unified diff. It does not
// apply the diff anywhere; applying and shipping the change is the operator's
// call after the checkpoint.
type Implementer struct {
	gen  llm.Generator
	tmpl string
}

func NewImplementer(gen llm.Generator, promptOverride string) *Implementer {
	return &Implementer{gen: gen, tmpl: promptOverride}
}

func (a *Implementer) Name() string { return StageImplement }

type implementData struct {
	Incident      *incident.Incident
	Investigation *pipeline.InvestigationPayload
	Design        *pipeline.DesignPayload
}

func (a *Implementer) Execute(ctx context.Context, sc *stage.Context) (*pipeline.StageResult, error) {
	inv, des := sc.Investigation(), sc.Design()
	if inv == nil || des == nil {
		return nil, pipeline.Permanent(StageImplement,
			fmt.Errorf("investigation and design results required in history"))
	}
	tmpl, err := parseTemplate(StageImplement, a.tmpl, defaultImplementPrompt)
	if err != nil {
		return nil, pipeline.Permanent(StageImplement, err)
	}
	prompt, err := render(StageImplement, tmpl, implementData{
		Incident: sc.Incident, Investigation: inv, Design: des,
	})
	if err != nil {
		return nil, err
	}
	reply, err := generate(ctx, StageImplement, a.gen, prompt)
	if err != nil {
		return nil, err
	}

	diff := fencedBlock(reply, "diff")
	if diff == "" {
		diff = fencedBlock(reply, "")
	}
	if diff == "" {
		return nil, pipeline.Transient(StageImplement,
			fmt.Errorf("reply contains no diff block"))
	}

	payload := &pipeline.ImplementationPayload{
		Diff:         diff,
		FilesChanged: changedFiles(diff),
	}
	summary := firstLineOf(strings.SplitN(reply, "```", 2)[0])
	if summary == "" {
		summary = fmt.Sprintf("change touching %d file(s)", len(payload.FilesChanged))
	}

	return &pipeline.StageResult{
		Stage:          StageImplement,
		Status:         pipeline.StageSucceeded,
		Summary:        summary,
		Implementation: payload,
	}, nil
}

// changedFiles lists the target paths of a unified diff from its +++ lines.
func changedFiles(diff string) []string {
	var files []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(line, "+++ ") {
			continue
		}
		path := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
		path = strings.TrimPrefix(path, "b/")
		if path == "" || path == "/dev/null" || seen[path] {
			continue
		}
		seen[path] = true
		files = append(files, path)
	}
	return files
}
