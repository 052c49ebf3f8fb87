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

// Tester reviews the implemented change against the root cause and delivers
// a pass/fail verdict. A FAIL verdict is a failed attempt so the retry policy
// can send the stage (and the operator) back around.
type Tester struct {
	gen  llm.Generator
	tmpl string
}

func NewTester(gen llm.Generator, promptOverride string) *Tester {
	return &Tester{gen: gen, tmpl: promptOverride}
}

func (a *Tester) Name() string { return StageTest }

type testData struct {
	Incident       *incident.Incident
	Investigation  *pipeline.InvestigationPayload
	Implementation *pipeline.ImplementationPayload
}

func (a *Tester) Execute(ctx context.Context, sc *stage.Context) (*pipeline.StageResult, error) {
	impl := sc.Implementation()
	if impl == nil {
		return nil, pipeline.Permanent(StageTest,
			fmt.Errorf("no implementation result in history"))
	}
	inv := sc.Investigation()
	if inv == nil {
		inv = &pipeline.InvestigationPayload{RootCause: "unknown"}
	}
	tmpl, err := parseTemplate(StageTest, a.tmpl, defaultTestPrompt)
	if err != nil {
		return nil, pipeline.Permanent(StageTest, err)
	}
	prompt, err := render(StageTest, tmpl, testData{
		Incident: sc.Incident, Investigation: inv, Implementation: impl,
	})
	if err != nil {
		return nil, err
	}
	reply, err := generate(ctx, StageTest, a.gen, prompt)
	if err != nil {
		return nil, err
	}

	secs := sections(reply)
	verdict := section(secs, "verdict")
	payload := &pipeline.TestPayload{
		Passed:         parseVerdict(verdict),
		Output:         section(secs, "output"),
		RegressionRisk: strings.ToLower(firstLineOf(section(secs, "regression risk"))),
	}

	if !payload.Passed {
		// Carry the verdict text as the attempt error so the run record
		// explains the failure.
		return nil, pipeline.Transient(StageTest,
			fmt.Errorf("review verdict: %s", firstLineOf(verdict)))
	}

	return &pipeline.StageResult{
		Stage:   StageTest,
		Status:  pipeline.StageSucceeded,
		Summary: firstLineOf(verdict),
		Test:    payload,
	}, nil
}

// parseVerdict accepts PASS only when it appears before any FAIL, so
// "FAIL: would otherwise pass" reads as a failure.
func parseVerdict(verdict string) bool {
	upper := strings.ToUpper(verdict)
	pass := strings.Index(upper, "PASS")
	fail := strings.Index(upper, "FAIL")
	if pass < 0 {
		return false
	}
	return fail < 0 || pass < fail
}
