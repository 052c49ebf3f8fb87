package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/contextcore/coyote/internal/incident"
	"github.com/contextcore/coyote/internal/knowledge"
	"github.com/contextcore/coyote/internal/llm"
	"github.com/contextcore/coyote/internal/o11y"
	"github.com/contextcore/coyote/internal/pipeline"
	"github.com/contextcore/coyote/internal/stage"
)

// Investigator diagnoses the incident: it gathers metric and log context from
// the observability backends, folds in relevant past lessons, and asks the
// model for a root cause.
type Investigator struct {
	gen     llm.Generator
	o11y    *o11y.Client
	lessons *knowledge.Book
	service string // fallback service label when the incident has none
	tmpl    string
}

// WithService sets the default service label for observability queries.
func (a *Investigator) WithService(service string) *Investigator {
	a.service = service
	return a
}

// NewInvestigator builds the investigate stage. o11y and lessons may be nil;
// the investigation degrades to the incident data alone. promptOverride
// replaces the default template when non-empty.
func NewInvestigator(gen llm.Generator, obs *o11y.Client, lessons *knowledge.Book, promptOverride string) *Investigator {
	return &Investigator{gen: gen, o11y: obs, lessons: lessons, tmpl: promptOverride}
}

func (a *Investigator) Name() string { return StageInvestigate }

type investigateData struct {
	Incident  *incident.Incident
	Frames    []incident.Frame
	Telemetry string
	Lessons   string
}

func (a *Investigator) Execute(ctx context.Context, sc *stage.Context) (*pipeline.StageResult, error) {
	tmpl, err := parseTemplate(StageInvestigate, a.tmpl, defaultInvestigatePrompt)
	if err != nil {
		return nil, pipeline.Permanent(StageInvestigate, err)
	}

	data := investigateData{
		Incident:  sc.Incident,
		Frames:    sc.Incident.StackTrace,
		Telemetry: a.gatherTelemetry(ctx, sc.Incident),
		Lessons:   a.relatedLessons(),
	}
	prompt, err := render(StageInvestigate, tmpl, data)
	if err != nil {
		return nil, err
	}
	reply, err := generate(ctx, StageInvestigate, a.gen, prompt)
	if err != nil {
		return nil, err
	}

	secs := sections(reply)
	payload := &pipeline.InvestigationPayload{
		RootCause:    section(secs, "root cause"),
		AffectedCode: codeRefs(section(secs, "affected code")),
		Severity:     strings.ToLower(firstLineOf(section(secs, "severity"))),
		NextSteps:    bullets(section(secs, "next steps")),
	}
	if payload.RootCause == "" {
		return nil, pipeline.Transient(StageInvestigate,
			fmt.Errorf("reply missing root cause section"))
	}

	return &pipeline.StageResult{
		Stage:         StageInvestigate,
		Status:        pipeline.StageSucceeded,
		Summary:       firstLineOf(payload.RootCause),
		Investigation: payload,
	}, nil
}

// gatherTelemetry queries error rates and matching log lines around the
// incident window. Backend failures are folded into the summary text so the
// model sees what was and was not reachable.
func (a *Investigator) gatherTelemetry(ctx context.Context, inc *incident.Incident) string {
	if a.o11y == nil || !a.o11y.Enabled() {
		return ""
	}
	service, _ := inc.Context["service"].(string)
	if service == "" {
		service = a.service
	}

	end := inc.DetectedAt
	if end.IsZero() {
		end = time.Now()
	}
	start := end.Add(-time.Hour)

	var sb strings.Builder
	metrics := a.o11y.QueryMetrics(ctx, o11y.ErrorRateQuery(service), start, end, "")
	summarizeResult(&sb, "error rate", metrics)
	latency := a.o11y.QueryMetrics(ctx, o11y.LatencyQuery(service), start, end, "")
	summarizeResult(&sb, "p99 latency", latency)
	logs := a.o11y.QueryLogs(ctx, o11y.ErrorLogsQuery(service, inc.ErrorMessage), start, end, 20)
	summarizeResult(&sb, "error logs", logs)
	return strings.TrimSpace(sb.String())
}

func summarizeResult(sb *strings.Builder, label string, res o11y.QueryResult) {
	if !res.Success {
		fmt.Fprintf(sb, "%s: unavailable (%s)\n", label, res.Error)
		return
	}
	if len(res.Records) == 0 {
		fmt.Fprintf(sb, "%s: no data\n", label)
		return
	}
	fmt.Fprintf(sb, "%s (%s):\n", label, res.Source)
	for _, rec := range res.Records {
		n := len(rec.Values)
		if n == 0 {
			continue
		}
		last := rec.Values[n-1]
		// Metrics get the latest point; log lines are quoted in full.
		if res.Source == "loki" {
			for _, v := range rec.Values {
				fmt.Fprintf(sb, "  %s %s\n", v.Time.Format(time.RFC3339), v.Value)
			}
		} else {
			fmt.Fprintf(sb, "  %v -> %s at %s (%d points)\n",
				rec.Labels, last.Value, last.Time.Format(time.RFC3339), n)
		}
	}
}

// relatedLessons renders past lessons for the prompt, capped to the most
// recent five to keep the prompt bounded.
func (a *Investigator) relatedLessons() string {
	if a.lessons == nil {
		return ""
	}
	all, err := a.lessons.List()
	if err != nil || len(all) == 0 {
		return ""
	}
	if len(all) > 5 {
		all = all[len(all)-5:]
	}
	var sb strings.Builder
	for _, l := range all {
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", l.Category, l.Title, l.Lesson)
	}
	return sb.String()
}
