package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/contextcore/coyote/internal/incident"
	"github.com/contextcore/coyote/internal/knowledge"
	"github.com/contextcore/coyote/internal/llm"
	"github.com/contextcore/coyote/internal/pipeline"
	"github.com/contextcore/coyote/internal/stage"
)

// Knowledge closes the loop: it distils the resolved incident into lessons
// and appends them to the lessons file, where the next Investigator reads
// them back.
type Knowledge struct {
	gen  llm.Generator
	book *knowledge.Book
	tmpl string
}

func NewKnowledge(gen llm.Generator, book *knowledge.Book, promptOverride string) *Knowledge {
	return &Knowledge{gen: gen, book: book, tmpl: promptOverride}
}

func (a *Knowledge) Name() string { return StageLearn }

type learnData struct {
	Incident       *incident.Incident
	RootCause      string
	FixDescription string
	Verdict        string
}

func (a *Knowledge) Execute(ctx context.Context, sc *stage.Context) (*pipeline.StageResult, error) {
	data := learnData{Incident: sc.Incident, RootCause: "unknown", Verdict: "not tested"}
	if inv := sc.Investigation(); inv != nil {
		data.RootCause = inv.RootCause
	}
	if des := sc.Design(); des != nil {
		data.FixDescription = des.FixDescription
	}
	if tst := sc.Test(); tst != nil {
		if tst.Passed {
			data.Verdict = "passed"
		} else {
			data.Verdict = "failed"
		}
	}

	tmpl, err := parseTemplate(StageLearn, a.tmpl, defaultLearnPrompt)
	if err != nil {
		return nil, pipeline.Permanent(StageLearn, err)
	}
	prompt, err := render(StageLearn, tmpl, data)
	if err != nil {
		return nil, err
	}
	reply, err := generate(ctx, StageLearn, a.gen, prompt)
	if err != nil {
		return nil, err
	}

	entries := parseLessonBlocks(reply)
	if len(entries) == 0 {
		return nil, pipeline.Transient(StageLearn,
			fmt.Errorf("reply contains no lesson blocks"))
	}

	if a.book != nil {
		for _, e := range entries {
			_, err := a.book.Append(knowledge.Lesson{
				IncidentID: sc.Incident.ID,
				Title:      sc.Incident.Title,
				Category:   e.Category,
				Lesson:     e.Lesson,
				Prevention: e.Prevention,
				Tags:       e.Tags,
			})
			if err != nil {
				return nil, pipeline.Transient(StageLearn,
					fmt.Errorf("record lesson: %w", err))
			}
		}
	}

	return &pipeline.StageResult{
		Stage:     StageLearn,
		Status:    pipeline.StageSucceeded,
		Summary:   fmt.Sprintf("captured %d lesson(s)", len(entries)),
		Knowledge: &pipeline.KnowledgePayload{Lessons: entries},
	}, nil
}

// parseLessonBlocks extracts lesson entries from the model reply. A new block
// starts at each **Category** field; entries without a lesson body are
// dropped.
func parseLessonBlocks(reply string) []pipeline.LessonEntry {
	var entries []pipeline.LessonEntry
	var cur *pipeline.LessonEntry

	flush := func() {
		if cur != nil && cur.Lesson != "" {
			entries = append(entries, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "**Category**:"):
			flush()
			cur = &pipeline.LessonEntry{Category: lessonField(line)}
		case cur == nil:
			continue
		case strings.HasPrefix(line, "**Lesson**:"):
			cur.Lesson = lessonField(line)
		case strings.HasPrefix(line, "**Prevention**:"):
			cur.Prevention = lessonField(line)
		case strings.HasPrefix(line, "**Tags**:"):
			for _, tag := range strings.Split(lessonField(line), ",") {
				if t := strings.TrimSpace(tag); t != "" {
					cur.Tags = append(cur.Tags, t)
				}
			}
		}
	}
	flush()
	return entries
}

func lessonField(line string) string {
	_, v, _ := strings.Cut(line, ":")
	return strings.TrimSpace(v)
}
