// Package stage defines the capability contract between the orchestrator and
// the units of pipeline work. Concrete stages live in internal/agents; the
// orchestrator knows nothing about prompts or query languages.
package stage

import (
	"context"

	"github.com/contextcore/coyote/internal/incident"
	"github.com/contextcore/coyote/internal/pipeline"
)

// Context is the accumulated pipeline state handed to a stage: the incident
// plus the latest result of every stage that already ran, in stage order.
type Context struct {
	Incident *incident.Incident
	History  []pipeline.StageResult
	Metadata map[string]string
}

// Result returns the recorded result for a named stage, or nil.
func (c *Context) Result(name string) *pipeline.StageResult {
	for i := range c.History {
		if c.History[i].Stage == name {
			return &c.History[i]
		}
	}
	return nil
}

// Investigation returns the Investigator's payload from history, or nil.
func (c *Context) Investigation() *pipeline.InvestigationPayload {
	if r := c.Result("investigate"); r != nil {
		return r.Investigation
	}
	return nil
}

// Design returns the Designer's payload from history, or nil.
func (c *Context) Design() *pipeline.DesignPayload {
	if r := c.Result("design"); r != nil {
		return r.Design
	}
	return nil
}

// Implementation returns the Implementer's payload from history, or nil.
func (c *Context) Implementation() *pipeline.ImplementationPayload {
	if r := c.Result("implement"); r != nil {
		return r.Implementation
	}
	return nil
}

// Test returns the Tester's payload from history, or nil.
func (c *Context) Test() *pipeline.TestPayload {
	if r := c.Result("test"); r != nil {
		return r.Test
	}
	return nil
}

// Stage is one unit of pipeline work. Execute either returns a result
// (succeeded, skipped, or failed with detail filled in by the caller) or an
// error; errors should be *pipeline.StageError so the retry policy can
// classify them, anything else is treated as permanent.
//
// Execution may be long-running. Implementations own their timeout policy;
// the orchestrator only passes the context through.
type Stage interface {
	Name() string
	Execute(ctx context.Context, sc *Context) (*pipeline.StageResult, error)
}
