// Package agents implements the pipeline stages. Each agent renders its
// prompt template with the incident and prior stage results, calls the LLM
// capability, and parses the reply into its typed payload. Prompt templates
// are configuration: overriding one never changes orchestrator behavior.
package agents

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/contextcore/coyote/internal/llm"
	"github.com/contextcore/coyote/internal/pipeline"
)

// Stage names as they appear in pipeline configuration.
const (
	StageInvestigate = "investigate"
	StageDesign      = "design"
	StageImplement   = "implement"
	StageTest        = "test"
	StageLearn       = "learn"
)

// parseTemplate compiles the override text, or the default when empty.
func parseTemplate(name, override, fallback string) (*template.Template, error) {
	text := fallback
	if override != "" {
		text = override
	}
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	return tmpl, nil
}

// render executes the template; a broken template is a permanent failure
// since retrying cannot fix configuration.
func render(stageName string, tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", pipeline.Permanent(stageName, fmt.Errorf("render prompt: %w", err))
	}
	return buf.String(), nil
}

// generate calls the model. Generation failures are transient: provider
// timeouts and rate limits are the dominant failure mode and retrying is the
// right default.
func generate(ctx context.Context, stageName string, gen llm.Generator, prompt string) (string, error) {
	reply, err := gen.Generate(ctx, prompt)
	if err != nil {
		return "", pipeline.Transient(stageName, err)
	}
	return reply, nil
}
