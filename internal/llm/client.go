// Package llm provides the text-generation capability consumed by agent
// stages. The orchestrator core never touches this package; agents receive a
// Generator at construction.
package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options configures a client.
type Options struct {
	Provider string // anthropic, openai
	Model    string
}

type client struct {
	model llms.Model
}

// New builds a Generator for the configured provider. API keys come from the
// provider's standard environment variables (ANTHROPIC_API_KEY,
// OPENAI_API_KEY), which langchaingo reads itself.
func New(opts Options) (Generator, error) {
	switch opts.Provider {
	case "anthropic":
		m, err := anthropic.New(anthropic.WithModel(opts.Model))
		if err != nil {
			return nil, fmt.Errorf("init anthropic client: %w", err)
		}
		return &client{model: m}, nil
	case "openai":
		m, err := openai.New(openai.WithModel(opts.Model))
		if err != nil {
			return nil, fmt.Errorf("init openai client: %w", err)
		}
		return &client{model: m}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", opts.Provider)
	}
}

func (c *client) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return out, nil
}
