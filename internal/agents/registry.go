package agents

import (
	"fmt"
	"os"

	"github.com/contextcore/coyote/internal/config"
	"github.com/contextcore/coyote/internal/knowledge"
	"github.com/contextcore/coyote/internal/llm"
	"github.com/contextcore/coyote/internal/o11y"
	"github.com/contextcore/coyote/internal/stage"
)

// Deps are the capabilities agents draw on. O11y and Lessons are optional.
type Deps struct {
	Gen     llm.Generator
	O11y    *o11y.Client
	Lessons *knowledge.Book
}

// Build constructs the configured pipeline stages in order. Prompt template
// override paths are read here so a bad path fails at startup, not mid-run.
func Build(cfg *config.Config, deps Deps) ([]stage.Stage, error) {
	stages := make([]stage.Stage, 0, len(cfg.Pipeline.Stages))
	for _, sc := range cfg.Pipeline.Stages {
		override, err := loadOverride(sc.PromptTemplate)
		if err != nil {
			return nil, err
		}
		switch sc.Name {
		case StageInvestigate:
			inv := NewInvestigator(deps.Gen, deps.O11y, deps.Lessons, override).WithService(cfg.O11y.Service)
			stages = append(stages, inv)
		case StageDesign:
			stages = append(stages, NewDesigner(deps.Gen, override))
		case StageImplement:
			stages = append(stages, NewImplementer(deps.Gen, override))
		case StageTest:
			stages = append(stages, NewTester(deps.Gen, override))
		case StageLearn:
			stages = append(stages, NewKnowledge(deps.Gen, deps.Lessons, override))
		default:
			return nil, fmt.Errorf("no agent registered for stage %q", sc.Name)
		}
	}
	return stages, nil
}

func loadOverride(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt template %s: %w", path, err)
	}
	return string(data), nil
}
