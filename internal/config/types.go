package config

// Config is the top-level configuration structure parsed from coyote YAML.
type Config struct {
	Pipeline Pipeline `yaml:"pipeline"`
	LLM      LLM      `yaml:"llm"`
	Store    Store    `yaml:"store"`
	O11y     O11y     `yaml:"o11y"`
	Lessons  Lessons  `yaml:"lessons"`
	Serve    Serve    `yaml:"serve"`
}

// Pipeline defines the ordered stage list and per-stage policy.
type Pipeline struct {
	Name     string        `yaml:"name"`
	Defaults StageDefaults `yaml:"defaults"`
	Stages   []Stage       `yaml:"stages"`
}

// StageDefaults holds values applied to stages that don't set their own.
type StageDefaults struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// Stage configures one pipeline stage. Prompt templates are configuration
// data injected into the agent at construction; the orchestrator never
// branches on them.
type Stage struct {
	Name           string `yaml:"name"`
	Checkpoint     bool   `yaml:"checkpoint"` // require approval after this stage succeeds
	MaxAttempts    int    `yaml:"max_attempts"`
	PromptTemplate string `yaml:"prompt_template"` // path to an override template, optional
}

// LLM selects the model provider for agent stages.
type LLM struct {
	Provider string `yaml:"provider"` // anthropic, openai
	Model    string `yaml:"model"`
}

// Store selects where run state is persisted.
type Store struct {
	Backend     string `yaml:"backend"` // file, postgres
	Dir         string `yaml:"dir"`     // file backend root (default ~/.coyote/runs)
	PostgresURL string `yaml:"postgres_url"`
}

// O11y holds observability backend endpoints used by the Investigator.
// Empty endpoints disable the corresponding queries.
type O11y struct {
	PrometheusURL  string `yaml:"prometheus_url"`
	LokiURL        string `yaml:"loki_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Service        string `yaml:"service"` // label used in canned queries
}

// Lessons configures the knowledge base file.
type Lessons struct {
	File string `yaml:"file"` // default LESSONS_LEARNED.md under ~/.coyote
}

// Serve configures the status/approval HTTP API.
type Serve struct {
	Addr string `yaml:"addr"` // default 127.0.0.1:7357
}

// StageNames returns the configured stage order.
func (c *Config) StageNames() []string {
	names := make([]string, 0, len(c.Pipeline.Stages))
	for _, s := range c.Pipeline.Stages {
		names = append(names, s.Name)
	}
	return names
}

// Checkpoints returns the stage -> requires-approval map for run creation.
func (c *Config) Checkpoints() map[string]bool {
	out := make(map[string]bool)
	for _, s := range c.Pipeline.Stages {
		if s.Checkpoint {
			out[s.Name] = true
		}
	}
	return out
}

// AttemptBudgets returns the stage -> max-attempts map for run creation.
func (c *Config) AttemptBudgets() map[string]int {
	out := make(map[string]int)
	for _, s := range c.Pipeline.Stages {
		if s.MaxAttempts > 0 {
			out[s.Name] = s.MaxAttempts
		}
	}
	return out
}
