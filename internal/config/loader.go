package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default returns the built-in configuration: the full five-stage pipeline,
// anthropic models, file-backed run store.
func Default() *Config {
	return &Config{
		Pipeline: Pipeline{
			Name:     "incident-resolution",
			Defaults: StageDefaults{MaxAttempts: 1},
			Stages: []Stage{
				{Name: "investigate"},
				{Name: "design"},
				{Name: "implement", Checkpoint: true},
				{Name: "test"},
				{Name: "learn"},
			},
		},
		LLM:     LLM{Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
		Store:   Store{Backend: "file"},
		O11y:    O11y{TimeoutSeconds: 30},
		Lessons: Lessons{File: "LESSONS_LEARNED.md"},
		Serve:   Serve{Addr: "127.0.0.1:7357"},
	}
}

// Load reads and parses a configuration from the given YAML file path,
// then merges defaults into unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches standard locations and loads the first config found.
// Search order: ./coyote.yaml, ~/.coyote/config.yaml. With no file present it
// returns the built-in defaults.
func LoadDefault() (*Config, error) {
	candidates := []string{"coyote.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".coyote", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return Default(), nil
}

// applyDefaults merges built-in defaults into unset fields and pushes
// pipeline-level defaults down to stages.
func applyDefaults(cfg *Config) {
	def := Default()

	if len(cfg.Pipeline.Stages) == 0 {
		cfg.Pipeline.Stages = def.Pipeline.Stages
	}
	if cfg.Pipeline.Name == "" {
		cfg.Pipeline.Name = def.Pipeline.Name
	}
	if cfg.Pipeline.Defaults.MaxAttempts == 0 {
		cfg.Pipeline.Defaults.MaxAttempts = def.Pipeline.Defaults.MaxAttempts
	}
	for i := range cfg.Pipeline.Stages {
		s := &cfg.Pipeline.Stages[i]
		if s.MaxAttempts == 0 {
			s.MaxAttempts = cfg.Pipeline.Defaults.MaxAttempts
		}
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = def.LLM.Provider
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = def.LLM.Model
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = def.Store.Backend
	}
	if cfg.O11y.TimeoutSeconds == 0 {
		cfg.O11y.TimeoutSeconds = def.O11y.TimeoutSeconds
	}
	if cfg.Lessons.File == "" {
		cfg.Lessons.File = def.Lessons.File
	}
	if cfg.Serve.Addr == "" {
		cfg.Serve.Addr = def.Serve.Addr
	}
}
