package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coyote.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  name: custom
  defaults:
    max_attempts: 2
  stages:
    - name: investigate
    - name: design
      max_attempts: 4
      checkpoint: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Pipeline.Name != "custom" {
		t.Errorf("Name = %q, want custom", cfg.Pipeline.Name)
	}
	if got := cfg.Pipeline.Stages[0].MaxAttempts; got != 2 {
		t.Errorf("investigate max_attempts = %d, want default 2", got)
	}
	if got := cfg.Pipeline.Stages[1].MaxAttempts; got != 4 {
		t.Errorf("design max_attempts = %d, want explicit 4", got)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic default", cfg.LLM.Provider)
	}
	if cfg.Store.Backend != "file" {
		t.Errorf("Backend = %q, want file default", cfg.Store.Backend)
	}
}

func TestDefaultPipelineShape(t *testing.T) {
	cfg := Default()

	names := cfg.StageNames()
	want := []string{"investigate", "design", "implement", "test", "learn"}
	if len(names) != len(want) {
		t.Fatalf("stages = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("stage[%d] = %q, want %q", i, names[i], want[i])
		}
	}
	if !cfg.Checkpoints()["implement"] {
		t.Error("default config should gate the implement stage")
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("default config invalid: %v", errs)
	}
}

func TestCheckpointsAndBudgets(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  stages:
    - name: investigate
      max_attempts: 3
    - name: design
      checkpoint: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cps := cfg.Checkpoints()
	if !cps["design"] || cps["investigate"] {
		t.Errorf("Checkpoints = %v", cps)
	}
	budgets := cfg.AttemptBudgets()
	if budgets["investigate"] != 3 {
		t.Errorf("budgets = %v, want investigate:3", budgets)
	}
}

func TestValidateCatchesErrors(t *testing.T) {
	cfg := &Config{
		Pipeline: Pipeline{Stages: []Stage{
			{Name: "investigate"},
			{Name: "investigate"},
			{Name: "deploy"},
			{Name: "", MaxAttempts: -1},
		}},
		LLM:   LLM{Provider: "gemini"},
		Store: Store{Backend: "postgres"},
	}

	errs := Validate(cfg)
	fields := make(map[string]bool)
	for _, e := range errs {
		fields[e.Field] = true
	}

	for _, want := range []string{
		"pipeline.stages[1].name", // duplicate
		"pipeline.stages[2].name", // unknown stage
		"pipeline.stages[3].name", // missing name
		"llm.provider",
		"store.postgres_url",
	} {
		if !fields[want] {
			t.Errorf("missing validation error for %s; got %v", want, errs)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
