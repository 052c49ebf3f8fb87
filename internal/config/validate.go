package config

import "fmt"

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedStages is the set of stage names with an agent implementation.
var recognizedStages = map[string]bool{
	"investigate": true,
	"design":      true,
	"implement":   true,
	"test":        true,
	"learn":       true,
}

var recognizedProviders = map[string]bool{
	"anthropic": true,
	"openai":    true,
}

var recognizedBackends = map[string]bool{
	"file":     true,
	"postgres": true,
}

// Validate checks a Config for structural and semantic errors. It returns a
// slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	p := cfg.Pipeline

	if len(p.Stages) == 0 {
		errs = append(errs, ValidationError{Field: "pipeline.stages", Message: "at least one stage is required"})
	}

	seen := make(map[string]bool)
	for i, s := range p.Stages {
		field := fmt.Sprintf("pipeline.stages[%d]", i)
		if s.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "is required"})
			continue
		}
		if !recognizedStages[s.Name] {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("unknown stage %q", s.Name),
			})
		}
		if seen[s.Name] {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate stage %q", s.Name),
			})
		}
		seen[s.Name] = true
		if s.MaxAttempts < 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".max_attempts",
				Message: "must not be negative",
			})
		}
	}

	if !recognizedProviders[cfg.LLM.Provider] {
		errs = append(errs, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q", cfg.LLM.Provider),
		})
	}

	if !recognizedBackends[cfg.Store.Backend] {
		errs = append(errs, ValidationError{
			Field:   "store.backend",
			Message: fmt.Sprintf("unknown backend %q", cfg.Store.Backend),
		})
	}
	if cfg.Store.Backend == "postgres" && cfg.Store.PostgresURL == "" {
		errs = append(errs, ValidationError{
			Field:   "store.postgres_url",
			Message: "is required for the postgres backend",
		})
	}

	return errs
}
