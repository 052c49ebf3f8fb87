package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/contextcore/coyote/internal/agents"
	"github.com/contextcore/coyote/internal/config"
	"github.com/contextcore/coyote/internal/db"
	"github.com/contextcore/coyote/internal/knowledge"
	"github.com/contextcore/coyote/internal/llm"
	"github.com/contextcore/coyote/internal/o11y"
	"github.com/contextcore/coyote/internal/orchestrator"
	"github.com/contextcore/coyote/internal/pipeline"
)

// loadConfig loads and validates the configuration, honouring --config.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid config:\n  %s", strings.Join(msgs, "\n  "))
	}
	return cfg, nil
}

// openStore opens the configured run store. The cleanup func releases any
// held connections; it is a no-op for the file backend.
func openStore(cfg *config.Config) (pipeline.RunStore, func(), error) {
	switch cfg.Store.Backend {
	case "postgres":
		pg, err := pipeline.NewPGStore(context.Background(), cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		if cfg.Store.Dir != "" {
			if err := os.MkdirAll(cfg.Store.Dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("mkdir %s: %w", cfg.Store.Dir, err)
			}
			return pipeline.NewStore(cfg.Store.Dir), func() {}, nil
		}
		store, err := pipeline.DefaultStore()
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

// openDB opens the event log database and applies migrations.
func openDB() (*db.DB, error) {
	path, err := db.DefaultDBPath()
	if err != nil {
		return nil, err
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// lessonsBook resolves the configured lessons file. Relative paths land
// under ~/.coyote.
func lessonsBook(cfg *config.Config) (*knowledge.Book, error) {
	file := cfg.Lessons.File
	if file == "" || filepath.IsAbs(file) {
		if file == "" {
			return knowledge.DefaultBook()
		}
		return knowledge.NewBook(file), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".coyote")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return knowledge.NewBook(filepath.Join(dir, file)), nil
}

// runtime bundles everything a command needs to operate on runs.
type runtime struct {
	cfg   *config.Config
	store pipeline.RunStore
	db    *db.DB
	orch  *orchestrator.Orchestrator
}

// newRuntime wires store, event log, and orchestrator from config. When
// withAgents is false the orchestrator has no stage implementations; that is
// enough for approve, abort, and status, and avoids requiring LLM credentials
// for commands that never execute a stage.
func newRuntime(withAgents bool) (*runtime, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	database, err := openDB()
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	cleanup := func() {
		database.Close()
		closeStore()
	}

	orchOpts := []orchestrator.Option{orchestrator.WithNotifier(database)}

	var orch *orchestrator.Orchestrator
	if withAgents {
		gen, err := llm.New(llm.Options{Provider: cfg.LLM.Provider, Model: cfg.LLM.Model})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		book, err := lessonsBook(cfg)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		obs := o11y.New(cfg.O11y.PrometheusURL, cfg.O11y.LokiURL,
			time.Duration(cfg.O11y.TimeoutSeconds)*time.Second)

		built, err := agents.Build(cfg, agents.Deps{Gen: gen, O11y: obs, Lessons: book})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		orch = orchestrator.New(store, built, orchOpts...)
	} else {
		orch = orchestrator.New(store, nil, orchOpts...)
	}

	return &runtime{cfg: cfg, store: store, db: database, orch: orch}, cleanup, nil
}
