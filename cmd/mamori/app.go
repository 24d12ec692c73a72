package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ashita-ai/mamori/internal/agent"
	"github.com/ashita-ai/mamori/internal/agent/actor"
	"github.com/ashita-ai/mamori/internal/agent/decider"
	"github.com/ashita-ai/mamori/internal/agent/observer"
	"github.com/ashita-ai/mamori/internal/agent/reasoner"
	"github.com/ashita-ai/mamori/internal/agent/state"
	"github.com/ashita-ai/mamori/internal/config"
	"github.com/ashita-ai/mamori/internal/mockdata"
	"github.com/ashita-ai/mamori/internal/storage"
	"github.com/ashita-ai/mamori/migrations"
)

// app holds the wired agent components shared by every subcommand that
// touches the database.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	db     *storage.DB
	memory *state.Memory
	agent  *agent.Agent
	actor  *actor.Actor
	mock   *mockdata.Generator
}

// loadApp reads configuration, connects to Postgres, applies migrations and
// builds the agent phases.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(os.Stderr, cfg.LogLevel)

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	// RunMigrations tracks applied files in schema_migrations and skips
	// duplicates, so an error here is a real failure.
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	a, err := buildApp(cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func buildApp(cfg config.Config, db *storage.DB, logger *slog.Logger) (*app, error) {
	mem := state.NewMemory()
	st := state.NewStore(db, mem, logger)

	var classifier reasoner.Classifier
	switch cfg.Classifier {
	case config.ClassifierAnthropic:
		c, err := reasoner.NewAnthropicClassifier(reasoner.AnthropicConfig{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AnthropicModel,
		})
		if err != nil {
			return nil, fmt.Errorf("classifier: %w", err)
		}
		classifier = c
		logger.Info("classifier: anthropic", "model", c.Name())
	default:
		logger.Info("classifier: rules")
	}

	policy := decider.Policy{}
	if cfg.PolicyFile != "" {
		p, err := decider.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("policy: %w", err)
		}
		policy = p
		logger.Info("decision policy loaded", "path", cfg.PolicyFile)
	}

	reg := actor.DefaultRegistry(actor.Deps{
		Tickets:   db,
		Incidents: db,
		State:     st,
		Memory:    mem,
		Logger:    logger,
	})
	act := actor.New(db, reg, mem, logger)

	obsCfg := observer.Config{
		SignalWindow:     cfg.SignalWindow,
		BatchSize:        cfg.BatchSize,
		AnomalyThreshold: cfg.AnomalyThreshold,
	}
	ag := agent.New(agent.Deps{
		Observer: observer.New(db, mem, st, obsCfg, logger),
		Reasoner: reasoner.New(classifier, db, mem, logger),
		Decider:  decider.New(policy, mem, logger),
		Actor:    act,
		State:    st,
		Memory:   mem,
		Logger:   logger,
	})

	return &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		memory: mem,
		agent:  ag,
		actor:  act,
		mock:   mockdata.New(db, logger),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
}
