package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jonathan/content-factory/internal/config"
	"github.com/jonathan/content-factory/internal/events"
	"github.com/jonathan/content-factory/internal/llm"
	"github.com/jonathan/content-factory/internal/pipeline"
	"github.com/jonathan/content-factory/internal/search"
	"github.com/jonathan/content-factory/internal/store"
	"github.com/jonathan/content-factory/internal/types"
)

// services bundles everything a command needs to execute runs.
type services struct {
	store store.Store
	chat  llm.Client
	runs  *pipeline.Service
}

// loadConfig builds the effective configuration: file values, environment
// fallbacks, then built-in defaults.
func loadConfig(path string) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}
	cfg.FromEnv()
	cfg = cfg.MergeWithDefaults(config.Defaults())
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// bootstrap wires the store, chat client, search collaborator, and run
// service from configuration, seeds defaults, and recovers interrupted runs.
func bootstrap(ctx context.Context, cfg config.Config) (*services, error) {
	var st store.Store
	var err error
	if cfg.DatabaseURL != "" {
		st, err = store.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	} else {
		st, err = store.OpenFileStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open data dir %s: %w", cfg.DataDir, err)
		}
	}

	chat := llm.NewHTTPClient(cfg.BackendURL, cfg.BackendAPIKey)

	var searcher search.Searcher
	var snapshots *search.SnapshotFetcher
	if cfg.SearchAPIKey != "" {
		google, err := search.NewGoogleSearcher(ctx, cfg.SearchAPIKey, cfg.SearchCX)
		if err != nil {
			return nil, err
		}
		searcher = google
		snapshots = search.NewSnapshotFetcher()
	} else {
		log.Println("No search API key configured; discovery evidence fallback is disabled")
	}

	broadcaster := events.NewBroadcaster(time.Duration(cfg.HeartbeatSeconds) * time.Second)
	runs := pipeline.NewService(st, chat, searcher, snapshots, broadcaster)

	if err := seedDefaults(ctx, st, cfg); err != nil {
		return nil, err
	}
	if err := runs.RecoverInterrupted(ctx); err != nil {
		return nil, err
	}

	return &services{store: st, chat: chat, runs: runs}, nil
}

// seedDefaults creates a default agent and the canonical pipeline on first
// start so the API is usable without manual setup.
func seedDefaults(ctx context.Context, st store.Store, cfg config.Config) error {
	agents, err := st.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}
	pipelines, err := st.ListPipelines(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pipelines: %w", err)
	}
	if len(agents) > 0 || len(pipelines) > 0 {
		return nil
	}

	now := time.Now().UTC()
	agent := &types.Agent{
		ID:        "default-writer",
		Name:      "Default Writer",
		Model:     cfg.Model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.SaveAgent(ctx, agent); err != nil {
		return fmt.Errorf("failed to seed default agent: %w", err)
	}

	pipe := pipeline.DefaultPipeline("Default Pipeline", agent.ID)
	if err := st.SavePipeline(ctx, pipe); err != nil {
		return fmt.Errorf("failed to seed default pipeline: %w", err)
	}
	log.Printf("Seeded default agent %s and pipeline %s", agent.ID, pipe.ID)
	return nil
}
