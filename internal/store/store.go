// Package store provides persistence for agents, pipelines, and runs.
//
// Three implementations exist: a JSON-file store (the default, rewriting
// each collection atomically on every save), a PostgreSQL store (jsonb
// documents, selected when DATABASE_URL is configured), and an in-memory
// store for tests.
package store

import (
	"context"
	"fmt"

	"github.com/jonathan/content-factory/internal/types"
)

// ErrNotFound indicates a lookup by id found nothing.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// AgentStore is synchronous read/write access to configured agents.
type AgentStore interface {
	ListAgents(ctx context.Context) ([]*types.Agent, error)
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	SaveAgent(ctx context.Context, agent *types.Agent) error
	DeleteAgent(ctx context.Context, id string) error
}

// PipelineStore is synchronous read/write access to configured pipelines.
type PipelineStore interface {
	ListPipelines(ctx context.Context) ([]*types.Pipeline, error)
	GetPipeline(ctx context.Context, id string) (*types.Pipeline, error)
	SavePipeline(ctx context.Context, pipeline *types.Pipeline) error
	DeletePipeline(ctx context.Context, id string) error
}

// RunStore persists run records. SaveRun durably persists the full run
// collection before returning; the orchestrator relies on this ordering to
// guarantee that broadcast events never precede persisted state.
//
// Run pointers returned by Get/List are live: a run being executed is
// mutated by its own orchestration goroutine, and readers must tolerate
// observing a record mid-transition (single-writer invariant, no locks).
type RunStore interface {
	ListRuns(ctx context.Context) ([]*types.Run, error)
	GetRun(ctx context.Context, id string) (*types.Run, error)
	SaveRun(ctx context.Context, run *types.Run) error
}

// Store bundles all three collections behind one handle.
type Store interface {
	AgentStore
	PipelineStore
	RunStore
	Close() error
}
