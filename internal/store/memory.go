package store

import (
	"context"
	"sync"

	"github.com/jonathan/content-factory/internal/types"
)

// MemoryStore is a non-persistent Store for tests.
type MemoryStore struct {
	mu        sync.Mutex
	agents    map[string]*types.Agent
	pipelines map[string]*types.Pipeline
	runs      map[string]*types.Run
	runOrder  []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:    make(map[string]*types.Agent),
		pipelines: make(map[string]*types.Pipeline),
		runs:      make(map[string]*types.Run),
	}
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) ListAgents(_ context.Context) ([]*types.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out, nil
}

func (s *MemoryStore) GetAgent(_ context.Context, id string) (*types.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[id]; ok {
		return a, nil
	}
	return nil, &ErrNotFound{Kind: "agent", ID: id}
}

func (s *MemoryStore) SaveAgent(_ context.Context, agent *types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = agent
	return nil
}

func (s *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return &ErrNotFound{Kind: "agent", ID: id}
	}
	delete(s.agents, id)
	return nil
}

func (s *MemoryStore) ListPipelines(_ context.Context) ([]*types.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryStore) GetPipeline(_ context.Context, id string) (*types.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pipelines[id]; ok {
		return p, nil
	}
	return nil, &ErrNotFound{Kind: "pipeline", ID: id}
}

func (s *MemoryStore) SavePipeline(_ context.Context, pipeline *types.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines[pipeline.ID] = pipeline
	return nil
}

func (s *MemoryStore) DeletePipeline(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[id]; !ok {
		return &ErrNotFound{Kind: "pipeline", ID: id}
	}
	delete(s.pipelines, id)
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Run, 0, len(s.runs))
	for _, id := range s.runOrder {
		out = append(out, s.runs[id])
	}
	return out, nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[id]; ok {
		return r, nil
	}
	return nil, &ErrNotFound{Kind: "run", ID: id}
}

func (s *MemoryStore) SaveRun(_ context.Context, run *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		s.runOrder = append(s.runOrder, run.ID)
	}
	s.runs[run.ID] = run
	return nil
}
