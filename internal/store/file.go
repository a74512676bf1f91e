package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jonathan/content-factory/internal/types"
)

// Collection file names under the data directory.
const (
	agentsFile    = "agents.json"
	pipelinesFile = "pipelines.json"
	runsFile      = "runs.json"
)

// FileStore persists each collection as one JSON file, rewritten in full
// through a temp-file rename so a crash mid-write never corrupts state.
type FileStore struct {
	dir string

	mu        sync.Mutex
	agents    []*types.Agent
	pipelines []*types.Pipeline
	runs      []*types.Run
}

// OpenFileStore loads (or initializes) the data directory.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}

	s := &FileStore{dir: dir}
	if err := loadJSON(filepath.Join(dir, agentsFile), &s.agents); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, pipelinesFile), &s.pipelines); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, runsFile), &s.runs); err != nil {
		return nil, err
	}
	return s, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

// --- agents ---

func (s *FileStore) ListAgents(_ context.Context) ([]*types.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Agent(nil), s.agents...), nil
}

func (s *FileStore) GetAgent(_ context.Context, id string) (*types.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, &ErrNotFound{Kind: "agent", ID: id}
}

func (s *FileStore) SaveAgent(_ context.Context, agent *types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = upsert(s.agents, agent, func(a *types.Agent) string { return a.ID })
	return writeJSON(filepath.Join(s.dir, agentsFile), s.agents)
}

func (s *FileStore) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, removed := remove(s.agents, id, func(a *types.Agent) string { return a.ID })
	if !removed {
		return &ErrNotFound{Kind: "agent", ID: id}
	}
	s.agents = next
	return writeJSON(filepath.Join(s.dir, agentsFile), s.agents)
}

// --- pipelines ---

func (s *FileStore) ListPipelines(_ context.Context) ([]*types.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Pipeline(nil), s.pipelines...), nil
}

func (s *FileStore) GetPipeline(_ context.Context, id string) (*types.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pipelines {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, &ErrNotFound{Kind: "pipeline", ID: id}
}

func (s *FileStore) SavePipeline(_ context.Context, pipeline *types.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines = upsert(s.pipelines, pipeline, func(p *types.Pipeline) string { return p.ID })
	return writeJSON(filepath.Join(s.dir, pipelinesFile), s.pipelines)
}

func (s *FileStore) DeletePipeline(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, removed := remove(s.pipelines, id, func(p *types.Pipeline) string { return p.ID })
	if !removed {
		return &ErrNotFound{Kind: "pipeline", ID: id}
	}
	s.pipelines = next
	return writeJSON(filepath.Join(s.dir, pipelinesFile), s.pipelines)
}

// --- runs ---

func (s *FileStore) ListRuns(_ context.Context) ([]*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Run(nil), s.runs...), nil
}

func (s *FileStore) GetRun(_ context.Context, id string) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, &ErrNotFound{Kind: "run", ID: id}
}

func (s *FileStore) SaveRun(_ context.Context, run *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = upsert(s.runs, run, func(r *types.Run) string { return r.ID })
	return writeJSON(filepath.Join(s.dir, runsFile), s.runs)
}

// --- helpers ---

func upsert[T any](items []*T, item *T, key func(*T) string) []*T {
	id := key(item)
	for i, existing := range items {
		if key(existing) == id {
			items[i] = item
			return items
		}
	}
	return append(items, item)
}

func remove[T any](items []*T, id string, key func(*T) string) ([]*T, bool) {
	for i, existing := range items {
		if key(existing) == id {
			return append(items[:i], items[i+1:]...), true
		}
	}
	return items, false
}

func loadJSON(path string, target any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// writeJSON rewrites the full collection atomically: marshal, write to a
// temp file in the same directory, then rename over the target.
func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
