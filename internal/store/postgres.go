package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/content-factory/internal/types"
)

// PostgresStore persists each record as a jsonb document, one table per
// collection. Selected when DATABASE_URL is configured.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ConnectPostgres establishes a connection pool and ensures the schema.
func ConnectPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	for _, table := range []string{"agents", "pipelines", "runs"} {
		_, err := s.pool.Exec(ctx, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				doc JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, table))
		if err != nil {
			return fmt.Errorf("failed to ensure table %s: %w", table, err)
		}
	}
	return nil
}

func (s *PostgresStore) listDocs(ctx context.Context, table string, decode func([]byte) error) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT doc FROM %s ORDER BY updated_at`, table))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return err
		}
		if err := decode(doc); err != nil {
			return fmt.Errorf("failed to decode %s document: %w", table, err)
		}
	}
	return rows.Err()
}

func (s *PostgresStore) getDoc(ctx context.Context, table, kind, id string, target any) error {
	var doc []byte
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT doc FROM %s WHERE id = $1`, table), id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return &ErrNotFound{Kind: kind, ID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to get %s %s: %w", kind, id, err)
	}
	return json.Unmarshal(doc, target)
}

func (s *PostgresStore) saveDoc(ctx context.Context, table, id string, value any) error {
	doc, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s document: %w", table, err)
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, doc) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`, table),
		id, doc)
	if err != nil {
		return fmt.Errorf("failed to save %s document %s: %w", table, id, err)
	}
	return nil
}

func (s *PostgresStore) deleteDoc(ctx context.Context, table, kind, id string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Kind: kind, ID: id}
	}
	return nil
}

// --- agents ---

func (s *PostgresStore) ListAgents(ctx context.Context) ([]*types.Agent, error) {
	var out []*types.Agent
	err := s.listDocs(ctx, "agents", func(doc []byte) error {
		var a types.Agent
		if err := json.Unmarshal(doc, &a); err != nil {
			return err
		}
		out = append(out, &a)
		return nil
	})
	return out, err
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	var a types.Agent
	if err := s.getDoc(ctx, "agents", "agent", id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) SaveAgent(ctx context.Context, agent *types.Agent) error {
	return s.saveDoc(ctx, "agents", agent.ID, agent)
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) error {
	return s.deleteDoc(ctx, "agents", "agent", id)
}

// --- pipelines ---

func (s *PostgresStore) ListPipelines(ctx context.Context) ([]*types.Pipeline, error) {
	var out []*types.Pipeline
	err := s.listDocs(ctx, "pipelines", func(doc []byte) error {
		var p types.Pipeline
		if err := json.Unmarshal(doc, &p); err != nil {
			return err
		}
		out = append(out, &p)
		return nil
	})
	return out, err
}

func (s *PostgresStore) GetPipeline(ctx context.Context, id string) (*types.Pipeline, error) {
	var p types.Pipeline
	if err := s.getDoc(ctx, "pipelines", "pipeline", id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) SavePipeline(ctx context.Context, pipeline *types.Pipeline) error {
	return s.saveDoc(ctx, "pipelines", pipeline.ID, pipeline)
}

func (s *PostgresStore) DeletePipeline(ctx context.Context, id string) error {
	return s.deleteDoc(ctx, "pipelines", "pipeline", id)
}

// --- runs ---

func (s *PostgresStore) ListRuns(ctx context.Context) ([]*types.Run, error) {
	var out []*types.Run
	err := s.listDocs(ctx, "runs", func(doc []byte) error {
		var r types.Run
		if err := json.Unmarshal(doc, &r); err != nil {
			return err
		}
		out = append(out, &r)
		return nil
	})
	return out, err
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*types.Run, error) {
	var r types.Run
	if err := s.getDoc(ctx, "runs", "run", id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *types.Run) error {
	return s.saveDoc(ctx, "runs", run.ID, run)
}
