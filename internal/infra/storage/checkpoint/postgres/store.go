// Package postgres stores checkpoints in a Postgres table so several
// fscrawl processes and external dashboards can share them.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/internal/infra/storage"
)

var _ crawl.CheckpointStore = (*Store)(nil)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
	attribute.String("db.table", "crawl_checkpoints"),
}

const (
	upsertCheckpoint = `
INSERT INTO crawl_checkpoints (job_name, scan_id, state, next_check, data, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (job_name) DO UPDATE SET
    scan_id = EXCLUDED.scan_id,
    state = EXCLUDED.state,
    next_check = EXCLUDED.next_check,
    data = EXCLUDED.data,
    updated_at = NOW()`

	selectCheckpoint = `SELECT data FROM crawl_checkpoints WHERE job_name = $1`

	deleteCheckpoint = `DELETE FROM crawl_checkpoints WHERE job_name = $1`
)

// Store is a Postgres-backed crawl.CheckpointStore. The checkpoint document
// is kept as JSONB next to a few columns useful for querying.
type Store struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewStore creates a store on an already migrated database.
func NewStore(pool *pgxpool.Pool, tracer trace.Tracer) *Store {
	return &Store{pool: pool, tracer: tracer}
}

func attrs(extra ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(defaultDBAttributes)+len(extra))
	out = append(out, defaultDBAttributes...)
	return append(out, extra...)
}

// Save upserts the checkpoint in a single statement.
func (s *Store) Save(ctx context.Context, cp *crawl.Checkpoint) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_checkpoint",
		attrs(attribute.String("job", cp.JobName), attribute.String("state", string(cp.State))),
		func(ctx context.Context) error {
			data, err := json.Marshal(cp)
			if err != nil {
				return fmt.Errorf("failed to marshal checkpoint: %w", err)
			}
			if _, err := s.pool.Exec(ctx, upsertCheckpoint,
				cp.JobName, cp.ScanID, string(cp.State), cp.NextCheck, data,
			); err != nil {
				return fmt.Errorf("failed to save checkpoint: %w", err)
			}
			return nil
		})
}

// Load returns crawl.ErrCheckpointNotFound when the job has no row.
func (s *Store) Load(ctx context.Context, jobName string) (*crawl.Checkpoint, error) {
	var cp *crawl.Checkpoint
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.load_checkpoint",
		attrs(attribute.String("job", jobName)),
		func(ctx context.Context) error {
			var data []byte
			err := s.pool.QueryRow(ctx, selectCheckpoint, jobName).Scan(&data)
			if errors.Is(err, pgx.ErrNoRows) {
				return crawl.ErrCheckpointNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to load checkpoint: %w", err)
			}
			cp = new(crawl.Checkpoint)
			if err := json.Unmarshal(data, cp); err != nil {
				return fmt.Errorf("failed to unmarshal checkpoint: %w", err)
			}
			if cp.Documents == nil {
				cp.Documents = make(map[string]crawl.DocumentRecord)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// Delete removes the job's row.
func (s *Store) Delete(ctx context.Context, jobName string) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_checkpoint",
		attrs(attribute.String("job", jobName)),
		func(ctx context.Context) error {
			if _, err := s.pool.Exec(ctx, deleteCheckpoint, jobName); err != nil {
				return fmt.Errorf("failed to delete checkpoint: %w", err)
			}
			return nil
		})
}
