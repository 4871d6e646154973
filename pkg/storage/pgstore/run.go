package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/models"
)

// RunStore persists pipeline runs in the pipeline_runs table.
type RunStore struct {
	pool *pgxpool.Pool
}

func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

func (s *RunStore) Create(ctx context.Context, run *models.PipelineRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, tenant_id, tool_id, mode, status, documents, chunks, failures, started_at, completed_at, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.TenantID, run.ToolID, run.Mode, run.Status,
		run.Documents, run.Chunks, run.Failures, run.StartedAt, run.CompletedAt, run.Error)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

func (s *RunStore) Update(ctx context.Context, run *models.PipelineRun) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $2, documents = $3, chunks = $4, failures = $5,
		   completed_at = $6, error = $7
		 WHERE id = $1`,
		run.ID, run.Status, run.Documents, run.Chunks, run.Failures, run.CompletedAt, run.Error)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return faults.Errorf(faults.NotFound, "pgstore.run_update", "run %s not found", run.ID)
	}
	return nil
}

func (s *RunStore) Get(ctx context.Context, id string) (*models.PipelineRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, tool_id, mode, status, documents, chunks, failures, started_at, completed_at, error
		 FROM pipeline_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, faults.Errorf(faults.NotFound, "pgstore.run_get", "run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

func (s *RunStore) List(ctx context.Context, f models.RunFilters) ([]*models.PipelineRun, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		where += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if f.ToolID != "" {
		args = append(args, f.ToolID)
		where += fmt.Sprintf(" AND tool_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM pipeline_runs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := "SELECT id, tenant_id, tool_id, mode, status, documents, chunks, failures, started_at, completed_at, error FROM pipeline_runs" +
		where + fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*models.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, total, rows.Err()
}

// PurgeOlderThan deletes terminal runs that completed before the cutoff.
// Active runs are never purged.
func (s *RunStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pipeline_runs WHERE status != $1 AND completed_at IS NOT NULL AND completed_at < $2`,
		models.RunRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRun(row pgx.Row) (*models.PipelineRun, error) {
	var run models.PipelineRun
	err := row.Scan(&run.ID, &run.TenantID, &run.ToolID, &run.Mode, &run.Status,
		&run.Documents, &run.Chunks, &run.Failures, &run.StartedAt, &run.CompletedAt, &run.Error)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
