package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"vinewatch/internal/types"
)

// RunRepository records pipeline executions for auditability. Each full
// pipeline pass creates one row at start and finalizes it on completion.
type RunRepository struct {
	db DBTX
}

// NewRunRepository creates a new RunRepository backed by the given database
// connection (pool or transaction).
func NewRunRepository(db DBTX) *RunRepository {
	return &RunRepository{db: db}
}

// Create opens a new run row in the "running" state and returns its ID.
func (r *RunRepository) Create(ctx context.Context, startedAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := r.db.Exec(ctx,
		`INSERT INTO pipeline_runs (id, started_at, status) VALUES ($1, $2, 'running')`,
		id, startedAt,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to create pipeline run", err)
	}
	return id, nil
}

// Finish finalizes a run row with its outcome and counters.
func (r *RunRepository) Finish(ctx context.Context, id string, status string, daysProcessed, readingsInserted int, detail string) error {
	var detailPtr *string
	if detail != "" {
		detailPtr = &detail
	}
	_, err := r.db.Exec(ctx,
		`UPDATE pipeline_runs SET
			finished_at = $1, status = $2, days_processed = $3, readings_inserted = $4, detail = $5
		 WHERE id = $6`,
		time.Now().UTC(), status, daysProcessed, readingsInserted, detailPtr, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finalize pipeline run", err)
	}
	return nil
}

// ListRecent returns the most recent runs, newest first.
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]*types.PipelineRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, started_at, finished_at, status, days_processed, readings_inserted, detail
		 FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pipeline runs", err)
	}
	defer rows.Close()

	var result []*types.PipelineRun
	for rows.Next() {
		var run types.PipelineRun
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.DaysProcessed, &run.ReadingsInserted, &run.Detail); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan pipeline run row", err)
		}
		result = append(result, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating pipeline run rows", err)
	}
	return result, nil
}
