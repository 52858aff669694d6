package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"vinewatch/internal/types"
)

// CultivarRepository provides data access for the cultivars table.
type CultivarRepository struct {
	db DBTX
}

// NewCultivarRepository creates a new CultivarRepository backed by the given
// database connection (pool or transaction).
func NewCultivarRepository(db DBTX) *CultivarRepository {
	return &CultivarRepository{db: db}
}

const cultivarColumns = `name, heat_summation, biofix_date, gdd_since_biofix,
	trend_bud_break, hybrid_bud_break, hybrid_bud_break_range, model_bud_break`

func scanCultivar(rows pgx.Rows) (*types.Cultivar, error) {
	var c types.Cultivar
	err := rows.Scan(
		&c.Name,
		&c.HeatSummation,
		&c.BiofixDate,
		&c.GDDSinceBiofix,
		&c.TrendBudBreak,
		&c.HybridBudBreak,
		&c.HybridBudBreakRange,
		&c.ModelBudBreak,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertThreshold inserts a cultivar or refreshes its heat summation
// threshold. The biofix date, accumulated total, and prediction columns are
// operator- and pipeline-owned and are never overwritten by a reference
// import.
func (r *CultivarRepository) UpsertThreshold(ctx context.Context, name string, heatSummation *int) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO cultivars (name, heat_summation)
		 VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET heat_summation = EXCLUDED.heat_summation`,
		name, heatSummation,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert cultivar", err)
	}
	return nil
}

// List returns all cultivars ordered by name.
func (r *CultivarRepository) List(ctx context.Context) ([]*types.Cultivar, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+cultivarColumns+` FROM cultivars ORDER BY name`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list cultivars", err)
	}
	defer rows.Close()

	var result []*types.Cultivar
	for rows.Next() {
		c, scanErr := scanCultivar(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan cultivar row", scanErr)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating cultivar rows", err)
	}
	return result, nil
}

// Get returns a single cultivar by name.
func (r *CultivarRepository) Get(ctx context.Context, name string) (*types.Cultivar, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+cultivarColumns+` FROM cultivars WHERE name = $1`, name,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query cultivar", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "error reading cultivar row", err)
		}
		return nil, types.NewAppError(types.ErrCodeNotFoundCultivar, "cultivar not found", nil)
	}
	c, scanErr := scanCultivar(rows)
	if scanErr != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan cultivar row", scanErr)
	}
	return c, nil
}

// UpdateAccumulation writes the biofix-anchored running total for the
// current season.
func (r *CultivarRepository) UpdateAccumulation(ctx context.Context, name string, gddSinceBiofix float64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE cultivars SET gdd_since_biofix = $1 WHERE name = $2`,
		gddSinceBiofix, name,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update cultivar accumulation", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCultivar, "cultivar not found", nil)
	}
	return nil
}

// SetTrendPrediction stores the trend-regression projection. An empty date
// clears the column for cultivars the model cannot score.
func (r *CultivarRepository) SetTrendPrediction(ctx context.Context, name string, date string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE cultivars SET trend_bud_break = $1 WHERE name = $2`,
		date, name,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update trend prediction", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCultivar, "cultivar not found", nil)
	}
	return nil
}

// SetHybridPrediction stores the hybrid forecast projection together with
// its uncertainty range.
func (r *CultivarRepository) SetHybridPrediction(ctx context.Context, name string, date, dateRange string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE cultivars SET hybrid_bud_break = $1, hybrid_bud_break_range = $2
		 WHERE name = $3`,
		date, dateRange, name,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update hybrid prediction", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCultivar, "cultivar not found", nil)
	}
	return nil
}

// SetModelPrediction stores the learned-model projection.
func (r *CultivarRepository) SetModelPrediction(ctx context.Context, name string, date string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE cultivars SET model_bud_break = $1 WHERE name = $2`,
		date, name,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update model prediction", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCultivar, "cultivar not found", nil)
	}
	return nil
}

// SetBiofix records an import-supplied biofix date for a cultivar that does
// not have one yet. A stored biofix is never replaced, so zero rows affected
// is a normal outcome.
func (r *CultivarRepository) SetBiofix(ctx context.Context, name string, biofix *string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE cultivars SET biofix_date = $1::timestamptz WHERE name = $2 AND biofix_date IS NULL`,
		biofix, name,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set cultivar biofix", err)
	}
	return nil
}
