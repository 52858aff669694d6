package db

import (
	"context"
	"time"

	"vinewatch/internal/types"
)

// ReferenceRepository provides data access for the static reference tables:
// vineyard pest lifecycle windows and the daily sunspot series.
type ReferenceRepository struct {
	db DBTX
}

// NewReferenceRepository creates a new ReferenceRepository backed by the
// given database connection (pool or transaction).
func NewReferenceRepository(db DBTX) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

// UpsertPest inserts or refreshes one pest lifecycle stage.
func (r *ReferenceRepository) UpsertPest(ctx context.Context, p types.Pest) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO vineyard_pests
			(sequence_id, common_name, scientific_name, dormant, stage, min_gdd, max_gdd)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (sequence_id) DO UPDATE SET
			common_name = EXCLUDED.common_name,
			scientific_name = EXCLUDED.scientific_name,
			dormant = EXCLUDED.dormant,
			stage = EXCLUDED.stage,
			min_gdd = EXCLUDED.min_gdd,
			max_gdd = EXCLUDED.max_gdd`,
		p.SequenceID, p.CommonName, p.ScientificName, p.Dormant, p.Stage, p.MinGDD, p.MaxGDD,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert pest", err)
	}
	return nil
}

// ListPests returns all pest lifecycle stages in sequence order.
func (r *ReferenceRepository) ListPests(ctx context.Context) ([]*types.Pest, error) {
	rows, err := r.db.Query(ctx,
		`SELECT sequence_id, common_name, scientific_name, dormant, stage, min_gdd, max_gdd
		 FROM vineyard_pests ORDER BY sequence_id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pests", err)
	}
	defer rows.Close()

	var result []*types.Pest
	for rows.Next() {
		var p types.Pest
		if err := rows.Scan(&p.SequenceID, &p.CommonName, &p.ScientificName, &p.Dormant, &p.Stage, &p.MinGDD, &p.MaxGDD); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan pest row", err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating pest rows", err)
	}
	return result, nil
}

// UpsertSunspots bulk-inserts daily sunspot observations, replacing any
// existing value for a day. The SIDC file revises recent provisional counts,
// so re-imports must overwrite.
func (r *ReferenceRepository) UpsertSunspots(ctx context.Context, spots []types.Sunspot) error {
	for _, s := range spots {
		_, err := r.db.Exec(ctx,
			`INSERT INTO sunspots
				(day, year, month, day_of_month, fraction, daily_total, std_dev, num_obs, definitive)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (day) DO UPDATE SET
				fraction = EXCLUDED.fraction,
				daily_total = EXCLUDED.daily_total,
				std_dev = EXCLUDED.std_dev,
				num_obs = EXCLUDED.num_obs,
				definitive = EXCLUDED.definitive`,
			s.Date, s.Year, s.Month, s.Day, s.Fraction, s.DailyTotal, s.StdDev, s.NumObs, s.Definitive,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert sunspot day", err)
		}
	}
	return nil
}

// ListSunspots returns the daily observations in [from, to) ordered by day.
func (r *ReferenceRepository) ListSunspots(ctx context.Context, from, to time.Time) ([]*types.Sunspot, error) {
	rows, err := r.db.Query(ctx,
		`SELECT day, year, month, day_of_month, fraction, daily_total, std_dev, num_obs, definitive
		 FROM sunspots
		 WHERE day >= $1 AND day < $2 ORDER BY day`,
		from, to,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list sunspots", err)
	}
	defer rows.Close()

	var result []*types.Sunspot
	for rows.Next() {
		var s types.Sunspot
		if err := rows.Scan(&s.Date, &s.Year, &s.Month, &s.Day, &s.Fraction, &s.DailyTotal, &s.StdDev, &s.NumObs, &s.Definitive); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan sunspot row", err)
		}
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating sunspot rows", err)
	}
	return result, nil
}
