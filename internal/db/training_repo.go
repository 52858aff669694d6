package db

import (
	"context"

	"vinewatch/internal/types"
)

// TrainingRepository caches the feature rows extracted for the learned
// bud-break model, so retraining does not re-derive features from raw
// readings on every run.
type TrainingRepository struct {
	db DBTX
}

// NewTrainingRepository creates a new TrainingRepository backed by the given
// database connection (pool or transaction).
func NewTrainingRepository(db DBTX) *TrainingRepository {
	return &TrainingRepository{db: db}
}

// Upsert writes a feature row for (cultivar, year, day_of_year).
func (r *TrainingRepository) Upsert(ctx context.Context, s types.TrainingSample) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO training_samples
			(cultivar, year, current_gdd, day_of_year, chill_hours, mean_gdd, std_gdd, remaining_gdd)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (cultivar, year, day_of_year) DO UPDATE SET
			current_gdd = EXCLUDED.current_gdd,
			chill_hours = EXCLUDED.chill_hours,
			mean_gdd = EXCLUDED.mean_gdd,
			std_gdd = EXCLUDED.std_gdd,
			remaining_gdd = EXCLUDED.remaining_gdd`,
		s.Cultivar, s.Year, s.CurrentGDD, s.DayOfYear, s.ChillHours, s.MeanGDD, s.StdGDD, s.RemainingGDD,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert training sample", err)
	}
	return nil
}

// List returns every cached feature row, ordered for deterministic training.
func (r *TrainingRepository) List(ctx context.Context) ([]types.TrainingSample, error) {
	rows, err := r.db.Query(ctx,
		`SELECT cultivar, year, current_gdd, day_of_year, chill_hours, mean_gdd, std_gdd, remaining_gdd
		 FROM training_samples
		 ORDER BY cultivar, year, day_of_year`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list training samples", err)
	}
	defer rows.Close()

	var result []types.TrainingSample
	for rows.Next() {
		var s types.TrainingSample
		if err := rows.Scan(&s.Cultivar, &s.Year, &s.CurrentGDD, &s.DayOfYear, &s.ChillHours, &s.MeanGDD, &s.StdGDD, &s.RemainingGDD); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan training sample row", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating training sample rows", err)
	}
	return result, nil
}
