package db

import (
	"context"

	"vinewatch/internal/types"
)

// schemaStatements creates the tables the pipeline depends on. Statements are
// idempotent so EnsureSchema can run on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS readings (
		dateutc      BIGINT PRIMARY KEY,
		observed_at  TIMESTAMPTZ NOT NULL,
		tempf        DOUBLE PRECISION,
		humidity     DOUBLE PRECISION,
		baromrelin   DOUBLE PRECISION,
		baromabsin   DOUBLE PRECISION,
		dew_point    DOUBLE PRECISION,
		winddir      DOUBLE PRECISION,
		windspeedmph DOUBLE PRECISION,
		windgustmph  DOUBLE PRECISION,
		hourlyrainin DOUBLE PRECISION,
		dailyrainin  DOUBLE PRECISION,
		battout      DOUBLE PRECISION,
		tempinf      DOUBLE PRECISION,
		humidityin   DOUBLE PRECISION,
		gdd          DOUBLE PRECISION NOT NULL DEFAULT 0,
		is_synthetic BOOLEAN NOT NULL DEFAULT FALSE,
		source_tag   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_observed_at ON readings (observed_at)`,

	`CREATE TABLE IF NOT EXISTS cultivars (
		name                   TEXT PRIMARY KEY,
		heat_summation         INTEGER,
		biofix_date            TIMESTAMPTZ,
		gdd_since_biofix       DOUBLE PRECISION NOT NULL DEFAULT 0,
		trend_bud_break        TEXT NOT NULL DEFAULT '',
		hybrid_bud_break       TEXT NOT NULL DEFAULT '',
		hybrid_bud_break_range TEXT NOT NULL DEFAULT '',
		model_bud_break        TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS vineyard_pests (
		sequence_id     INTEGER PRIMARY KEY,
		common_name     TEXT NOT NULL,
		scientific_name TEXT NOT NULL DEFAULT '',
		dormant         BOOLEAN NOT NULL DEFAULT FALSE,
		stage           TEXT NOT NULL DEFAULT '',
		min_gdd         INTEGER,
		max_gdd         INTEGER
	)`,

	`CREATE TABLE IF NOT EXISTS sunspots (
		day         DATE PRIMARY KEY,
		year        INTEGER NOT NULL,
		month       INTEGER NOT NULL,
		day_of_month INTEGER NOT NULL,
		fraction    DOUBLE PRECISION,
		daily_total INTEGER,
		std_dev     DOUBLE PRECISION,
		num_obs     INTEGER,
		definitive  INTEGER
	)`,

	`CREATE TABLE IF NOT EXISTS training_samples (
		cultivar      TEXT NOT NULL,
		year          INTEGER NOT NULL,
		current_gdd   DOUBLE PRECISION NOT NULL,
		day_of_year   INTEGER NOT NULL,
		chill_hours   DOUBLE PRECISION NOT NULL,
		mean_gdd      DOUBLE PRECISION NOT NULL,
		std_gdd       DOUBLE PRECISION NOT NULL,
		remaining_gdd DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (cultivar, year, day_of_year)
	)`,

	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id                UUID PRIMARY KEY,
		started_at        TIMESTAMPTZ NOT NULL,
		finished_at       TIMESTAMPTZ,
		status            TEXT NOT NULL,
		days_processed    INTEGER NOT NULL DEFAULT 0,
		readings_inserted INTEGER NOT NULL DEFAULT 0,
		detail            TEXT
	)`,
}

// EnsureSchema creates any missing tables and indexes.
func EnsureSchema(ctx context.Context, db DBTX) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to apply schema statement", err)
		}
	}
	return nil
}
