// Package gdd implements growing-degree-day accumulation over the 5-minute
// reading grid. The cumulative total restarts at zero every calendar year
// and carries forward across rows with missing temperatures.
package gdd

import (
	"context"
	"log/slog"
	"time"

	"vinewatch/internal/db"
	"vinewatch/internal/types"
)

// updateChunkSize bounds the number of rows flushed per UPDATE statement.
const updateChunkSize = 1000

// Increment returns the GDD contribution of a single 5-minute sample at the
// given Fahrenheit temperature. Temperatures at or below the base contribute
// nothing; heat never subtracts.
func Increment(tempF float64) float64 {
	tempC := (tempF - 32) * 5.0 / 9.0
	inc := (tempC - types.BaseTempC) / float64(types.SamplesPerDay)
	if inc < 0 {
		return 0
	}
	return inc
}

// ReadingStore is the slice of the reading repository the engine needs.
// Satisfied by *db.ReadingRepository.
type ReadingStore interface {
	DistinctYears(ctx context.Context) ([]int, error)
	Checkpoint(ctx context.Context, year int) (int64, float64, bool, error)
	ListYearRows(ctx context.Context, year int, afterTS int64) ([]db.GDDRow, error)
	UpdateGDDBatch(ctx context.Context, updates []db.GDDUpdate) error
	ResetAllGDD(ctx context.Context) error
	MaxGDDSince(ctx context.Context, fromTS, toTS int64) (float64, error)
	ChillIntervalCount(ctx context.Context, fromTS, toTS int64, lowC, highC float64) (int, error)
}

// CultivarStore is the slice of the cultivar repository the engine needs.
// Satisfied by *db.CultivarRepository.
type CultivarStore interface {
	List(ctx context.Context) ([]*types.Cultivar, error)
	UpdateAccumulation(ctx context.Context, name string, gddSinceBiofix float64) error
}

// Engine recomputes cumulative GDD totals and cultivar accumulations.
type Engine struct {
	readings  ReadingStore
	cultivars CultivarStore
	logger    *slog.Logger
}

// NewEngine creates an Engine over the given stores.
func NewEngine(readings ReadingStore, cultivars CultivarStore, logger *slog.Logger) *Engine {
	return &Engine{readings: readings, cultivars: cultivars, logger: logger}
}

// Recalc rewrites the cumulative GDD column year by year.
//
// In incremental mode (full=false) each year resumes from its newest row
// that already carries a non-zero total, so only rows appended since the
// last pass are touched. In full mode every row of every year is
// recomputed from zero; callers normally ResetAll first so stale totals
// cannot survive on rows the listing no longer reaches.
func (e *Engine) Recalc(ctx context.Context, full bool) error {
	years, err := e.readings.DistinctYears(ctx)
	if err != nil {
		return err
	}

	for _, year := range years {
		if err := e.recalcYear(ctx, year, full); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) recalcYear(ctx context.Context, year int, full bool) error {
	var running float64
	afterTS := int64(-1)

	if !full {
		ts, gdd, found, err := e.readings.Checkpoint(ctx, year)
		if err != nil {
			return err
		}
		if found {
			running = gdd
			afterTS = ts
		}
	}

	rows, err := e.readings.ListYearRows(ctx, year, afterTS)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	updates := make([]db.GDDUpdate, 0, updateChunkSize)
	for _, row := range rows {
		if row.TempF != nil {
			running += Increment(*row.TempF)
		}
		updates = append(updates, db.GDDUpdate{Timestamp: row.Timestamp, GDD: running})

		if len(updates) == updateChunkSize {
			if err := e.readings.UpdateGDDBatch(ctx, updates); err != nil {
				return err
			}
			updates = updates[:0]
		}
	}
	if err := e.readings.UpdateGDDBatch(ctx, updates); err != nil {
		return err
	}

	e.logger.Info("accumulation pass complete",
		"year", year,
		"rows", len(rows),
		"full", full,
		"final_gdd", running,
	)
	return nil
}

// ResetAll zeroes every cumulative total, preparing for a full Recalc.
func (e *Engine) ResetAll(ctx context.Context) error {
	return e.readings.ResetAllGDD(ctx)
}

// RecalcCultivars refreshes each cultivar's biofix-anchored total for the
// given year. The total is the year's cumulative GDD high-water mark minus
// the cumulative value at the cultivar's biofix, so a cultivar without a
// biofix date accumulates from January 1.
func (e *Engine) RecalcCultivars(ctx context.Context, year int) error {
	cultivars, err := e.cultivars.List(ctx)
	if err != nil {
		return err
	}

	yearStart := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	yearEnd := time.Date(year+1, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

	for _, c := range cultivars {
		biofixTS := c.Biofix(year).Unix()

		baseline, err := e.readings.MaxGDDSince(ctx, yearStart, biofixTS)
		if err != nil {
			return err
		}
		current, err := e.readings.MaxGDDSince(ctx, yearStart, yearEnd)
		if err != nil {
			return err
		}

		since := current - baseline
		if since < 0 {
			since = 0
		}
		if err := e.cultivars.UpdateAccumulation(ctx, c.Name, since); err != nil {
			return err
		}
	}
	return nil
}

// ChillHours returns the dormant-season chill hours feeding the learned
// model: the hours between September 1 of the previous year and March 1 of
// the given year during which the temperature sat in the 0-7 Celsius chill
// band. Each qualifying 5-minute sample contributes one twelfth of an hour.
func (e *Engine) ChillHours(ctx context.Context, year int) (float64, error) {
	from := time.Date(year-1, time.September, 1, 0, 0, 0, 0, time.UTC).Unix()
	to := time.Date(year, time.March, 1, 0, 0, 0, 0, time.UTC).Unix()

	count, err := e.readings.ChillIntervalCount(ctx, from, to, 0, 7)
	if err != nil {
		return 0, err
	}
	return float64(count) * 5.0 / 60.0, nil
}
