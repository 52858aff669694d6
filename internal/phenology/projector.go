// Package phenology projects bud-break dates for each cultivar from the
// accumulated growing-degree-day record. Three independent strategies write
// three separate prediction columns; a cultivar that cannot be scored by one
// strategy is skipped by it without affecting the others.
package phenology

import (
	"context"
	"log/slog"
	"time"

	"vinewatch/internal/db"
	"vinewatch/internal/types"
)

// ReadingStore is the slice of the reading repository the projection models
// consume.
type ReadingStore interface {
	DistinctYears(ctx context.Context) ([]int, error)
	FirstCrossing(ctx context.Context, year int, threshold float64, notBefore int64) (int64, float64, bool, error)
	MaxGDDSince(ctx context.Context, fromTS, toTS int64) (float64, error)
	ChillIntervalCount(ctx context.Context, fromTS, toTS int64, lowC, highC float64) (int, error)
	DailyAverageTempC(ctx context.Context) (map[int]float64, error)
}

// CultivarStore reads the cultivar roster and records predictions.
type CultivarStore interface {
	List(ctx context.Context) ([]*types.Cultivar, error)
	SetTrendPrediction(ctx context.Context, name string, date string) error
	SetHybridPrediction(ctx context.Context, name string, date, dateRange string) error
	SetModelPrediction(ctx context.Context, name string, date string) error
}

// TrainingStore caches assembled training samples so repeated runs do not
// re-derive them from the readings table.
type TrainingStore interface {
	Upsert(ctx context.Context, s types.TrainingSample) error
	List(ctx context.Context) ([]types.TrainingSample, error)
}

var _ ReadingStore = (*db.ReadingRepository)(nil)
var _ CultivarStore = (*db.CultivarRepository)(nil)
var _ TrainingStore = (*db.TrainingRepository)(nil)

// Projector holds the shared dependencies of the three projection models.
type Projector struct {
	readings     ReadingStore
	cultivars    CultivarStore
	training     TrainingStore
	logger       *slog.Logger
	forecastDays int
	now          func() time.Time
}

// ProjectorOption customizes a Projector.
type ProjectorOption func(*Projector)

// WithClock overrides the time source, letting tests pin "today".
func WithClock(now func() time.Time) ProjectorOption {
	return func(p *Projector) {
		p.now = now
	}
}

// NewProjector creates a Projector over the given stores. forecastDays is
// the length of the forecast horizon already merged into the readings table.
func NewProjector(readings ReadingStore, cultivars CultivarStore, training TrainingStore, forecastDays int, logger *slog.Logger, opts ...ProjectorOption) *Projector {
	p := &Projector{
		readings:     readings,
		cultivars:    cultivars,
		training:     training,
		logger:       logger,
		forecastDays: forecastDays,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// crossing is one historical year's first threshold crossing.
type crossing struct {
	year int
	doy  int
	gdd  float64
}

// historicalYears returns the recorded years strictly before the current one.
func (p *Projector) historicalYears(ctx context.Context, currentYear int) ([]int, error) {
	years, err := p.readings.DistinctYears(ctx)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, y := range years {
		if y < currentYear {
			out = append(out, y)
		}
	}
	return out, nil
}

// crossingFor finds the first time the given year's accumulation, measured
// from the cultivar's biofix, reaches the threshold. The stored cumulative
// totals are calendar-year anchored, so the accumulation already banked
// before the biofix is added to the threshold before searching.
func (p *Projector) crossingFor(ctx context.Context, c *types.Cultivar, year int, threshold float64) (*crossing, error) {
	yearStart := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	biofixTS := c.Biofix(year).Unix()

	baseline, err := p.readings.MaxGDDSince(ctx, yearStart, biofixTS)
	if err != nil {
		return nil, err
	}

	ts, gdd, found, err := p.readings.FirstCrossing(ctx, year, baseline+threshold, biofixTS)
	if err != nil || !found {
		return nil, err
	}
	return &crossing{
		year: year,
		doy:  time.Unix(ts, 0).UTC().YearDay(),
		gdd:  gdd,
	}, nil
}

// maxGDDBefore returns the year's cumulative total as of the end of the
// given date (exclusive upper bound at the next midnight).
func (p *Projector) maxGDDBefore(ctx context.Context, year int, d time.Time) (float64, error) {
	yearStart := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	cutoff := types.DayStart(d).AddDate(0, 0, 1).Unix()
	return p.readings.MaxGDDSince(ctx, yearStart, cutoff)
}

// seasonChillHours counts the dormancy-season chill hours leading into the
// given year: 5-minute samples between 0 and 7 degrees Celsius from the
// previous September through the end of February.
func (p *Projector) seasonChillHours(ctx context.Context, year int) (float64, error) {
	from := time.Date(year-1, time.September, 1, 0, 0, 0, 0, time.UTC).Unix()
	to := time.Date(year, time.March, 1, 0, 0, 0, 0, time.UTC).Unix()
	n, err := p.readings.ChillIntervalCount(ctx, from, to, 0, 7)
	if err != nil {
		return 0, err
	}
	return float64(n) * float64(types.SampleIntervalSeconds) / 3600.0, nil
}

// doyToDate converts a day-of-year back to a calendar date in the given year.
func doyToDate(year int, doy float64) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, int(doy)-1)
}

func clampDOY(doy float64) float64 {
	if doy < 1 {
		return 1
	}
	if doy > 366 {
		return 366
	}
	return doy
}
