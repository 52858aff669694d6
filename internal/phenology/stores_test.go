package phenology

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"vinewatch/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type gddPoint struct {
	ts  int64
	gdd float64
}

// fakeReadings serves a hand-built cumulative GDD record plus fixed chill
// and temperature-curve answers.
type fakeReadings struct {
	points     []gddPoint
	chillCount int
	avgC       map[int]float64
}

// add records one cumulative total at the start of the given UTC date.
func (f *fakeReadings) add(year int, month time.Month, day int, gdd float64) {
	ts := time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Unix()
	f.points = append(f.points, gddPoint{ts: ts, gdd: gdd})
	sort.Slice(f.points, func(i, j int) bool { return f.points[i].ts < f.points[j].ts })
}

func boundsOf(year int) (int64, int64) {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).Unix(),
		time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
}

func (f *fakeReadings) DistinctYears(context.Context) ([]int, error) {
	seen := map[int]bool{}
	var years []int
	for _, p := range f.points {
		y := time.Unix(p.ts, 0).UTC().Year()
		if !seen[y] {
			seen[y] = true
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

func (f *fakeReadings) FirstCrossing(_ context.Context, year int, threshold float64, notBefore int64) (int64, float64, bool, error) {
	start, end := boundsOf(year)
	if notBefore > start {
		start = notBefore
	}
	for _, p := range f.points {
		if p.ts >= start && p.ts < end && p.gdd >= threshold {
			return p.ts, p.gdd, true, nil
		}
	}
	return 0, 0, false, nil
}

func (f *fakeReadings) MaxGDDSince(_ context.Context, fromTS, toTS int64) (float64, error) {
	var maxGDD float64
	for _, p := range f.points {
		if p.ts >= fromTS && p.ts < toTS && p.gdd > maxGDD {
			maxGDD = p.gdd
		}
	}
	return maxGDD, nil
}

func (f *fakeReadings) ChillIntervalCount(_ context.Context, _, _ int64, _, _ float64) (int, error) {
	return f.chillCount, nil
}

func (f *fakeReadings) DailyAverageTempC(context.Context) (map[int]float64, error) {
	if f.avgC != nil {
		return f.avgC, nil
	}
	// A flat 12 degree climate: 2.0 expected GDD per day.
	curve := make(map[int]float64, 366)
	for d := 1; d <= 366; d++ {
		curve[d] = 12.0
	}
	return curve, nil
}

type fakeCultivars struct {
	cultivars   []*types.Cultivar
	trend       map[string]string
	hybrid      map[string]string
	hybridRange map[string]string
	model       map[string]string
}

func newFakeCultivars(cultivars ...*types.Cultivar) *fakeCultivars {
	return &fakeCultivars{
		cultivars:   cultivars,
		trend:       map[string]string{},
		hybrid:      map[string]string{},
		hybridRange: map[string]string{},
		model:       map[string]string{},
	}
}

func (f *fakeCultivars) List(context.Context) ([]*types.Cultivar, error) {
	return f.cultivars, nil
}

func (f *fakeCultivars) SetTrendPrediction(_ context.Context, name, date string) error {
	f.trend[name] = date
	return nil
}

func (f *fakeCultivars) SetHybridPrediction(_ context.Context, name, date, dateRange string) error {
	f.hybrid[name] = date
	f.hybridRange[name] = dateRange
	return nil
}

func (f *fakeCultivars) SetModelPrediction(_ context.Context, name, date string) error {
	f.model[name] = date
	return nil
}

type fakeTraining struct {
	samples map[string]types.TrainingSample
	upserts int
}

func newFakeTraining() *fakeTraining {
	return &fakeTraining{samples: map[string]types.TrainingSample{}}
}

func (f *fakeTraining) Upsert(_ context.Context, s types.TrainingSample) error {
	f.upserts++
	f.samples[fmt.Sprintf("%s|%d", s.Cultivar, s.Year)] = s
	return nil
}

func (f *fakeTraining) List(context.Context) ([]types.TrainingSample, error) {
	out := make([]types.TrainingSample, 0, len(f.samples))
	for _, s := range f.samples {
		out = append(out, s)
	}
	return out, nil
}

func intPtr(v int) *int { return &v }

func fixedClock(year int, month time.Month, day int) ProjectorOption {
	return WithClock(func() time.Time {
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	})
}
