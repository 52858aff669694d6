package ingest

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"vinewatch/internal/db"
	"vinewatch/internal/external"
	"vinewatch/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory ReadingStore keyed by grid timestamp.
type memStore struct {
	rows map[int64]types.Reading
}

func newMemStore() *memStore {
	return &memStore{rows: map[int64]types.Reading{}}
}

func (m *memStore) put(ts int64, tempF float64, tag string) {
	t := tempF
	m.rows[ts] = types.Reading{
		Timestamp:  ts,
		ObservedAt: time.Unix(ts, 0).UTC(),
		TempF:      &t,
		SourceTag:  tag,
	}
}

func (m *memStore) CountValidForDay(_ context.Context, dayStart int64) (int, error) {
	count := 0
	for ts, r := range m.rows {
		if ts >= dayStart && ts < dayStart+86400 && r.TempF != nil {
			count++
		}
	}
	return count, nil
}

func (m *memStore) ListDayTemps(_ context.Context, dayStart int64) ([]db.TempPoint, error) {
	var out []db.TempPoint
	for ts, r := range m.rows {
		if ts >= dayStart && ts < dayStart+86400 && r.TempF != nil {
			out = append(out, db.TempPoint{Timestamp: ts, TempF: *r.TempF})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (m *memStore) LatestTempBefore(_ context.Context, ts int64) (*db.TempPoint, error) {
	var best *db.TempPoint
	for t, r := range m.rows {
		if t < ts && r.TempF != nil && (best == nil || t > best.Timestamp) {
			best = &db.TempPoint{Timestamp: t, TempF: *r.TempF}
		}
	}
	return best, nil
}

func (m *memStore) EarliestTempAfter(_ context.Context, ts int64) (*db.TempPoint, error) {
	var best *db.TempPoint
	for t, r := range m.rows {
		if t >= ts && r.TempF != nil && (best == nil || t < best.Timestamp) {
			best = &db.TempPoint{Timestamp: t, TempF: *r.TempF}
		}
	}
	return best, nil
}

func (m *memStore) InsertBatch(_ context.Context, readings []types.Reading) (int64, error) {
	var inserted int64
	for _, r := range readings {
		if _, exists := m.rows[r.Timestamp]; exists {
			continue
		}
		m.rows[r.Timestamp] = r
		inserted++
	}
	return inserted, nil
}

func (m *memStore) BackfillTemperature(_ context.Context, ts int64, tempF float64, sourceTag string) (bool, error) {
	r, exists := m.rows[ts]
	if !exists || r.TempF != nil {
		return false, nil
	}
	r.TempF = &tempF
	r.SourceTag = sourceTag
	m.rows[ts] = r
	return true, nil
}

func (m *memStore) DeleteFrom(_ context.Context, ts int64) (int64, error) {
	var deleted int64
	for t := range m.rows {
		if t >= ts {
			delete(m.rows, t)
			deleted++
		}
	}
	return deleted, nil
}

// fakeArchive serves canned hourly temperatures and records calls.
type fakeArchive struct {
	historical      []external.HourlyTemp
	forecast        []external.HourlyTemp
	historicalErr   error
	historicalCalls int
	forecastCalls   int
}

func (f *fakeArchive) FetchHistorical(context.Context, time.Time) ([]external.HourlyTemp, error) {
	f.historicalCalls++
	if f.historicalErr != nil {
		return nil, f.historicalErr
	}
	return f.historical, nil
}

func (f *fakeArchive) FetchForecast(context.Context) ([]external.HourlyTemp, error) {
	f.forecastCalls++
	return f.forecast, nil
}

// hourlyRamp builds one day of hourly archive temperatures rising from 45F.
func hourlyRamp(startTS int64) []external.HourlyTemp {
	out := make([]external.HourlyTemp, 24)
	for h := 0; h < 24; h++ {
		out[h] = external.HourlyTemp{Timestamp: startTS + int64(h)*3600, TempF: 45 + float64(h)*0.5}
	}
	return out
}

// fakeStation returns a canned outcome per MAC and records fetch order.
type fakeStation struct {
	outcomes map[string]*external.FetchOutcome
	fetched  []string
}

func (f *fakeStation) Fetch(_ context.Context, mac string, _ time.Time) (*external.FetchOutcome, error) {
	f.fetched = append(f.fetched, mac)
	if o, ok := f.outcomes[mac]; ok {
		return o, nil
	}
	return &external.FetchOutcome{Status: external.FetchNotFound}, nil
}
