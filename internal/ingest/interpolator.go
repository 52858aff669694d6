// Package ingest drives the per-day acquisition cascade that keeps the
// 5-minute reading grid complete: station fetch, backup station, secondary
// archive backfill, and finally linear interpolation across whatever gaps
// remain.
package ingest

import (
	"context"
	"log/slog"
	"math"
	"time"

	"vinewatch/internal/db"
	"vinewatch/internal/external"
	"vinewatch/internal/types"
)

// ReadingStore is the slice of the reading repository ingestion needs.
// Satisfied by *db.ReadingRepository.
type ReadingStore interface {
	CountValidForDay(ctx context.Context, dayStart int64) (int, error)
	ListDayTemps(ctx context.Context, dayStart int64) ([]db.TempPoint, error)
	LatestTempBefore(ctx context.Context, ts int64) (*db.TempPoint, error)
	EarliestTempAfter(ctx context.Context, ts int64) (*db.TempPoint, error)
	InsertBatch(ctx context.Context, readings []types.Reading) (int64, error)
	BackfillTemperature(ctx context.Context, ts int64, tempF float64, sourceTag string) (bool, error)
	DeleteFrom(ctx context.Context, ts int64) (int64, error)
}

// ArchiveSource is the secondary weather archive. Satisfied by
// *external.ArchiveClient.
type ArchiveSource interface {
	FetchHistorical(ctx context.Context, day time.Time) ([]external.HourlyTemp, error)
	FetchForecast(ctx context.Context) ([]external.HourlyTemp, error)
}

// Interpolator fills the gaps left on a day's grid after the station
// sources have been tried. Interpolated rows are tagged synthetic and never
// replace a reading holding a real temperature.
type Interpolator struct {
	readings     ReadingStore
	archive      ArchiveSource
	gapThreshold time.Duration
	logger       *slog.Logger
}

// NewInterpolator creates an Interpolator. gapThreshold is the largest gap
// bridged by pure interpolation; anything wider escalates to the archive
// before interpolating.
func NewInterpolator(readings ReadingStore, archive ArchiveSource, gapThreshold time.Duration, logger *slog.Logger) *Interpolator {
	return &Interpolator{
		readings:     readings,
		archive:      archive,
		gapThreshold: gapThreshold,
		logger:       logger,
	}
}

// roundTenth rounds to one decimal place, matching the precision of the
// station's own reports so synthetic values are indistinguishable in width.
func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// FillDay completes the day's grid. Whether a day needs filling at all is
// the caller's decision; FillDay itself synthesizes every empty slot it can
// anchor, so re-running on a filled day inserts nothing.
//
// Steps:
//  1. Collect the day's valid points plus the nearest valid neighbors
//     outside the day as boundary anchors.
//  2. If any gap between consecutive known points exceeds the threshold,
//     backfill the day from the secondary archive first.
//  3. Linearly interpolate every remaining empty slot; slots before the
//     first known point or after the last extend flat from the nearest one.
//
// Returns the number of synthetic rows inserted. A day with no known points
// at all, and nothing adjacent to anchor on, is skipped.
func (ip *Interpolator) FillDay(ctx context.Context, day time.Time) (int, error) {
	dayStart := types.DayStart(day)
	startTS := dayStart.Unix()

	points, err := ip.readings.ListDayTemps(ctx, startTS)
	if err != nil {
		return 0, err
	}

	before, err := ip.readings.LatestTempBefore(ctx, startTS)
	if err != nil {
		return 0, err
	}
	after, err := ip.readings.EarliestTempAfter(ctx, startTS+86400)
	if err != nil {
		return 0, err
	}

	if ip.widestGap(startTS, points, before, after) > ip.gapThreshold {
		n, err := ip.backfillFromArchive(ctx, dayStart)
		if err != nil {
			// Archive failure is not fatal: interpolate across what exists.
			ip.logger.Warn("archive backfill failed, interpolating across gap",
				"day", dayStart.Format("2006-01-02"),
				"error", err,
			)
		} else if n > 0 {
			points, err = ip.readings.ListDayTemps(ctx, startTS)
			if err != nil {
				return 0, err
			}
		}
	}

	known := points
	if before != nil {
		known = append([]db.TempPoint{*before}, known...)
	}
	if after != nil {
		known = append(known, *after)
	}
	if len(known) == 0 {
		ip.logger.Warn("no readings to anchor interpolation, skipping day",
			"day", dayStart.Format("2006-01-02"))
		return 0, nil
	}

	synthetic := ip.synthesize(startTS, points, known)
	if len(synthetic) == 0 {
		return 0, nil
	}

	inserted, err := ip.readings.InsertBatch(ctx, synthetic)
	if err != nil {
		return 0, err
	}

	// Slots that already had a temperature-less row are filled in place.
	if inserted < int64(len(synthetic)) {
		for _, s := range synthetic {
			if _, err := ip.readings.BackfillTemperature(ctx, s.Timestamp, *s.TempF, s.SourceTag); err != nil {
				return int(inserted), err
			}
		}
	}

	ip.logger.Info("day interpolated",
		"day", dayStart.Format("2006-01-02"),
		"known", len(points),
		"synthesized", len(synthetic),
	)
	return int(inserted), nil
}

// widestGap returns the largest interval between consecutive known points,
// measuring the day edges against the boundary anchors when present.
func (ip *Interpolator) widestGap(startTS int64, points []db.TempPoint, before, after *db.TempPoint) time.Duration {
	endTS := startTS + 86400

	seq := make([]int64, 0, len(points)+2)
	if before != nil {
		seq = append(seq, before.Timestamp)
	} else {
		seq = append(seq, startTS)
	}
	for _, p := range points {
		seq = append(seq, p.Timestamp)
	}
	if after != nil {
		seq = append(seq, after.Timestamp)
	} else {
		seq = append(seq, endTS)
	}

	var widest int64
	for i := 1; i < len(seq); i++ {
		if g := seq[i] - seq[i-1]; g > widest {
			widest = g
		}
	}
	return time.Duration(widest) * time.Second
}

// backfillFromArchive inserts the archive's hourly temperatures for the day
// as synthetic secondary-source rows, snapped to the grid.
func (ip *Interpolator) backfillFromArchive(ctx context.Context, day time.Time) (int64, error) {
	hourly, err := ip.archive.FetchHistorical(ctx, day)
	if err != nil {
		return 0, err
	}

	startTS := day.Unix()
	endTS := startTS + 86400

	var rows []types.Reading
	for _, h := range hourly {
		if h.Timestamp < startTS || h.Timestamp >= endTS {
			continue
		}
		slot := types.SnapToSlot(h.Timestamp, startTS)
		temp := h.TempF
		rows = append(rows, types.Reading{
			Timestamp:   slot,
			ObservedAt:  time.Unix(slot, 0).UTC(),
			TempF:       &temp,
			IsSynthetic: true,
			SourceTag:   types.SourceSecondary,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	inserted, err := ip.readings.InsertBatch(ctx, rows)
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		if _, err := ip.readings.BackfillTemperature(ctx, r.Timestamp, *r.TempF, r.SourceTag); err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

// synthesize produces a synthetic reading for every empty grid slot. points
// are the day's own known slots; known additionally carries the boundary
// anchors and must be sorted and non-empty.
func (ip *Interpolator) synthesize(startTS int64, points []db.TempPoint, known []db.TempPoint) []types.Reading {
	occupied := make(map[int64]bool, len(points))
	for _, p := range points {
		occupied[types.SnapToSlot(p.Timestamp, startTS)] = true
	}

	var out []types.Reading
	for i := 0; i < types.SamplesPerDay; i++ {
		slot := startTS + int64(i)*types.SampleIntervalSeconds
		if occupied[slot] {
			continue
		}

		temp, ok := interpolateAt(slot, known)
		if !ok {
			continue
		}
		t := roundTenth(temp)
		out = append(out, types.Reading{
			Timestamp:   slot,
			ObservedAt:  time.Unix(slot, 0).UTC(),
			TempF:       &t,
			IsSynthetic: true,
			SourceTag:   types.SourceInterpolated,
		})
	}
	return out
}

// interpolateAt linearly interpolates the temperature at ts between the
// surrounding known points. Slots outside the known range extend flat from
// the nearest point.
func interpolateAt(ts int64, known []db.TempPoint) (float64, bool) {
	if len(known) == 0 {
		return 0, false
	}
	if ts <= known[0].Timestamp {
		return known[0].TempF, true
	}
	last := known[len(known)-1]
	if ts >= last.Timestamp {
		return last.TempF, true
	}

	for i := 1; i < len(known); i++ {
		if known[i].Timestamp >= ts {
			prev, next := known[i-1], known[i]
			if next.Timestamp == prev.Timestamp {
				return prev.TempF, true
			}
			frac := float64(ts-prev.Timestamp) / float64(next.Timestamp-prev.Timestamp)
			return prev.TempF + (next.TempF-prev.TempF)*frac, true
		}
	}
	return last.TempF, true
}
