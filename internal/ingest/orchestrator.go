package ingest

import (
	"context"
	"log/slog"
	"time"

	"vinewatch/internal/config"
	"vinewatch/internal/external"
	"vinewatch/internal/types"
)

// StationSource is the primary telemetry fetcher. Satisfied by
// *external.StationClient.
type StationSource interface {
	Fetch(ctx context.Context, mac string, endDate time.Time) (*external.FetchOutcome, error)
}

// Result summarizes one ingestion pass.
type Result struct {
	DaysProcessed    int
	ReadingsInserted int
}

// Orchestrator walks the configured date range day by day and runs the
// acquisition cascade for each incomplete day: primary station, backup
// station, then interpolation (which itself escalates to the archive for
// wide gaps). It finishes by replacing the forward forecast horizon.
type Orchestrator struct {
	station    StationSource
	archive    ArchiveSource
	interp     *Interpolator
	readings   ReadingStore
	stationCfg config.StationConfig
	ingestCfg  config.IngestConfig
	logger     *slog.Logger
	now        func() time.Time
}

// OrchestratorOption is a functional option for configuring an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithClock overrides the wall clock. This is intended for testing.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator wires the cascade's sources together.
func NewOrchestrator(
	station StationSource,
	archive ArchiveSource,
	interp *Interpolator,
	readings ReadingStore,
	stationCfg config.StationConfig,
	ingestCfg config.IngestConfig,
	logger *slog.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		station:    station,
		archive:    archive,
		interp:     interp,
		readings:   readings,
		stationCfg: stationCfg,
		ingestCfg:  ingestCfg,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one full ingestion pass: every historical day from the
// configured start date through yesterday, then the forecast horizon. The
// current day is covered by the forecast until it turns historical on the
// next pass.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	var res Result

	start, err := o.ingestCfg.StartDay()
	if err != nil {
		return res, types.NewAppError(types.ErrCodeValidationDate, "invalid ingestion start date", err)
	}

	today := types.DayStart(o.now())
	for day := types.DayStart(start); day.Before(today); day = day.AddDate(0, 0, 1) {
		inserted, err := o.processDay(ctx, day)
		if err != nil {
			return res, err
		}
		res.DaysProcessed++
		res.ReadingsInserted += inserted
	}

	n, err := o.refreshForecast(ctx)
	if err != nil {
		return res, err
	}
	res.ReadingsInserted += n

	return res, nil
}

// processDay runs the cascade for one UTC day.
func (o *Orchestrator) processDay(ctx context.Context, day time.Time) (int, error) {
	startTS := day.Unix()

	valid, err := o.readings.CountValidForDay(ctx, startTS)
	if err != nil {
		return 0, err
	}
	if valid >= types.DayCompleteThreshold {
		return 0, nil
	}

	total := 0
	for _, mac := range []string{o.stationCfg.MACAddress, o.stationCfg.BackupMACAddress} {
		if mac == "" {
			continue
		}
		inserted, err := o.fetchStationDay(ctx, mac, day)
		if err != nil {
			return total, err
		}
		total += inserted

		valid, err = o.readings.CountValidForDay(ctx, startTS)
		if err != nil {
			return total, err
		}
		if valid >= types.DayCompleteThreshold {
			break
		}
	}

	if valid < types.DayCompleteThreshold {
		filled, err := o.interp.FillDay(ctx, day)
		if err != nil {
			return total, err
		}
		total += filled
	}

	return total, nil
}

// fetchStationDay pulls one day's batch from a station and stores it on the
// grid. Terminal non-success outcomes are logged and yield zero rows; the
// cascade simply moves on.
func (o *Orchestrator) fetchStationDay(ctx context.Context, mac string, day time.Time) (int, error) {
	endDate := day.AddDate(0, 0, 1)

	outcome, err := o.station.Fetch(ctx, mac, endDate)
	if err != nil {
		return 0, err
	}
	if outcome.Status != external.FetchSuccess {
		o.logger.Info("station yielded no data for day",
			"mac", mac,
			"day", day.Format("2006-01-02"),
			"status", outcome.Status.String(),
		)
		return 0, nil
	}

	rows := o.snapSamples(outcome.Samples, day, mac)
	if len(rows) == 0 {
		return 0, nil
	}

	inserted, err := o.readings.InsertBatch(ctx, rows)
	if err != nil {
		return 0, err
	}

	// Rows that pre-exist without a temperature are filled in place; a
	// stored temperature is never overwritten.
	if inserted < int64(len(rows)) {
		for _, r := range rows {
			if r.TempF == nil {
				continue
			}
			if _, err := o.readings.BackfillTemperature(ctx, r.Timestamp, *r.TempF, r.SourceTag); err != nil {
				return int(inserted), err
			}
		}
	}
	return int(inserted), nil
}

// snapSamples converts station samples to grid readings for the given day.
// Samples outside the day are dropped; when several samples land on one
// slot, the first wins.
func (o *Orchestrator) snapSamples(samples []external.StationSample, day time.Time, sourceTag string) []types.Reading {
	startTS := day.Unix()
	endTS := startTS + 86400

	seen := make(map[int64]bool, len(samples))
	var rows []types.Reading
	for _, s := range samples {
		r := s.ToReading(sourceTag)
		if r.Timestamp < startTS || r.Timestamp >= endTS {
			continue
		}
		slot := types.SnapToSlot(r.Timestamp, startTS)
		if seen[slot] {
			continue
		}
		seen[slot] = true
		r.Timestamp = slot
		r.ObservedAt = time.Unix(slot, 0).UTC()
		rows = append(rows, r)
	}
	return rows
}

// refreshForecast replaces everything from today's midnight onward with the
// archive's forward forecast, expanded from hourly to the 5-minute grid.
// The wipe-then-append keeps exactly one forecast horizon in the table;
// rows before today are never touched.
func (o *Orchestrator) refreshForecast(ctx context.Context) (int, error) {
	todayStart := types.DayStart(o.now()).Unix()

	if _, err := o.readings.DeleteFrom(ctx, todayStart); err != nil {
		return 0, err
	}

	hourly, err := o.archive.FetchForecast(ctx)
	if err != nil {
		return 0, err
	}

	rows := expandHourly(hourly, todayStart)
	if len(rows) == 0 {
		return 0, nil
	}

	inserted, err := o.readings.InsertBatch(ctx, rows)
	if err != nil {
		return 0, err
	}
	o.logger.Info("forecast horizon refreshed", "rows", inserted)
	return int(inserted), nil
}

// expandHourly linearly interpolates hourly forecast temperatures onto the
// 5-minute grid, emitting only slots at or after fromTS.
func expandHourly(hourly []external.HourlyTemp, fromTS int64) []types.Reading {
	if len(hourly) == 0 {
		return nil
	}

	var rows []types.Reading
	emit := func(ts int64, temp float64) {
		if ts < fromTS {
			return
		}
		t := roundTenth(temp)
		rows = append(rows, types.Reading{
			Timestamp:   ts,
			ObservedAt:  time.Unix(ts, 0).UTC(),
			TempF:       &t,
			IsSynthetic: true,
			SourceTag:   types.SourceSecondary,
		})
	}

	for i := 0; i < len(hourly)-1; i++ {
		cur, next := hourly[i], hourly[i+1]
		span := next.Timestamp - cur.Timestamp
		if span <= 0 {
			continue
		}
		for ts := cur.Timestamp; ts < next.Timestamp; ts += types.SampleIntervalSeconds {
			frac := float64(ts-cur.Timestamp) / float64(span)
			emit(ts, cur.TempF+(next.TempF-cur.TempF)*frac)
		}
	}
	emit(hourly[len(hourly)-1].Timestamp, hourly[len(hourly)-1].TempF)

	return rows
}
