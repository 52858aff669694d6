// Package main is the entry point for the vinewatch data pipeline.
//
// One pass runs the full chain: reference CSV imports, day-by-day telemetry
// acquisition (primary station, backup station, archive-assisted gap
// filling, forward forecast refresh), growing-degree-day recalculation,
// cultivar accumulation refresh, and the three bud-break projections. Each
// pass is recorded as a pipeline_runs row.
//
// By default the process runs a single pass and exits. When
// INGEST_RECALC_INTERVAL is positive the pass is re-run on that interval
// until the process receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	"vinewatch/internal/config"
	"vinewatch/internal/db"
	"vinewatch/internal/external"
	"vinewatch/internal/gdd"
	"vinewatch/internal/importer"
	"vinewatch/internal/ingest"
	"vinewatch/internal/phenology"
	"vinewatch/internal/types"
)

const userAgent = "vinewatch-pipeline/1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// pipeline bundles the long-lived components one pass executes against.
type pipeline struct {
	importer  *importer.Importer
	orch      *ingest.Orchestrator
	engine    *gdd.Engine
	projector *phenology.Projector
	runs      *db.RunRepository
	files     config.FilesConfig
	logger    *slog.Logger
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("vinewatch pipeline starting",
		"environment", cfg.Environment,
		"start_date", cfg.Ingest.StartDate,
		"recalc_interval", cfg.Ingest.RecalcInterval.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}

	readings := db.NewReadingRepository(pool)
	cultivars := db.NewCultivarRepository(pool)
	reference := db.NewReferenceRepository(pool)
	training := db.NewTrainingRepository(pool)
	runs := db.NewRunRepository(pool)

	station := external.NewStationClient(
		&http.Client{Timeout: cfg.Station.RequestTimeout},
		cfg.Station,
		logger,
	)
	archive := external.NewArchiveClient(
		external.NewBaseClient(
			&http.Client{Timeout: 30 * time.Second},
			"open-meteo",
			external.DefaultRetryPolicy(),
			userAgent,
		),
		cfg.Archive,
	)
	sunspotClient := external.NewBaseClient(
		&http.Client{Timeout: 60 * time.Second},
		"sidc-sunspots",
		external.DefaultRetryPolicy(),
		userAgent,
	)

	interp := ingest.NewInterpolator(readings, archive, cfg.Ingest.GapThreshold, logger)

	p := &pipeline{
		importer:  importer.NewImporter(cultivars, reference, cfg.Files, sunspotClient, logger),
		orch:      ingest.NewOrchestrator(station, archive, interp, readings, cfg.Station, cfg.Ingest, logger),
		engine:    gdd.NewEngine(readings, cultivars, logger),
		projector: phenology.NewProjector(readings, cultivars, training, cfg.Archive.ForecastDays, logger),
		runs:      runs,
		files:     cfg.Files,
		logger:    logger,
	}

	if cfg.Ingest.RecalcInterval <= 0 {
		return p.pass(ctx)
	}
	return runScheduled(ctx, p, cfg.Ingest.RecalcInterval, logger)
}

// runScheduled executes one pass immediately, then re-runs it on the given
// interval until the context is cancelled. A failed pass is logged and the
// schedule keeps going.
func runScheduled(ctx context.Context, p *pipeline, interval time.Duration, logger *slog.Logger) error {
	job := func() {
		if err := p.pass(ctx); err != nil {
			logger.Error("pipeline pass failed", "error", err)
		}
	}
	job()

	sched := gocron.NewScheduler(time.UTC)
	if _, err := sched.Every(interval).Do(job); err != nil {
		return fmt.Errorf("scheduling pipeline: %w", err)
	}
	sched.StartAsync()

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping scheduler")
	sched.Stop()
	return nil
}

// pass runs one complete pipeline execution and records it.
func (p *pipeline) pass(ctx context.Context) error {
	runID, err := p.runs.Create(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	p.logger.Info("pipeline pass started", "run_id", runID)

	// Reference imports are best-effort: a stale cultivar table should not
	// block telemetry acquisition.
	p.importer.Run(ctx)

	result, err := p.orch.Run(ctx)
	if err != nil {
		return p.fail(ctx, runID, result, err)
	}

	if err := p.recalculate(ctx); err != nil {
		return p.fail(ctx, runID, result, err)
	}
	if err := p.project(ctx); err != nil {
		return p.fail(ctx, runID, result, err)
	}

	if err := p.runs.Finish(ctx, runID, "completed", result.DaysProcessed, result.ReadingsInserted, ""); err != nil {
		return err
	}
	p.logger.Info("pipeline pass completed",
		"run_id", runID,
		"days_processed", result.DaysProcessed,
		"readings_inserted", result.ReadingsInserted,
	)
	return nil
}

// recalculate rewrites cumulative GDD totals and cultivar accumulations.
// The incremental pass runs first so a crash mid-recalculation still leaves
// usable totals; the reset-then-full pass then absorbs any rows ingestion
// inserted behind the incremental checkpoint.
func (p *pipeline) recalculate(ctx context.Context) error {
	if err := p.engine.Recalc(ctx, false); err != nil {
		return err
	}
	if err := p.engine.ResetAll(ctx); err != nil {
		return err
	}
	if err := p.engine.Recalc(ctx, true); err != nil {
		return err
	}
	return p.engine.RecalcCultivars(ctx, time.Now().UTC().Year())
}

// project refreshes the three bud-break projections. The learned model is
// loaded from its artifact when present and trained from scratch otherwise;
// a freshly trained model is persisted for the next pass.
func (p *pipeline) project(ctx context.Context) error {
	if err := p.projector.ProjectTrend(ctx); err != nil {
		return err
	}
	if err := p.projector.ProjectHybrid(ctx); err != nil {
		return err
	}

	model, err := phenology.LoadModel(p.files.ModelArtifact)
	if err != nil {
		return err
	}
	if model == nil {
		features, labels, buildErr := p.projector.BuildTrainingData(ctx)
		if buildErr != nil {
			var appErr *types.AppError
			if errors.As(buildErr, &appErr) && appErr.Code == types.ErrCodeModelNoTrainingData {
				// Without historical crossings there is nothing to train
				// on; the trend and hybrid projections above still stand.
				p.logger.Warn("skipping learned projection", "error", buildErr)
				return nil
			}
			return buildErr
		}
		model, err = phenology.Train(features, labels, phenology.DefaultTrainParams())
		if err != nil {
			return err
		}
		if err := phenology.SaveModel(p.files.ModelArtifact, model); err != nil {
			return err
		}
		p.logger.Info("trained learned model", "samples", len(labels), "artifact", p.files.ModelArtifact)
	}
	return p.projector.ProjectLearned(ctx, model)
}

// fail finalizes the run row with the error before returning it.
func (p *pipeline) fail(ctx context.Context, runID string, result ingest.Result, cause error) error {
	if err := p.runs.Finish(ctx, runID, "failed", result.DaysProcessed, result.ReadingsInserted, cause.Error()); err != nil {
		p.logger.Error("failed to finalize run row", "run_id", runID, "error", err)
	}
	return cause
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
