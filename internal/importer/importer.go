// Package importer loads the static reference tables: cultivar heat-summation
// thresholds, vineyard pest lifecycle windows, and the SIDC daily sunspot
// series. Imports are idempotent upserts so the pipeline re-runs them on
// every pass.
package importer

import (
	"context"
	"log/slog"

	"vinewatch/internal/config"
	"vinewatch/internal/db"
	"vinewatch/internal/external"
	"vinewatch/internal/types"
)

// CultivarStore receives imported cultivar thresholds and biofix dates.
type CultivarStore interface {
	UpsertThreshold(ctx context.Context, name string, heatSummation *int) error
	SetBiofix(ctx context.Context, name string, biofix *string) error
}

// ReferenceStore receives imported pest stages and sunspot observations.
type ReferenceStore interface {
	UpsertPest(ctx context.Context, p types.Pest) error
	UpsertSunspots(ctx context.Context, spots []types.Sunspot) error
}

var _ CultivarStore = (*db.CultivarRepository)(nil)
var _ ReferenceStore = (*db.ReferenceRepository)(nil)

// Importer runs the reference-table imports configured in FilesConfig.
type Importer struct {
	cultivars CultivarStore
	reference ReferenceStore
	files     config.FilesConfig
	client    *external.BaseClient
	logger    *slog.Logger
}

// NewImporter creates an Importer. client is used only for the sunspot
// download.
func NewImporter(cultivars CultivarStore, reference ReferenceStore, files config.FilesConfig, client *external.BaseClient, logger *slog.Logger) *Importer {
	return &Importer{
		cultivars: cultivars,
		reference: reference,
		files:     files,
		client:    client,
		logger:    logger,
	}
}

// Run executes all three imports. Each import failure is logged and the
// others still run; reference data is an enrichment, not a precondition.
func (i *Importer) Run(ctx context.Context) {
	if n, err := i.ImportCultivars(ctx); err != nil {
		i.logger.Error("cultivar import failed", "error", err)
	} else {
		i.logger.Info("cultivar thresholds imported", "count", n)
	}

	if n, err := i.ImportPests(ctx); err != nil {
		i.logger.Error("pest import failed", "error", err)
	} else {
		i.logger.Info("pest stages imported", "count", n)
	}

	if n, err := i.ImportSunspots(ctx); err != nil {
		i.logger.Error("sunspot import failed", "error", err)
	} else {
		i.logger.Info("sunspot observations imported", "count", n)
	}
}
