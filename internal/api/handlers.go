package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vinewatch/internal/db"
	"vinewatch/internal/types"
)

const (
	defaultReadingLimit = 1000
	maxReadingLimit     = 10000
	defaultRunLimit     = 20
)

// ReadingStore is the reading access the query API needs.
type ReadingStore interface {
	ListRange(ctx context.Context, fromTS, toTS int64, limit int) ([]*types.Reading, error)
	Latest(ctx context.Context) (*types.Reading, error)
}

// CultivarStore serves cultivar thresholds and predictions.
type CultivarStore interface {
	List(ctx context.Context) ([]*types.Cultivar, error)
	Get(ctx context.Context, name string) (*types.Cultivar, error)
}

// ReferenceStore serves the static reference tables.
type ReferenceStore interface {
	ListPests(ctx context.Context) ([]*types.Pest, error)
	ListSunspots(ctx context.Context, from, to time.Time) ([]*types.Sunspot, error)
}

// RunStore serves the pipeline run audit trail.
type RunStore interface {
	ListRecent(ctx context.Context, limit int) ([]*types.PipelineRun, error)
}

var _ ReadingStore = (*db.ReadingRepository)(nil)
var _ CultivarStore = (*db.CultivarRepository)(nil)
var _ ReferenceStore = (*db.ReferenceRepository)(nil)
var _ RunStore = (*db.RunRepository)(nil)

// Handler serves the read-only query endpoints.
type Handler struct {
	readings  ReadingStore
	cultivars CultivarStore
	reference ReferenceStore
	runs      RunStore
	logger    *slog.Logger
}

// NewHandler creates a Handler with the provided stores.
func NewHandler(readings ReadingStore, cultivars CultivarStore, reference ReferenceStore, runs RunStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		readings:  readings,
		cultivars: cultivars,
		reference: reference,
		runs:      runs,
		logger:    logger,
	}
}

// RegisterRoutes mounts the query endpoints on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/readings", func(r chi.Router) {
		r.Get("/", h.ListReadings)
		r.Get("/latest", h.LatestReading)
	})
	r.Route("/cultivars", func(r chi.Router) {
		r.Get("/", h.ListCultivars)
		r.Get("/{name}", h.GetCultivar)
	})
	r.Get("/vineyard-pests", h.ListPests)
	r.Get("/sunspots", h.ListSunspots)
	r.Get("/runs", h.ListRuns)
	r.Get("/data", h.AggregateData)
}

// parseTimeParam accepts either epoch seconds or a YYYY-MM-DD date.
func parseTimeParam(raw string, fallback int64) (int64, error) {
	if raw == "" {
		return fallback, nil
	}
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ts, nil
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeValidationDate,
			"time parameter must be epoch seconds or YYYY-MM-DD", err)
	}
	return d.Unix(), nil
}

func parseLimit(raw string, fallback, ceiling int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > ceiling {
		return ceiling
	}
	return n
}

// ListReadings handles GET /api/readings?from=&to=&limit=.
func (h *Handler) ListReadings(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r.URL.Query().Get("from"), 0)
	if err != nil {
		Error(w, err)
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"), time.Now().UTC().AddDate(1, 0, 0).Unix())
	if err != nil {
		Error(w, err)
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), defaultReadingLimit, maxReadingLimit)

	readings, err := h.readings.ListRange(r.Context(), from, to, limit)
	if err != nil {
		h.logger.Error("listing readings failed", "error", err)
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, readings)
}

// LatestReading handles GET /api/readings/latest.
func (h *Handler) LatestReading(w http.ResponseWriter, r *http.Request) {
	reading, err := h.readings.Latest(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, reading)
}

// ListCultivars handles GET /api/cultivars.
func (h *Handler) ListCultivars(w http.ResponseWriter, r *http.Request) {
	cultivars, err := h.cultivars.List(r.Context())
	if err != nil {
		h.logger.Error("listing cultivars failed", "error", err)
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, cultivars)
}

// GetCultivar handles GET /api/cultivars/{name}.
func (h *Handler) GetCultivar(w http.ResponseWriter, r *http.Request) {
	cultivar, err := h.cultivars.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, cultivar)
}

// ListPests handles GET /api/vineyard-pests.
func (h *Handler) ListPests(w http.ResponseWriter, r *http.Request) {
	pests, err := h.reference.ListPests(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, pests)
}

// sunspotWindow derives the [from, to) range for a sunspot query. The series
// starts in 2010 and the default upper bound is open-ended.
func sunspotWindow(r *http.Request) (time.Time, time.Time, error) {
	fromTS, err := parseTimeParam(r.URL.Query().Get("from"),
		time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC).Unix())
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	toTS, err := parseTimeParam(r.URL.Query().Get("to"),
		time.Now().UTC().AddDate(0, 0, 1).Unix())
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return time.Unix(fromTS, 0).UTC(), time.Unix(toTS, 0).UTC(), nil
}

// ListSunspots handles GET /api/sunspots?from=&to=.
func (h *Handler) ListSunspots(w http.ResponseWriter, r *http.Request) {
	from, to, err := sunspotWindow(r)
	if err != nil {
		Error(w, err)
		return
	}
	spots, err := h.reference.ListSunspots(r.Context(), from, to)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, spots)
}

// ListRuns handles GET /api/runs?limit=.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), defaultRunLimit, 100)
	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, runs)
}

// aggregate is the combined payload for the single-call client load.
type aggregate struct {
	Readings      []*types.Reading  `json:"readings"`
	Grapevine     []*types.Cultivar `json:"grapevine"`
	Sunspots      []*types.Sunspot  `json:"sunspots"`
	VineyardPests []*types.Pest     `json:"vineyard_pests"`
}

// AggregateData handles GET /api/data: everything a dashboard needs in one
// round trip. Reading range parameters apply to the readings slice.
func (h *Handler) AggregateData(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r.URL.Query().Get("from"), 0)
	if err != nil {
		Error(w, err)
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"), time.Now().UTC().AddDate(1, 0, 0).Unix())
	if err != nil {
		Error(w, err)
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), defaultReadingLimit, maxReadingLimit)

	readings, err := h.readings.ListRange(r.Context(), from, to, limit)
	if err != nil {
		Error(w, err)
		return
	}
	cultivars, err := h.cultivars.List(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	sunFrom, sunTo, err := sunspotWindow(r)
	if err != nil {
		Error(w, err)
		return
	}
	spots, err := h.reference.ListSunspots(r.Context(), sunFrom, sunTo)
	if err != nil {
		Error(w, err)
		return
	}
	pests, err := h.reference.ListPests(r.Context())
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, aggregate{
		Readings:      readings,
		Grapevine:     cultivars,
		Sunspots:      spots,
		VineyardPests: pests,
	})
}
