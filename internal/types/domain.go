// Package types defines the core domain model shared across the vinewatch
// pipeline: weather readings, cultivar phenology records, reference tables,
// and the standard application error type.
package types

import "time"

// Grid constants for the 5-minute sampling grid. A UTC calendar day holds
// exactly SamplesPerDay readings spaced SampleInterval apart, 00:00:00
// through 23:55:00.
const (
	// SampleInterval is the spacing between grid slots.
	SampleInterval = 5 * time.Minute

	// SampleIntervalSeconds is SampleInterval expressed in epoch seconds.
	SampleIntervalSeconds int64 = 300

	// SamplesPerDay is the number of grid slots in one UTC day.
	SamplesPerDay = 288

	// DayCompleteThreshold is the minimum number of valid readings for a day
	// to be considered complete. One missing sample is tolerated before the
	// ingestion cascade escalates to the next source.
	DayCompleteThreshold = 287
)

// Source tags recorded on synthetic readings. Real readings carry the
// station identifier that produced them.
const (
	// SourceInterpolated marks readings synthesized by the gap-interpolation
	// engine.
	SourceInterpolated = "INTERPOLATED"

	// SourceSecondary marks readings backfilled from the secondary weather
	// archive (historical or forecast).
	SourceSecondary = "SECONDARY_SOURCE"
)

// GDD calculation constants.
const (
	// BaseTempC is the Celsius base temperature above which heat accumulates.
	BaseTempC = 10.0

	// ChillThresholdF is the Fahrenheit ceiling below which a 5-minute
	// interval counts toward chill hours.
	ChillThresholdF = 45.0
)

// Reading is one weather sample on the 5-minute grid. Timestamp (epoch
// seconds UTC) is the primary identity; at most one Reading exists per
// timestamp. TempF is nullable: a station can report a sample with every
// field except temperature, and the backup cascade fills such rows in place.
//
// CumulativeGDD is mutated only by the recalculation engine. IsSynthetic
// rows never replace a Reading holding a real temperature.
type Reading struct {
	Timestamp  int64     `json:"dateutc"`
	ObservedAt time.Time `json:"date"`
	TempF      *float64  `json:"tempf"`

	// Secondary instrument fields, passed through from the station and not
	// consumed by the core pipeline.
	Humidity     *float64 `json:"humidity"`
	BaromRelIn   *float64 `json:"baromrelin"`
	BaromAbsIn   *float64 `json:"baromabsin"`
	DewPoint     *float64 `json:"dew_point"`
	WindDir      *float64 `json:"winddir"`
	WindSpeedMPH *float64 `json:"windspeedmph"`
	WindGustMPH  *float64 `json:"windgustmph"`
	HourlyRainIn *float64 `json:"hourlyrainin"`
	DailyRainIn  *float64 `json:"dailyrainin"`
	BattOut      *float64 `json:"battout"`
	TempInF      *float64 `json:"tempinf"`
	HumidityIn   *float64 `json:"humidityin"`

	CumulativeGDD float64 `json:"cumulative_gdd"`
	IsSynthetic   bool    `json:"is_synthetic"`
	SourceTag     string  `json:"source_tag"`
}

// Cultivar is one grapevine variety tracked for phenology. HeatSummation is
// the cumulative GDD value historically associated with bud break; a
// cultivar without it is skipped by every projection model. BiofixDate
// anchors the season-specific accumulation and is never overwritten by the
// reference import once set.
type Cultivar struct {
	Name           string     `json:"name"`
	HeatSummation  *int       `json:"heat_summation"`
	BiofixDate     *time.Time `json:"biofix_date"`
	GDDSinceBiofix float64    `json:"gdd_since_biofix"`

	// One predicted bud-break date per projection model, stored as a
	// free-text ISO date string; empty until the model has run.
	TrendBudBreak       string `json:"trend_bud_break"`
	HybridBudBreak      string `json:"hybrid_bud_break"`
	HybridBudBreakRange string `json:"hybrid_bud_break_range"`
	ModelBudBreak       string `json:"model_bud_break"`
}

// Biofix returns the cultivar's biofix anchored to the given year. A
// cultivar without an explicit biofix date accumulates from January 1.
func (c *Cultivar) Biofix(year int) time.Time {
	if c.BiofixDate == nil {
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(year, c.BiofixDate.Month(), c.BiofixDate.Day(), 0, 0, 0, 0, time.UTC)
}

// Pest is one vineyard pest lifecycle stage bounded by a GDD window.
// Imported from a static reference CSV; read-only to the core.
type Pest struct {
	SequenceID     int    `json:"sequence_id"`
	CommonName     string `json:"common_name"`
	ScientificName string `json:"scientific_name"`
	Dormant        bool   `json:"dormant"`
	Stage          string `json:"stage"`
	MinGDD         *int   `json:"min_gdd"`
	MaxGDD         *int   `json:"max_gdd"`
}

// Sunspot is one daily sunspot observation from the SIDC reference series.
type Sunspot struct {
	Year       int       `json:"year"`
	Month      int       `json:"month"`
	Day        int       `json:"day"`
	Fraction   *float64  `json:"fraction"`
	DailyTotal *int      `json:"daily_total"`
	StdDev     *float64  `json:"std_dev"`
	NumObs     *int      `json:"num_obs"`
	Definitive *int      `json:"definitive"`
	Date       time.Time `json:"date"`
}

// TrainingSample is one cached feature row for the learned bud-break model,
// keyed by (cultivar, historical year). Features are measured at the current
// calendar day-of-year transplanted into the historical year; the label is
// the GDD remaining from that point to the year's actual threshold crossing.
type TrainingSample struct {
	Cultivar     string  `json:"cultivar"`
	Year         int     `json:"year"`
	CurrentGDD   float64 `json:"current_gdd"`
	DayOfYear    int     `json:"doy"`
	ChillHours   float64 `json:"chill_hours"`
	MeanGDD      float64 `json:"mean_gdd"`
	StdGDD       float64 `json:"std_gdd"`
	RemainingGDD float64 `json:"remaining_gdd"`
}

// PipelineRun is the audit record for one batch pass.
type PipelineRun struct {
	ID               string     `json:"id"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at"`
	DaysProcessed    int        `json:"days_processed"`
	ReadingsInserted int        `json:"readings_inserted"`
	Status           string     `json:"status"`
	Detail           *string    `json:"detail,omitempty"`
}

// DayStart returns midnight UTC of the calendar day containing t.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// SnapToSlot snaps an epoch-seconds timestamp onto the 5-minute grid of the
// day starting at dayStart (itself epoch seconds). Timestamps land on the
// slot at or immediately before them.
func SnapToSlot(ts, dayStart int64) int64 {
	return dayStart + ((ts-dayStart)/SampleIntervalSeconds)*SampleIntervalSeconds
}
