// Package config defines the global configuration for the vinewatch
// pipeline. Configuration is loaded once at process startup and is immutable
// thereafter; components receive only the subsets they require. If a fresh
// snapshot is needed (hot reload), callers invoke Load again rather than
// mutating shared state.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format fails the process immediately
// on startup.
package config

import "time"

// Config is the top-level configuration struct.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"oneof=local dev prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Station  StationConfig
	Archive  ArchiveConfig
	Ingest   IngestConfig
	Files    FilesConfig
}

// ServerConfig holds the read-only query API's listen settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"4"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// StationConfig holds the primary/backup telemetry station identifiers,
// credentials, and the retry timers applied by the fetcher.
type StationConfig struct {
	MACAddress       string `envconfig:"STATION_MAC" validate:"required"`
	BackupMACAddress string `envconfig:"STATION_BACKUP_MAC" validate:"required"`
	APIKey           string `envconfig:"STATION_API_KEY" validate:"required"`
	ApplicationKey   string `envconfig:"STATION_APPLICATION_KEY" validate:"required"`

	// URLTemplate is expanded with mac_address, api_key, application_key and
	// end_date placeholders to form one request per fetch.
	URLTemplate string `envconfig:"STATION_URL_TEMPLATE" validate:"required"`

	// APICallDelay is the courtesy pause applied before every attempt,
	// independent of retry backoff.
	APICallDelay time.Duration `envconfig:"STATION_API_CALL_DELAY" default:"1s"`

	// RetrySleep is the fixed interval slept before retrying a transient
	// failure (429, 5xx, network error).
	RetrySleep time.Duration `envconfig:"STATION_RETRY_SLEEP" default:"5s"`

	// RetryAfterCeiling caps the delay honored from a 503 Retry-After
	// header; a longer server-requested delay is treated as a permanent
	// failure for that fetch.
	RetryAfterCeiling time.Duration `envconfig:"STATION_RETRY_AFTER_CEILING" default:"30s"`

	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration `envconfig:"STATION_REQUEST_TIMEOUT" default:"10s"`
}

// ArchiveConfig holds the secondary weather archive's geographic coordinates
// and forecast parameters.
type ArchiveConfig struct {
	HistoricalURL string `envconfig:"ARCHIVE_HISTORICAL_URL" default:"https://archive-api.open-meteo.com/v1/archive"`
	ForecastURL   string `envconfig:"ARCHIVE_FORECAST_URL" default:"https://api.open-meteo.com/v1/forecast"`

	Latitude  float64 `envconfig:"ARCHIVE_LATITUDE" validate:"required,min=-90,max=90"`
	Longitude float64 `envconfig:"ARCHIVE_LONGITUDE" validate:"required,min=-180,max=180"`

	ForecastDays  int    `envconfig:"ARCHIVE_FORECAST_DAYS" default:"14" validate:"min=1,max=16"`
	ForecastModel string `envconfig:"ARCHIVE_FORECAST_MODEL" default:"ecmwf_aifs025"`
}

// IngestConfig holds the ingestion date range and gap-filling tuning.
type IngestConfig struct {
	// StartDate is the inclusive beginning of the ingestion range
	// (YYYY-MM-DD). Days are processed from here up to, but excluding, the
	// current UTC date.
	StartDate string `envconfig:"INGEST_START_DATE" validate:"required,datetime=2006-01-02"`

	// GapThreshold is the largest tolerated gap between consecutive
	// available points before interpolation escalates to the secondary
	// archive for the day.
	GapThreshold time.Duration `envconfig:"INGEST_GAP_THRESHOLD" default:"6h"`

	// RecalcInterval re-runs the whole pipeline pass periodically when
	// positive; zero means one-shot execution.
	RecalcInterval time.Duration `envconfig:"INGEST_RECALC_INTERVAL" default:"0"`
}

// FilesConfig holds reference-table CSV locations and the learned-model
// artifact path.
type FilesConfig struct {
	CultivarCSV   string `envconfig:"CULTIVAR_CSV" default:"grapevine_gdd.csv"`
	PestCSV       string `envconfig:"PEST_CSV" default:"vineyard_pests.csv"`
	SunspotCSV    string `envconfig:"SUNSPOT_CSV" default:"SN_d_tot_V2.0.csv"`
	SunspotURL    string `envconfig:"SUNSPOT_URL" default:"https://www.sidc.be/SILSO/INFO/sndtotcsv.php"`
	ModelArtifact string `envconfig:"MODEL_ARTIFACT" default:"budbreak_model.json.gz"`
}

// StartDay parses the configured ingestion start date. Validation guarantees
// the format, so parse errors surface only on misuse.
func (c IngestConfig) StartDay() (time.Time, error) {
	return time.Parse("2006-01-02", c.StartDate)
}
