package external

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vinewatch/internal/config"
	"vinewatch/internal/types"
)

// FetchStatus classifies the terminal outcome of a station fetch.
type FetchStatus int

const (
	// FetchSuccess means the station returned a decodable sample batch.
	FetchSuccess FetchStatus = iota

	// FetchNotFound means the station has no data for the requested window
	// (HTTP 404). Terminal: the caller moves on to the next source.
	FetchNotFound

	// FetchUnauthorized means the credentials were rejected (HTTP 401/403).
	// Terminal: retrying cannot help.
	FetchUnauthorized

	// FetchRetryBlocked means the service requested a Retry-After delay
	// beyond the configured ceiling (HTTP 503). Terminal for this fetch.
	FetchRetryBlocked
)

// String returns the status name for logging.
func (s FetchStatus) String() string {
	switch s {
	case FetchSuccess:
		return "success"
	case FetchNotFound:
		return "not_found"
	case FetchUnauthorized:
		return "unauthorized"
	case FetchRetryBlocked:
		return "retry_blocked"
	default:
		return "unknown"
	}
}

// FetchOutcome is the result of one station fetch. Samples is populated only
// when Status is FetchSuccess.
type FetchOutcome struct {
	Status  FetchStatus
	Samples []StationSample
}

// StationSample is the wire shape of one station reading. The station
// reports timestamps both as epoch milliseconds and as an ISO date string;
// the millisecond field is authoritative.
type StationSample struct {
	DateUTC      int64    `json:"dateutc"`
	Date         string   `json:"date"`
	TempF        *float64 `json:"tempf"`
	Humidity     *float64 `json:"humidity"`
	BaromRelIn   *float64 `json:"baromrelin"`
	BaromAbsIn   *float64 `json:"baromabsin"`
	DewPoint     *float64 `json:"dewPoint"`
	WindDir      *float64 `json:"winddir"`
	WindSpeedMPH *float64 `json:"windspeedmph"`
	WindGustMPH  *float64 `json:"windgustmph"`
	HourlyRainIn *float64 `json:"hourlyrainin"`
	DailyRainIn  *float64 `json:"dailyrainin"`
	BattOut      *float64 `json:"battout"`
	TempInF      *float64 `json:"tempinf"`
	HumidityIn   *float64 `json:"humidityin"`
}

// ToReading converts a wire sample to a domain Reading. The epoch-millisecond
// station timestamp becomes epoch seconds; grid snapping is left to ingestion.
func (s StationSample) ToReading(sourceTag string) types.Reading {
	ts := s.DateUTC / 1000
	return types.Reading{
		Timestamp:    ts,
		ObservedAt:   time.Unix(ts, 0).UTC(),
		TempF:        s.TempF,
		Humidity:     s.Humidity,
		BaromRelIn:   s.BaromRelIn,
		BaromAbsIn:   s.BaromAbsIn,
		DewPoint:     s.DewPoint,
		WindDir:      s.WindDir,
		WindSpeedMPH: s.WindSpeedMPH,
		WindGustMPH:  s.WindGustMPH,
		HourlyRainIn: s.HourlyRainIn,
		DailyRainIn:  s.DailyRainIn,
		BattOut:      s.BattOut,
		TempInF:      s.TempInF,
		HumidityIn:   s.HumidityIn,
		SourceTag:    sourceTag,
	}
}

// StationClient fetches raw telemetry from the weather station vendor API.
//
// Unlike the archive client it does not use a circuit breaker: its contract
// is to keep retrying transient failures until a terminal outcome, and the
// caller bounds the overall effort through the context deadline.
type StationClient struct {
	client  *http.Client
	cfg     config.StationConfig
	logger  *slog.Logger
	sleepFn func(time.Duration)
	now     func() time.Time
}

// StationClientOption is a functional option for configuring a StationClient.
type StationClientOption func(*StationClient)

// WithStationSleepFunc overrides the sleep function used between retries.
// This is intended for testing to avoid real delays.
func WithStationSleepFunc(fn func(time.Duration)) StationClientOption {
	return func(c *StationClient) {
		c.sleepFn = fn
	}
}

// WithStationClock overrides the wall clock used for Retry-After HTTP-date
// arithmetic. This is intended for testing.
func WithStationClock(now func() time.Time) StationClientOption {
	return func(c *StationClient) {
		c.now = now
	}
}

// NewStationClient creates a StationClient from the station configuration.
func NewStationClient(httpClient *http.Client, cfg config.StationConfig, logger *slog.Logger, opts ...StationClientOption) *StationClient {
	sc := &StationClient{
		client:  httpClient,
		cfg:     cfg,
		logger:  logger,
		sleepFn: time.Sleep,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// buildURL expands the configured URL template for one fetch. The end date
// is exclusive and passed as epoch milliseconds, matching the vendor API.
func (c *StationClient) buildURL(mac string, endDate time.Time) string {
	r := strings.NewReplacer(
		"{mac_address}", mac,
		"{api_key}", c.cfg.APIKey,
		"{application_key}", c.cfg.ApplicationKey,
		"{end_date}", strconv.FormatInt(endDate.UTC().UnixMilli(), 10),
	)
	return r.Replace(c.cfg.URLTemplate)
}

// Fetch retrieves the sample batch ending (exclusively) at endDate for the
// given station MAC. It loops until a terminal outcome:
//
//   - 2xx: decode and return FetchSuccess.
//   - 404: return FetchNotFound immediately, with no retry sleep.
//   - 401/403: return FetchUnauthorized immediately.
//   - 503: honor Retry-After (numeric seconds or HTTP-date; absent means
//     the fixed retry interval). A requested delay beyond the configured
//     ceiling terminates the fetch with FetchRetryBlocked.
//   - 429, other 5xx, any other status, or a network error: sleep the fixed
//     retry interval and try again.
//
// A fixed courtesy delay is applied before every attempt. The context bounds
// the total effort; cancellation surfaces as an error.
func (c *StationClient) Fetch(ctx context.Context, mac string, endDate time.Time) (*FetchOutcome, error) {
	url := c.buildURL(mac, endDate)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamStation, "station fetch canceled", err)
		}
		if c.cfg.APICallDelay > 0 {
			c.sleepFn(c.cfg.APICallDelay)
		}

		outcome, retryIn, err := c.attempt(ctx, url)
		if err != nil {
			return nil, err
		}
		if outcome != nil {
			if outcome.Status != FetchSuccess {
				c.logger.Warn("station fetch terminal",
					"mac", mac,
					"status", outcome.Status.String(),
					"attempt", attempt,
				)
			}
			return outcome, nil
		}

		c.logger.Debug("station fetch retrying",
			"mac", mac,
			"attempt", attempt,
			"retry_in", retryIn,
		)
		c.sleepFn(retryIn)
	}
}

// attempt performs a single HTTP exchange. A nil outcome with retryIn > 0
// means the attempt failed transiently and the loop should sleep and retry.
func (c *StationClient) attempt(ctx context.Context, url string) (*FetchOutcome, time.Duration, error) {
	reqCtx := ctx
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build station request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, types.NewAppError(types.ErrCodeUpstreamStation, "station fetch canceled", ctx.Err())
		}
		c.logger.Warn("station request failed", "error", err)
		return nil, c.cfg.RetrySleep, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			c.logger.Warn("station response truncated", "error", readErr)
			return nil, c.cfg.RetrySleep, nil
		}
		var samples []StationSample
		if err := json.Unmarshal(body, &samples); err != nil {
			return nil, 0, types.NewAppError(types.ErrCodeUpstreamStation, "failed to decode station response", err)
		}
		return &FetchOutcome{Status: FetchSuccess, Samples: samples}, 0, nil

	case resp.StatusCode == http.StatusNotFound:
		return &FetchOutcome{Status: FetchNotFound}, 0, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &FetchOutcome{Status: FetchUnauthorized}, 0, nil

	case resp.StatusCode == http.StatusServiceUnavailable:
		delay := c.retryAfterDelay(resp)
		if delay > c.cfg.RetryAfterCeiling {
			c.logger.Warn("station backoff request exceeds ceiling",
				"requested", delay,
				"ceiling", c.cfg.RetryAfterCeiling,
			)
			return &FetchOutcome{Status: FetchRetryBlocked}, 0, nil
		}
		return nil, delay, nil

	default:
		// 429, other 5xx, and any unexpected status retry on the fixed
		// interval.
		c.logger.Warn("station returned retryable status", "status", resp.StatusCode)
		return nil, c.cfg.RetrySleep, nil
	}
}

// retryAfterDelay extracts the server-requested delay from a 503 response.
// Numeric seconds are preferred; an HTTP-date is measured against the
// injected clock. A missing or unparseable header falls back to the fixed
// retry interval.
func (c *StationClient) retryAfterDelay(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return c.cfg.RetrySleep
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		delay := t.Sub(c.now())
		if delay < 0 {
			delay = 0
		}
		return delay
	}
	return c.cfg.RetrySleep
}
