package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"vinewatch/internal/config"
	"vinewatch/internal/types"
)

// HourlyTemp is one hourly temperature sample from the secondary archive.
type HourlyTemp struct {
	Timestamp int64
	TempF     float64
}

// hourlyResponse is the wire shape of the archive's hourly block. With
// timeformat=unixtime the time axis arrives as epoch seconds. Temperature
// entries can be null for hours the archive has not assimilated yet.
type hourlyResponse struct {
	Hourly struct {
		Time          []int64    `json:"time"`
		Temperature2M []*float64 `json:"temperature_2m"`
	} `json:"hourly"`
}

// ArchiveClient fetches hourly temperatures from the secondary weather
// archive, both reanalysis history and the forward forecast. All requests
// go through the embedded BaseClient for circuit breaking and retries.
type ArchiveClient struct {
	base *BaseClient
	cfg  config.ArchiveConfig
}

// NewArchiveClient creates an ArchiveClient over the given BaseClient.
func NewArchiveClient(base *BaseClient, cfg config.ArchiveConfig) *ArchiveClient {
	return &ArchiveClient{base: base, cfg: cfg}
}

// FetchHistorical returns the hourly temperatures for one UTC calendar day
// from the reanalysis archive. Hours the archive has not assimilated are
// omitted from the result.
func (c *ArchiveClient) FetchHistorical(ctx context.Context, day time.Time) ([]HourlyTemp, error) {
	date := day.UTC().Format("2006-01-02")
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(c.cfg.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(c.cfg.Longitude, 'f', -1, 64))
	q.Set("start_date", date)
	q.Set("end_date", date)
	q.Set("hourly", "temperature_2m")
	q.Set("temperature_unit", "fahrenheit")
	q.Set("timeformat", "unixtime")

	return c.fetch(ctx, c.cfg.HistoricalURL+"?"+q.Encode())
}

// FetchForecast returns the hourly temperature forecast for the configured
// horizon, starting from the current UTC day.
func (c *ArchiveClient) FetchForecast(ctx context.Context) ([]HourlyTemp, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(c.cfg.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(c.cfg.Longitude, 'f', -1, 64))
	q.Set("hourly", "temperature_2m")
	q.Set("temperature_unit", "fahrenheit")
	q.Set("timeformat", "unixtime")
	q.Set("forecast_days", strconv.Itoa(c.cfg.ForecastDays))
	if c.cfg.ForecastModel != "" {
		q.Set("models", c.cfg.ForecastModel)
	}

	return c.fetch(ctx, c.cfg.ForecastURL+"?"+q.Encode())
}

func (c *ArchiveClient) fetch(ctx context.Context, fullURL string) ([]HourlyTemp, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build archive request", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamArchive,
			fmt.Sprintf("archive returned status %d", resp.StatusCode),
			nil,
		)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamArchive, "failed to read archive response", err)
	}

	var parsed hourlyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamArchive, "failed to decode archive response", err)
	}
	if len(parsed.Hourly.Time) != len(parsed.Hourly.Temperature2M) {
		return nil, types.NewAppError(types.ErrCodeUpstreamArchive, "archive time and temperature axes disagree", nil)
	}

	temps := make([]HourlyTemp, 0, len(parsed.Hourly.Time))
	for i, ts := range parsed.Hourly.Time {
		if parsed.Hourly.Temperature2M[i] == nil {
			continue
		}
		temps = append(temps, HourlyTemp{Timestamp: ts, TempF: *parsed.Hourly.Temperature2M[i]})
	}
	return temps, nil
}
