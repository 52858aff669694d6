package importer

import (
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"vinewatch/internal/types"
)

// sunspotMinYear trims the SIDC series, which reaches back to 1818, to the
// span that can plausibly overlap the telemetry record.
const sunspotMinYear = 2010

// sunspotBatchSize bounds one upsert statement batch.
const sunspotBatchSize = 500

// ImportSunspots refreshes the local SIDC daily-total file when the remote
// copy is newer, then parses it into the sunspot table. The download is
// skipped when the remote Last-Modified header is not newer than the local
// file; a failed download falls back to whatever local copy exists.
func (i *Importer) ImportSunspots(ctx context.Context) (int, error) {
	if i.shouldDownload(ctx) {
		if err := i.download(ctx); err != nil {
			i.logger.Warn("sunspot download failed; using local copy", "error", err)
		}
	}

	f, err := os.Open(i.files.SunspotCSV)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeValidationMissingField, "cannot open sunspot CSV", err)
	}
	defer f.Close()
	return i.importSunspotRows(ctx, f)
}

// shouldDownload compares the remote Last-Modified header against the local
// file's mtime. Any failure along the way errs toward downloading.
func (i *Importer) shouldDownload(ctx context.Context) bool {
	info, err := os.Stat(i.files.SunspotCSV)
	if err != nil {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, i.files.SunspotURL, nil)
	if err != nil {
		return true
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return true
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return true
	}

	remote, err := http.ParseTime(resp.Header.Get("Last-Modified"))
	if err != nil {
		return true
	}
	return remote.After(info.ModTime())
}

func (i *Importer) download(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.files.SunspotURL, nil)
	if err != nil {
		return err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.NewAppError(types.ErrCodeUpstreamArchive, "sunspot source returned non-200", nil)
	}

	tmp := i.files.SunspotCSV + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, i.files.SunspotCSV)
}

// importSunspotRows parses the semicolon-separated SIDC daily-total format:
// year;month;day;fractional-date;daily-total;std-dev;observations;definitive.
// A daily total of -1 marks a missing observation and is stored as NULL.
func (i *Importer) importSunspotRows(ctx context.Context, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	count := 0
	var batch []types.Sunspot
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := i.reference.UpsertSunspots(ctx, batch); err != nil {
			return err
		}
		count += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			i.logger.Warn("skipping malformed sunspot row", "error", err)
			continue
		}
		if len(row) < 8 {
			continue
		}

		year, err := strconv.Atoi(cell(row, 0))
		if err != nil || year < sunspotMinYear {
			continue
		}
		month, err := strconv.Atoi(cell(row, 1))
		if err != nil {
			continue
		}
		day, err := strconv.Atoi(cell(row, 2))
		if err != nil {
			continue
		}

		dailyTotal := parseIntPtr(cell(row, 4))
		if dailyTotal != nil && *dailyTotal == -1 {
			dailyTotal = nil
		}

		batch = append(batch, types.Sunspot{
			Year:       year,
			Month:      month,
			Day:        day,
			Fraction:   parseFloatPtr(cell(row, 3)),
			DailyTotal: dailyTotal,
			StdDev:     parseFloatPtr(cell(row, 5)),
			NumObs:     parseIntPtr(cell(row, 6)),
			Definitive: parseIntPtr(cell(row, 7)),
			Date:       time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC),
		})
		if len(batch) >= sunspotBatchSize {
			if err := flush(); err != nil {
				return count, err
			}
		}
	}
	if err := flush(); err != nil {
		return count, err
	}
	return count, nil
}

func parseFloatPtr(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
