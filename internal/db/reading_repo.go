package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"vinewatch/internal/types"
)

// ReadingRepository provides data access for the readings table. The table is
// keyed by dateutc, the epoch-second timestamp of the 5-minute sample slot,
// so duplicate inserts from overlapping fetch windows collapse naturally.
type ReadingRepository struct {
	db DBTX
}

// NewReadingRepository creates a new ReadingRepository backed by the given
// database connection (pool or transaction).
func NewReadingRepository(db DBTX) *ReadingRepository {
	return &ReadingRepository{db: db}
}

// TempPoint is a (timestamp, temperature) pair used by interpolation.
type TempPoint struct {
	Timestamp int64
	TempF     float64
}

// GDDRow is the minimal projection used by the accumulation pass.
type GDDRow struct {
	Timestamp int64
	TempF     *float64
	GDD       float64
}

// GDDUpdate pairs a timestamp with its recomputed cumulative total.
type GDDUpdate struct {
	Timestamp int64
	GDD       float64
}

// readingColumns is the standard column list for full reading selects.
const readingColumns = `dateutc, observed_at, tempf, humidity, baromrelin,
	baromabsin, dew_point, winddir, windspeedmph, windgustmph, hourlyrainin,
	dailyrainin, battout, tempinf, humidityin, gdd, is_synthetic, source_tag`

// insertColumnCount is the number of columns written per row by InsertBatch.
const insertColumnCount = 18

// yearBounds returns the inclusive start and exclusive end epoch seconds of
// the given calendar year in UTC.
func yearBounds(year int) (int64, int64) {
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year+1, 1, 1, 0, 0, 0, 0, time.UTC)
	return start.Unix(), end.Unix()
}

// scanReading scans a full reading row. Column order must match readingColumns.
func scanReading(rows pgx.Rows) (*types.Reading, error) {
	var r types.Reading
	err := rows.Scan(
		&r.Timestamp,
		&r.ObservedAt,
		&r.TempF,
		&r.Humidity,
		&r.BaromRelIn,
		&r.BaromAbsIn,
		&r.DewPoint,
		&r.WindDir,
		&r.WindSpeedMPH,
		&r.WindGustMPH,
		&r.HourlyRainIn,
		&r.DailyRainIn,
		&r.BattOut,
		&r.TempInF,
		&r.HumidityIn,
		&r.CumulativeGDD,
		&r.IsSynthetic,
		&r.SourceTag,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertBatch inserts readings in a single multi-row statement. Rows whose
// timestamp already exists are left untouched (ON CONFLICT DO NOTHING), so a
// re-fetch of an already ingested window is harmless. Returns the number of
// rows actually inserted.
func (r *ReadingRepository) InsertBatch(ctx context.Context, readings []types.Reading) (int64, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO readings (` + readingColumns + `) VALUES `)

	args := make([]any, 0, len(readings)*insertColumnCount)
	for i, rd := range readings {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * insertColumnCount
		sb.WriteString("(")
		for j := 0; j < insertColumnCount; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+j+1)
		}
		sb.WriteString(")")

		args = append(args,
			rd.Timestamp,
			rd.ObservedAt,
			rd.TempF,
			rd.Humidity,
			rd.BaromRelIn,
			rd.BaromAbsIn,
			rd.DewPoint,
			rd.WindDir,
			rd.WindSpeedMPH,
			rd.WindGustMPH,
			rd.HourlyRainIn,
			rd.DailyRainIn,
			rd.BattOut,
			rd.TempInF,
			rd.HumidityIn,
			rd.CumulativeGDD,
			rd.IsSynthetic,
			rd.SourceTag,
		)
	}
	sb.WriteString(" ON CONFLICT (dateutc) DO NOTHING")

	tag, err := r.db.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to insert readings batch", err)
	}
	return tag.RowsAffected(), nil
}

// BackfillTemperature sets tempf on an existing row only when the stored
// value is NULL. An existing observed temperature is never overwritten.
// Returns true when a row was updated.
func (r *ReadingRepository) BackfillTemperature(ctx context.Context, ts int64, tempF float64, sourceTag string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE readings SET tempf = $1, source_tag = $2
		 WHERE dateutc = $3 AND tempf IS NULL`,
		tempF, sourceTag, ts,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to backfill temperature", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountValidForDay counts the rows with a non-NULL temperature in the UTC day
// starting at dayStart.
func (r *ReadingRepository) CountValidForDay(ctx context.Context, dayStart int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM readings
		 WHERE dateutc >= $1 AND dateutc < $2 AND tempf IS NOT NULL`,
		dayStart, dayStart+86400,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count day readings", err)
	}
	return count, nil
}

// ListDayTemps returns the (timestamp, temperature) pairs with non-NULL
// temperatures for the UTC day starting at dayStart, ordered by timestamp.
func (r *ReadingRepository) ListDayTemps(ctx context.Context, dayStart int64) ([]TempPoint, error) {
	rows, err := r.db.Query(ctx,
		`SELECT dateutc, tempf FROM readings
		 WHERE dateutc >= $1 AND dateutc < $2 AND tempf IS NOT NULL
		 ORDER BY dateutc`,
		dayStart, dayStart+86400,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list day temperatures", err)
	}
	defer rows.Close()

	var points []TempPoint
	for rows.Next() {
		var p TempPoint
		if err := rows.Scan(&p.Timestamp, &p.TempF); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan temperature row", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating temperature rows", err)
	}
	return points, nil
}

// LatestTempBefore returns the newest reading with a non-NULL temperature
// strictly before ts, or nil if none exists.
func (r *ReadingRepository) LatestTempBefore(ctx context.Context, ts int64) (*TempPoint, error) {
	var p TempPoint
	err := r.db.QueryRow(ctx,
		`SELECT dateutc, tempf FROM readings
		 WHERE dateutc < $1 AND tempf IS NOT NULL
		 ORDER BY dateutc DESC LIMIT 1`,
		ts,
	).Scan(&p.Timestamp, &p.TempF)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find preceding temperature", err)
	}
	return &p, nil
}

// EarliestTempAfter returns the oldest reading with a non-NULL temperature at
// or after ts, or nil if none exists.
func (r *ReadingRepository) EarliestTempAfter(ctx context.Context, ts int64) (*TempPoint, error) {
	var p TempPoint
	err := r.db.QueryRow(ctx,
		`SELECT dateutc, tempf FROM readings
		 WHERE dateutc >= $1 AND tempf IS NOT NULL
		 ORDER BY dateutc ASC LIMIT 1`,
		ts,
	).Scan(&p.Timestamp, &p.TempF)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find following temperature", err)
	}
	return &p, nil
}

// DeleteFrom removes every reading at or after ts. Used to wipe the previous
// forecast horizon before appending a fresh one. Returns the number of rows
// removed.
func (r *ReadingRepository) DeleteFrom(ctx context.Context, ts int64) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM readings WHERE dateutc >= $1`, ts,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete readings", err)
	}
	return tag.RowsAffected(), nil
}

// DistinctYears returns the calendar years that have at least one reading,
// in ascending order.
func (r *ReadingRepository) DistinctYears(ctx context.Context) ([]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT EXTRACT(YEAR FROM observed_at)::int AS y
		 FROM readings ORDER BY y`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list reading years", err)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan year row", err)
		}
		years = append(years, y)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating year rows", err)
	}
	return years, nil
}

// Checkpoint returns the newest row within the year that already carries a
// non-zero cumulative total. Incremental accumulation resumes after it.
// found is false when the year has no accumulated rows yet.
func (r *ReadingRepository) Checkpoint(ctx context.Context, year int) (ts int64, gdd float64, found bool, err error) {
	startTS, endTS := yearBounds(year)
	scanErr := r.db.QueryRow(ctx,
		`SELECT dateutc, gdd FROM readings
		 WHERE dateutc >= $1 AND dateutc < $2 AND gdd > 0
		 ORDER BY dateutc DESC LIMIT 1`,
		startTS, endTS,
	).Scan(&ts, &gdd)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return 0, 0, false, nil
		}
		return 0, 0, false, types.NewAppError(types.ErrCodeInternalDB, "failed to find accumulation checkpoint", scanErr)
	}
	return ts, gdd, true, nil
}

// ListYearRows returns the year's readings strictly after afterTS, ordered by
// timestamp, projected to the columns the accumulation pass needs. Pass
// afterTS < the year start to list the whole year.
func (r *ReadingRepository) ListYearRows(ctx context.Context, year int, afterTS int64) ([]GDDRow, error) {
	startTS, endTS := yearBounds(year)
	if afterTS >= startTS {
		startTS = afterTS + 1
	}

	rows, err := r.db.Query(ctx,
		`SELECT dateutc, tempf, gdd FROM readings
		 WHERE dateutc >= $1 AND dateutc < $2
		 ORDER BY dateutc`,
		startTS, endTS,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list year readings", err)
	}
	defer rows.Close()

	var result []GDDRow
	for rows.Next() {
		var g GDDRow
		if err := rows.Scan(&g.Timestamp, &g.TempF, &g.GDD); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan accumulation row", err)
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating accumulation rows", err)
	}
	return result, nil
}

// UpdateGDDBatch writes recomputed cumulative totals in a single statement
// using a VALUES join.
func (r *ReadingRepository) UpdateGDDBatch(ctx context.Context, updates []GDDUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`UPDATE readings SET gdd = v.gdd FROM (VALUES `)
	args := make([]any, 0, len(updates)*2)
	for i, u := range updates {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d::bigint, $%d::double precision)", i*2+1, i*2+2)
		args = append(args, u.Timestamp, u.GDD)
	}
	sb.WriteString(`) AS v(dateutc, gdd) WHERE readings.dateutc = v.dateutc`)

	if _, err := r.db.Exec(ctx, sb.String(), args...); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write accumulation batch", err)
	}
	return nil
}

// ResetAllGDD zeroes the cumulative column across the whole table, preparing
// for a full recomputation.
func (r *ReadingRepository) ResetAllGDD(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `UPDATE readings SET gdd = 0`); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reset accumulation", err)
	}
	return nil
}

// MaxGDDSince returns the largest cumulative total at or after fromTS and
// strictly before toTS. Returns 0 when the range is empty.
func (r *ReadingRepository) MaxGDDSince(ctx context.Context, fromTS, toTS int64) (float64, error) {
	var maxGDD float64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(gdd), 0) FROM readings
		 WHERE dateutc >= $1 AND dateutc < $2`,
		fromTS, toTS,
	).Scan(&maxGDD)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to read max accumulation", err)
	}
	return maxGDD, nil
}

// FirstCrossing returns the timestamp and cumulative total of the first
// reading at or after notBefore whose cumulative total reaches threshold
// within the year. found is false when the year never crosses.
func (r *ReadingRepository) FirstCrossing(ctx context.Context, year int, threshold float64, notBefore int64) (int64, float64, bool, error) {
	startTS, endTS := yearBounds(year)
	if notBefore > startTS {
		startTS = notBefore
	}

	var ts int64
	var gdd float64
	err := r.db.QueryRow(ctx,
		`SELECT dateutc, gdd FROM readings
		 WHERE dateutc >= $1 AND dateutc < $2 AND gdd >= $3
		 ORDER BY dateutc ASC LIMIT 1`,
		startTS, endTS, threshold,
	).Scan(&ts, &gdd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, false, nil
		}
		return 0, 0, false, types.NewAppError(types.ErrCodeInternalDB, "failed to find threshold crossing", err)
	}
	return ts, gdd, true, nil
}

// ChillIntervalCount counts the 5-minute samples between fromTS (inclusive)
// and toTS (exclusive) whose temperature, converted to Celsius, lies within
// [lowC, highC].
func (r *ReadingRepository) ChillIntervalCount(ctx context.Context, fromTS, toTS int64, lowC, highC float64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM readings
		 WHERE dateutc >= $1 AND dateutc < $2
		   AND tempf IS NOT NULL
		   AND (tempf - 32) * 5.0 / 9.0 BETWEEN $3 AND $4`,
		fromTS, toTS, lowC, highC,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count chill intervals", err)
	}
	return count, nil
}

// DailyAverageTempC returns, for each day-of-year (1..366), the mean Celsius
// temperature across all years of valid readings.
func (r *ReadingRepository) DailyAverageTempC(ctx context.Context) (map[int]float64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT EXTRACT(DOY FROM observed_at)::int AS doy,
		        AVG((tempf - 32) * 5.0 / 9.0)
		 FROM readings
		 WHERE tempf IS NOT NULL
		 GROUP BY doy`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to compute daily temperature averages", err)
	}
	defer rows.Close()

	result := make(map[int]float64)
	for rows.Next() {
		var doy int
		var avgC float64
		if err := rows.Scan(&doy, &avgC); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan daily average row", err)
		}
		result[doy] = avgC
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating daily average rows", err)
	}
	return result, nil
}

// ListRange returns full reading rows in [fromTS, toTS) ordered by timestamp,
// capped at limit. Used by the query API.
func (r *ReadingRepository) ListRange(ctx context.Context, fromTS, toTS int64, limit int) ([]*types.Reading, error) {
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+readingColumns+`
		 FROM readings
		 WHERE dateutc >= $1 AND dateutc < $2
		 ORDER BY dateutc
		 LIMIT $3`,
		fromTS, toTS, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list readings", err)
	}
	defer rows.Close()

	var result []*types.Reading
	for rows.Next() {
		rd, scanErr := scanReading(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reading row", scanErr)
		}
		result = append(result, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating reading rows", err)
	}
	return result, nil
}

// Latest returns the newest reading, or a not-found error when the table is
// empty.
func (r *ReadingRepository) Latest(ctx context.Context) (*types.Reading, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+readingColumns+`
		 FROM readings ORDER BY dateutc DESC LIMIT 1`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query latest reading", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "error reading latest row", err)
		}
		return nil, types.NewAppError(types.ErrCodeNotFoundReading, "no readings recorded", nil)
	}
	rd, scanErr := scanReading(rows)
	if scanErr != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan latest reading", scanErr)
	}
	return rd, nil
}
