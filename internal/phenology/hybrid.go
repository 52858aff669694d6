package phenology

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"vinewatch/internal/types"
)

const (
	// defaultDailyRate is assumed when no usable historical accrual rate
	// exists, in GDD units per day.
	defaultDailyRate = 2.0

	// maxDaysRemaining caps the linear extrapolation horizon.
	maxDaysRemaining = 90
)

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

func stdDev(values []float64) float64 {
	_, std := meanStd(values)
	return std
}

// ProjectHybrid predicts bud break from the median historical crossing GDD
// and the observed-plus-forecast accumulation. When the threshold has not
// been reached inside the forecast window, the remaining GDD is extrapolated
// at the average historical accrual rate near the current day-of-year. The
// spread of historical crossing days becomes a confidence range around the
// predicted date. A single historical crossing is enough for this model.
func (p *Projector) ProjectHybrid(ctx context.Context) error {
	today := types.DayStart(p.now().UTC())
	currentYear := today.Year()
	todayDOY := today.YearDay()

	years, err := p.historicalYears(ctx, currentYear)
	if err != nil {
		return err
	}
	cultivars, err := p.cultivars.List(ctx)
	if err != nil {
		return err
	}

	for _, c := range cultivars {
		if c.HeatSummation == nil {
			p.logger.Info("skipping cultivar without threshold", "cultivar", c.Name, "model", "hybrid")
			continue
		}
		threshold := float64(*c.HeatSummation)

		var crossings []*crossing
		for _, yr := range years {
			cr, err := p.crossingFor(ctx, c, yr, threshold)
			if err != nil {
				return err
			}
			if cr != nil {
				crossings = append(crossings, cr)
			}
		}
		if len(crossings) == 0 {
			p.logger.Info("no historical crossings for hybrid model", "cultivar", c.Name)
			continue
		}

		gdds := make([]float64, len(crossings))
		doys := make([]float64, len(crossings))
		for i, cr := range crossings {
			gdds[i] = cr.gdd
			doys[i] = float64(cr.doy)
		}
		targetGDD := median(gdds)
		doyStd := stdDev(doys)

		currentGDD, err := p.maxGDDBefore(ctx, currentYear, today)
		if err != nil {
			return err
		}
		endGDD, err := p.maxGDDBefore(ctx, currentYear, today.AddDate(0, 0, p.forecastDays))
		if err != nil {
			return err
		}
		totalGDD := currentGDD + math.Max(0, endGDD-currentGDD)

		remaining := math.Max(0, targetGDD-totalGDD)
		var predicted time.Time
		if remaining == 0 {
			predicted, err = p.observedCrossingDate(ctx, currentYear, targetGDD, today)
			if err != nil {
				return err
			}
		} else {
			rate, err := p.historicalDailyRate(ctx, crossings, todayDOY)
			if err != nil {
				return err
			}
			daysRemaining := math.Min(remaining/rate, maxDaysRemaining)
			predicted = today.AddDate(0, 0, p.forecastDays+int(daysRemaining))
		}

		predictedDOY := float64(predicted.YearDay())
		rangeStart := doyToDate(currentYear, clampDOY(predictedDOY-doyStd))
		rangeEnd := doyToDate(currentYear, clampDOY(predictedDOY+doyStd))
		rangeStr := fmt.Sprintf("%s,%s",
			rangeStart.Format("2006-01-02"), rangeEnd.Format("2006-01-02"))

		if err := p.cultivars.SetHybridPrediction(ctx, c.Name, predicted.Format("2006-01-02"), rangeStr); err != nil {
			return err
		}
		p.logger.Info("hybrid bud-break prediction",
			"cultivar", c.Name,
			"date", predicted.Format("2006-01-02"),
			"target_gdd", targetGDD,
			"remaining_gdd", remaining,
		)
	}
	return nil
}

// observedCrossingDate returns the date the current year actually reached
// the target accumulation. Falls back to the end of the forecast window when
// the crossing row is missing despite the totals saying it happened.
func (p *Projector) observedCrossingDate(ctx context.Context, year int, targetGDD float64, today time.Time) (time.Time, error) {
	yearStart := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	ts, _, found, err := p.readings.FirstCrossing(ctx, year, targetGDD, yearStart)
	if err != nil {
		return time.Time{}, err
	}
	if !found {
		return today.AddDate(0, 0, p.forecastDays), nil
	}
	return types.DayStart(time.Unix(ts, 0).UTC()), nil
}

// historicalDailyRate averages, over historical years, the GDD accrued per
// day between the current day-of-year and that year's crossing.
func (p *Projector) historicalDailyRate(ctx context.Context, crossings []*crossing, todayDOY int) (float64, error) {
	var rates []float64
	for _, cr := range crossings {
		daysDiff := cr.doy - todayDOY
		if daysDiff <= 0 {
			continue
		}
		asOf := doyToDate(cr.year, float64(todayDOY))
		startGDD, err := p.maxGDDBefore(ctx, cr.year, asOf)
		if err != nil {
			return 0, err
		}
		rate := (cr.gdd - startGDD) / float64(daysDiff)
		if rate > 0 {
			rates = append(rates, rate)
		}
	}
	if len(rates) == 0 {
		return defaultDailyRate, nil
	}
	var sum float64
	for _, r := range rates {
		sum += r
	}
	return sum / float64(len(rates)), nil
}
