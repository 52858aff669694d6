package phenology

import (
	"context"
	"fmt"
	"math"

	"vinewatch/internal/types"
)

// numFeatures is the width of the learned model's feature vector:
// current GDD, day-of-year, season chill hours, historical mean GDD at this
// date, historical std GDD at this date, target threshold.
const numFeatures = 6

// BuildTrainingData assembles one sample per (cultivar, historical year):
// the feature vector the model would have seen on today's calendar date in
// that year, labeled with the GDD that was actually still to come before the
// crossing. Assembled samples are cached in the training store so later runs
// skip the readings-table scans.
func (p *Projector) BuildTrainingData(ctx context.Context) ([][]float64, []float64, error) {
	today := types.DayStart(p.now().UTC())
	currentYear := today.Year()
	todayDOY := today.YearDay()

	years, err := p.historicalYears(ctx, currentYear)
	if err != nil {
		return nil, nil, err
	}
	if len(years) == 0 {
		return nil, nil, types.NewAppError(types.ErrCodeModelNoTrainingData, "no historical years recorded", nil)
	}
	cultivars, err := p.cultivars.List(ctx)
	if err != nil {
		return nil, nil, err
	}

	gddsAtDate, err := p.gddsAtDOY(ctx, years, todayDOY)
	if err != nil {
		return nil, nil, err
	}
	meanGDD, stdGDD := meanStd(gddsAtDate)

	cached, err := p.training.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	cacheKey := func(cultivar string, year int) string {
		return fmt.Sprintf("%s|%d", cultivar, year)
	}
	cache := make(map[string]types.TrainingSample, len(cached))
	for _, s := range cached {
		cache[cacheKey(s.Cultivar, s.Year)] = s
	}

	var features [][]float64
	var labels []float64
	for _, c := range cultivars {
		if c.HeatSummation == nil {
			continue
		}
		threshold := float64(*c.HeatSummation)

		for i, yr := range years {
			if s, ok := cache[cacheKey(c.Name, yr)]; ok {
				features = append(features, []float64{
					s.CurrentGDD, float64(s.DayOfYear), s.ChillHours,
					s.MeanGDD, s.StdGDD, threshold,
				})
				labels = append(labels, s.RemainingGDD)
				continue
			}

			cr, err := p.crossingFor(ctx, c, yr, threshold)
			if err != nil {
				return nil, nil, err
			}
			if cr == nil {
				continue
			}

			currentGDD := gddsAtDate[i]
			chill, err := p.seasonChillHours(ctx, yr)
			if err != nil {
				return nil, nil, err
			}
			remaining := cr.gdd - currentGDD

			sample := types.TrainingSample{
				Cultivar:     c.Name,
				Year:         yr,
				CurrentGDD:   currentGDD,
				DayOfYear:    todayDOY,
				ChillHours:   chill,
				MeanGDD:      meanGDD,
				StdGDD:       stdGDD,
				RemainingGDD: remaining,
			}
			if err := p.training.Upsert(ctx, sample); err != nil {
				return nil, nil, err
			}

			features = append(features, []float64{
				currentGDD, float64(todayDOY), chill, meanGDD, stdGDD, threshold,
			})
			labels = append(labels, remaining)
		}
	}
	if len(features) == 0 {
		return nil, nil, types.NewAppError(types.ErrCodeModelNoTrainingData, "no cultivar produced a training sample", nil)
	}
	return features, labels, nil
}

// ProjectLearned scores every cultivar with the trained model: predict the
// remaining GDD to bud break, then walk forward through the historical
// average daily accumulation curve until that amount is spent. The model is
// a caller-supplied dependency; training and artifact caching are the
// caller's decision.
func (p *Projector) ProjectLearned(ctx context.Context, m *Model) error {
	today := types.DayStart(p.now().UTC())
	currentYear := today.Year()
	todayDOY := today.YearDay()

	years, err := p.historicalYears(ctx, currentYear)
	if err != nil {
		return err
	}
	if len(years) == 0 {
		p.logger.Warn("no historical years; skipping learned-model projection")
		return nil
	}

	curve, err := p.dailyGDDCurve(ctx)
	if err != nil {
		return err
	}

	gddsAtDate, err := p.gddsAtDOY(ctx, years, todayDOY)
	if err != nil {
		return err
	}
	meanGDD, stdGDD := meanStd(gddsAtDate)

	currentGDD, err := p.maxGDDBefore(ctx, currentYear, today)
	if err != nil {
		return err
	}
	chill, err := p.seasonChillHours(ctx, currentYear)
	if err != nil {
		return err
	}

	cultivars, err := p.cultivars.List(ctx)
	if err != nil {
		return err
	}
	for _, c := range cultivars {
		if c.HeatSummation == nil {
			p.logger.Info("skipping cultivar without threshold", "cultivar", c.Name, "model", "learned")
			continue
		}

		features := []float64{
			currentGDD, float64(todayDOY), chill, meanGDD, stdGDD,
			float64(*c.HeatSummation),
		}
		remaining := math.Max(0, m.Predict(features))

		days := walkCurve(curve, todayDOY, remaining)
		predicted := today.AddDate(0, 0, days)

		if err := p.cultivars.SetModelPrediction(ctx, c.Name, predicted.Format("2006-01-02")); err != nil {
			return err
		}
		p.logger.Info("learned-model bud-break prediction",
			"cultivar", c.Name,
			"date", predicted.Format("2006-01-02"),
			"remaining_gdd", remaining,
		)
	}
	return nil
}

// dailyGDDCurve converts the historical mean temperature per day-of-year
// into expected daily GDD, indexed 1..366.
func (p *Projector) dailyGDDCurve(ctx context.Context) (map[int]float64, error) {
	avgC, err := p.readings.DailyAverageTempC(ctx)
	if err != nil {
		return nil, err
	}
	curve := make(map[int]float64, len(avgC))
	for doy, c := range avgC {
		curve[doy] = math.Max(0, c-types.BaseTempC)
	}
	return curve, nil
}

// walkCurve counts the days needed to accumulate the remaining GDD starting
// at the given day-of-year. Days with no expected accumulation still make a
// minimal contribution so the walk always terminates; the horizon is capped
// at one year.
func walkCurve(curve map[int]float64, startDOY int, remaining float64) int {
	// Tolerance on the crossing comparison keeps summed float increments
	// (ten 0.1 steps fall a hair short of 1.0) from costing an extra day.
	const eps = 1e-9

	accumulated := 0.0
	days := 0
	for accumulated+eps < remaining && days < 365 {
		doy := (startDOY+days-1)%366 + 1
		daily := curve[doy]
		if daily <= 0 {
			daily = 0.1
		}
		accumulated += daily
		days++
	}
	return days
}

// gddsAtDOY returns, for each given year, the cumulative total that year had
// reached by the end of the given day-of-year.
func (p *Projector) gddsAtDOY(ctx context.Context, years []int, doy int) ([]float64, error) {
	out := make([]float64, len(years))
	for i, yr := range years {
		gdd, err := p.maxGDDBefore(ctx, yr, doyToDate(yr, float64(doy)))
		if err != nil {
			return nil, err
		}
		out[i] = gdd
	}
	return out, nil
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std
}
