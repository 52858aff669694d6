package phenology

import (
	"context"
)

// olsFit fits y = slope*x + intercept by ordinary least squares.
func olsFit(points [][2]float64) (slope, intercept float64) {
	n := float64(len(points))
	var meanX, meanY float64
	for _, pt := range points {
		meanX += pt[0]
		meanY += pt[1]
	}
	meanX /= n
	meanY /= n

	var num, den float64
	for _, pt := range points {
		num += (pt[0] - meanX) * (pt[1] - meanY)
		den += (pt[0] - meanX) * (pt[0] - meanX)
	}
	if den != 0 {
		slope = num / den
	}
	intercept = meanY - slope*meanX
	return slope, intercept
}

// ProjectTrend fits a per-cultivar linear trend on (year, crossing
// day-of-year) over the historical record and extrapolates it to the current
// year. Cultivars without a threshold or with fewer than two historical
// crossings are skipped.
func (p *Projector) ProjectTrend(ctx context.Context) error {
	currentYear := p.now().UTC().Year()

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
			p.logger.Info("skipping cultivar without threshold", "cultivar", c.Name, "model", "trend")
			continue
		}
		threshold := float64(*c.HeatSummation)

		var points [][2]float64
		for _, yr := range years {
			cr, err := p.crossingFor(ctx, c, yr, threshold)
			if err != nil {
				return err
			}
			if cr != nil {
				points = append(points, [2]float64{float64(cr.year), float64(cr.doy)})
			}
		}
		if len(points) < 2 {
			p.logger.Info("not enough historical crossings for trend fit",
				"cultivar", c.Name, "crossings", len(points))
			continue
		}

		slope, intercept := olsFit(points)
		doy := clampDOY(slope*float64(currentYear) + intercept)
		predicted := doyToDate(currentYear, doy)

		if err := p.cultivars.SetTrendPrediction(ctx, c.Name, predicted.Format("2006-01-02")); err != nil {
			return err
		}
		p.logger.Info("trend bud-break prediction",
			"cultivar", c.Name,
			"date", predicted.Format("2006-01-02"),
			"slope", slope,
		)
	}
	return nil
}
