package series

import (
	"math"

	"ripeness-monitor/internal/models"
)

// Estimate fits mean gas counts against the bucket index 0..n-1 with
// ordinary least squares. Points without a gas mean are skipped.
//
// ok is false when no point carries a gas mean. A single point yields a
// flat fit: slope 0 and the point's value as intercept.
func Estimate(points []models.AggregatedPoint) (est models.TrendEstimate, ok bool) {
	ys := make([]float64, 0, len(points))
	for _, p := range points {
		if !math.IsNaN(p.GasRaw) {
			ys = append(ys, p.GasRaw)
		}
	}
	if len(ys) == 0 {
		return models.TrendEstimate{}, false
	}

	n := float64(len(ys))
	meanX := (n - 1) / 2
	meanY := 0.0
	for _, y := range ys {
		meanY += y
	}
	meanY /= n

	var sxx, sxy float64
	for i, y := range ys {
		dx := float64(i) - meanX
		sxx += dx * dx
		sxy += dx * (y - meanY)
	}

	slope := 0.0
	if sxx > 0 {
		slope = sxy / sxx
	}

	est = models.TrendEstimate{
		Slope:     slope,
		Intercept: meanY - slope*meanX,
		Direction: models.DirectionFalling,
	}
	if slope > 0 {
		est.Direction = models.DirectionRising
	}
	return est, true
}
