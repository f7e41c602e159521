// Package forecast projects daily KPI series forward with exponential
// smoothing. The math is pure float64 over the input series, so the same
// series always yields the same forecast.
package forecast

import (
	"math"
	"time"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// Method names the smoothing model a forecast used.
type Method string

const (
	// MethodAuto selects a model from the series shape.
	MethodAuto Method = "auto"
	// MethodSimple is level-only exponential smoothing.
	MethodSimple Method = "simple"
	// MethodDouble is level-plus-trend (Holt) smoothing.
	MethodDouble Method = "double"
	// MethodDamped is Holt smoothing with a damped trend.
	MethodDamped Method = "damped"
)

// ReasonInsufficientHistory marks an empty forecast from a short series.
const ReasonInsufficientHistory = "INSUFFICIENT_HISTORY"

// dampingFactor flattens the trend of long-horizon damped forecasts.
const dampingFactor = 0.98

const (
	minHistory   = 7
	maxHistory   = 90
	minHorizon   = 1
	maxHorizon   = 30
	doubleMinPts = 14
	dampedMinPts = 30
)

// Observation is one daily sample of the input series.
type Observation struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Point is one forecast step with its 95% confidence band.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
	Lower float64   `json:"lower"`
	Upper float64   `json:"upper"`
}

// Forecast is the projection result. Points is nil with a Reason when the
// series was too short.
type Forecast struct {
	Method Method  `json:"method"`
	Points []Point `json:"points,omitempty"`
	Reason string  `json:"reason,omitempty"`
	// SigmaResidual is the in-sample residual deviation behind the bands.
	SigmaResidual float64 `json:"sigma_residual"`
}

// Run projects the series days steps ahead. method MethodAuto picks the
// model; an explicit method is honored when the series meets its minimum.
func Run(series []Observation, days int, method Method) (Forecast, error) {
	if days < minHorizon || days > maxHorizon {
		return Forecast{}, domain.Validation("forecast_days", "forecast horizon must be between 1 and 30 days")
	}
	if len(series) > maxHistory {
		series = series[len(series)-maxHistory:]
	}
	if len(series) < minHistory {
		return Forecast{Method: method, Reason: ReasonInsufficientHistory}, nil
	}

	values := make([]float64, len(series))
	for i, o := range series {
		values[i] = o.Value
	}

	chosen := method
	if chosen == MethodAuto || chosen == "" {
		chosen = selectMethod(values)
	}

	var fitted []float64
	var project func(h int) float64
	switch chosen {
	case MethodSimple:
		fitted, project = fitSimple(values)
	case MethodDouble:
		if len(values) < doubleMinPts {
			return Forecast{Method: chosen, Reason: ReasonInsufficientHistory}, nil
		}
		fitted, project = fitHolt(values, 1.0)
	case MethodDamped:
		if len(values) < dampedMinPts {
			return Forecast{Method: chosen, Reason: ReasonInsufficientHistory}, nil
		}
		fitted, project = fitHolt(values, dampingFactor)
	default:
		return Forecast{}, domain.Validation("method", "unknown forecast method")
	}

	sigma := residualSigma(values, fitted)
	last := series[len(series)-1].Date
	points := make([]Point, 0, days)
	for h := 1; h <= days; h++ {
		v := project(h)
		band := 1.96 * sigma * math.Sqrt(float64(h))
		points = append(points, Point{
			Date:  last.AddDate(0, 0, h),
			Value: v,
			Lower: v - band,
			Upper: v + band,
		})
	}
	return Forecast{Method: chosen, Points: points, SigmaResidual: sigma}, nil
}

// selectMethod applies the auto rules: short series smooth level only;
// a detected trend upgrades to Holt, and long stable series damp it.
func selectMethod(values []float64) Method {
	n := len(values)
	if n < doubleMinPts {
		return MethodSimple
	}
	if !hasTrend(values) {
		return MethodSimple
	}
	if n >= dampedMinPts && stableVariance(values) {
		return MethodDamped
	}
	return MethodDouble
}

// hasTrend fits a least-squares line and reports whether the fitted drift
// across the window exceeds 10% of the series mean.
func hasTrend(values []float64) bool {
	n := float64(len(values))
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return false
	}
	slope := (n*sumXY - sumX*sumY) / den
	drift := math.Abs(slope) * (n - 1)
	mean := sumY / n
	if mean == 0 {
		return drift > 0
	}
	return drift > 0.1*math.Abs(mean)
}

// stableVariance compares the deviation of the two series halves; a ratio
// under 2 in both directions counts as stable.
func stableVariance(values []float64) bool {
	half := len(values) / 2
	s1 := stddev(values[:half])
	s2 := stddev(values[half:])
	if s1 == 0 && s2 == 0 {
		return true
	}
	if s1 == 0 || s2 == 0 {
		return false
	}
	ratio := s1 / s2
	return ratio < 2 && ratio > 0.5
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}

// smoothingGrid is the α (and β) candidate set; fits minimize in-sample SSE
// over it, keeping the optimization deterministic.
var smoothingGrid = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}

// fitSimple fits level-only smoothing, returning the one-step-ahead fitted
// values and a projection function (flat at the final level).
func fitSimple(values []float64) ([]float64, func(int) float64) {
	bestSSE := math.Inf(1)
	var bestFitted []float64
	var bestLevel float64
	for _, alpha := range smoothingGrid {
		fitted := make([]float64, len(values))
		level := values[0]
		fitted[0] = level
		sse := 0.0
		for i := 1; i < len(values); i++ {
			fitted[i] = level
			err := values[i] - level
			sse += err * err
			level += alpha * err
		}
		if sse < bestSSE {
			bestSSE = sse
			bestFitted = fitted
			bestLevel = level
		}
	}
	level := bestLevel
	return bestFitted, func(int) float64 { return level }
}

// fitHolt fits level-plus-trend smoothing with damping phi (1.0 disables
// damping). Projection sums the damped trend over the horizon.
func fitHolt(values []float64, phi float64) ([]float64, func(int) float64) {
	bestSSE := math.Inf(1)
	var bestFitted []float64
	var bestLevel, bestTrend float64
	for _, alpha := range smoothingGrid {
		for _, beta := range smoothingGrid {
			fitted := make([]float64, len(values))
			level := values[0]
			trend := values[1] - values[0]
			fitted[0] = level
			sse := 0.0
			for i := 1; i < len(values); i++ {
				predicted := level + phi*trend
				fitted[i] = predicted
				err := values[i] - predicted
				sse += err * err
				newLevel := predicted + alpha*err
				trend = phi*trend + beta*(newLevel-level)
				level = newLevel
			}
			if sse < bestSSE {
				bestSSE = sse
				bestFitted = fitted
				bestLevel = level
				bestTrend = trend
			}
		}
	}
	level, trend := bestLevel, bestTrend
	return bestFitted, func(h int) float64 {
		// Damped trend sum: φ + φ² + ... + φ^h.
		sum := 0.0
		p := phi
		for i := 0; i < h; i++ {
			sum += p
			p *= phi
		}
		return level + sum*trend
	}
}

// residualSigma is the deviation of the one-step-ahead in-sample errors.
func residualSigma(values, fitted []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var ss float64
	n := 0
	for i := 1; i < len(values); i++ {
		d := values[i] - fitted[i]
		ss += d * d
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(ss / float64(n))
}
