package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

func series(values ...float64) []Observation {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	out := make([]Observation, len(values))
	for i, v := range values {
		out[i] = Observation{Date: start.AddDate(0, 0, i), Value: v}
	}
	return out
}

func flat(n int, v float64) []Observation {
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return series(values...)
}

func trending(n int, start, step float64) []Observation {
	values := make([]float64, n)
	for i := range values {
		values[i] = start + float64(i)*step
	}
	return series(values...)
}

func TestRunInsufficientHistory(t *testing.T) {
	f, err := Run(series(80, 81, 82, 83, 84), 7, MethodAuto)
	require.NoError(t, err)
	assert.Empty(t, f.Points)
	assert.Equal(t, ReasonInsufficientHistory, f.Reason)
}

func TestRunValidatesHorizon(t *testing.T) {
	_, err := Run(flat(14, 90), 0, MethodAuto)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = Run(flat(14, 90), 31, MethodAuto)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestRunIdempotent(t *testing.T) {
	s := trending(40, 50, 0.8)
	first, err := Run(s, 14, MethodAuto)
	require.NoError(t, err)
	second, err := Run(s, 14, MethodAuto)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAutoSelectsSimpleForShortSeries(t *testing.T) {
	f, err := Run(trending(10, 50, 2), 7, MethodAuto)
	require.NoError(t, err)
	assert.Equal(t, MethodSimple, f.Method)
	require.Len(t, f.Points, 7)
}

func TestAutoSelectsSimpleWithoutTrend(t *testing.T) {
	f, err := Run(flat(20, 85), 7, MethodAuto)
	require.NoError(t, err)
	assert.Equal(t, MethodSimple, f.Method)
	// A flat series forecasts flat with zero residual.
	for _, p := range f.Points {
		assert.InDelta(t, 85.0, p.Value, 1e-9)
		assert.InDelta(t, 85.0, p.Lower, 1e-9)
		assert.InDelta(t, 85.0, p.Upper, 1e-9)
	}
}

func TestAutoSelectsDoubleForMidTrendedSeries(t *testing.T) {
	f, err := Run(trending(20, 40, 3), 7, MethodAuto)
	require.NoError(t, err)
	assert.Equal(t, MethodDouble, f.Method)
	// The trend continues upward.
	require.Len(t, f.Points, 7)
	assert.Greater(t, f.Points[6].Value, f.Points[0].Value)
}

func TestAutoSelectsDampedForLongStableTrend(t *testing.T) {
	f, err := Run(trending(45, 30, 1.5), 10, MethodAuto)
	require.NoError(t, err)
	assert.Equal(t, MethodDamped, f.Method)
	require.Len(t, f.Points, 10)

	// Damping shrinks successive increments.
	d1 := f.Points[1].Value - f.Points[0].Value
	d9 := f.Points[9].Value - f.Points[8].Value
	assert.Greater(t, d1, d9)
}

func TestBandsWidenWithHorizon(t *testing.T) {
	// Noisy-ish series so the residual sigma is nonzero.
	f, err := Run(series(80, 84, 79, 86, 81, 85, 80, 87, 82, 84, 79, 88, 83, 85), 10, MethodSimple)
	require.NoError(t, err)
	require.Len(t, f.Points, 10)
	require.Greater(t, f.SigmaResidual, 0.0)

	width := func(p Point) float64 { return p.Upper - p.Lower }
	for i := 1; i < len(f.Points); i++ {
		assert.Greater(t, width(f.Points[i]), width(f.Points[i-1]))
	}
	// h=1 band is ±1.96σ.
	assert.InDelta(t, 2*1.96*f.SigmaResidual, width(f.Points[0]), 1e-9)
}

func TestExplicitMethodBelowMinimum(t *testing.T) {
	f, err := Run(trending(10, 50, 2), 7, MethodDamped)
	require.NoError(t, err)
	assert.Empty(t, f.Points)
	assert.Equal(t, ReasonInsufficientHistory, f.Reason)
}

func TestHistoryTruncatedToWindow(t *testing.T) {
	long := trending(120, 10, 1)
	f, err := Run(long, 5, MethodAuto)
	require.NoError(t, err)
	require.NotEmpty(t, f.Points)
	// Forecast dates continue from the last observation regardless of how
	// much history was trimmed.
	assert.Equal(t, long[len(long)-1].Date.AddDate(0, 0, 1), f.Points[0].Date)
}
