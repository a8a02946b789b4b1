package returns

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
)

func series(start time.Month, startYear int, values []float64) domain.MonthlySeries[float64] {
	m := domain.NewMonth(startYear, start)
	months := make([]domain.Month, len(values))
	for i := range values {
		months[i] = m
		m = m.Next()
	}
	return domain.NewMonthlySeries(months, values)
}

func TestMonthlyReturns_Basic(t *testing.T) {
	prices := series(time.January, 2024, []float64{100, 110, 99})
	r, err := MonthlyReturns(prices)
	require.NoError(t, err)
	require.Equal(t, 2, r.Len())

	_, v0 := r.At(0)
	_, v1 := r.At(1)
	assert.InDelta(t, 0.10, v0, 1e-9)
	assert.InDelta(t, -0.10, v1, 1e-9)
}

func TestMonthlyReturns_InsufficientData(t *testing.T) {
	prices := series(time.January, 2024, []float64{100})
	_, err := MonthlyReturns(prices)
	require.Error(t, err)
	var domErr *domain.Error
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, domain.ErrInsufficientData, domErr.Kind)
}

func TestVolatilityAnnual_ZeroForConstantReturns(t *testing.T) {
	rets := series(time.January, 2024, []float64{0.01, 0.01, 0.01, 0.01})
	vol, err := VolatilityAnnual(rets)
	require.NoError(t, err)
	assert.InDelta(t, 0, vol, 1e-9)
}

func TestVolatilityAnnual_ScalesWithSqrt12(t *testing.T) {
	rets := series(time.January, 2024, []float64{0.05, -0.05, 0.05, -0.05})
	vol, err := VolatilityAnnual(rets)
	require.NoError(t, err)
	assert.Greater(t, vol, 0.0)
	assert.False(t, math.IsNaN(vol))
	assert.InDelta(t, 0.2, vol, 1e-12) // sample std 0.1/sqrt(3), times sqrt(12)
}

func TestRollingVolatility_InvalidWindow(t *testing.T) {
	rets := series(time.January, 2024, []float64{0.01, 0.02, 0.03})
	_, err := RollingVolatility(rets, 1)
	require.Error(t, err)

	_, err = RollingVolatility(rets, 10)
	require.Error(t, err)
}

func TestRollingVolatility_AlignedToWindowEnd(t *testing.T) {
	rets := series(time.January, 2024, []float64{0.01, 0.02, 0.03, -0.01, 0.04})
	out, err := RollingVolatility(rets, 3)
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())

	m0, _ := out.At(0)
	assert.Equal(t, domain.NewMonth(2024, time.March), m0)
}
