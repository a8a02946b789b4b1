package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
)

func monthRange(startY int, startM time.Month, n int) domain.DateRange {
	start := domain.NewMonth(startY, startM)
	end := start
	for i := 1; i < n; i++ {
		end = end.Next()
	}
	return domain.DateRange{Start: start, End: end}
}

func TestFixture_FetchMonthlyClose_Success(t *testing.T) {
	f := NewFixture(3)
	r := monthRange(2024, 1, 3)
	months := r.Months()
	for i, m := range months {
		f.SetMonthlyClose("AAPL", m, 100.0+float64(i))
	}

	series, err := f.FetchMonthlyClose(context.Background(), "AAPL", r)
	require.NoError(t, err)
	assert.Equal(t, 3, series.Len())
	_, v := series.At(0)
	assert.Equal(t, 100.0, v)
}

func TestFixture_FetchMonthlyClose_DataUnavailable(t *testing.T) {
	f := NewFixture(3)
	r := monthRange(2024, 1, 3)

	_, err := f.FetchMonthlyClose(context.Background(), "MISSING", r)
	require.Error(t, err)
	var domErr *domain.Error
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, domain.ErrDataUnavailable, domErr.Kind)
}

func TestFixture_FetchMonthlyClose_GapIsInsufficientData(t *testing.T) {
	f := NewFixture(1)
	r := monthRange(2024, 1, 3)
	months := r.Months()
	f.SetMonthlyClose("AAPL", months[0], 100)
	f.SetMonthlyClose("AAPL", months[2], 102) // gap at months[1]

	_, err := f.FetchMonthlyClose(context.Background(), "AAPL", r)
	require.Error(t, err)
	var domErr *domain.Error
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, domain.ErrInsufficientData, domErr.Kind)
}

func TestFixture_FetchMonthlyClose_BelowMinimum(t *testing.T) {
	f := NewFixture(24)
	r := monthRange(2024, 1, 3)
	for _, m := range r.Months() {
		f.SetMonthlyClose("AAPL", m, 100)
	}

	_, err := f.FetchMonthlyClose(context.Background(), "AAPL", r)
	require.Error(t, err)
	var domErr *domain.Error
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, domain.ErrInsufficientData, domErr.Kind)
}

func TestFixture_FetchMonthlyClose_CancelledContext(t *testing.T) {
	f := NewFixture(1)
	r := monthRange(2024, 1, 1)
	f.SetMonthlyClose("AAPL", r.Start, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.FetchMonthlyClose(ctx, "AAPL", r)
	require.Error(t, err)
	var domErr *domain.Error
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, domain.ErrCancelled, domErr.Kind)
}

func TestReferenceMappings_Defaults(t *testing.T) {
	m := NewReferenceMappings()

	proxy, err := m.CashProxy("USD")
	require.NoError(t, err)
	assert.Equal(t, domain.Ticker("BIL"), proxy)

	_, err = m.CashProxy("JPY")
	require.Error(t, err)
}

func TestReferenceMappings_Override(t *testing.T) {
	m := NewReferenceMappings()
	m.OverrideCashProxy("JPY", "TMPXX")

	proxy, err := m.CashProxy("JPY")
	require.NoError(t, err)
	assert.Equal(t, domain.Ticker("TMPXX"), proxy)
}
