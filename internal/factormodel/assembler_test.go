package factormodel

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
	"github.com/henrysouchien/portfolio-risk-engine/internal/provider"
	"github.com/henrysouchien/portfolio-risk-engine/internal/regression"
)

// seedPriceSeries seeds n+1 months of total-return prices on f for ticker,
// generated from a monthly-return sequence so the resulting return series
// is exactly reconstructable.
func seedPriceSeries(f *provider.Fixture, ticker domain.Ticker, r domain.DateRange, monthlyReturns []float64) {
	price := 100.0
	months := r.Months()
	f.SetMonthlyTotalReturn(ticker, months[0], price)
	for i, ret := range monthlyReturns {
		price *= 1 + ret
		f.SetMonthlyTotalReturn(ticker, months[i+1], price)
	}
}

func testRange(n int) domain.DateRange {
	start := domain.NewMonth(2020, time.January)
	end := start
	for i := 1; i < n; i++ {
		end = end.Next()
	}
	return domain.DateRange{Start: start, End: end}
}

func TestAssembler_Build_SingleFactorTicker(t *testing.T) {
	r := testRange(41) // 40 returns
	f := provider.NewFixture(2)

	marketRets := make([]float64, 40)
	for i := range marketRets {
		marketRets[i] = 0.01 * float64(i%5-2)
	}
	tickerRets := make([]float64, 40)
	for i, m := range marketRets {
		tickerRets[i] = 0.001 + 1.2*m
	}

	seedPriceSeries(f, "SPY", r, marketRets)
	seedPriceSeries(f, "AAPL", r, tickerRets)

	p := domain.Portfolio{
		Weights: map[domain.Ticker]float64{"AAPL": 1.0},
		Range:   r,
		Proxies: map[domain.Ticker]domain.ProxySet{
			"AAPL": {Market: "SPY"},
		},
	}

	asm := NewAssembler(f, provider.NewReferenceMappings(), regression.DefaultConfig(), zerolog.Nop())
	model, err := asm.Build(context.Background(), p)
	require.NoError(t, err)

	require.Contains(t, model.ValidatedTickers, domain.Ticker("AAPL"))
	beta, ok := model.Betas["AAPL"]
	require.True(t, ok)
	assert.InDelta(t, 1.2, beta.Betas[domain.FactorMarket], 1e-6)
	assert.Contains(t, model.FactorCov.Labels, domain.FactorMarket)
}

func TestAssembler_Build_DropsTickerWithNoData(t *testing.T) {
	r := testRange(41)
	f := provider.NewFixture(2)

	p := domain.Portfolio{
		Weights: map[domain.Ticker]float64{"GHOST": 1.0},
		Range:   r,
		Proxies: map[domain.Ticker]domain.ProxySet{
			"GHOST": {Market: "SPY"},
		},
	}

	asm := NewAssembler(f, provider.NewReferenceMappings(), regression.DefaultConfig(), zerolog.Nop())
	model, err := asm.Build(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, model.ValidatedTickers)
}

func TestAssembler_Build_SubindustryDroppedBelowTwoPeers(t *testing.T) {
	r := testRange(41)
	f := provider.NewFixture(2)

	marketRets := make([]float64, 40)
	industryRets := make([]float64, 40)
	tickerRets := make([]float64, 40)
	for i := range marketRets {
		marketRets[i] = 0.01 * float64(i%5-2)
		industryRets[i] = 0.008 * float64(i%7-3)
		tickerRets[i] = 0.002 + 0.8*marketRets[i] + 0.4*industryRets[i]
	}
	seedPriceSeries(f, "SPY", r, marketRets)
	seedPriceSeries(f, "XLK", r, industryRets)
	seedPriceSeries(f, "AAPL", r, tickerRets)
	seedPriceSeries(f, "PEER1", r, industryRets)
	// Only one peer registered, below the two-peer minimum.

	p := domain.Portfolio{
		Weights: map[domain.Ticker]float64{"AAPL": 1.0},
		Range:   r,
		Proxies: map[domain.Ticker]domain.ProxySet{
			"AAPL": {Market: "SPY", Industry: "XLK", SubindustryPeers: []domain.Ticker{"PEER1"}},
		},
	}

	asm := NewAssembler(f, provider.NewReferenceMappings(), regression.DefaultConfig(), zerolog.Nop())
	model, err := asm.Build(context.Background(), p)
	require.NoError(t, err)
	require.Contains(t, model.ValidatedTickers, domain.Ticker("AAPL"))
	_, hasSubindustry := model.Betas["AAPL"].Betas[domain.FactorSubindustry]
	assert.False(t, hasSubindustry)
}
