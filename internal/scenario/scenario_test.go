package scenario

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
	"github.com/henrysouchien/portfolio-risk-engine/internal/riskengine"
)

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

func baseDeps(f *provider.Fixture) Deps {
	return Deps{
		Provider:   f,
		Refs:       provider.NewReferenceMappings(),
		Regression: regression.DefaultConfig(),
		Risk:       riskengine.Config{WorstCaseLookbackMonths: 36},
		Log:        zerolog.Nop(),
	}
}

func TestApply_NewWeightsTakesPrecedenceOverDelta(t *testing.T) {
	base := domain.Portfolio{
		Weights: map[domain.Ticker]float64{"AAPL": 0.6, "MSFT": 0.4},
		Proxies: map[domain.Ticker]domain.ProxySet{
			"AAPL": {Market: "SPY"},
			"MSFT": {Market: "SPY"},
		},
	}
	spec := Spec{
		NewWeights: map[domain.Ticker]float64{"AAPL": 1.0},
		Delta:      map[domain.Ticker]string{"MSFT": "+500bp"},
	}

	modified, _, err := Apply(base, spec, provider.NewReferenceMappings())
	require.NoError(t, err)
	assert.Equal(t, 1.0, modified.Weights["AAPL"])
	_, hasMSFT := modified.Weights["MSFT"]
	assert.False(t, hasMSFT)
}

func TestApply_DeltaShiftsExistingWeight(t *testing.T) {
	base := domain.Portfolio{
		Weights: map[domain.Ticker]float64{"AAPL": 0.6, "MSFT": 0.4},
		Proxies: map[domain.Ticker]domain.ProxySet{
			"AAPL": {Market: "SPY"},
			"MSFT": {Market: "SPY"},
		},
	}
	spec := Spec{Delta: map[domain.Ticker]string{"AAPL": "+200bp"}}

	modified, newTickers, err := Apply(base, spec, provider.NewReferenceMappings())
	require.NoError(t, err)
	assert.InDelta(t, 0.62, modified.Weights["AAPL"], 1e-9)
	assert.InDelta(t, 0.4, modified.Weights["MSFT"], 1e-9)
	assert.Empty(t, newTickers)
}

func TestApply_AutoAssignsProxyForNewTicker(t *testing.T) {
	base := domain.Portfolio{
		Weights: map[domain.Ticker]float64{"AAPL": 1.0},
		Proxies: map[domain.Ticker]domain.ProxySet{
			"AAPL": {Market: "SPY", Momentum: "MTUM", Value: "VTV"},
		},
	}
	spec := Spec{Delta: map[domain.Ticker]string{"GOOG": "5%"}}

	modified, newTickers, err := Apply(base, spec, provider.NewReferenceMappings())
	require.NoError(t, err)
	require.Contains(t, newTickers, domain.Ticker("GOOG"))
	proxy := modified.Proxies["GOOG"]
	assert.Equal(t, domain.Ticker("SPY"), proxy.Market)
	assert.Equal(t, domain.Ticker("MTUM"), proxy.Momentum)
	assert.Equal(t, domain.Ticker("VTV"), proxy.Value)
}

func TestApply_CashTickerGetsCashProxy(t *testing.T) {
	base := domain.Portfolio{
		Weights: map[domain.Ticker]float64{"AAPL": 0.9},
		Proxies: map[domain.Ticker]domain.ProxySet{"AAPL": {Market: "SPY"}},
	}
	spec := Spec{Delta: map[domain.Ticker]string{"CUR:USD": "10%"}}

	modified, newTickers, err := Apply(base, spec, provider.NewReferenceMappings())
	require.NoError(t, err)
	require.Contains(t, newTickers, domain.Ticker("CUR:USD"))
	assert.Equal(t, domain.Ticker("BIL"), modified.Proxies["CUR:USD"].Market)
}

func TestRun_EmitsBeforeAfterAndDoesNotMutateBase(t *testing.T) {
	r := testRange(41)
	f := provider.NewFixture(2)

	marketRets := make([]float64, 40)
	tickerRets := make([]float64, 40)
	for i := range marketRets {
		marketRets[i] = 0.01 * float64(i%5-2)
		tickerRets[i] = 0.001 + 1.1*marketRets[i]
	}
	seedPriceSeries(f, "SPY", r, marketRets)
	seedPriceSeries(f, "AAPL", r, tickerRets)

	base := domain.Portfolio{
		Weights: map[domain.Ticker]float64{"AAPL": 1.0},
		Range:   r,
		Proxies: map[domain.Ticker]domain.ProxySet{"AAPL": {Market: "SPY"}},
		RiskLimits: domain.RiskLimits{
			MaxPortfolioVolatility: 1.0, MaxSingleStockWeight: 1.0,
			MaxFactorContribution: 1.0, MaxMarketContribution: 1.0, MaxIndustryContribution: 1.0,
			MaxSingleFactorLoss: -1.0, MaxLoss: -1.0,
		},
	}
	spec := Spec{Delta: map[domain.Ticker]string{"AAPL": "-10%"}}

	originalWeight := base.Weights["AAPL"]
	result, err := Run(context.Background(), base, spec, baseDeps(f))
	require.NoError(t, err)

	assert.Equal(t, originalWeight, base.Weights["AAPL"]) // base untouched
	assert.Greater(t, result.Before.Metrics.PortfolioVolatility, 0.0)
	assert.Greater(t, result.After.Metrics.PortfolioVolatility, 0.0)
	assert.NotEqual(t, result.Before.Metrics.PortfolioVolatility, result.After.Metrics.PortfolioVolatility)
}
