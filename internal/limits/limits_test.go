package limits

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
	"github.com/henrysouchien/portfolio-risk-engine/internal/riskengine"
)

func series(startYear int, startMonth time.Month, values []float64) domain.MonthlySeries[float64] {
	m := domain.NewMonth(startYear, startMonth)
	months := make([]domain.Month, len(values))
	for i := range values {
		months[i] = m
		m = m.Next()
	}
	return domain.NewMonthlySeries(months, values)
}

func baseModel() domain.FactorModel {
	market := []float64{0.01, -0.02, 0.03, -0.01, 0.02}
	return domain.FactorModel{
		FactorPanel: domain.FactorPanel{
			Returns: map[string]domain.MonthlySeries[float64]{
				domain.FactorMarket: series(2020, time.January, market),
			},
		},
	}
}

func baseOutput() riskengine.Output {
	return riskengine.Output{
		Metrics: domain.RiskMetrics{
			PortfolioVolatility: 0.15,
			PortfolioVariance:   0.0225,
		},
		FactorExposures: map[string]float64{
			domain.FactorMarket: 1.0,
		},
		VarianceByFactor: map[string]float64{
			domain.FactorMarket: 0.018,
		},
		WorstCaseFactorLoss: map[string]float64{
			domain.FactorMarket: -0.02,
		},
	}
}

func findCheck(checks []domain.LimitCheck, id string) (domain.LimitCheck, bool) {
	for _, c := range checks {
		if c.LimitID == id {
			return c, true
		}
	}
	return domain.LimitCheck{}, false
}

func TestCheck_VolatilityPassAndFail(t *testing.T) {
	p := domain.Portfolio{Weights: map[domain.Ticker]float64{"AAPL": 1.0}}
	out := baseOutput()
	model := baseModel()

	passing := domain.RiskLimits{MaxPortfolioVolatility: 0.20, MaxSingleStockWeight: 1.0, MaxFactorContribution: 1.0, MaxMarketContribution: 1.0, MaxIndustryContribution: 1.0, MaxSingleFactorLoss: -1.0, MaxLoss: -1.0}
	checks := Check(p, out, model, passing)
	c, ok := findCheck(checks, LimitPortfolioVolatility)
	assert.True(t, ok)
	assert.True(t, c.Passed)

	tight := passing
	tight.MaxPortfolioVolatility = 0.10
	checks = Check(p, out, model, tight)
	c, _ = findCheck(checks, LimitPortfolioVolatility)
	assert.False(t, c.Passed)
	assert.Less(t, c.Margin, 0.0)
}

func TestCheck_SingleStockWeightPerTicker(t *testing.T) {
	p := domain.Portfolio{Weights: map[domain.Ticker]float64{"AAPL": 0.7, "MSFT": -0.3}}
	out := baseOutput()
	model := baseModel()
	limits := domain.RiskLimits{MaxSingleStockWeight: 0.5, MaxFactorContribution: 1.0, MaxMarketContribution: 1.0, MaxIndustryContribution: 1.0, MaxSingleFactorLoss: -1.0, MaxPortfolioVolatility: 1.0, MaxLoss: -1.0}

	checks := Check(p, out, model, limits)
	aapl, ok := findCheck(checks, LimitSingleStockWeight+":AAPL")
	assert.True(t, ok)
	assert.False(t, aapl.Passed) // 0.7 > 0.5

	msft, ok := findCheck(checks, LimitSingleStockWeight+":MSFT")
	assert.True(t, ok)
	assert.True(t, msft.Passed) // |-0.3| <= 0.5
}

func TestCheck_FactorContributionUsesMarketSpecificLimit(t *testing.T) {
	p := domain.Portfolio{Weights: map[domain.Ticker]float64{"AAPL": 1.0}}
	out := baseOutput() // market share = 0.018/0.0225 = 0.8
	model := baseModel()
	limits := domain.RiskLimits{
		MaxPortfolioVolatility: 1.0, MaxSingleStockWeight: 1.0,
		MaxFactorContribution:  1.0,
		MaxMarketContribution:  0.5,
		MaxIndustryContribution: 1.0,
		MaxSingleFactorLoss:    -1.0,
		MaxLoss:                -1.0,
	}

	checks := Check(p, out, model, limits)
	c, ok := findCheck(checks, LimitFactorContribution+":"+domain.FactorMarket)
	assert.True(t, ok)
	assert.False(t, c.Passed)
	assert.InDelta(t, 0.8, c.Observed, 1e-9)
}

func TestCheck_SingleFactorLoss(t *testing.T) {
	p := domain.Portfolio{Weights: map[domain.Ticker]float64{"AAPL": 1.0}}
	out := baseOutput() // worst case market loss -0.02
	model := baseModel()
	limits := domain.RiskLimits{
		MaxPortfolioVolatility: 1.0, MaxSingleStockWeight: 1.0,
		MaxFactorContribution: 1.0, MaxMarketContribution: 1.0, MaxIndustryContribution: 1.0,
		MaxSingleFactorLoss: -0.01,
		MaxLoss:             -1.0,
	}

	checks := Check(p, out, model, limits)
	c, ok := findCheck(checks, LimitSingleFactorLoss+":"+domain.FactorMarket)
	assert.True(t, ok)
	assert.False(t, c.Passed) // -0.02 < -0.01
}

func TestCheck_HistoricalLossRecombinesFactorReturns(t *testing.T) {
	p := domain.Portfolio{Weights: map[domain.Ticker]float64{"AAPL": 1.0}}
	out := baseOutput() // exposure market = 1.0
	model := baseModel()
	limits := domain.RiskLimits{
		MaxPortfolioVolatility: 1.0, MaxSingleStockWeight: 1.0,
		MaxFactorContribution: 1.0, MaxMarketContribution: 1.0, MaxIndustryContribution: 1.0,
		MaxSingleFactorLoss: -1.0,
		MaxLoss:             -0.015,
	}

	checks := Check(p, out, model, limits)
	c, ok := findCheck(checks, LimitHistoricalLoss)
	assert.True(t, ok)
	assert.InDelta(t, -0.02, c.Observed, 1e-9) // worst month in market series
	assert.False(t, c.Passed)                  // -0.02 < -0.015
}

func TestCheck_AllChecksEvaluatedIndependently(t *testing.T) {
	p := domain.Portfolio{Weights: map[domain.Ticker]float64{"AAPL": 1.0}}
	out := baseOutput()
	model := baseModel()
	// Every limit impossibly tight: every check should fail, and all
	// five categories should still be present (no short-circuiting).
	limits := domain.RiskLimits{
		MaxPortfolioVolatility:  0.0,
		MaxSingleStockWeight:    0.0,
		MaxFactorContribution:   0.0,
		MaxMarketContribution:   0.0,
		MaxIndustryContribution: 0.0,
		MaxSingleFactorLoss:     1.0,
		MaxLoss:                 1.0,
	}

	checks := Check(p, out, model, limits)
	for _, c := range checks {
		assert.False(t, c.Passed, c.LimitID)
	}
	assert.GreaterOrEqual(t, len(checks), 5)
}
