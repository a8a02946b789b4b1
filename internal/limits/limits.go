// Package limits evaluates a portfolio's risk metrics against its
// configured RiskLimits: five independent typed checks, never
// short-circuited.
package limits

import (
	"fmt"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
	"github.com/henrysouchien/portfolio-risk-engine/internal/riskengine"
)

// Limit IDs, stable strings referenced by scoring and reporting.
const (
	LimitPortfolioVolatility = "portfolio_volatility"
	LimitSingleStockWeight   = "single_stock_weight"
	LimitFactorContribution  = "factor_contribution"
	LimitSingleFactorLoss    = "single_factor_loss"
	LimitHistoricalLoss      = "historical_loss"
)

// Check evaluates every risk limit independently and returns one
// domain.LimitCheck per rule (never short-circuited: a failing check does
// not suppress the rest).
func Check(p domain.Portfolio, out riskengine.Output, model domain.FactorModel, limits domain.RiskLimits) []domain.LimitCheck {
	var checks []domain.LimitCheck

	checks = append(checks, volatilityCheck(out, limits))
	checks = append(checks, singleStockWeightChecks(p, limits)...)
	checks = append(checks, factorContributionChecks(out, limits)...)
	checks = append(checks, singleFactorLossChecks(out, limits)...)
	checks = append(checks, historicalLossCheck(out, model, limits))

	return checks
}

func volatilityCheck(out riskengine.Output, limits domain.RiskLimits) domain.LimitCheck {
	observed := out.Metrics.PortfolioVolatility
	return domain.LimitCheck{
		LimitID:  LimitPortfolioVolatility,
		Passed:   observed <= limits.MaxPortfolioVolatility,
		Observed: observed,
		Limit:    limits.MaxPortfolioVolatility,
		Margin:   limits.MaxPortfolioVolatility - observed,
	}
}

func singleStockWeightChecks(p domain.Portfolio, limits domain.RiskLimits) []domain.LimitCheck {
	normalized := p.Normalized()
	var checks []domain.LimitCheck
	for _, t := range normalized.Tickers() {
		w := normalized.Weights[t]
		observed := w
		if observed < 0 {
			observed = -observed
		}
		checks = append(checks, domain.LimitCheck{
			LimitID:  fmt.Sprintf("%s:%s", LimitSingleStockWeight, t),
			Passed:   observed <= limits.MaxSingleStockWeight,
			Observed: observed,
			Limit:    limits.MaxSingleStockWeight,
			Margin:   limits.MaxSingleStockWeight - observed,
		})
	}
	return checks
}

func factorContributionChecks(out riskengine.Output, limits domain.RiskLimits) []domain.LimitCheck {
	var checks []domain.LimitCheck
	if out.Metrics.PortfolioVariance <= 0 {
		return checks
	}
	for factor, vf := range out.VarianceByFactor {
		share := vf / out.Metrics.PortfolioVariance
		limit := limits.MaxFactorContribution
		switch factor {
		case domain.FactorMarket:
			limit = limits.MaxMarketContribution
		case domain.FactorIndustry:
			limit = limits.MaxIndustryContribution
		}
		checks = append(checks, domain.LimitCheck{
			LimitID:  fmt.Sprintf("%s:%s", LimitFactorContribution, factor),
			Passed:   share <= limit,
			Observed: share,
			Limit:    limit,
			Margin:   limit - share,
		})
	}
	return checks
}

func singleFactorLossChecks(out riskengine.Output, limits domain.RiskLimits) []domain.LimitCheck {
	var checks []domain.LimitCheck
	for factor, loss := range out.WorstCaseFactorLoss {
		checks = append(checks, domain.LimitCheck{
			LimitID:  fmt.Sprintf("%s:%s", LimitSingleFactorLoss, factor),
			Passed:   loss >= limits.MaxSingleFactorLoss,
			Observed: loss,
			Limit:    limits.MaxSingleFactorLoss,
			Margin:   loss - limits.MaxSingleFactorLoss,
		})
	}
	return checks
}

// historicalLossCheck recombines each historical month's factor returns
// through the portfolio's factor-exposure vector E to reconstruct a
// factor-implied monthly portfolio return series, and checks the worst
// such month against max_loss.
func historicalLossCheck(out riskengine.Output, model domain.FactorModel, limits domain.RiskLimits) domain.LimitCheck {
	var months []domain.Month
	for factor := range out.FactorExposures {
		series := model.FactorPanel.Returns[factor]
		if len(months) == 0 {
			months = series.Months()
			continue
		}
		seen := make(map[domain.Month]bool, series.Len())
		for i := 0; i < series.Len(); i++ {
			m, _ := series.At(i)
			seen[m] = true
		}
		var next []domain.Month
		for _, m := range months {
			if seen[m] {
				next = append(next, m)
			}
		}
		months = next
	}

	worst := 0.0
	first := true
	for _, m := range months {
		var monthReturn float64
		for factor, exposure := range out.FactorExposures {
			series := model.FactorPanel.Returns[factor]
			if idx := series.IndexOf(m); idx >= 0 {
				_, v := series.At(idx)
				monthReturn += exposure * v
			}
		}
		if first || monthReturn < worst {
			worst = monthReturn
			first = false
		}
	}

	return domain.LimitCheck{
		LimitID:  LimitHistoricalLoss,
		Passed:   worst >= limits.MaxLoss,
		Observed: worst,
		Limit:    limits.MaxLoss,
		Margin:   worst - limits.MaxLoss,
	}
}
