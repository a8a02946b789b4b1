// Package riskscore maps a risk computation onto a single 0-100 safety
// score: five weighted sub-scores, each linear in how far its observed
// metric sits below twice its configured limit, composed into a weighted
// mean and bucketed into a human-facing category.
package riskscore

import (
	"fmt"
	"math"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
	"github.com/henrysouchien/portfolio-risk-engine/internal/limits"
	"github.com/henrysouchien/portfolio-risk-engine/internal/riskengine"
)

const (
	weightVolatility     = 0.25
	weightConcentration  = 0.20
	weightSystematic     = 0.20
	weightFactorTail     = 0.20
	weightDrawdown       = 0.15
)

// Compute scores a risk computation against its portfolio's limits,
// producing five weighted sub-scores and their composite.
func Compute(p domain.Portfolio, out riskengine.Output, model domain.FactorModel) domain.RiskScoreResult {
	components := []domain.RiskScoreComponent{
		volatilityComponent(out, p.RiskLimits),
		concentrationComponent(p, out, p.RiskLimits),
		systematicShareComponent(out, p.RiskLimits),
		factorTailComponent(out, p.RiskLimits),
		drawdownComponent(out, model, p.RiskLimits),
	}

	var total float64
	for _, c := range components {
		total += c.Score * c.Weight
	}

	rationale := make([]string, 0, len(components))
	for _, c := range components {
		rationale = append(rationale, fmt.Sprintf("%s: %.0f/100 (%s observed %.4f vs limit %.4f)", c.Name, c.Score, c.ControllingLimit, c.Observed, c.Limit))
	}

	return domain.RiskScoreResult{
		Score:           total,
		ComponentScores: components,
		Rationale:       rationale,
		Category:        categorize(total),
	}
}

// linearScore maps metric/limit onto [0, 100]: 100 when metric is 0 (or
// better), 0 once metric reaches twice the limit, linear in between.
// A non-positive limit is undefined (no ceiling was configured); such
// components score neutrally at 100 since there is nothing to violate.
func linearScore(metric, limit float64) float64 {
	if limit <= 0 {
		return 100
	}
	ratio := metric / limit
	s := 100 * (1 - ratio/2)
	return math.Max(0, math.Min(100, s))
}

func volatilityComponent(out riskengine.Output, rl domain.RiskLimits) domain.RiskScoreComponent {
	observed := out.Metrics.PortfolioVolatility
	return domain.RiskScoreComponent{
		Name:             "volatility",
		Score:            linearScore(observed, rl.MaxPortfolioVolatility),
		Weight:           weightVolatility,
		ControllingLimit: limits.LimitPortfolioVolatility,
		Observed:         observed,
		Limit:            rl.MaxPortfolioVolatility,
	}
}

func concentrationComponent(p domain.Portfolio, out riskengine.Output, rl domain.RiskLimits) domain.RiskScoreComponent {
	normalized := p.Normalized()
	var maxAbs float64
	for _, w := range normalized.Weights {
		if a := math.Abs(w); a > maxAbs {
			maxAbs = a
		}
	}
	return domain.RiskScoreComponent{
		Name:             "concentration",
		Score:            linearScore(maxAbs, rl.MaxSingleStockWeight),
		Weight:           weightConcentration,
		ControllingLimit: limits.LimitSingleStockWeight,
		Observed:         maxAbs,
		Limit:            rl.MaxSingleStockWeight,
	}
}

func systematicShareComponent(out riskengine.Output, rl domain.RiskLimits) domain.RiskScoreComponent {
	var share float64
	if out.Metrics.PortfolioVariance > 0 {
		var systematic float64
		for _, vf := range out.VarianceByFactor {
			systematic += vf
		}
		share = systematic / out.Metrics.PortfolioVariance
	}
	return domain.RiskScoreComponent{
		Name:             "systematic_share",
		Score:            linearScore(share, rl.MaxFactorContribution),
		Weight:           weightSystematic,
		ControllingLimit: limits.LimitFactorContribution,
		Observed:         share,
		Limit:            rl.MaxFactorContribution,
	}
}

// factorTailComponent scores the single worst factor loss across the
// portfolio's exposures: min_f (E_f * q_f), the same tail-loss metric
// singleFactorLossChecks evaluates per factor.
func factorTailComponent(out riskengine.Output, rl domain.RiskLimits) domain.RiskScoreComponent {
	worst := 0.0
	first := true
	for _, loss := range out.WorstCaseFactorLoss {
		if first || loss < worst {
			worst, first = loss, false
		}
	}
	// loss is a negative decimal; the violated metric is how far below
	// zero it sits relative to the (also negative) limit.
	metric := -worst
	limit := -rl.MaxSingleFactorLoss
	return domain.RiskScoreComponent{
		Name:             "factor_tail",
		Score:            linearScore(metric, limit),
		Weight:           weightFactorTail,
		ControllingLimit: limits.LimitSingleFactorLoss,
		Observed:         worst,
		Limit:            rl.MaxSingleFactorLoss,
	}
}

// drawdownComponent reuses the historical-loss reconstruction: factor
// returns recombined through the portfolio's exposure vector across the
// months common to every exposed factor, scored against max_loss.
func drawdownComponent(out riskengine.Output, model domain.FactorModel, rl domain.RiskLimits) domain.RiskScoreComponent {
	check := historicalWorstMonth(out, model, rl)
	metric := -check
	limit := -rl.MaxLoss
	return domain.RiskScoreComponent{
		Name:             "drawdown_proxy",
		Score:            linearScore(metric, limit),
		Weight:           weightDrawdown,
		ControllingLimit: limits.LimitHistoricalLoss,
		Observed:         check,
		Limit:            rl.MaxLoss,
	}
}

func historicalWorstMonth(out riskengine.Output, model domain.FactorModel, rl domain.RiskLimits) float64 {
	checks := limits.Check(domain.Portfolio{RiskLimits: rl}, out, model, rl)
	for _, c := range checks {
		if c.LimitID == limits.LimitHistoricalLoss {
			return c.Observed
		}
	}
	return 0
}

func categorize(score float64) domain.RiskCategory {
	switch {
	case score >= 80:
		return domain.CategoryLow
	case score >= 60:
		return domain.CategoryModerate
	case score >= 40:
		return domain.CategoryElevated
	default:
		return domain.CategoryHigh
	}
}
