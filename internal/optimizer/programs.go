package optimizer

import (
	"context"
	"math"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
)

// Optimize solves the requested convex program (MinVar or MaxRet) over the
// portfolio's factor model and full risk-limit constraint set, returning
// the optimal weights, achieved risk/return, and binding constraints.
// Infeasible problems return a domain.Error of kind Infeasible diagnosing
// the family of the largest constraint violation at the best point found.
func Optimize(ctx context.Context, p domain.Portfolio, model domain.FactorModel, mu map[domain.Ticker]float64, kind domain.OptimizationKind, cfg Config) (domain.OptimizationResult, error) {
	pd := buildProblemData(model, mu, p.RiskLimits, cfg)
	if pd.n == 0 {
		return domain.OptimizationResult{}, domain.NewError(domain.ErrInputInvalid, "no tickers to optimize over")
	}

	var result domain.OptimizationResult
	var err error
	switch kind {
	case domain.OptimizationMinVar:
		result, err = minVariance(ctx, pd)
	case domain.OptimizationMaxRet:
		result, err = maxReturn(ctx, pd)
	default:
		return domain.OptimizationResult{}, domain.NewError(domain.ErrInputInvalid, "unknown optimization kind")
	}
	if err != nil {
		return domain.OptimizationResult{}, err
	}
	result.OptKind = kind
	return result, nil
}

func minVariance(ctx context.Context, pd problemData) (domain.OptimizationResult, error) {
	objective := func(x []float64) float64 {
		st := pd.evaluate(x)
		return st.variance + pd.constraintPenalty(st, nil)
	}
	gradient := func(grad, x []float64) {
		st := pd.evaluate(x)
		for i := range grad {
			grad[i] = 2 * st.sigmaW[i]
		}
		pd.constraintPenalty(st, grad)
	}

	res, err := solve(ctx, pd, objective, gradient)
	if err != nil {
		return domain.OptimizationResult{}, err
	}

	weights := normalizeResult(pd, res.X)
	final := pd.evaluate(weights)

	return domain.OptimizationResult{
		Weights:            weightsMap(pd, weights),
		AchievedRisk:       math.Sqrt(math.Max(final.variance, 0)),
		AchievedReturn:     final.ret,
		BindingConstraints: bindingConstraints(pd, final),
	}, nil
}

func maxReturn(ctx context.Context, pd problemData) (domain.OptimizationResult, error) {
	volCap := pd.limits.MaxPortfolioVolatility * pd.limits.MaxPortfolioVolatility

	objective := func(x []float64) float64 {
		st := pd.evaluate(x)
		obj := -st.ret
		if volCap > 0 && st.variance > volCap {
			g := st.variance - volCap
			obj += pd.cfg.PenaltyWeight * g * g
		}
		return obj + pd.constraintPenalty(st, nil)
	}
	gradient := func(grad, x []float64) {
		st := pd.evaluate(x)
		for i := range grad {
			grad[i] = -pd.mu[i]
			if volCap > 0 && st.variance > volCap {
				g := st.variance - volCap
				grad[i] += pd.cfg.PenaltyWeight * 4 * g * st.sigmaW[i]
			}
		}
		pd.constraintPenalty(st, grad)
	}

	res, err := solve(ctx, pd, objective, gradient)
	if err != nil {
		return domain.OptimizationResult{}, err
	}

	weights := normalizeResult(pd, res.X)
	final := pd.evaluate(weights)

	binding := bindingConstraints(pd, final)
	if volCap > 0 {
		vol := math.Sqrt(math.Max(final.variance, 0))
		if math.Abs(vol-pd.limits.MaxPortfolioVolatility) <= pd.cfg.BindingTolerance {
			binding = appendUnique(binding, "portfolio_volatility")
		}
	}

	return domain.OptimizationResult{
		Weights:            weightsMap(pd, weights),
		AchievedRisk:       math.Sqrt(math.Max(final.variance, 0)),
		AchievedReturn:     final.ret,
		BindingConstraints: binding,
	}, nil
}

func weightsMap(pd problemData, w []float64) map[domain.Ticker]float64 {
	out := make(map[domain.Ticker]float64, pd.n)
	for i, t := range pd.tickers {
		out[t] = w[i]
	}
	return out
}

func appendUnique(s []string, v string) []string {
	for _, existing := range s {
		if existing == v {
			return s
		}
	}
	return append(s, v)
}

// tightestViolation returns the constraint family with the largest
// violation at st, and the violation's magnitude (zero/empty when every
// constraint is satisfied).
func tightestViolation(pd problemData, st state) (string, float64) {
	worstFamily := ""
	worstMargin := 0.0

	maxW := pd.limits.MaxSingleStockWeight
	if maxW > 0 {
		for _, wi := range st.w {
			v := math.Abs(wi) - maxW
			if v > worstMargin {
				worstMargin, worstFamily = v, "single_stock_weight"
			}
		}
	}

	for fi, l := range pd.labels {
		limit := pd.factorLimit(l)
		if limit <= 0 || st.variance <= 0 {
			continue
		}
		share := (st.exposure[fi] * st.sigmaFE[fi]) / st.variance
		if v := share - limit; v > worstMargin {
			worstMargin, worstFamily = v, "factor_contribution"
		}
	}

	for fi, l := range pd.labels {
		q := pd.qWorst[l]
		loss := st.exposure[fi] * q
		if v := pd.limits.MaxSingleFactorLoss - loss; v > worstMargin {
			worstMargin, worstFamily = v, "single_factor_loss"
		}
	}

	if pd.limits.MaxPortfolioVolatility > 0 {
		vol := math.Sqrt(math.Max(st.variance, 0))
		if v := vol - pd.limits.MaxPortfolioVolatility; v > worstMargin {
			worstMargin, worstFamily = v, "portfolio_volatility"
		}
	}

	return worstFamily, worstMargin
}
