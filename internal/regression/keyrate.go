package regression

import (
	"math"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
	"github.com/henrysouchien/portfolio-risk-engine/internal/provider"
)

// KeyRateResult is the interest-rate key-rate block's output: the per-
// maturity betas from Result plus the aggregated interest-rate beta and
// effective duration. The factor-model assembler does not call it.
type KeyRateResult struct {
	Fit               Result
	InterestRateBeta  float64 // sum of per-maturity betas
	EffectiveDuration float64 // |InterestRateBeta|, in years
}

// YieldChanges converts a monthly treasury yield series (in percent, e.g.
// 4.25) into the monthly yield-change series Δy_t = (y_t - y_{t-1})/100
// the key-rate regression is built on.
func YieldChanges(yields domain.MonthlySeries[float64]) (domain.MonthlySeries[float64], error) {
	if yields.Len() < 2 {
		return domain.MonthlySeries[float64]{}, domain.NewError(domain.ErrInsufficientData,
			"need at least 2 months of treasury yields to compute changes")
	}
	months := make([]domain.Month, 0, yields.Len()-1)
	values := make([]float64, 0, yields.Len()-1)
	_, prev := yields.At(0)
	for i := 1; i < yields.Len(); i++ {
		m, v := yields.At(i)
		months = append(months, m)
		values = append(values, (v-prev)/100.0)
		prev = v
	}
	return domain.NewMonthlySeries(months, values), nil
}

// FitKeyRateBlock regresses a bond-like asset's total-return series on the
// panel of monthly yield changes across the fixed key-rate maturity set.
func FitKeyRateBlock(assetReturns domain.MonthlySeries[float64], yieldChanges map[provider.TreasuryMaturity]domain.MonthlySeries[float64], cfg Config) (KeyRateResult, error) {
	factors := make(map[string]domain.MonthlySeries[float64], len(yieldChanges))
	for maturity, series := range yieldChanges {
		factors[string(maturity)] = series
	}

	fit, err := Fit(assetReturns, factors, cfg)
	if err != nil {
		return KeyRateResult{}, err
	}

	var betaIR float64
	for _, b := range fit.Betas {
		betaIR += b
	}

	return KeyRateResult{
		Fit:               fit,
		InterestRateBeta:  betaIR,
		EffectiveDuration: math.Abs(betaIR),
	}, nil
}
