// Package riskengine computes portfolio variance/volatility, Euler risk
// contributions, factor-variance attribution, concentration, and
// worst-case factor loss from a portfolio and its assembled factor model.
package riskengine

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
)

// Config tunes the numerical policy and historical lookback of the engine.
type Config struct {
	Ridge                 float64 // added to the computed portfolio variance
	WorstCaseLookbackMonths int   // trailing window for worst-case factor/historical loss
}

// Output bundles the scalar and vector outputs of one risk computation,
// the numeric core of a domain.RiskAnalysisResult.
type Output struct {
	Metrics             domain.RiskMetrics
	FactorExposures     map[string]float64
	RiskContributions   map[domain.Ticker]float64
	VarianceByFactor    map[string]float64
	WorstCaseFactorLoss map[string]float64
}

// Compute evaluates the portfolio risk engine for portfolio p against the
// assembled FactorModel model. p is normalized internally per its own
// NormalizeWeights flag (a no-op when the flag is false).
func Compute(p domain.Portfolio, model domain.FactorModel, cfg Config) (Output, error) {
	normalized := p.Normalized()
	tickers := normalized.Tickers()
	n := len(tickers)
	labels := model.FactorCov.Labels
	k := len(labels)

	w := make([]float64, n)
	for i, t := range tickers {
		w[i] = normalized.Weights[t]
	}

	// B: n x k beta matrix, zero row for tickers with no fitted betas
	// (cash tickers, or tickers dropped during assembly).
	B := mat.NewDense(n, k, nil)
	idioVar := make([]float64, n)
	for i, t := range tickers {
		bv, ok := model.Betas[t]
		if !ok {
			continue
		}
		for j, l := range labels {
			B.Set(i, j, bv.Betas[l])
		}
		idioVar[i] = model.IdiosyncraticVar[t]
	}

	sigmaF := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			v, _ := model.FactorCov.Get(labels[i], labels[j])
			sigmaF.Set(i, j, v)
		}
	}

	wVec := mat.NewVecDense(n, w)

	// E = B'w (factor exposure vector).
	var eVec mat.VecDense
	eVec.MulVec(B.T(), wVec)
	exposures := make(map[string]float64, k)
	for j, l := range labels {
		exposures[l] = eVec.AtVec(j)
	}

	// Sigma_f * E, used both for factor-variance attribution and for
	// the position covariance's systematic block Sigma*w = B*(Sigma_f*(B'w)).
	var sigmaFE mat.VecDense
	sigmaFE.MulVec(sigmaF, &eVec)

	varianceByFactor := make(map[string]float64, k)
	var systematicVariance float64
	for j, l := range labels {
		vf := eVec.AtVec(j) * sigmaFE.AtVec(j)
		varianceByFactor[l] = vf
		systematicVariance += vf
	}

	// Sigma*w = B*(Sigma_f*E) + diag(idioVar)*w, without ever forming
	// the dense n x n position covariance matrix.
	var bSigmaFE mat.VecDense
	bSigmaFE.MulVec(B, &sigmaFE)

	sigmaW := make([]float64, n)
	var idiosyncraticVariance, portfolioVariance float64
	for i := 0; i < n; i++ {
		idioContribution := idioVar[i] * w[i]
		sigmaW[i] = bSigmaFE.AtVec(i) + idioContribution
		idiosyncraticVariance += idioContribution * w[i]
		portfolioVariance += w[i] * sigmaW[i]
	}
	portfolioVariance += cfg.Ridge

	if portfolioVariance < 0 {
		return Output{}, domain.NewError(domain.ErrNumericalFailure, "portfolio variance is negative")
	}
	portfolioVolatility := math.Sqrt(portfolioVariance)

	riskContributions := make(map[domain.Ticker]float64, n)
	if portfolioVolatility > 0 {
		for i, t := range tickers {
			riskContributions[t] = w[i] * sigmaW[i] / portfolioVolatility
		}
	} else {
		for _, t := range tickers {
			riskContributions[t] = 0
		}
	}

	var herfRaw float64
	for _, wi := range w {
		herfRaw += wi * wi
	}
	herfNorm := herfindahlNormalized(w)

	worstCaseFactorLoss := make(map[string]float64, k)
	for _, l := range labels {
		q := worstCaseMonthlyReturn(model.FactorPanel.Returns[l], cfg.WorstCaseLookbackMonths)
		worstCaseFactorLoss[l] = exposures[l] * q
	}

	metrics := domain.RiskMetrics{
		PortfolioVolatility:   portfolioVolatility,
		PortfolioVariance:     portfolioVariance,
		SystematicVariance:    systematicVariance,
		IdiosyncraticVariance: idiosyncraticVariance,
		HerfindahlRaw:         herfRaw,
		HerfindahlNormalized:  herfNorm,
	}

	if err := checkFinite(metrics, exposures, riskContributions, varianceByFactor, worstCaseFactorLoss); err != nil {
		return Output{}, err
	}

	return Output{
		Metrics:             metrics,
		FactorExposures:     exposures,
		RiskContributions:   riskContributions,
		VarianceByFactor:    varianceByFactor,
		WorstCaseFactorLoss: worstCaseFactorLoss,
	}, nil
}

func herfindahlNormalized(w []float64) float64 {
	var net float64
	for _, wi := range w {
		net += wi
	}
	if net == 0 {
		return 0
	}
	var h float64
	for _, wi := range w {
		nw := wi / net
		h += nw * nw
	}
	return h
}

// worstCaseMonthlyReturn returns the minimum monthly return over the
// trailing lookbackMonths of series (or the whole series if shorter).
func worstCaseMonthlyReturn(series domain.MonthlySeries[float64], lookbackMonths int) float64 {
	values := series.Values()
	if len(values) == 0 {
		return 0
	}
	start := 0
	if lookbackMonths > 0 && len(values) > lookbackMonths {
		start = len(values) - lookbackMonths
	}
	min := values[start]
	for _, v := range values[start:] {
		if v < min {
			min = v
		}
	}
	return min
}

func checkFinite(metrics domain.RiskMetrics, exposures map[string]float64, contributions map[domain.Ticker]float64, varByFactor map[string]float64, worstCase map[string]float64) error {
	values := []float64{
		metrics.PortfolioVolatility, metrics.PortfolioVariance,
		metrics.SystematicVariance, metrics.IdiosyncraticVariance,
		metrics.HerfindahlRaw, metrics.HerfindahlNormalized,
	}
	for _, v := range exposures {
		values = append(values, v)
	}
	for _, v := range contributions {
		values = append(values, v)
	}
	for _, v := range varByFactor {
		values = append(values, v)
	}
	for _, v := range worstCase {
		values = append(values, v)
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.NewError(domain.ErrNumericalFailure, "non-finite value in risk computation")
		}
	}
	return nil
}
