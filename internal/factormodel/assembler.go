// Package factormodel assembles a portfolio's per-ticker factor exposures,
// factor covariance, and idiosyncratic variance — the contract every
// downstream risk, scenario, optimization, and scoring component depends
// on.
package factormodel

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
	"github.com/henrysouchien/portfolio-risk-engine/internal/provider"
	"github.com/henrysouchien/portfolio-risk-engine/internal/regression"
	"github.com/henrysouchien/portfolio-risk-engine/internal/returns"
)

// Assembler builds a FactorModel for a portfolio from a price provider and
// reference mappings: a small struct holding its collaborators and a
// component-scoped logger, constructed once and reused across requests.
type Assembler struct {
	provider provider.PriceProvider
	refs     *provider.ReferenceMappings
	cfg      regression.Config
	log      zerolog.Logger
}

// NewAssembler constructs a factor model Assembler.
func NewAssembler(p provider.PriceProvider, refs *provider.ReferenceMappings, cfg regression.Config, log zerolog.Logger) *Assembler {
	return &Assembler{
		provider: p,
		refs:     refs,
		cfg:      cfg,
		log:      log.With().Str("component", "factor_model").Logger(),
	}
}

// tickerData is the per-ticker fetched-and-derived series the regression
// stage consumes.
type tickerData struct {
	ticker  domain.Ticker
	returns domain.MonthlySeries[float64]
	proxy   domain.ProxySet
}

// Build assembles the FactorModel for a portfolio. Tickers whose own or
// proxy data is unavailable, or whose regression fails, are dropped from
// ValidatedTickers and are absent from Betas/IdiosyncraticVar; failing peer
// validation drops only the subindustry factor, not the ticker. The caller
// decides whether a partially validated portfolio is acceptable.
func (a *Assembler) Build(ctx context.Context, p domain.Portfolio) (domain.FactorModel, error) {
	tickers := p.Tickers()
	byTicker := make(map[domain.Ticker]tickerData, len(tickers))
	proxySeries := make(map[domain.Ticker]map[string]domain.MonthlySeries[float64])

	for _, t := range tickers {
		if t.IsCash() {
			continue
		}
		ownReturns, err := a.fetchReturns(ctx, t, p.Range)
		if err != nil {
			a.log.Warn().Str("ticker", string(t)).Err(err).Msg("dropping ticker: data unavailable")
			continue
		}
		proxy := p.Proxies[t]
		factorSeries, err := a.fetchProxyReturns(ctx, proxy, p.Range)
		if err != nil {
			a.log.Warn().Str("ticker", string(t)).Err(err).Msg("dropping ticker: proxy data unavailable")
			continue
		}
		byTicker[t] = tickerData{ticker: t, returns: ownReturns, proxy: proxy}
		proxySeries[t] = factorSeries
	}

	interestRateFactor, hasInterestRate := a.buildInterestRateFactor(ctx, p.Range)

	betas := make(map[domain.Ticker]domain.BetaVector, len(byTicker))
	idioVar := make(map[domain.Ticker]float64, len(byTicker))
	residualsByTicker := make(map[domain.Ticker]domain.MonthlySeries[float64], len(byTicker))
	var validated []domain.Ticker

	for _, t := range tickers {
		td, ok := byTicker[t]
		if !ok {
			continue
		}
		factors := proxySeries[t]
		if sub, ok := a.buildSubindustryFactor(ctx, td, p.Range, byTicker); ok {
			factors["subindustry"] = sub
		}
		if hasInterestRate {
			factors["interest_rate"] = interestRateFactor
		}

		result, err := regression.Fit(td.returns, factors, a.cfg)
		if err != nil {
			a.log.Warn().Str("ticker", string(t)).Err(err).Msg("dropping ticker: regression failed")
			continue
		}

		betas[t] = result.ToBetaVector()
		idioVar[t] = residualVariance(td.returns, factors, result)
		validated = append(validated, t)
	}

	panel := a.buildFactorPanel(p.Range, proxySeries, validated, hasInterestRate, interestRateFactor)
	factorCov := computeFactorCovariance(panel)

	sort.Slice(validated, func(i, j int) bool { return validated[i] < validated[j] })

	return domain.FactorModel{
		Betas:            betas,
		FactorCov:        factorCov,
		IdiosyncraticVar: idioVar,
		ValidatedTickers: validated,
		FactorPanel:      panel,
	}, nil
}

func (a *Assembler) fetchReturns(ctx context.Context, t domain.Ticker, r domain.DateRange) (domain.MonthlySeries[float64], error) {
	prices, err := a.provider.FetchMonthlyTotalReturn(ctx, t, r)
	if err != nil {
		return domain.MonthlySeries[float64]{}, err
	}
	return returns.MonthlyReturns(prices)
}

func (a *Assembler) fetchProxyReturns(ctx context.Context, proxy domain.ProxySet, r domain.DateRange) (map[string]domain.MonthlySeries[float64], error) {
	out := make(map[string]domain.MonthlySeries[float64], 4)
	add := func(label string, ticker domain.Ticker) error {
		if ticker == "" {
			return nil
		}
		series, err := a.fetchReturns(ctx, ticker, r)
		if err != nil {
			return err
		}
		out[label] = series
		return nil
	}
	if err := add(domain.FactorMarket, proxy.Market); err != nil {
		return nil, err
	}
	if err := add(domain.FactorMomentum, proxy.Momentum); err != nil {
		return nil, err
	}
	if err := add(domain.FactorValue, proxy.Value); err != nil {
		return nil, err
	}
	if err := add(domain.FactorIndustry, proxy.Industry); err != nil {
		return nil, err
	}
	return out, nil
}

// buildSubindustryFactor constructs the equal-weighted-peer-minus-industry
// factor for one ticker. A peer is admitted iff its observation count is
// at least the target ticker's; if fewer than 2 peers survive, the factor
// is dropped for this ticker.
func (a *Assembler) buildSubindustryFactor(ctx context.Context, td tickerData, r domain.DateRange, byTicker map[domain.Ticker]tickerData) (domain.MonthlySeries[float64], bool) {
	if len(td.proxy.SubindustryPeers) == 0 || td.proxy.Industry == "" {
		return domain.MonthlySeries[float64]{}, false
	}
	industryReturns, err := a.fetchReturns(ctx, td.proxy.Industry, r)
	if err != nil {
		return domain.MonthlySeries[float64]{}, false
	}

	targetObs := td.returns.Len()
	var peerSeries []domain.MonthlySeries[float64]
	for _, peer := range td.proxy.SubindustryPeers {
		series, err := a.fetchReturns(ctx, peer, r)
		if err != nil {
			continue
		}
		if series.Len() < targetObs {
			continue
		}
		peerSeries = append(peerSeries, series)
	}
	if len(peerSeries) < 2 {
		return domain.MonthlySeries[float64]{}, false
	}

	months := industryReturns.Months()
	values := make([]float64, len(months))
	for i, m := range months {
		var sum float64
		n := 0
		for _, ps := range peerSeries {
			if idx := ps.IndexOf(m); idx >= 0 {
				_, v := ps.At(idx)
				sum += v
				n++
			}
		}
		if n == 0 {
			continue
		}
		_, indRet := industryReturns.At(i)
		values[i] = sum/float64(n) - indRet
	}
	return domain.NewMonthlySeries(months, values), true
}

// buildInterestRateFactor averages the monthly yield-change series across
// the fixed key-rate maturity set into a single composite series used as
// the "interest_rate" panel factor. The same composite series is added to
// every ticker's multi-factor fit, so each ticker gets one interest_rate
// beta; the per-maturity key-rate regression in keyrate.go is not used by
// the assembler.
func (a *Assembler) buildInterestRateFactor(ctx context.Context, r domain.DateRange) (domain.MonthlySeries[float64], bool) {
	var changeSeries []domain.MonthlySeries[float64]
	for _, maturity := range provider.KeyRateMaturities {
		yields, err := a.provider.FetchMonthlyTreasury(ctx, maturity, r)
		if err != nil {
			a.log.Debug().Str("maturity", string(maturity)).Err(err).Msg("treasury series unavailable, dropping interest_rate factor")
			return domain.MonthlySeries[float64]{}, false
		}
		changes, err := regression.YieldChanges(yields)
		if err != nil {
			return domain.MonthlySeries[float64]{}, false
		}
		changeSeries = append(changeSeries, changes)
	}
	if len(changeSeries) == 0 {
		return domain.MonthlySeries[float64]{}, false
	}

	months := changeSeries[0].Months()
	values := make([]float64, len(months))
	for i, m := range months {
		var sum float64
		n := 0
		for _, cs := range changeSeries {
			if idx := cs.IndexOf(m); idx >= 0 {
				_, v := cs.At(idx)
				sum += v
				n++
			}
		}
		if n > 0 {
			values[i] = sum / float64(n)
		}
	}
	return domain.NewMonthlySeries(months, values), true
}

// residualVariance recomputes fitted residuals from a ticker's own returns
// and its aligned factor panel so the idiosyncratic variance used by the
// risk engine matches exactly the beta vector just fit.
func residualVariance(y domain.MonthlySeries[float64], factors map[string]domain.MonthlySeries[float64], fit regression.Result) float64 {
	labels := fit.Labels
	var sumSq float64
	n := 0
	for i := 0; i < y.Len(); i++ {
		m, yv := y.At(i)
		fitted := fit.Alpha
		ok := true
		for _, l := range labels {
			idx := factors[l].IndexOf(m)
			if idx < 0 {
				ok = false
				break
			}
			_, fv := factors[l].At(idx)
			fitted += fit.Betas[l] * fv
		}
		if !ok {
			continue
		}
		resid := yv - fitted
		sumSq += resid * resid
		n++
	}
	if n == 0 {
		return 0
	}
	// Annualized idiosyncratic variance, consistent with ResidualVolAnnual = std*sqrt(12).
	monthlyVar := sumSq / float64(n)
	return monthlyVar * 12
}

func (a *Assembler) buildFactorPanel(r domain.DateRange, proxySeries map[domain.Ticker]map[string]domain.MonthlySeries[float64], validated []domain.Ticker, hasInterestRate bool, interestRateFactor domain.MonthlySeries[float64]) domain.FactorPanel {
	merged := make(map[string]domain.MonthlySeries[float64])
	for _, t := range validated {
		for label, series := range proxySeries[t] {
			if _, ok := merged[label]; !ok {
				merged[label] = series
			}
		}
	}
	if hasInterestRate {
		merged[domain.FactorInterestRate] = interestRateFactor
	}
	return domain.FactorPanel{Range: r, Returns: merged}
}

// computeFactorCovariance computes the sample covariance of the aligned
// factor panel, annualized by x12.
func computeFactorCovariance(panel domain.FactorPanel) domain.FactorCovariance {
	labels := panel.Labels()
	n := len(labels)
	sigma := make([][]float64, n)
	for i := range sigma {
		sigma[i] = make([]float64, n)
	}
	if n == 0 {
		return domain.FactorCovariance{Labels: labels, Sigma: sigma}
	}

	// Align all factor series on their common months.
	var common []domain.Month
	for i, l := range labels {
		s := panel.Returns[l]
		if i == 0 {
			common = s.Months()
			continue
		}
		seen := make(map[domain.Month]bool, s.Len())
		for j := 0; j < s.Len(); j++ {
			m, _ := s.At(j)
			seen[m] = true
		}
		var next []domain.Month
		for _, m := range common {
			if seen[m] {
				next = append(next, m)
			}
		}
		common = next
	}

	values := make(map[string][]float64, n)
	for _, l := range labels {
		s := panel.Returns[l]
		col := make([]float64, len(common))
		for i, m := range common {
			if idx := s.IndexOf(m); idx >= 0 {
				_, v := s.At(idx)
				col[i] = v
			}
		}
		values[l] = col
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov := sampleCovariance(values[labels[i]], values[labels[j]]) * 12
			sigma[i][j] = cov
			sigma[j][i] = cov
		}
	}
	return domain.FactorCovariance{Labels: labels, Sigma: sigma}
}

func sampleCovariance(x, y []float64) float64 {
	n := len(x)
	if n < 2 {
		return 0
	}
	var mx, my float64
	for i := 0; i < n; i++ {
		mx += x[i]
		my += y[i]
	}
	mx /= float64(n)
	my /= float64(n)
	var sum float64
	for i := 0; i < n; i++ {
		sum += (x[i] - mx) * (y[i] - my)
	}
	return sum / float64(n-1)
}
