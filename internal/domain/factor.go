package domain

import "sort"

// FactorPanel is the time-aligned matrix of monthly factor returns for a
// given date range: factor_label -> MonthlySeries<return>.
type FactorPanel struct {
	Range   DateRange
	Returns map[string]MonthlySeries[float64]
}

// Labels returns the factor panel's labels in a stable order: the four
// standard factors first (when present), then interest_rate, then
// subindustry, then anything else alphabetically.
func (p FactorPanel) Labels() []string {
	order := []string{FactorMarket, FactorMomentum, FactorValue, FactorIndustry, FactorInterestRate, FactorSubindustry}
	seen := make(map[string]bool, len(order))
	out := make([]string, 0, len(p.Returns))
	for _, l := range order {
		if _, ok := p.Returns[l]; ok {
			out = append(out, l)
			seen[l] = true
		}
	}
	var rest []string
	for l := range p.Returns {
		if !seen[l] {
			rest = append(rest, l)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// BetaVector is a ticker's fitted factor-regression output: per-factor
// beta, intercept, residual volatility, and adjusted R².
type BetaVector struct {
	Betas        map[string]float64 // factor_label -> beta
	Alpha        float64
	ResidualVolAnnual float64
	RSquared     float64
}

// FactorCovariance is the annualized sample covariance matrix of the
// factor panel, aligned to a fixed factor label order.
type FactorCovariance struct {
	Labels []string
	Sigma  [][]float64 // Sigma[i][j], indices aligned to Labels
}

// Get returns Sigma[i][j] for factor labels a, b, or (0, false) if either
// label is absent from the matrix.
func (c FactorCovariance) Get(a, b string) (float64, bool) {
	ai, bi := -1, -1
	for i, l := range c.Labels {
		if l == a {
			ai = i
		}
		if l == b {
			bi = i
		}
	}
	if ai < 0 || bi < 0 {
		return 0, false
	}
	return c.Sigma[ai][bi], true
}

// FactorModel is the factor-model assembler's output: the contract every
// downstream risk computation depends on. It is deterministic for a fixed
// input portfolio and provider state.
type FactorModel struct {
	Betas              map[Ticker]BetaVector
	FactorCov          FactorCovariance
	IdiosyncraticVar   map[Ticker]float64
	ValidatedTickers   []Ticker // tickers whose data fetch and regression fit succeeded
	FactorPanel        FactorPanel
}
