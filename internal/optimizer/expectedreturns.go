package optimizer

import (
	"context"
	"math"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
	"github.com/henrysouchien/portfolio-risk-engine/internal/provider"
)

// ExpectedReturnsConfig tunes the CAGR-based expected-return fallback used
// by MaxRet when a ticker has no explicit Portfolio.ExpectedReturns entry.
type ExpectedReturnsConfig struct {
	LookbackYears  int
	FallbackReturn float64 // used when a cash ticker's treasury history is unavailable
}

// ResolveExpectedReturns returns the annual expected-return vector for
// every ticker in p, preferring an explicit Portfolio.ExpectedReturns
// entry and falling back to: the mean treasury rate over p.Range for cash
// pseudo-tickers, or the industry-ETF CAGR over the configured lookback
// for equities.
func ResolveExpectedReturns(ctx context.Context, p domain.Portfolio, refs *provider.ReferenceMappings, prv provider.PriceProvider, cfg ExpectedReturnsConfig) (map[domain.Ticker]float64, error) {
	mu := make(map[domain.Ticker]float64, len(p.Weights))
	for t := range p.Weights {
		if er, ok := p.ExpectedReturns[t]; ok {
			mu[t] = er
			continue
		}

		if t.IsCash() {
			rate, err := meanTreasuryRate(ctx, prv, p.Range)
			if err != nil {
				mu[t] = cfg.FallbackReturn
				continue
			}
			mu[t] = rate
			continue
		}

		proxy, ok := p.Proxies[t]
		if !ok || proxy.Industry == "" {
			return nil, domain.NewError(domain.ErrDataUnavailable,
				"no explicit expected return and no industry proxy to derive a fallback",
				domain.WithTicker(t))
		}

		cagr, err := industryCAGR(ctx, prv, proxy.Industry, p.Range, cfg.LookbackYears)
		if err != nil {
			return nil, err
		}
		mu[t] = cagr
	}
	return mu, nil
}

// meanTreasuryRate returns the mean 10-year treasury yield (as an annual
// decimal) over r, used as the cash-ticker expected-return fallback.
func meanTreasuryRate(ctx context.Context, prv provider.PriceProvider, r domain.DateRange) (float64, error) {
	series, err := prv.FetchMonthlyTreasury(ctx, provider.Treasury10Y, r)
	if err != nil {
		return 0, err
	}
	values := series.Values()
	if len(values) == 0 {
		return 0, domain.NewError(domain.ErrDataUnavailable, "no treasury observations in range")
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return (sum / float64(len(values))) / 100, nil
}

// industryCAGR computes the compound annual growth rate of an industry
// ETF's close-price series over the trailing lookbackYears ending at
// r.End (clipped to r.Start if the lookback would precede it).
func industryCAGR(ctx context.Context, prv provider.PriceProvider, industryETF domain.Ticker, r domain.DateRange, lookbackYears int) (float64, error) {
	start := domain.MonthOf(r.End.Time().AddDate(-lookbackYears, 0, 0))
	if start.Before(r.Start) {
		start = r.Start
	}
	lookback := domain.DateRange{Start: start, End: r.End}

	series, err := prv.FetchMonthlyClose(ctx, industryETF, lookback)
	if err != nil {
		return 0, err
	}
	values := series.Values()
	if len(values) < 2 {
		return 0, domain.NewError(domain.ErrInsufficientData, "insufficient price history to derive CAGR",
			domain.WithTicker(industryETF))
	}

	startPrice := values[0]
	endPrice := values[len(values)-1]
	if startPrice <= 0 || endPrice <= 0 {
		return 0, domain.NewError(domain.ErrNumericalFailure, "non-positive price in CAGR computation",
			domain.WithTicker(industryETF))
	}

	years := float64(len(values)-1) / 12.0
	if years < 0.25 {
		return endPrice/startPrice - 1, nil
	}
	return math.Pow(endPrice/startPrice, 1/years) - 1, nil
}
