package provider

import (
	"context"
	"sort"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
)

type seriesKey struct {
	ticker   domain.Ticker
	maturity TreasuryMaturity
	kind     string // "close", "total_return", "treasury", "dividend"
}

// Fixture is an in-memory PriceProvider backed by maps, used by tests and
// the demo binary. Dates are tracked explicitly, so a month with no
// observation is a gap rather than a zero, without a database underneath
// it.
type Fixture struct {
	minObservations int
	data            map[seriesKey]map[domain.Month]float64
}

// NewFixture creates an empty Fixture. minObservations is the minimum
// number of months a series must have within a requested range before a
// fetch succeeds; there is no default, the caller always supplies it.
func NewFixture(minObservations int) *Fixture {
	return &Fixture{
		minObservations: minObservations,
		data:            make(map[seriesKey]map[domain.Month]float64),
	}
}

// SetMonthlyClose registers a monthly close price.
func (f *Fixture) SetMonthlyClose(ticker domain.Ticker, month domain.Month, value float64) {
	f.set(seriesKey{ticker: ticker, kind: "close"}, month, value)
}

// SetMonthlyTotalReturn registers a monthly total-return close price.
func (f *Fixture) SetMonthlyTotalReturn(ticker domain.Ticker, month domain.Month, value float64) {
	f.set(seriesKey{ticker: ticker, kind: "total_return"}, month, value)
}

// SetMonthlyTreasury registers a monthly treasury yield (percent, e.g. 4.25).
func (f *Fixture) SetMonthlyTreasury(maturity TreasuryMaturity, month domain.Month, value float64) {
	f.set(seriesKey{maturity: maturity, kind: "treasury"}, month, value)
}

// SetDividend registers a monthly dividend payment (0 for non-paying months).
func (f *Fixture) SetDividend(ticker domain.Ticker, month domain.Month, value float64) {
	f.set(seriesKey{ticker: ticker, kind: "dividend"}, month, value)
}

func (f *Fixture) set(key seriesKey, month domain.Month, value float64) {
	m, ok := f.data[key]
	if !ok {
		m = make(map[domain.Month]float64)
		f.data[key] = m
	}
	m[month] = value
}

func (f *Fixture) fetch(ctx context.Context, key seriesKey, r domain.DateRange) (domain.MonthlySeries[float64], error) {
	if err := ctx.Err(); err != nil {
		return domain.MonthlySeries[float64]{}, domain.NewError(domain.ErrCancelled, "context cancelled", domain.WithCause(err))
	}
	months := r.Months()
	byMonth, ok := f.data[key]
	if !ok || len(byMonth) == 0 {
		return domain.MonthlySeries[float64]{}, domain.NewError(domain.ErrDataUnavailable, "no observations in range", withTickerOrFactor(key))
	}

	values := make([]float64, 0, len(months))
	present := make([]domain.Month, 0, len(months))
	for _, m := range months {
		if v, ok := byMonth[m]; ok {
			values = append(values, v)
			present = append(present, m)
		}
	}
	if len(present) == 0 {
		return domain.MonthlySeries[float64]{}, domain.NewError(domain.ErrDataUnavailable, "no observations in range", withTickerOrFactor(key))
	}
	if len(present) != len(months) {
		// An internal gap (as opposed to simply a short range) is always
		// InsufficientData, never a silent fill, per the provider contract.
		return domain.MonthlySeries[float64]{}, domain.NewError(domain.ErrInsufficientData, "gap in requested range", withTickerOrFactor(key))
	}
	if len(present) < f.minObservations {
		return domain.MonthlySeries[float64]{}, domain.NewError(domain.ErrInsufficientData, "fewer than minimum required months", withTickerOrFactor(key))
	}

	return domain.NewMonthlySeries(present, values), nil
}

func withTickerOrFactor(key seriesKey) domain.ErrorOption {
	if key.ticker != "" {
		return domain.WithTicker(key.ticker)
	}
	return domain.WithFactor(string(key.maturity))
}

func (f *Fixture) FetchMonthlyClose(ctx context.Context, ticker domain.Ticker, r domain.DateRange) (domain.MonthlySeries[float64], error) {
	return f.fetch(ctx, seriesKey{ticker: ticker, kind: "close"}, r)
}

func (f *Fixture) FetchMonthlyTotalReturn(ctx context.Context, ticker domain.Ticker, r domain.DateRange) (domain.MonthlySeries[float64], error) {
	return f.fetch(ctx, seriesKey{ticker: ticker, kind: "total_return"}, r)
}

func (f *Fixture) FetchMonthlyTreasury(ctx context.Context, maturity TreasuryMaturity, r domain.DateRange) (domain.MonthlySeries[float64], error) {
	return f.fetch(ctx, seriesKey{maturity: maturity, kind: "treasury"}, r)
}

func (f *Fixture) FetchDividendHistory(ctx context.Context, ticker domain.Ticker, r domain.DateRange) (domain.MonthlySeries[float64], error) {
	return f.fetch(ctx, seriesKey{ticker: ticker, kind: "dividend"}, r)
}

// Tickers returns every ticker with at least one registered series, sorted.
func (f *Fixture) Tickers() []domain.Ticker {
	seen := make(map[domain.Ticker]bool)
	for k := range f.data {
		if k.ticker != "" {
			seen[k.ticker] = true
		}
	}
	out := make([]domain.Ticker, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var _ PriceProvider = (*Fixture)(nil)
