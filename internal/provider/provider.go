// Package provider defines the engine's price-data collaborator interface
// and an in-memory fixture implementation for tests and the demo binary.
package provider

import (
	"context"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
)

// TreasuryMaturity enumerates the constant-maturity treasury tenors the
// engine's interest-rate key-rate block regresses against.
type TreasuryMaturity string

const (
	Treasury2Y  TreasuryMaturity = "2y"
	Treasury5Y  TreasuryMaturity = "5y"
	Treasury10Y TreasuryMaturity = "10y"
	Treasury30Y TreasuryMaturity = "30y"
)

// KeyRateMaturities is the fixed maturity set used by the interest-rate
// key-rate regression block.
var KeyRateMaturities = []TreasuryMaturity{Treasury2Y, Treasury5Y, Treasury10Y, Treasury30Y}

// PriceProvider supplies monthly close, monthly total-return close, monthly
// treasury yields, and dividend history for a (ticker, range). Implementations
// must be referentially transparent for a fixed (ticker, range): repeated
// calls return equal series unless the underlying store advances.
type PriceProvider interface {
	FetchMonthlyClose(ctx context.Context, ticker domain.Ticker, r domain.DateRange) (domain.MonthlySeries[float64], error)
	FetchMonthlyTotalReturn(ctx context.Context, ticker domain.Ticker, r domain.DateRange) (domain.MonthlySeries[float64], error)
	FetchMonthlyTreasury(ctx context.Context, maturity TreasuryMaturity, r domain.DateRange) (domain.MonthlySeries[float64], error)
	FetchDividendHistory(ctx context.Context, ticker domain.Ticker, r domain.DateRange) (domain.MonthlySeries[float64], error)
}
