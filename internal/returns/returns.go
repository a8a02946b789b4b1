// Package returns computes simple monthly returns, annualized volatility,
// and rolling volatility over monthly return series.
package returns

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
)

// monthsPerYear is the annualization factor for monthly return series.
const monthsPerYear = 12

// MonthlyReturns computes simple returns r_t = P_t/P_{t-1} - 1 from a
// monthly price series. The output has one fewer observation than the
// input, aligned to the later month of each pair.
func MonthlyReturns(prices domain.MonthlySeries[float64]) (domain.MonthlySeries[float64], error) {
	if prices.Len() < 2 {
		return domain.MonthlySeries[float64]{}, domain.NewError(domain.ErrInsufficientData,
			"need at least 2 months of prices to compute a return")
	}

	months := make([]domain.Month, 0, prices.Len()-1)
	values := make([]float64, 0, prices.Len()-1)
	_, prevPrice := prices.At(0)
	for i := 1; i < prices.Len(); i++ {
		m, price := prices.At(i)
		months = append(months, m)
		values = append(values, price/prevPrice-1)
		prevPrice = price
	}
	return domain.NewMonthlySeries(months, values), nil
}

// VolatilityAnnual annualizes the sample standard deviation of a monthly
// return series: std(returns) * sqrt(12).
func VolatilityAnnual(monthlyReturns domain.MonthlySeries[float64]) (float64, error) {
	if monthlyReturns.Len() < 2 {
		return 0, domain.NewError(domain.ErrInsufficientData,
			"need at least 2 monthly returns to compute volatility")
	}
	return stat.StdDev(monthlyReturns.Values(), nil) * math.Sqrt(monthsPerYear), nil
}

// RollingVolatility computes the population standard deviation of every
// trailing window of monthlyReturns, aligned to the window's last month.
func RollingVolatility(monthlyReturns domain.MonthlySeries[float64], window int) (domain.MonthlySeries[float64], error) {
	if window < 2 || window > monthlyReturns.Len() {
		return domain.MonthlySeries[float64]{}, domain.NewError(domain.ErrInputInvalid,
			"rolling volatility window must be between 2 and the series length")
	}

	values := monthlyReturns.Values()
	// talib.StdDev returns each trailing window's population stddev
	// multiplied by its nbDev argument, so nbDev = 1.0 returns the plain
	// std deviation.
	rolling := talib.StdDev(values, window, 1.0)

	months := monthlyReturns.Months()
	outMonths := make([]domain.Month, 0, len(months)-window+1)
	outValues := make([]float64, 0, len(months)-window+1)
	for i := window - 1; i < len(rolling); i++ {
		if math.IsNaN(rolling[i]) {
			continue
		}
		outMonths = append(outMonths, months[i])
		outValues = append(outValues, rolling[i])
	}
	return domain.NewMonthlySeries(outMonths, outValues), nil
}
