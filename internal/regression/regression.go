// Package regression fits the multi-factor OLS model a ticker's monthly
// return series is regressed against, with HAC (Newey-West) standard
// errors, VIF, and condition-number diagnostics.
package regression

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
)

const monthsPerYear = 12

// Config tunes the numerical policy of a fit: the ridge added before
// inversion and the condition-number threshold above which a fit is
// rejected as a singular design.
type Config struct {
	Ridge                    float64 // added to X'X diagonal before inversion
	ConditionNumberThreshold float64 // above this, SingularDesign is raised
}

// DefaultConfig returns the engine's default numerical policy.
func DefaultConfig() Config {
	return Config{Ridge: 1e-10, ConditionNumberThreshold: 1e8}
}

// Result is the full diagnostic output of one OLS fit: the beta vector the
// rest of the engine consumes, plus the standard errors, VIF, and
// condition number a caller may want to report.
type Result struct {
	Labels            []string // factor label order, matching Betas/StdErrors/VIF keys
	Betas             map[string]float64
	Alpha             float64
	AlphaStdError     float64
	StdErrors         map[string]float64 // HAC (Newey-West) SE per factor
	RSquaredAdjusted  float64
	ResidualVolAnnual float64
	VIF               map[string]float64
	ConditionNumber   float64
	HACLag            int
	Observations      int
}

// ToBetaVector projects a Result down to the domain.BetaVector shape the
// factor model assembler stores per ticker.
func (r Result) ToBetaVector() domain.BetaVector {
	betas := make(map[string]float64, len(r.Betas))
	for k, v := range r.Betas {
		betas[k] = v
	}
	return domain.BetaVector{
		Betas:             betas,
		Alpha:             r.Alpha,
		ResidualVolAnnual: r.ResidualVolAnnual,
		RSquared:          r.RSquaredAdjusted,
	}
}

// HACLag computes the Newey-West/Bartlett-kernel lag L = floor(4*(T/100)^(2/9)).
func HACLag(t int) int {
	l := 4.0 * math.Pow(float64(t)/100.0, 2.0/9.0)
	return int(math.Floor(l))
}

// alignPanel intersects y's months with every factor series' months, in
// ascending order, and returns the aligned y values plus a T x k factor
// matrix in a stable label order.
func alignPanel(y domain.MonthlySeries[float64], factors map[string]domain.MonthlySeries[float64]) (labels []string, months []domain.Month, yVals []float64, xCols map[string][]float64) {
	labels = make([]string, 0, len(factors))
	for l := range factors {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	present := make(map[domain.Month]int)
	for i := 0; i < y.Len(); i++ {
		m, _ := y.At(i)
		present[m]++
	}
	for _, l := range labels {
		seen := make(map[domain.Month]bool)
		s := factors[l]
		for i := 0; i < s.Len(); i++ {
			m, _ := s.At(i)
			seen[m] = true
		}
		for m := range present {
			if !seen[m] {
				delete(present, m)
			}
		}
	}

	yIndex := make(map[domain.Month]float64, y.Len())
	for i := 0; i < y.Len(); i++ {
		m, v := y.At(i)
		yIndex[m] = v
	}
	var common []domain.Month
	for m, count := range present {
		if count > 0 {
			common = append(common, m)
		}
	}
	sort.Slice(common, func(i, j int) bool { return common[i].Before(common[j]) })

	xCols = make(map[string][]float64, len(labels))
	for _, l := range labels {
		idx := make(map[domain.Month]float64)
		s := factors[l]
		for i := 0; i < s.Len(); i++ {
			m, v := s.At(i)
			idx[m] = v
		}
		col := make([]float64, len(common))
		for i, m := range common {
			col[i] = idx[m]
		}
		xCols[l] = col
	}

	yVals = make([]float64, len(common))
	for i, m := range common {
		yVals[i] = yIndex[m]
	}
	return labels, common, yVals, xCols
}

// Fit solves y = alpha + X*beta + eps by OLS, where X's columns are the
// factor series aligned to y on the intersection of their months.
func Fit(y domain.MonthlySeries[float64], factors map[string]domain.MonthlySeries[float64], cfg Config) (Result, error) {
	labels, months, yVals, xCols := alignPanel(y, factors)
	k := len(labels)
	t := len(months)

	if t < k+5 {
		return Result{}, domain.NewError(domain.ErrInsufficientData,
			"fewer than k+5 aligned monthly observations for regression")
	}

	// Design matrix: column 0 is the intercept, columns 1..k are factors.
	p := k + 1
	xData := make([]float64, t*p)
	for row := 0; row < t; row++ {
		xData[row*p+0] = 1
		for j, l := range labels {
			xData[row*p+1+j] = xCols[l][row]
		}
	}
	X := mat.NewDense(t, p, xData)
	yVec := mat.NewVecDense(t, yVals)

	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	for i := 0; i < p; i++ {
		xtx.Set(i, i, xtx.At(i, i)+cfg.Ridge)
	}

	condNumber := mat.Cond(&xtx, 2)
	if math.IsInf(condNumber, 1) || condNumber > cfg.ConditionNumberThreshold {
		return Result{}, domain.NewError(domain.ErrSingularDesign,
			"factor design matrix is ill-conditioned")
	}

	var xty mat.VecDense
	xty.MulVec(X.T(), yVec)

	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err != nil {
		return Result{}, domain.NewError(domain.ErrSingularDesign, "factor design matrix is not invertible",
			domain.WithCause(err))
	}

	var betaFull mat.VecDense
	betaFull.MulVec(&xtxInv, &xty)

	alpha := betaFull.AtVec(0)
	betas := make(map[string]float64, k)
	for j, l := range labels {
		betas[l] = betaFull.AtVec(j + 1)
	}

	// Residuals and R^2.
	var fitted mat.VecDense
	fitted.MulVec(X, &betaFull)
	residuals := make([]float64, t)
	var ssResid, yMean float64
	for i := 0; i < t; i++ {
		yMean += yVals[i]
	}
	yMean /= float64(t)
	var ssTotal float64
	for i := 0; i < t; i++ {
		residuals[i] = yVals[i] - fitted.AtVec(i)
		ssResid += residuals[i] * residuals[i]
		ssTotal += (yVals[i] - yMean) * (yVals[i] - yMean)
	}
	rSquared := 1.0
	if ssTotal > 0 {
		rSquared = 1 - ssResid/ssTotal
	}
	adjR2 := rSquared
	if t-p-1 > 0 {
		adjR2 = 1 - (1-rSquared)*float64(t-1)/float64(t-p)
	}

	residualVolAnnual := stat.StdDev(residuals, nil) * math.Sqrt(monthsPerYear)

	lag := HACLag(t)
	hacCov := newelWestCovariance(X, residuals, &xtxInv, lag)
	stdErrors := make(map[string]float64, k)
	for j, l := range labels {
		stdErrors[l] = math.Sqrt(math.Max(0, hacCov.At(j+1, j+1)))
	}
	alphaSE := math.Sqrt(math.Max(0, hacCov.At(0, 0)))

	vif := computeVIF(labels, xCols, t)

	return Result{
		Labels:            labels,
		Betas:             betas,
		Alpha:             alpha,
		AlphaStdError:     alphaSE,
		StdErrors:         stdErrors,
		RSquaredAdjusted:  adjR2,
		ResidualVolAnnual: residualVolAnnual,
		VIF:               vif,
		ConditionNumber:   condNumber,
		HACLag:            lag,
		Observations:      t,
	}, nil
}

// newelWestCovariance computes the HAC (Newey-West) sandwich covariance of
// the OLS coefficients using a Bartlett kernel at the given lag:
// Avar = (X'X)^-1 * M * (X'X)^-1, where
// M = sum_t u_t^2 x_t x_t' + sum_{l=1}^{lag} w_l * sum_t u_t u_{t-l} (x_t x_{t-l}' + x_{t-l} x_t').
func newelWestCovariance(X *mat.Dense, residuals []float64, xtxInv *mat.Dense, lag int) *mat.Dense {
	t, p := X.Dims()

	meat := mat.NewDense(p, p, nil)
	xRow := func(i int) []float64 {
		row := make([]float64, p)
		mat.Row(row, i, X)
		return row
	}

	addOuter := func(dst *mat.Dense, a, b []float64, scale float64) {
		for i := 0; i < p; i++ {
			for j := 0; j < p; j++ {
				dst.Set(i, j, dst.At(i, j)+scale*a[i]*b[j])
			}
		}
	}

	for i := 0; i < t; i++ {
		xi := xRow(i)
		addOuter(meat, xi, xi, residuals[i]*residuals[i])
	}
	for l := 1; l <= lag; l++ {
		w := 1.0 - float64(l)/float64(lag+1)
		for i := l; i < t; i++ {
			xi := xRow(i)
			xil := xRow(i - l)
			cross := residuals[i] * residuals[i-l]
			addOuter(meat, xi, xil, w*cross)
			addOuter(meat, xil, xi, w*cross)
		}
	}

	var tmp, avar mat.Dense
	tmp.Mul(xtxInv, meat)
	avar.Mul(&tmp, xtxInv)
	return &avar
}

// computeVIF regresses each factor column on the remaining factor columns
// (plus intercept) and reports 1/(1-R^2) for each.
func computeVIF(labels []string, xCols map[string][]float64, t int) map[string]float64 {
	vif := make(map[string]float64, len(labels))
	if len(labels) < 2 {
		for _, l := range labels {
			vif[l] = 1.0
		}
		return vif
	}

	for _, target := range labels {
		others := make([]string, 0, len(labels)-1)
		for _, l := range labels {
			if l != target {
				others = append(others, l)
			}
		}
		p := len(others) + 1
		xData := make([]float64, t*p)
		for row := 0; row < t; row++ {
			xData[row*p+0] = 1
			for j, l := range others {
				xData[row*p+1+j] = xCols[l][row]
			}
		}
		X := mat.NewDense(t, p, xData)
		yVals := xCols[target]
		yVec := mat.NewVecDense(t, yVals)

		var xtx mat.Dense
		xtx.Mul(X.T(), X)
		for i := 0; i < p; i++ {
			xtx.Set(i, i, xtx.At(i, i)+1e-10)
		}
		var xtxInv mat.Dense
		if err := xtxInv.Inverse(&xtx); err != nil {
			vif[target] = math.Inf(1)
			continue
		}
		var xty, beta, fitted mat.VecDense
		xty.MulVec(X.T(), yVec)
		beta.MulVec(&xtxInv, &xty)
		fitted.MulVec(X, &beta)

		var yMean, ssResid, ssTotal float64
		for i := 0; i < t; i++ {
			yMean += yVals[i]
		}
		yMean /= float64(t)
		for i := 0; i < t; i++ {
			r := yVals[i] - fitted.AtVec(i)
			ssResid += r * r
			ssTotal += (yVals[i] - yMean) * (yVals[i] - yMean)
		}
		r2 := 0.0
		if ssTotal > 0 {
			r2 = 1 - ssResid/ssTotal
		}
		if r2 >= 1 {
			vif[target] = math.Inf(1)
		} else {
			vif[target] = 1.0 / (1.0 - r2)
		}
	}
	return vif
}
