// Package optimizer solves the min-variance and max-return convex programs
// over a portfolio's factor model, reusing (B, Sigma_f, idiosyncratic
// variance) from the assembled factor model and the full risk-limit
// constraint set.
package optimizer

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
	"github.com/henrysouchien/portfolio-risk-engine/internal/limits"
)

// Config tunes the penalty-method solve.
type Config struct {
	PenaltyWeight           float64
	Ridge                   float64
	WorstCaseLookbackMonths int
	BindingTolerance        float64 // |margin| below this at optimum is reported as binding
}

// DefaultConfig returns the default penalty weight and worst-case
// lookback; the expected-return CAGR lookback is configured separately
// via ExpectedReturnsConfig.
func DefaultConfig() Config {
	return Config{
		PenaltyWeight:           1000.0,
		Ridge:                   1e-10,
		WorstCaseLookbackMonths: 60,
		BindingTolerance:        1e-4,
	}
}

var successStatuses = map[optimize.Status]bool{
	optimize.Success:             true,
	optimize.GradientThreshold:   true,
	optimize.FunctionConvergence: true,
}

type problemData struct {
	tickers []domain.Ticker
	labels  []string
	n, k    int
	B       *mat.Dense    // n x k
	sigmaF  *mat.Dense    // k x k
	idioVar []float64     // n
	mu      []float64     // n
	qWorst  map[string]float64 // factor -> worst historical monthly return
	limits  domain.RiskLimits
	cfg     Config
}

func buildProblemData(model domain.FactorModel, mu map[domain.Ticker]float64, riskLimits domain.RiskLimits, cfg Config) problemData {
	tickers := make([]domain.Ticker, 0, len(mu))
	for t := range mu {
		tickers = append(tickers, t)
	}
	// Stable order for determinism.
	sortTickers(tickers)

	labels := model.FactorCov.Labels
	n, k := len(tickers), len(labels)

	B := mat.NewDense(n, k, nil)
	idioVar := make([]float64, n)
	muVec := make([]float64, n)
	for i, t := range tickers {
		muVec[i] = mu[t]
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

	qWorst := make(map[string]float64, k)
	for _, l := range labels {
		qWorst[l] = worstCaseMonthlyReturn(model.FactorPanel.Returns[l], cfg.WorstCaseLookbackMonths)
	}

	return problemData{
		tickers: tickers, labels: labels, n: n, k: k,
		B: B, sigmaF: sigmaF, idioVar: idioVar, mu: muVec, qWorst: qWorst,
		limits: riskLimits, cfg: cfg,
	}
}

func sortTickers(tickers []domain.Ticker) {
	sort.Slice(tickers, func(i, j int) bool { return tickers[i] < tickers[j] })
}

// state is the per-evaluation working set computed once per objective/grad
// call from a (possibly bounds-projected) weight vector.
type state struct {
	w        []float64
	exposure []float64 // E = B'w, length k
	sigmaFE  []float64 // Sigma_f * E, length k
	sigmaW   []float64 // B*sigmaFE + idioVar.*w, length n (Sigma*w, matrix-free)
	variance float64
	ret      float64
}

func (pd problemData) evaluate(w []float64) state {
	wVec := mat.NewVecDense(pd.n, w)
	var eVec mat.VecDense
	eVec.MulVec(pd.B.T(), wVec)

	var sigmaFEVec mat.VecDense
	sigmaFEVec.MulVec(pd.sigmaF, &eVec)

	var bSigmaFE mat.VecDense
	bSigmaFE.MulVec(pd.B, &sigmaFEVec)

	sigmaW := make([]float64, pd.n)
	var systematic, idio, ret float64
	for i := 0; i < pd.n; i++ {
		sigmaW[i] = bSigmaFE.AtVec(i) + pd.idioVar[i]*w[i]
		idio += pd.idioVar[i] * w[i] * w[i]
		ret += pd.mu[i] * w[i]
	}
	exposure := make([]float64, pd.k)
	sigmaFE := make([]float64, pd.k)
	for j := 0; j < pd.k; j++ {
		exposure[j] = eVec.AtVec(j)
		sigmaFE[j] = sigmaFEVec.AtVec(j)
		systematic += exposure[j] * sigmaFE[j]
	}

	return state{
		w: w, exposure: exposure, sigmaFE: sigmaFE, sigmaW: sigmaW,
		variance: systematic + idio + pd.cfg.Ridge, ret: ret,
	}
}

// factorLimit returns the variance-share limit applicable to factor label l.
func (pd problemData) factorLimit(l string) float64 {
	switch l {
	case domain.FactorMarket:
		return pd.limits.MaxMarketContribution
	case domain.FactorIndustry:
		return pd.limits.MaxIndustryContribution
	default:
		return pd.limits.MaxFactorContribution
	}
}

// constraintPenalty returns the total penalty (sum constraint, per-ticker
// weight bound, per-factor variance share, per-factor worst-case loss) and
// accumulates its gradient into grad (grad may be nil to skip).
func (pd problemData) constraintPenalty(st state, grad []float64) float64 {
	pw := pd.cfg.PenaltyWeight
	var penalty float64

	// Normalization: sum(w) = 1.
	var sum float64
	for _, wi := range st.w {
		sum += wi
	}
	penalty += pw * (sum - 1) * (sum - 1)
	if grad != nil {
		for i := range grad {
			grad[i] += 2 * pw * (sum - 1)
		}
	}

	// Per-ticker |w_i| <= max_single_stock_weight.
	maxW := pd.limits.MaxSingleStockWeight
	if maxW > 0 {
		for i, wi := range st.w {
			if wi > maxW {
				g := wi - maxW
				penalty += pw * g * g
				if grad != nil {
					grad[i] += 2 * pw * g
				}
			} else if wi < -maxW {
				g := wi + maxW
				penalty += pw * g * g
				if grad != nil {
					grad[i] += 2 * pw * g
				}
			}
		}
	}

	// Per-factor variance share: V_f - limit_f * variance <= 0.
	for fi, l := range pd.labels {
		limit := pd.factorLimit(l)
		if limit <= 0 {
			continue
		}
		vf := st.exposure[fi] * st.sigmaFE[fi]
		gViol := vf - limit*st.variance
		if gViol <= 0 {
			continue
		}
		penalty += pw * gViol * gViol
		if grad != nil {
			sigmaFRow := pd.sigmaF.RawRowView(fi)
			for i := 0; i < pd.n; i++ {
				bRow := pd.B.RawRowView(i)
				dSf := dot(bRow, sigmaFRow)
				dVf := pd.B.At(i, fi)*st.sigmaFE[fi] + st.exposure[fi]*dSf
				dVariance := 2 * st.sigmaW[i]
				grad[i] += 2 * pw * gViol * (dVf - limit*dVariance)
			}
		}
	}

	// Per-factor worst-case loss: E_f * q_f >= max_single_factor_loss.
	floorLoss := pd.limits.MaxSingleFactorLoss
	for fi, l := range pd.labels {
		q := pd.qWorst[l]
		h := st.exposure[fi]*q - floorLoss
		if h >= 0 {
			continue
		}
		penalty += pw * h * h
		if grad != nil {
			for i := 0; i < pd.n; i++ {
				dE := pd.B.At(i, fi) * q
				grad[i] += 2 * pw * h * dE
			}
		}
	}

	return penalty
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// worstCaseMonthlyReturn mirrors the risk engine's historical worst-month
// lookup for a trailing window (or the whole series if shorter).
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

// solve runs the penalty-method BFGS solve (falling back to Nelder-Mead on
// non-convergence) for the given objective/gradient pair, checking ctx
// for cooperative cancellation
// before the solve, before the Nelder-Mead fallback, and after the solve.
// A non-convergent result is reported as
// Infeasible, diagnosed with the tightest binding constraint family at the
// best point either solver reached.
func solve(ctx context.Context, pd problemData, objective func(x []float64) float64, gradient func(grad, x []float64)) (*optimize.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewError(domain.ErrCancelled, "optimization cancelled before solve")
	}

	problem := optimize.Problem{Func: objective, Grad: gradient}
	initial := make([]float64, pd.n)
	for i := range initial {
		initial[i] = 1.0 / float64(pd.n)
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
	if err == nil && successStatuses[result.Status] {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, domain.NewError(domain.ErrCancelled, "optimization cancelled during solve")
		}
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, domain.NewError(domain.ErrCancelled, "optimization cancelled during solve")
	}
	fallback, fallbackErr := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	if fallbackErr != nil {
		return nil, infeasibleError(pd, result, fmt.Sprintf("optimization failed: %v", fallbackErr))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, domain.NewError(domain.ErrCancelled, "optimization cancelled during solve")
	}
	if !successStatuses[fallback.Status] {
		return nil, infeasibleError(pd, fallback, fmt.Sprintf("optimization did not converge: status=%v", fallback.Status))
	}
	return fallback, nil
}

// infeasibleError builds an Infeasible domain.Error diagnosed with the
// tightest-binding constraint family at the best point res reached (res
// may be nil if the solver produced no candidate at all).
func infeasibleError(pd problemData, res *optimize.Result, message string) error {
	if res == nil || res.X == nil {
		return domain.NewError(domain.ErrInfeasible, message)
	}
	family, _ := tightestViolation(pd, pd.evaluate(res.X))
	if family == "" {
		return domain.NewError(domain.ErrInfeasible, message)
	}
	return domain.NewError(domain.ErrInfeasible, message, domain.WithFactor(family))
}

// normalizeResult projects x to per-ticker weight bounds and renormalizes
// so the weights sum to 1 (without a long-only clamp, since this engine
// allows shorts).
func normalizeResult(pd problemData, x []float64) []float64 {
	maxW := pd.limits.MaxSingleStockWeight
	out := make([]float64, pd.n)
	var sum float64
	for i, xi := range x {
		v := xi
		if maxW > 0 {
			if v > maxW {
				v = maxW
			} else if v < -maxW {
				v = -maxW
			}
		}
		out[i] = v
		sum += v
	}
	if sum != 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}

// bindingConstraints re-evaluates every constraint family at the final
// weights and reports those within cfg.BindingTolerance of their limit.
func bindingConstraints(pd problemData, st state) []string {
	var binding []string
	tol := pd.cfg.BindingTolerance
	if tol <= 0 {
		tol = 1e-4
	}

	if pd.limits.MaxPortfolioVolatility > 0 {
		vol := math.Sqrt(math.Max(st.variance, 0))
		if math.Abs(vol-pd.limits.MaxPortfolioVolatility) <= tol {
			binding = append(binding, limits.LimitPortfolioVolatility)
		}
	}

	maxW := pd.limits.MaxSingleStockWeight
	if maxW > 0 {
		for i, t := range pd.tickers {
			if math.Abs(math.Abs(st.w[i])-maxW) <= tol {
				binding = append(binding, fmt.Sprintf("%s:%s", limits.LimitSingleStockWeight, t))
			}
		}
	}

	for fi, l := range pd.labels {
		limit := pd.factorLimit(l)
		if limit <= 0 {
			continue
		}
		vf := st.exposure[fi] * st.sigmaFE[fi]
		share := 0.0
		if st.variance > 0 {
			share = vf / st.variance
		}
		if math.Abs(share-limit) <= tol {
			binding = append(binding, fmt.Sprintf("%s:%s", limits.LimitFactorContribution, l))
		}
	}

	for fi, l := range pd.labels {
		q := pd.qWorst[l]
		loss := st.exposure[fi] * q
		if math.Abs(loss-pd.limits.MaxSingleFactorLoss) <= tol {
			binding = append(binding, fmt.Sprintf("%s:%s", limits.LimitSingleFactorLoss, l))
		}
	}

	return binding
}
