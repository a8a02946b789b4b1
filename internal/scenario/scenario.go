// Package scenario applies a weight replacement or sparse per-ticker delta
// shift to a portfolio, auto-assigns proxies for any newly introduced
// ticker, and re-runs the factor model, risk engine, and limit checker on
// both the base and modified portfolios.
package scenario

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
	"github.com/henrysouchien/portfolio-risk-engine/internal/factormodel"
	"github.com/henrysouchien/portfolio-risk-engine/internal/limits"
	"github.com/henrysouchien/portfolio-risk-engine/internal/provider"
	"github.com/henrysouchien/portfolio-risk-engine/internal/regression"
	"github.com/henrysouchien/portfolio-risk-engine/internal/riskengine"
)

// Spec is a ScenarioSpec: either a full weight replacement or a sparse
// per-ticker delta, expressed as decimal/percent/bp strings. NewWeights
// takes precedence over Delta when both are non-empty.
type Spec struct {
	NewWeights map[domain.Ticker]float64
	Delta      map[domain.Ticker]string
}

// Deps bundles the collaborators needed to re-run the factor model, risk
// engine, and limit checker on a portfolio.
type Deps struct {
	Provider   provider.PriceProvider
	Refs       *provider.ReferenceMappings
	Regression regression.Config
	Risk       riskengine.Config
	Log        zerolog.Logger
}

// Apply produces a modified Portfolio from base and spec, auto-assigning a
// ProxySet (via reference mappings, falling back to a reference peer's
// standard-factor labels, then exchange defaults) for every ticker newly
// introduced by the spec. The base portfolio is never mutated. The
// modified portfolio keeps base's Range and RiskLimits unchanged.
func Apply(base domain.Portfolio, spec Spec, refs *provider.ReferenceMappings) (domain.Portfolio, []domain.Ticker, error) {
	modified := base
	modified.Weights = make(map[domain.Ticker]float64, len(base.Weights))
	modified.Proxies = make(map[domain.Ticker]domain.ProxySet, len(base.Proxies))
	for t, px := range base.Proxies {
		modified.Proxies[t] = px
	}

	if len(spec.NewWeights) > 0 {
		for t, w := range spec.NewWeights {
			modified.Weights[t] = w
		}
	} else {
		for t, w := range base.Weights {
			modified.Weights[t] = w
		}
		for t, deltaStr := range spec.Delta {
			delta, err := ParseDelta(deltaStr)
			if err != nil {
				return domain.Portfolio{}, nil, err
			}
			modified.Weights[t] += delta
		}
	}

	var newTickers []domain.Ticker
	for t := range modified.Weights {
		if _, inBase := base.Weights[t]; inBase && t.IsCash() {
			continue
		}
		if _, ok := modified.Proxies[t]; ok {
			continue
		}
		proxy, err := autoAssignProxy(t, base, refs)
		if err != nil {
			return domain.Portfolio{}, nil, err
		}
		modified.Proxies[t] = proxy
		newTickers = append(newTickers, t)
	}
	sort.Slice(newTickers, func(i, j int) bool { return newTickers[i] < newTickers[j] })

	return modified, newTickers, nil
}

// autoAssignProxy builds a ProxySet for a ticker not already present in
// base: cash pseudo-tickers resolve to the reference currency proxy;
// equities copy the market/momentum/value labels of any reference peer
// already present in base, falling back to the reference mappings' NYSE
// default when base has no peer with a market proxy.
func autoAssignProxy(t domain.Ticker, base domain.Portfolio, refs *provider.ReferenceMappings) (domain.ProxySet, error) {
	if t.IsCash() {
		proxy, err := refs.CashProxy(t.Currency())
		if err != nil {
			return domain.ProxySet{}, err
		}
		return domain.ProxySet{Market: proxy}, nil
	}

	for _, peerTicker := range base.Tickers() {
		peer, ok := base.Proxies[peerTicker]
		if !ok || peer.Market == "" {
			continue
		}
		return domain.ProxySet{Market: peer.Market, Momentum: peer.Momentum, Value: peer.Value}, nil
	}

	return refs.ExchangeDefaults("NYSE")
}

// RunSingle re-runs factor model assembly, the risk engine, and the limit
// checker on a single portfolio and returns the resulting
// RiskAnalysisResult. Envelope fields are left zero-valued; the caller
// stamps fingerprint/as_of/inputs_digest.
func RunSingle(ctx context.Context, p domain.Portfolio, deps Deps) (domain.RiskAnalysisResult, error) {
	asm := factormodel.NewAssembler(deps.Provider, deps.Refs, deps.Regression, deps.Log)
	model, err := asm.Build(ctx, p)
	if err != nil {
		return domain.RiskAnalysisResult{}, err
	}

	out, err := riskengine.Compute(p, model, deps.Risk)
	if err != nil {
		return domain.RiskAnalysisResult{}, err
	}

	checks := limits.Check(p, out, model, p.RiskLimits)

	return domain.RiskAnalysisResult{
		Metrics:             out.Metrics,
		FactorExposures:     out.FactorExposures,
		RiskContributions:   out.RiskContributions,
		VarianceByFactor:    out.VarianceByFactor,
		WorstCaseFactorLoss: out.WorstCaseFactorLoss,
		LimitChecks:         checks,
	}, nil
}

// Run applies spec to base, then re-runs the factor model, risk engine,
// and limit checker on both the base and modified portfolios, returning a
// ScenarioResult. The modified portfolio is never persisted by this
// package; it exists only for the duration of this call.
func Run(ctx context.Context, base domain.Portfolio, spec Spec, deps Deps) (domain.ScenarioResult, error) {
	before, err := RunSingle(ctx, base, deps)
	if err != nil {
		return domain.ScenarioResult{}, err
	}

	modified, newTickers, err := Apply(base, spec, deps.Refs)
	if err != nil {
		return domain.ScenarioResult{}, err
	}

	after, err := RunSingle(ctx, modified, deps)
	if err != nil {
		return domain.ScenarioResult{}, err
	}

	return domain.ScenarioResult{
		Before:             before,
		After:              after,
		NewTickersAssigned: newTickers,
	}, nil
}
