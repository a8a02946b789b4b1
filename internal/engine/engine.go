// Package engine orchestrates the full analysis pipeline: cache lookup,
// factor model assembly, and whichever of risk analysis, scenario,
// optimization, or risk scoring the caller requested. It returns typed
// results and renders nothing; callers pass them to the envelope package.
// This is the only package that knows about every computing component.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/henrysouchien/portfolio-risk-engine/internal/cache"
	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
	"github.com/henrysouchien/portfolio-risk-engine/internal/factormodel"
	"github.com/henrysouchien/portfolio-risk-engine/internal/limits"
	"github.com/henrysouchien/portfolio-risk-engine/internal/optimizer"
	"github.com/henrysouchien/portfolio-risk-engine/internal/provider"
	"github.com/henrysouchien/portfolio-risk-engine/internal/regression"
	"github.com/henrysouchien/portfolio-risk-engine/internal/riskengine"
	"github.com/henrysouchien/portfolio-risk-engine/internal/riskscore"
	"github.com/henrysouchien/portfolio-risk-engine/internal/scenario"
)

// Config bundles every sub-component's tuning knobs plus the engine
// version stamped into every Envelope.
type Config struct {
	Regression      regression.Config
	Risk            riskengine.Config
	Optimizer       optimizer.Config
	ExpectedReturns optimizer.ExpectedReturnsConfig
	EngineVersion   string
}

// Engine is the top-level entry point; construct one per process and
// reuse it across requests.
type Engine struct {
	provider provider.PriceProvider
	refs     *provider.ReferenceMappings
	cache    *cache.Cache
	cfg      Config
	log      zerolog.Logger
}

// New constructs an Engine from its collaborators.
func New(p provider.PriceProvider, refs *provider.ReferenceMappings, c *cache.Cache, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		provider: p,
		refs:     refs,
		cache:    c,
		cfg:      cfg,
		log:      log.With().Str("component", "engine").Logger(),
	}
}

// requestLogger scopes e.log to a fresh request ID, so every log line
// emitted while servicing one call can be correlated across components.
func (e *Engine) requestLogger() zerolog.Logger {
	return e.log.With().Str("request_id", uuid.NewString()).Logger()
}

func (e *Engine) scenarioDeps(log zerolog.Logger) scenario.Deps {
	return scenario.Deps{Provider: e.provider, Refs: e.refs, Regression: e.cfg.Regression, Risk: e.cfg.Risk, Log: log}
}

func (e *Engine) assemble(ctx context.Context, p domain.Portfolio, log zerolog.Logger) (domain.FactorModel, error) {
	asm := factormodel.NewAssembler(e.provider, e.refs, e.cfg.Regression, log)
	return asm.Build(ctx, p)
}

// inputsDigestFromModel hashes the monthly factor-return series that fed
// the model: the full content of the market data every downstream
// computation actually consumes, once per-ticker OLS fits have been
// folded into betas and idiosyncratic variance.
func inputsDigestFromModel(model domain.FactorModel) string {
	series := make(map[domain.Ticker][]float64, len(model.FactorPanel.Returns))
	for factor, s := range model.FactorPanel.Returns {
		series[domain.Ticker(factor)] = s.Values()
	}
	return domain.InputsDigest(series)
}

func (e *Engine) newEnvelope(fingerprint string, model domain.FactorModel) domain.Envelope {
	return domain.Envelope{
		Fingerprint:   fingerprint,
		AsOf:          time.Now().UTC(),
		InputsDigest:  inputsDigestFromModel(model),
		EngineVersion: e.cfg.EngineVersion,
	}
}

// recommendationsFor produces one human-readable line per failing limit
// check, naming the limit and how far it was breached.
func recommendationsFor(checks []domain.LimitCheck) []string {
	var recs []string
	for _, c := range checks {
		if c.Passed {
			continue
		}
		recs = append(recs, fmt.Sprintf("%s breached: observed %.4f vs limit %.4f (margin %.4f)", c.LimitID, c.Observed, c.Limit, c.Margin))
	}
	return recs
}

func marshalEntry(kind domain.ResultKind, env domain.Envelope, result interface{}) (cache.Entry, error) {
	payload, err := msgpack.Marshal(result)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("engine: marshal %s payload: %w", kind, err)
	}
	return cache.Entry{Kind: kind, EngineVersion: env.EngineVersion, AsOf: env.AsOf, InputsDigest: env.InputsDigest, Payload: payload}, nil
}

// AnalyzeRisk computes, or returns the cached, RiskAnalysisResult for p:
// assembles the factor model, runs the risk engine, and evaluates the
// configured risk limits.
func (e *Engine) AnalyzeRisk(ctx context.Context, p domain.Portfolio) (domain.RiskAnalysisResult, error) {
	if err := p.Validate(); err != nil {
		return domain.RiskAnalysisResult{}, err
	}
	log := e.requestLogger()
	log.Debug().Msg("analyzing portfolio risk")
	fingerprint := domain.Fingerprint(p, domain.KindRiskAnalysis, "")

	entry, err := e.cache.GetOrCompute(ctx, fingerprint, domain.KindRiskAnalysis, func(computeCtx context.Context) (cache.Entry, error) {
		model, err := e.assemble(computeCtx, p, log)
		if err != nil {
			return cache.Entry{}, err
		}
		out, err := riskengine.Compute(p, model, e.cfg.Risk)
		if err != nil {
			return cache.Entry{}, err
		}
		checks := limits.Check(p, out, model, p.RiskLimits)
		result := domain.RiskAnalysisResult{
			Env:                 e.newEnvelope(fingerprint, model),
			Metrics:             out.Metrics,
			FactorExposures:     out.FactorExposures,
			RiskContributions:   out.RiskContributions,
			VarianceByFactor:    out.VarianceByFactor,
			WorstCaseFactorLoss: out.WorstCaseFactorLoss,
			LimitChecks:         checks,
			Recommendations:     recommendationsFor(checks),
		}
		return marshalEntry(domain.KindRiskAnalysis, result.Env, result)
	})
	if err != nil {
		return domain.RiskAnalysisResult{}, err
	}

	var result domain.RiskAnalysisResult
	if err := msgpack.Unmarshal(entry.Payload, &result); err != nil {
		return domain.RiskAnalysisResult{}, domain.NewError(domain.ErrCacheCorrupt, "engine: cached risk analysis payload failed to decode", domain.WithCause(err))
	}
	return result, nil
}

// RunScenario applies spec to p and re-runs the factor model, risk
// engine, and limit checker on both the base and modified portfolios.
func (e *Engine) RunScenario(ctx context.Context, p domain.Portfolio, spec scenario.Spec) (domain.ScenarioResult, error) {
	if err := p.Validate(); err != nil {
		return domain.ScenarioResult{}, err
	}
	log := e.requestLogger()
	log.Debug().Msg("running scenario")
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return domain.ScenarioResult{}, domain.NewError(domain.ErrInputInvalid, "engine: scenario spec not serializable", domain.WithCause(err))
	}
	fingerprint := domain.Fingerprint(p, domain.KindScenario, string(specJSON))

	entry, err := e.cache.GetOrCompute(ctx, fingerprint, domain.KindScenario, func(computeCtx context.Context) (cache.Entry, error) {
		result, err := scenario.Run(computeCtx, p, spec, e.scenarioDeps(log))
		if err != nil {
			return cache.Entry{}, err
		}
		beforeModel, err := e.assemble(computeCtx, p, log)
		if err != nil {
			return cache.Entry{}, err
		}
		result.Env = e.newEnvelope(fingerprint, beforeModel)
		return marshalEntry(domain.KindScenario, result.Env, result)
	})
	if err != nil {
		return domain.ScenarioResult{}, err
	}

	var result domain.ScenarioResult
	if err := msgpack.Unmarshal(entry.Payload, &result); err != nil {
		return domain.ScenarioResult{}, domain.NewError(domain.ErrCacheCorrupt, "engine: cached scenario payload failed to decode", domain.WithCause(err))
	}
	return result, nil
}

// Optimize assembles the factor model for p and solves the requested
// convex program over it.
func (e *Engine) Optimize(ctx context.Context, p domain.Portfolio, kind domain.OptimizationKind) (domain.OptimizationResult, error) {
	if err := p.Validate(); err != nil {
		return domain.OptimizationResult{}, err
	}
	log := e.requestLogger()
	log.Debug().Str("opt_kind", string(kind)).Msg("optimizing portfolio")
	fingerprint := domain.Fingerprint(p, domain.KindOptimization, string(kind))

	entry, err := e.cache.GetOrCompute(ctx, fingerprint, domain.KindOptimization, func(computeCtx context.Context) (cache.Entry, error) {
		model, err := e.assemble(computeCtx, p, log)
		if err != nil {
			return cache.Entry{}, err
		}
		mu, err := optimizer.ResolveExpectedReturns(computeCtx, p, e.refs, e.provider, e.cfg.ExpectedReturns)
		if err != nil {
			return cache.Entry{}, err
		}
		result, err := optimizer.Optimize(computeCtx, p, model, mu, kind, e.cfg.Optimizer)
		if err != nil {
			return cache.Entry{}, err
		}
		result.Env = e.newEnvelope(fingerprint, model)
		return marshalEntry(domain.KindOptimization, result.Env, result)
	})
	if err != nil {
		return domain.OptimizationResult{}, err
	}

	var result domain.OptimizationResult
	if err := msgpack.Unmarshal(entry.Payload, &result); err != nil {
		return domain.OptimizationResult{}, domain.NewError(domain.ErrCacheCorrupt, "engine: cached optimization payload failed to decode", domain.WithCause(err))
	}
	return result, nil
}

// RiskScore maps p's risk metrics to a composite 0-100 score.
func (e *Engine) RiskScore(ctx context.Context, p domain.Portfolio) (domain.RiskScoreResult, error) {
	if err := p.Validate(); err != nil {
		return domain.RiskScoreResult{}, err
	}
	log := e.requestLogger()
	log.Debug().Msg("scoring portfolio risk")
	fingerprint := domain.Fingerprint(p, domain.KindRiskScore, "")

	entry, err := e.cache.GetOrCompute(ctx, fingerprint, domain.KindRiskScore, func(computeCtx context.Context) (cache.Entry, error) {
		model, err := e.assemble(computeCtx, p, log)
		if err != nil {
			return cache.Entry{}, err
		}
		out, err := riskengine.Compute(p, model, e.cfg.Risk)
		if err != nil {
			return cache.Entry{}, err
		}
		result := riskscore.Compute(p, out, model)
		result.Env = e.newEnvelope(fingerprint, model)
		return marshalEntry(domain.KindRiskScore, result.Env, result)
	})
	if err != nil {
		return domain.RiskScoreResult{}, err
	}

	var result domain.RiskScoreResult
	if err := msgpack.Unmarshal(entry.Payload, &result); err != nil {
		return domain.RiskScoreResult{}, domain.NewError(domain.ErrCacheCorrupt, "engine: cached risk score payload failed to decode", domain.WithCause(err))
	}
	return result, nil
}

// AnalyzeStock reports a single ticker's fitted factor betas and
// idiosyncratic volatility from p's assembled factor model, without
// running the portfolio-level risk engine.
func (e *Engine) AnalyzeStock(ctx context.Context, p domain.Portfolio, ticker domain.Ticker) (domain.StockResult, error) {
	if err := p.Validate(); err != nil {
		return domain.StockResult{}, err
	}
	log := e.requestLogger()
	log.Debug().Str("ticker", string(ticker)).Msg("analyzing stock")
	fingerprint := domain.Fingerprint(p, domain.KindStock, string(ticker))

	entry, err := e.cache.GetOrCompute(ctx, fingerprint, domain.KindStock, func(computeCtx context.Context) (cache.Entry, error) {
		model, err := e.assemble(computeCtx, p, log)
		if err != nil {
			return cache.Entry{}, err
		}
		betas, ok := model.Betas[ticker]
		if !ok {
			return cache.Entry{}, domain.NewError(domain.ErrDataUnavailable, "engine: ticker did not validate into the factor model", domain.WithTicker(ticker))
		}
		idioVar := model.IdiosyncraticVar[ticker]
		result := domain.StockResult{
			Env:              e.newEnvelope(fingerprint, model),
			Ticker:           ticker,
			Betas:            betas,
			IdiosyncraticVol: math.Sqrt(idioVar),
			Period:           p.Range,
		}
		return marshalEntry(domain.KindStock, result.Env, result)
	})
	if err != nil {
		return domain.StockResult{}, err
	}

	var result domain.StockResult
	if err := msgpack.Unmarshal(entry.Payload, &result); err != nil {
		return domain.StockResult{}, domain.NewError(domain.ErrCacheCorrupt, "engine: cached stock payload failed to decode", domain.WithCause(err))
	}
	return result, nil
}
