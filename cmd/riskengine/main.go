// Command riskengine is a demonstration CLI: it seeds an in-memory price
// fixture, builds a sample portfolio, and runs risk analysis, a scenario,
// both optimizations, and the risk score through the full engine pipeline,
// printing each result's operator report.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/henrysouchien/portfolio-risk-engine/internal/cache"
	"github.com/henrysouchien/portfolio-risk-engine/internal/config"
	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
	"github.com/henrysouchien/portfolio-risk-engine/internal/engine"
	"github.com/henrysouchien/portfolio-risk-engine/internal/envelope"
	"github.com/henrysouchien/portfolio-risk-engine/internal/optimizer"
	"github.com/henrysouchien/portfolio-risk-engine/internal/provider"
	"github.com/henrysouchien/portfolio-risk-engine/internal/regression"
	"github.com/henrysouchien/portfolio-risk-engine/internal/riskengine"
	"github.com/henrysouchien/portfolio-risk-engine/internal/scenario"
	"github.com/henrysouchien/portfolio-risk-engine/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	log.Info().Msg("starting portfolio risk engine demo")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	c, err := cache.Open(cache.Config{
		DataDir:       cfg.CacheDataDir,
		CapacityBytes: cfg.CacheCapacityBytes,
		EntryLimit:    cfg.CacheMaxEntries,
		TTLByKind: map[domain.ResultKind]time.Duration{
			domain.KindRiskAnalysis: time.Duration(cfg.CacheTTLRisk) * time.Second,
			domain.KindScenario:     time.Duration(cfg.CacheTTLRisk) * time.Second,
			domain.KindOptimization: time.Duration(cfg.CacheTTLOptimize) * time.Second,
			domain.KindStock:        time.Duration(cfg.CacheTTLRisk) * time.Second,
			domain.KindRiskScore:    time.Duration(cfg.CacheTTLRiskScore) * time.Second,
		},
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open cache")
	}
	defer c.Close()

	prv, refs, p := sampleInputs()

	eng := engine.New(prv, refs, c, engine.Config{
		Regression: regression.Config{Ridge: cfg.NumericRidge, ConditionNumberThreshold: 1e8},
		Risk:       riskengine.Config{Ridge: cfg.NumericRidge, WorstCaseLookbackMonths: cfg.WorstCaseLookbackYears * 12},
		Optimizer:  optimizer.DefaultConfig(),
		ExpectedReturns: optimizer.ExpectedReturnsConfig{
			LookbackYears:  cfg.ExpectedReturnsLookbackYears,
			FallbackReturn: cfg.CashProxyFallbackReturn,
		},
		EngineVersion: cfg.EngineVersion,
	}, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, eng, p, log); err != nil {
		log.Fatal().Err(err).Msg("demo run failed")
	}
}

func run(ctx context.Context, eng *engine.Engine, p domain.Portfolio, log zerolog.Logger) error {
	risk, err := eng.AnalyzeRisk(ctx, p)
	if err != nil {
		return fmt.Errorf("analyze risk: %w", err)
	}
	if err := printReport(risk); err != nil {
		return err
	}

	score, err := eng.RiskScore(ctx, p)
	if err != nil {
		return fmt.Errorf("risk score: %w", err)
	}
	if err := printReport(score); err != nil {
		return err
	}

	spec := scenario.Spec{Delta: map[domain.Ticker]string{"AAPL": "+5%"}}
	scen, err := eng.RunScenario(ctx, p, spec)
	if err != nil {
		return fmt.Errorf("run scenario: %w", err)
	}
	if err := printReport(scen); err != nil {
		return err
	}

	for _, kind := range []domain.OptimizationKind{domain.OptimizationMinVar, domain.OptimizationMaxRet} {
		opt, err := eng.Optimize(ctx, p, kind)
		if err != nil {
			return fmt.Errorf("optimize %s: %w", kind, err)
		}
		if err := printReport(opt); err != nil {
			return err
		}
	}

	stock, err := eng.AnalyzeStock(ctx, p, "AAPL")
	if err != nil {
		return fmt.Errorf("analyze stock: %w", err)
	}
	if err := printReport(stock); err != nil {
		return err
	}

	log.Info().Msg("demo run complete")
	return nil
}

func printReport(result domain.AnalysisResult) error {
	report, err := envelope.ToReport(result)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	fmt.Println(report)
	return nil
}

// sampleInputs builds a small, self-consistent in-memory fixture: 40
// months of a market factor and two tickers regressed against it, so the
// demo run exercises the full pipeline without any external data source.
func sampleInputs() (*provider.Fixture, *provider.ReferenceMappings, domain.Portfolio) {
	f := provider.NewFixture(24)
	start := domain.NewMonth(2021, time.January)
	r := domain.DateRange{Start: start, End: monthsAhead(start, 41)}

	marketRets := make([]float64, 40)
	aaplRets := make([]float64, 40)
	msftRets := make([]float64, 40)
	for i := range marketRets {
		marketRets[i] = 0.01 * float64(i%7-3)
		aaplRets[i] = 0.002 + 1.25*marketRets[i]
		msftRets[i] = 0.0015 + 0.9*marketRets[i]
	}
	seedPriceSeries(f, "SPY", r, marketRets)
	seedPriceSeries(f, "AAPL", r, aaplRets)
	seedPriceSeries(f, "MSFT", r, msftRets)

	refs := provider.NewReferenceMappings()

	p := domain.Portfolio{
		Weights: map[domain.Ticker]float64{"AAPL": 0.55, "MSFT": 0.45},
		Range:   r,
		Proxies: map[domain.Ticker]domain.ProxySet{
			"AAPL": {Market: "SPY"},
			"MSFT": {Market: "SPY"},
		},
		RiskLimits: domain.RiskLimits{
			MaxPortfolioVolatility:  0.25,
			MaxSingleStockWeight:    0.6,
			MaxFactorContribution:   0.6,
			MaxMarketContribution:   0.6,
			MaxIndustryContribution: 0.6,
			MaxSingleFactorLoss:     -0.15,
			MaxLoss:                 -0.1,
		},
	}
	return f, refs, p
}

func monthsAhead(start domain.Month, n int) domain.Month {
	m := start
	for i := 1; i < n; i++ {
		m = m.Next()
	}
	return m
}

func seedPriceSeries(f *provider.Fixture, ticker domain.Ticker, r domain.DateRange, monthlyReturns []float64) {
	price := 100.0
	months := r.Months()
	f.SetMonthlyTotalReturn(ticker, months[0], price)
	for i, ret := range monthlyReturns {
		price *= 1 + ret
		f.SetMonthlyTotalReturn(ticker, months[i+1], price)
	}
}
