package envelope

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
)

func sampleRiskAnalysis() domain.RiskAnalysisResult {
	return domain.RiskAnalysisResult{
		Env: domain.Envelope{Fingerprint: "fp1", AsOf: time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC), InputsDigest: "digest", EngineVersion: "v1"},
		Metrics: domain.RiskMetrics{
			PortfolioVolatility: 0.18, PortfolioVariance: 0.0324, SystematicVariance: 0.02, IdiosyncraticVariance: 0.0124, HerfindahlNormalized: 0.4,
		},
		FactorExposures:     map[string]float64{"market": 0.9},
		RiskContributions:   map[domain.Ticker]float64{"AAPL": 0.1},
		VarianceByFactor:    map[string]float64{"market": 0.02},
		WorstCaseFactorLoss: map[string]float64{"market": -0.1},
		LimitChecks: []domain.LimitCheck{
			{LimitID: "portfolio_volatility", Passed: true, Observed: 0.18, Limit: 0.25, Margin: 0.07},
		},
		Recommendations: []string{"reduce market exposure"},
	}
}

func TestToAPI_ValidResultMarshalsDeterministically(t *testing.T) {
	r := sampleRiskAnalysis()

	b1, err := ToAPI(r)
	require.NoError(t, err)
	b2, err := ToAPI(r)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b1, &decoded))
	assert.Contains(t, string(b1), "fp1")
}

func TestToAPI_RejectsNaN(t *testing.T) {
	r := sampleRiskAnalysis()
	r.Metrics.PortfolioVolatility = math.NaN()

	_, err := ToAPI(r)
	require.Error(t, err)
	var domainErr *domain.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrNumericalFailure, domainErr.Kind)
}

func TestToAPI_RejectsInf(t *testing.T) {
	r := sampleRiskAnalysis()
	r.WorstCaseFactorLoss["market"] = math.Inf(-1)

	_, err := ToAPI(r)
	require.Error(t, err)
}

func TestToReport_RiskAnalysisContainsSections(t *testing.T) {
	r := sampleRiskAnalysis()
	report, err := ToReport(r)
	require.NoError(t, err)
	assert.Contains(t, report, "risk_analysis")
	assert.Contains(t, report, "FACTOR")
	assert.Contains(t, report, "market")
	assert.Contains(t, report, "reduce market exposure")
}

func TestToReport_IsDeterministic(t *testing.T) {
	r := sampleRiskAnalysis()
	r.FactorExposures["industry"] = 0.3
	r.VarianceByFactor["industry"] = 0.01
	r.WorstCaseFactorLoss["industry"] = -0.05

	report1, err := ToReport(r)
	require.NoError(t, err)
	report2, err := ToReport(r)
	require.NoError(t, err)
	assert.Equal(t, report1, report2)

	industryLine := strings.Index(report1, "industry")
	marketLine := strings.Index(report1, "market")
	assert.Greater(t, industryLine, 0)
	assert.Greater(t, marketLine, 0)
}

func TestToReport_OptimizationResult(t *testing.T) {
	r := domain.OptimizationResult{
		Env:                domain.Envelope{Fingerprint: "fp2"},
		OptKind:            domain.OptimizationMinVar,
		Weights:            map[domain.Ticker]float64{"AAPL": 0.6, "MSFT": 0.4},
		AchievedRisk:       0.12,
		AchievedReturn:     0.08,
		BindingConstraints: []string{"single_stock_weight:AAPL"},
	}
	report, err := ToReport(r)
	require.NoError(t, err)
	assert.Contains(t, report, "min_variance")
	assert.Contains(t, report, "AAPL")
	assert.Contains(t, report, "binding constraints")
}

func TestToReport_RiskScoreResult(t *testing.T) {
	r := domain.RiskScoreResult{
		Env:      domain.Envelope{Fingerprint: "fp3"},
		Score:    72.5,
		Category: domain.CategoryModerate,
		ComponentScores: []domain.RiskScoreComponent{
			{Name: "volatility", Score: 80, Weight: 0.25, ControllingLimit: "portfolio_volatility", Observed: 0.1, Limit: 0.2},
		},
		Rationale: []string{"volatility: 80/100"},
	}
	report, err := ToReport(r)
	require.NoError(t, err)
	assert.Contains(t, report, "72.5")
	assert.Contains(t, report, "moderate")
	assert.Contains(t, report, "volatility")
}
