// Package envelope derives the two pure renderings of an AnalysisResult:
// to_api (a JSON-safe payload, NaN/Inf forbidden) and to_report (a
// fixed-width textual rendering for operators). Both are pure functions
// of the result value; neither mutates or recomputes anything.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"text/tabwriter"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
)

// ToAPI renders result as deterministic, JSON-safe bytes. Any NaN or
// infinite float anywhere in the result is rejected rather than silently
// serialized as a numeric sentinel.
func ToAPI(result domain.AnalysisResult) ([]byte, error) {
	if err := checkFinite(reflect.ValueOf(result)); err != nil {
		return nil, err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal to_api: %w", err)
	}
	return data, nil
}

// checkFinite walks v (following pointers, structs, maps, slices) and
// rejects any NaN or infinite float64 it finds. Result variants are
// heterogeneous enough (five different shapes, each with several float
// maps) that a generic walk is simpler and harder to miss a field than
// five hand-written per-variant checks.
func checkFinite(v reflect.Value) error {
	switch v.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return checkFinite(v.Elem())
	case reflect.Float64, reflect.Float32:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return domain.NewError(domain.ErrNumericalFailure, "envelope: to_api encountered a non-finite value")
		}
		return nil
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Field(i).CanInterface() {
				continue
			}
			if err := checkFinite(v.Field(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		for _, key := range v.MapKeys() {
			if err := checkFinite(v.MapIndex(key)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := checkFinite(v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// ToReport renders result as a deterministic, fixed-width text report
// with a stable section order, intended for operator consumption.
func ToReport(result domain.AnalysisResult) (string, error) {
	var buf bytes.Buffer
	env := result.Envelope()
	fmt.Fprintf(&buf, "=== %s ===\n", result.Kind())
	fmt.Fprintf(&buf, "as_of: %s   engine_version: %s   fingerprint: %s\n\n", env.AsOf.Format("2006-01-02T15:04:05Z07:00"), env.EngineVersion, env.Fingerprint)

	switch r := result.(type) {
	case domain.RiskAnalysisResult:
		writeRiskAnalysisReport(&buf, r)
	case domain.ScenarioResult:
		fmt.Fprintln(&buf, "--- before ---")
		writeRiskAnalysisReport(&buf, r.Before)
		fmt.Fprintln(&buf, "--- after ---")
		writeRiskAnalysisReport(&buf, r.After)
		if len(r.NewTickersAssigned) > 0 {
			fmt.Fprintf(&buf, "\nnew tickers assigned proxies: %v\n", sortedTickers(r.NewTickersAssigned))
		}
	case domain.OptimizationResult:
		writeOptimizationReport(&buf, r)
	case domain.StockResult:
		writeStockReport(&buf, r)
	case domain.RiskScoreResult:
		writeRiskScoreReport(&buf, r)
	default:
		return "", domain.NewError(domain.ErrInputInvalid, fmt.Sprintf("envelope: to_report: unknown result kind %T", result))
	}

	return buf.String(), nil
}

func writeRiskAnalysisReport(buf *bytes.Buffer, r domain.RiskAnalysisResult) {
	m := r.Metrics
	fmt.Fprintf(buf, "portfolio_volatility: %.4f   systematic: %.6f   idiosyncratic: %.6f   herfindahl: %.4f\n\n", m.PortfolioVolatility, m.SystematicVariance, m.IdiosyncraticVariance, m.HerfindahlNormalized)

	w := tabwriter.NewWriter(buf, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "FACTOR\tEXPOSURE\tVARIANCE SHARE\tWORST CASE LOSS")
	for _, factor := range sortedKeys(r.FactorExposures) {
		share := 0.0
		if m.PortfolioVariance > 0 {
			share = r.VarianceByFactor[factor] / m.PortfolioVariance
		}
		fmt.Fprintf(w, "%s\t%.4f\t%.2f%%\t%.4f\n", factor, r.FactorExposures[factor], share*100, r.WorstCaseFactorLoss[factor])
	}
	w.Flush()

	fmt.Fprintln(buf, "\nLIMIT\tPASSED\tOBSERVED\tLIMIT\tMARGIN")
	w2 := tabwriter.NewWriter(buf, 0, 2, 2, ' ', 0)
	for _, c := range r.LimitChecks {
		fmt.Fprintf(w2, "%s\t%v\t%.4f\t%.4f\t%.4f\n", c.LimitID, c.Passed, c.Observed, c.Limit, c.Margin)
	}
	w2.Flush()

	if len(r.Recommendations) > 0 {
		fmt.Fprintln(buf, "\nrecommendations:")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(buf, "  - %s\n", rec)
		}
	}
}

func writeOptimizationReport(buf *bytes.Buffer, r domain.OptimizationResult) {
	fmt.Fprintf(buf, "kind: %s   achieved_risk: %.4f   achieved_return: %.4f\n\n", r.OptKind, r.AchievedRisk, r.AchievedReturn)
	w := tabwriter.NewWriter(buf, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "TICKER\tWEIGHT")
	for _, t := range sortedTickerKeys(r.Weights) {
		fmt.Fprintf(w, "%s\t%.4f\n", t, r.Weights[t])
	}
	w.Flush()
	if len(r.BindingConstraints) > 0 {
		fmt.Fprintf(buf, "\nbinding constraints: %v\n", r.BindingConstraints)
	}
}

func writeStockReport(buf *bytes.Buffer, r domain.StockResult) {
	fmt.Fprintf(buf, "ticker: %s   idiosyncratic_vol: %.4f   period: %s to %s\n\n", r.Ticker, r.IdiosyncraticVol, r.Period.Start, r.Period.End)
	w := tabwriter.NewWriter(buf, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "FACTOR\tBETA")
	for _, f := range sortedKeys(r.Betas.Betas) {
		fmt.Fprintf(w, "%s\t%.4f\n", f, r.Betas.Betas[f])
	}
	w.Flush()
}

func writeRiskScoreReport(buf *bytes.Buffer, r domain.RiskScoreResult) {
	fmt.Fprintf(buf, "score: %.1f   category: %s\n\n", r.Score, r.Category)
	w := tabwriter.NewWriter(buf, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tSCORE\tWEIGHT\tCONTROLLING LIMIT\tOBSERVED\tLIMIT")
	for _, c := range r.ComponentScores {
		fmt.Fprintf(w, "%s\t%.1f\t%.2f\t%s\t%.4f\t%.4f\n", c.Name, c.Score, c.Weight, c.ControllingLimit, c.Observed, c.Limit)
	}
	w.Flush()
	if len(r.Rationale) > 0 {
		fmt.Fprintln(buf, "\nrationale:")
		for _, line := range r.Rationale {
			fmt.Fprintf(buf, "  - %s\n", line)
		}
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedTickerKeys(m map[domain.Ticker]float64) []domain.Ticker {
	keys := make([]domain.Ticker, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedTickers(ts []domain.Ticker) []domain.Ticker {
	out := make([]domain.Ticker, len(ts))
	copy(out, ts)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
