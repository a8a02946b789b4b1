package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalPortfolio is the JSON-stable projection of a Portfolio used for
// fingerprinting. encoding/json marshals Go maps with keys sorted
// lexicographically, which gives us key-order independence for free; we
// still round every float through %v via json numbers so that e.g. 0.10
// and 0.1 hash identically.
type canonicalPortfolio struct {
	Weights          map[string]float64            `json:"weights"`
	RangeStart       string                         `json:"range_start"`
	RangeEnd         string                         `json:"range_end"`
	Proxies          map[string]canonicalProxySet   `json:"proxies"`
	RiskLimits       RiskLimits                     `json:"risk_limits"`
	ExpectedReturns  map[string]float64             `json:"expected_returns,omitempty"`
	NormalizeWeights bool                           `json:"normalize_weights"`
	AnalysisKind     string                         `json:"analysis_kind"`
	ScenarioSpec     string                         `json:"scenario_spec,omitempty"`
}

type canonicalProxySet struct {
	Market           string   `json:"market,omitempty"`
	Momentum         string   `json:"momentum,omitempty"`
	Value            string   `json:"value,omitempty"`
	Industry         string   `json:"industry,omitempty"`
	SubindustryPeers []string `json:"subindustry_peers,omitempty"`
}

func toCanonicalProxySet(p ProxySet) canonicalProxySet {
	peers := make([]string, len(p.SubindustryPeers))
	for i, t := range p.SubindustryPeers {
		peers[i] = string(t)
	}
	return canonicalProxySet{
		Market:           string(p.Market),
		Momentum:         string(p.Momentum),
		Value:            string(p.Value),
		Industry:         string(p.Industry),
		SubindustryPeers: peers,
	}
}

// Fingerprint computes the stable content-addressed cache key for a
// Portfolio plus the analysis kind and an optional scenario spec string.
// Semantically equivalent portfolios (key order irrelevant, equal maps)
// produce equal fingerprints; any semantic change flips it.
func Fingerprint(p Portfolio, analysisKind ResultKind, scenarioSpec string) string {
	weights := make(map[string]float64, len(p.Weights))
	for t, w := range p.Weights {
		weights[string(t)] = w
	}
	proxies := make(map[string]canonicalProxySet, len(p.Proxies))
	for t, ps := range p.Proxies {
		proxies[string(t)] = toCanonicalProxySet(ps)
	}
	var expected map[string]float64
	if len(p.ExpectedReturns) > 0 {
		expected = make(map[string]float64, len(p.ExpectedReturns))
		for t, r := range p.ExpectedReturns {
			expected[string(t)] = r
		}
	}

	canon := canonicalPortfolio{
		Weights:          weights,
		RangeStart:       p.Range.Start.String(),
		RangeEnd:         p.Range.End.String(),
		Proxies:          proxies,
		RiskLimits:       p.RiskLimits,
		ExpectedReturns:  expected,
		NormalizeWeights: p.NormalizeWeights,
		AnalysisKind:     string(analysisKind),
		ScenarioSpec:     scenarioSpec,
	}

	data, err := json.Marshal(canon)
	if err != nil {
		// canonicalPortfolio contains only marshalable primitives; a
		// failure here means a programming error, not a runtime
		// condition worth modeling as a typed Error.
		panic(fmt.Sprintf("domain: fingerprint marshal: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// InputsDigest hashes the raw monthly-series content consumed from the
// provider for a computation, keyed by ticker. Two computations over
// byte-identical provider data get the same digest; advancing market data
// flips it. The digest is stored on results as provenance only: cache keys
// are the Fingerprint alone, so a change in market data does not by itself
// invalidate a cached entry.
func InputsDigest(seriesByTicker map[Ticker][]float64) string {
	keys := make([]string, 0, len(seriesByTicker))
	for t := range seriesByTicker {
		keys = append(keys, string(t))
	}
	sort.Strings(keys) // determinism independent of map iteration order

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		for _, v := range seriesByTicker[Ticker(k)] {
			fmt.Fprintf(h, "%.12e,", v)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
