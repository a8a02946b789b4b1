// Package config loads the engine's runtime configuration from environment
// variables (and an optional .env file), with defaults for every field.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the engine's configuration. It is immutable once loaded.
type Config struct {
	LogLevel  string // debug, info, warn, error
	LogPretty bool

	CacheDataDir        string // absolute path to the cache's SQLite file directory
	CacheMaxEntries     int    // approximate LRU capacity, entry count
	CacheCapacityBytes  int64  // approximate LRU capacity, total payload bytes
	CacheTTLRisk      int    // seconds, risk_analysis/scenario/stock results
	CacheTTLOptimize  int    // seconds, optimization results
	CacheTTLRiskScore int    // seconds, risk_score results

	WorstCaseLookbackYears        int     // historical window for worst-case factor/portfolio loss
	ExpectedReturnsLookbackYears  int     // CAGR window for the optimizer's expected-return fallback
	ExpectedReturnsFallbackDefault float64 // loaded but not read by the engine; a ticker with no industry-ETF CAGR fails expected-return resolution
	CashProxyFallbackReturn       float64 // assumed annual return for cash when no treasury series is available
	MinObservations               int     // minimum monthly observations before InsufficientData
	NumericRidge                  float64 // ridge added to covariance/design matrices before inversion
	SolverGradTolerance           float64 // loaded but not read by the optimizer, which uses gonum's default convergence settings

	EngineVersion string // stamped into every Envelope
}

// Load reads configuration from the environment, applying .env overrides
// first. dataDirOverride, if non-empty, takes priority over
// RISKENGINE_CACHE_DIR (mirrors a CLI-flag override taking priority over an
// env var).
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load() // missing .env is not an error

	var cacheDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		cacheDir = dataDirOverride[0]
	} else {
		cacheDir = getEnv("RISKENGINE_CACHE_DIR", "")
		if cacheDir == "" {
			cacheDir = "./data/cache"
		}
	}

	absCacheDir, err := filepath.Abs(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory path: %w", err)
	}
	if err := os.MkdirAll(absCacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	cfg := &Config{
		LogLevel:          getEnv("RISKENGINE_LOG_LEVEL", "info"),
		LogPretty:         getEnvAsBool("RISKENGINE_LOG_PRETTY", false),
		CacheDataDir:      absCacheDir,
		CacheMaxEntries:   getEnvAsInt("RISKENGINE_CACHE_MAX_ENTRIES", 10000),
		CacheCapacityBytes: int64(getEnvAsInt("RISKENGINE_CACHE_CAPACITY_BYTES", 256*1024*1024)),
		CacheTTLRisk:      getEnvAsInt("RISKENGINE_CACHE_TTL_RISK_SECONDS", 3600),
		CacheTTLOptimize:  getEnvAsInt("RISKENGINE_CACHE_TTL_OPTIMIZE_SECONDS", 3600),
		CacheTTLRiskScore: getEnvAsInt("RISKENGINE_CACHE_TTL_RISKSCORE_SECONDS", 3600),

		WorstCaseLookbackYears:         getEnvAsInt("RISKENGINE_WORST_CASE_LOOKBACK_YEARS", 10),
		ExpectedReturnsLookbackYears:   getEnvAsInt("RISKENGINE_EXPECTED_RETURNS_LOOKBACK_YEARS", 10),
		ExpectedReturnsFallbackDefault: getEnvAsFloat("RISKENGINE_EXPECTED_RETURNS_FALLBACK_DEFAULT", 0.06),
		CashProxyFallbackReturn:        getEnvAsFloat("RISKENGINE_CASH_PROXY_FALLBACK_RETURN", 0.02),
		MinObservations:                getEnvAsInt("RISKENGINE_MIN_OBSERVATIONS", 24),
		NumericRidge:                   getEnvAsFloat("RISKENGINE_NUMERIC_RIDGE", 1e-10),
		SolverGradTolerance:            getEnvAsFloat("RISKENGINE_SOLVER_GRAD_TOLERANCE", 1e-8),

		EngineVersion: getEnv("RISKENGINE_VERSION", "dev"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the loaded configuration is internally consistent.
func (c *Config) Validate() error {
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("RISKENGINE_CACHE_MAX_ENTRIES must be positive, got %d", c.CacheMaxEntries)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("RISKENGINE_LOG_LEVEL must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
