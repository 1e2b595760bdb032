// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Benchmark peer groups.
const (
	PeerGroupCountryZoneType = "country_zone_type"
	PeerGroupCountry         = "country"
)

// InsightThresholds holds the detector significance thresholds and cutoffs.
type InsightThresholds struct {
	AnomalyPct        float64 // |week-over-week change| that flags an anomaly
	AnomalySaturation float64 // |change| at which anomaly severity reaches 1
	TrendMinRun       int     // consecutive declines that flag a trend on their own
	TrendMinR2        float64 // minimum fit quality for an unfavorable slope
	TrendMaxOffset    int     // oldest week offset in the trend window
	BenchmarkZ        float64 // |z| that flags a benchmark outlier
	BenchmarkZMax     float64 // |z| at which benchmark severity reaches 1
	CorrelationMin    float64 // |rho| that flags a correlation
	MinPoints         int     // weekly points required for any time-series detector
	OpportunityWeeks  int     // orders window for the opportunity detector, offsets 0..n-1
	TopN              int     // findings kept per category
	BenchmarkTopN     int     // benchmark findings kept before the per-category cut
	Executive         int     // findings in the executive summary
	HighLPQuantile    float64 // multivariable: LP at or above this country quantile
	LowPOQuantile     float64 // multivariable: PO at or below this country quantile
	OpportunityPOQ    float64 // opportunity: PO below this country quantile
	ContextualPOFloor float64 // contextual: flag PO below this value
	ContextualDrop    float64 // contextual: flag week-over-week change below this
	PeerGroup         string  // PeerGroupCountryZoneType or PeerGroupCountry
}

// DefaultInsightThresholds returns the tuned business defaults.
func DefaultInsightThresholds() InsightThresholds {
	return InsightThresholds{
		AnomalyPct:        0.10,
		AnomalySaturation: 0.20,
		TrendMinRun:       3,
		TrendMinR2:        0.20,
		TrendMaxOffset:    8,
		BenchmarkZ:        1.5,
		BenchmarkZMax:     3.0,
		CorrelationMin:    0.5,
		MinPoints:         6,
		OpportunityWeeks:  6,
		TopN:              10,
		BenchmarkTopN:     20,
		Executive:         5,
		HighLPQuantile:    0.70,
		LowPOQuantile:     0.30,
		OpportunityPOQ:    0.40,
		ContextualPOFloor: 0.85,
		ContextualDrop:    -0.10,
		PeerGroup:         PeerGroupCountryZoneType,
	}
}

// Config holds the configuration for the chat API, the CLI, and the insight engine.
type Config struct {
	WarehousePath     string // DuckDB warehouse file (opened read-only for queries)
	HistoryDBPath     string // SQLite file for chat turns and insight runs
	MetricCatalogPath string // optional YAML metric catalog; embedded default when empty
	ListenAddr        string // HTTP listen address (default ":8080")
	LogLevel          string // log level: debug, info, warn, error (default "info")
	Env               string // environment: "development" (default) or "production"
	DebugSQL          bool   // attach generated SQL to every result

	// LLM parser first pass. Disabled without a key.
	GeminiAPIKey string
	LLMModel     string

	ReportDir        string // output directory for saved insight reports
	InsightsSchedule string // cron expression; empty disables scheduled reports

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 20)
	RateLimitBurst int     // burst capacity (default 40)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	SessionIdleTTL time.Duration // chat memory is dropped after this long unused (default 30m)

	Insights InsightThresholds

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LLMEnabled reports whether the LLM parser first pass can be used.
func (c *Config) LLMEnabled() bool {
	return c.GeminiAPIKey != ""
}

// NewLogger builds the process logger: JSON in production, text otherwise.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		WarehousePath:     os.Getenv("WAREHOUSE_PATH"),
		HistoryDBPath:     os.Getenv("HISTORY_DB_PATH"),
		MetricCatalogPath: os.Getenv("METRIC_CATALOG_PATH"),
		ListenAddr:        os.Getenv("LISTEN_ADDR"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		Env:               os.Getenv("ENV"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		LLMModel:          os.Getenv("LLM_MODEL"),
		ReportDir:         os.Getenv("REPORT_DIR"),
		InsightsSchedule:  strings.TrimSpace(os.Getenv("INSIGHTS_SCHEDULE")),
		Insights:          DefaultInsightThresholds(),
	}
	cfg.DebugSQL = parseBoolEnvDefault("DEBUG_SQL", !cfg.IsProduction())

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimitRPS = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimitBurst = n
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	if v := os.Getenv("SESSION_IDLE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SESSION_IDLE_TTL: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("SESSION_IDLE_TTL must be positive, got %s", v)
		}
		cfg.SessionIdleTTL = d
	}

	if v := strings.TrimSpace(strings.ToLower(os.Getenv("BENCHMARK_PEER_GROUP"))); v != "" {
		switch v {
		case PeerGroupCountryZoneType, PeerGroupCountry:
			cfg.Insights.PeerGroup = v
		default:
			return nil, fmt.Errorf("BENCHMARK_PEER_GROUP must be %q or %q, got %q", PeerGroupCountryZoneType, PeerGroupCountry, v)
		}
	}

	// Defaults
	if cfg.WarehousePath == "" {
		cfg.WarehousePath = "data/processed/warehouse.duckdb"
	}
	if cfg.HistoryDBPath == "" {
		cfg.HistoryDBPath = "data/processed/history.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = "gemini-2.0-flash"
	}
	if cfg.ReportDir == "" {
		cfg.ReportDir = "reports"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 20
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 40
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.SessionIdleTTL == 0 {
		cfg.SessionIdleTTL = 30 * time.Minute
	}
	if !cfg.LLMEnabled() {
		cfg.Warnings = append(cfg.Warnings, "GEMINI_API_KEY not set, questions are parsed by the rule engine only")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
		if cfg.DebugSQL {
			cfg.DebugSQL = false
			cfg.Warnings = append(cfg.Warnings, "DEBUG_SQL ignored in production")
		}
	}

	return cfg, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if _, set := os.LookupEnv(key); !set {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
