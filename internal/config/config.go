/**
 * @description
 * Configuration loader for Macronet Backend.
 * Responsible for reading environment variables, setting defaults, and performing strict validation.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files
 * - standard "os": For reading env vars
 * - standard "fmt": For error reporting
 *
 * @notes
 * - Fails fast if critical variables (Database URL) are missing.
 * - Crawler/analysis tunables all carry production defaults so a bare
 *   DATABASE_URL is enough to boot the worker.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	Crawler   CrawlerConfig
	Analysis  AnalysisConfig
	Providers ProvidersConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port string
	Env  string // "development", "production" or "test"
}

// DBConfig holds PostgreSQL settings
type DBConfig struct {
	URL string
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	URL string
}

// CrawlerConfig holds scheduler and rate-limiter tunables
type CrawlerConfig struct {
	MaxConcurrent         int // global cap on simultaneous source crawls
	LeaseTimeoutMinutes   int // staleness ceiling for a crashed crawl lease
	AcquireTimeoutSeconds int // max wait for a rate-limiter token
	TickSeconds           int // scheduler tick interval
	SourcesFile           string
}

// AnalysisConfig holds network-analysis policy parameters.
// Decay factor and improvement margin are deliberately configuration, not
// constants: they are tuning knobs, and operators adjust them per deployment.
type AnalysisConfig struct {
	MinOverlap     int     // minimum shared observations for a correlation
	MinStrength    float64 // minimum |coefficient| for a leading indicator
	MinImprovement float64 // hysteresis margin before a candidate is replaced
	DecayFactor    float64 // attenuation for propagated secondary impacts
	MaxLag         int     // largest lag (periods) tested for leading indicators
	WindowYears    int     // correlation window length
	IntervalHours  int     // how often the worker runs a full analysis pass
}

// ProvidersConfig holds external statistical API endpoints and keys
type ProvidersConfig struct {
	FredBaseURL      string
	FredAPIKey       string
	BLSBaseURL       string
	BLSAPIKey        string
	CensusBaseURL    string
	CensusAPIKey     string
	WorldBankBaseURL string
}

// Load reads .env file and populates the Config struct
func Load() (*Config, error) {
	// Attempt to load .env, but don't crash if it fails (k8s/prod might inject env vars directly)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("GO_ENV", "development"),
		},
		DB: DBConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Crawler: CrawlerConfig{
			MaxConcurrent:         getEnvAsInt("CRAWLER_MAX_CONCURRENT", 5),
			LeaseTimeoutMinutes:   getEnvAsInt("CRAWLER_LEASE_TIMEOUT_MINUTES", 120),
			AcquireTimeoutSeconds: getEnvAsInt("CRAWLER_ACQUIRE_TIMEOUT_SECONDS", 30),
			TickSeconds:           getEnvAsInt("CRAWLER_TICK_SECONDS", 60),
			SourcesFile:           getEnv("SOURCES_FILE", "sources.yaml"),
		},
		Analysis: AnalysisConfig{
			MinOverlap:     getEnvAsInt("ANALYSIS_MIN_OVERLAP", 12),
			MinStrength:    getEnvAsFloat("ANALYSIS_MIN_STRENGTH", 0.5),
			MinImprovement: getEnvAsFloat("ANALYSIS_MIN_IMPROVEMENT", 0.05),
			DecayFactor:    getEnvAsFloat("ANALYSIS_DECAY_FACTOR", 0.5),
			MaxLag:         getEnvAsInt("ANALYSIS_MAX_LAG", 12),
			WindowYears:    getEnvAsInt("ANALYSIS_WINDOW_YEARS", 10),
			IntervalHours:  getEnvAsInt("ANALYSIS_INTERVAL_HOURS", 6),
		},
		Providers: ProvidersConfig{
			FredBaseURL:      getEnv("FRED_BASE_URL", "https://api.stlouisfed.org"),
			FredAPIKey:       sanitizeCredential(getEnv("FRED_API_KEY", "")),
			BLSBaseURL:       getEnv("BLS_BASE_URL", "https://api.bls.gov"),
			BLSAPIKey:        sanitizeCredential(getEnv("BLS_API_KEY", "")),
			CensusBaseURL:    getEnv("CENSUS_BASE_URL", "https://api.census.gov"),
			CensusAPIKey:     sanitizeCredential(getEnv("CENSUS_API_KEY", "")),
			WorldBankBaseURL: getEnv("WORLDBANK_BASE_URL", "https://api.worldbank.org"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks for required variables and sane tunables
func validate(cfg *Config) error {
	if cfg.DB.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Crawler.MaxConcurrent < 1 {
		return fmt.Errorf("CRAWLER_MAX_CONCURRENT must be at least 1")
	}
	if cfg.Crawler.LeaseTimeoutMinutes < 1 {
		return fmt.Errorf("CRAWLER_LEASE_TIMEOUT_MINUTES must be at least 1")
	}
	if cfg.Analysis.MinOverlap < 2 {
		return fmt.Errorf("ANALYSIS_MIN_OVERLAP must be at least 2 for a defined correlation")
	}
	if cfg.Analysis.DecayFactor < 0 || cfg.Analysis.DecayFactor > 1 {
		return fmt.Errorf("ANALYSIS_DECAY_FACTOR must be in [0, 1]")
	}
	if cfg.Providers.FredAPIKey == "" && cfg.Server.Env != "test" {
		// Warning only: sources that require a key will fail their crawls systemically.
		fmt.Println("Warning: FRED_API_KEY is missing. FRED crawls will fail until it is set.")
	}
	return nil
}

// Helper to get env var with default
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func sanitizeCredential(value string) string {
	trimmed := strings.TrimSpace(value)
	return strings.Trim(trimmed, "\"")
}

// Helper to get env var as int
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

// Helper to get env var as float
func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}
