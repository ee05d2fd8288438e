package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	CORS      CORSConfig
	Log       LogConfig
	Engine    EngineConfig
	Filing    SourceConfig
	FX        SourceConfig
	Upstream  UpstreamConfig
	Scheduler SchedulerConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port           string
	Host           string
	Addr           string // Combined host:port for convenience
	RequestTimeout time.Duration
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Path string
}

// CORSConfig holds CORS-specific configuration
type CORSConfig struct {
	AllowedOrigins []string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// EngineConfig holds the grounding and normalization settings.
type EngineConfig struct {
	StrictMode         bool
	FXWalkBackDays     int
	ClaimsSnapDays     int
	ClaimsPctTolerance decimal.Decimal
	FXCacheTTL         time.Duration
	FactCacheTTL       time.Duration
	BackfillTTL        time.Duration
}

// SourceConfig describes one upstream data source.
type SourceConfig struct {
	URL           string
	UserAgent     string
	RatePerSecond float64
	Burst         int
}

// UpstreamConfig holds the retry and breaker settings shared by every source.
type UpstreamConfig struct {
	Timeout          time.Duration
	Retries          int
	Backoff          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// SchedulerConfig holds the cron schedules. An empty schedule disables the job.
type SchedulerConfig struct {
	PruneSchedule   string
	RefreshSchedule string
	TrackedIssuers  []string
}

// Load reads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	p := &parser{}
	config := &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "5001"),
			Host:           getEnv("SERVER_HOST", "localhost"),
			RequestTimeout: p.duration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/finmetrics.db"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:3000",
				"http://localhost",
			}),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Engine: EngineConfig{
			StrictMode:         p.boolean("STRICT_MODE", true),
			FXWalkBackDays:     p.integer("FX_WALKBACK_BUSINESS_DAYS", 14),
			ClaimsSnapDays:     p.integer("CLAIMS_SNAP_DAYS", 7),
			ClaimsPctTolerance: p.decimal("CLAIMS_PCT_TOLERANCE", decimal.RequireFromString("0.05")),
			FXCacheTTL:         p.duration("FX_CACHE_TTL", 6*time.Hour),
			FactCacheTTL:       p.duration("FACT_CACHE_TTL", 15*time.Minute),
			BackfillTTL:        p.duration("BACKFILL_TTL", 24*time.Hour),
		},
		Filing: SourceConfig{
			URL:           getEnv("FILING_SOURCE_URL", ""),
			UserAgent:     getEnv("FILING_USER_AGENT", "finmetrics-grounding admin@example.com"),
			RatePerSecond: p.float("FILING_RATE_PER_SEC", 8),
			Burst:         p.integer("FILING_BURST", 1),
		},
		FX: SourceConfig{
			URL:           getEnv("FX_SOURCE_URL", ""),
			RatePerSecond: p.float("FX_RATE_PER_SEC", 2),
			Burst:         p.integer("FX_BURST", 1),
		},
		Upstream: UpstreamConfig{
			Timeout:          p.duration("UPSTREAM_TIMEOUT", 10*time.Second),
			Retries:          p.integer("UPSTREAM_RETRIES", 2),
			Backoff:          p.duration("UPSTREAM_BACKOFF", 250*time.Millisecond),
			FailureThreshold: p.integer("BREAKER_FAILURE_THRESHOLD", 5),
			Cooldown:         p.duration("BREAKER_COOLDOWN", 60*time.Second),
		},
		Scheduler: SchedulerConfig{
			PruneSchedule:   getEnv("PRUNE_SCHEDULE", "@every 15m"),
			RefreshSchedule: getEnv("REFRESH_SCHEDULE", "0 6 * * *"),
			TrackedIssuers:  getList("TRACKED_ISSUERS", nil),
		},
	}
	if err := p.err(); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	// Combine host and port
	config.Server.Addr = fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)

	return config, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Engine.FXWalkBackDays < 1 {
		errs = append(errs, errors.New("FX_WALKBACK_BUSINESS_DAYS must be at least 1"))
	}
	if c.Engine.ClaimsSnapDays < 0 {
		errs = append(errs, errors.New("CLAIMS_SNAP_DAYS must not be negative"))
	}
	if c.Engine.ClaimsPctTolerance.IsNegative() {
		errs = append(errs, errors.New("CLAIMS_PCT_TOLERANCE must not be negative"))
	}
	if c.Upstream.Retries < 0 {
		errs = append(errs, errors.New("UPSTREAM_RETRIES must not be negative"))
	}
	if c.Upstream.FailureThreshold < 1 {
		errs = append(errs, errors.New("BREAKER_FAILURE_THRESHOLD must be at least 1"))
	}
	for name, rate := range map[string]float64{"FILING_RATE_PER_SEC": c.Filing.RatePerSecond, "FX_RATE_PER_SEC": c.FX.RatePerSecond} {
		if rate <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getList splits a comma-separated variable, dropping empty items.
func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parser reads typed variables and collects every parse failure, so a
// misconfigured deployment reports all bad keys at once.
type parser struct {
	errs []error
}

func (p *parser) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("invalid %s=%q: %w", key, value, err))
}

func (p *parser) err() error {
	return errors.Join(p.errs...)
}

func (p *parser) boolean(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.fail(key, value, err)
		return defaultValue
	}
	return b
}

func (p *parser) integer(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, value, err)
		return defaultValue
	}
	return n
}

func (p *parser) float(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.fail(key, value, err)
		return defaultValue
	}
	return f
}

func (p *parser) decimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		p.fail(key, value, err)
		return defaultValue
	}
	return d
}

func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.fail(key, value, err)
		return defaultValue
	}
	return d
}
