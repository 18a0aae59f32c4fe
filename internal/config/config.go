package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string
	IdempotencyTTL     time.Duration
	BodyLimitBytes     int64

	POS       POSConfig
	Catalog   CatalogConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Tenant    TenantConfig
	Obs       ObsConfig
}

// POSConfig tunes checkout sessions.
type POSConfig struct {
	TaxRates   pricing.RateTable
	SessionTTL time.Duration
	LockTTL    time.Duration
	Currency   string
}

// CatalogConfig selects the catalog source. BaseURL wins over File; with
// neither set an empty static catalog is used.
type CatalogConfig struct {
	BaseURL  string
	File     string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// GatewayConfig points at the system of record. An empty BaseURL selects the in-memory recorder.
type GatewayConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
}

// RateLimitConfig bounds requests per tenant and terminal.
type RateLimitConfig struct {
	Window time.Duration
	Max    int
}

// TenantConfig controls tenant resolution.
type TenantConfig struct {
	Header     string
	RootDomain string
	Default    string
}

// ObsConfig controls logging, metrics and tracing.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	EnablePrometheus bool
	EnableTracing    bool
	OTLPEndpoint     string
	TracingExporter  string
	SamplingRatio    float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	rates, err := pricing.ParseRateTable(valueOrDefault(k.String("POS_TAX_RATE"), "0"), k.String("POS_TENANT_TAX_RATES"))
	if err != nil {
		return nil, fmt.Errorf("POS_TAX_RATE/POS_TENANT_TAX_RATES: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		BodyLimitBytes:     parseInt64(k.String("BODY_LIMIT_BYTES"), 1<<20),
		POS: POSConfig{
			TaxRates:   rates,
			SessionTTL: parseDuration(k.String("POS_SESSION_TTL"), "2h"),
			LockTTL:    parseDuration(k.String("POS_LOCK_TTL"), "10s"),
			Currency:   strings.ToUpper(valueOrDefault(k.String("POS_CURRENCY"), "USD")),
		},
		Catalog: CatalogConfig{
			BaseURL:  strings.TrimSpace(k.String("CATALOG_BASE_URL")),
			File:     strings.TrimSpace(k.String("CATALOG_FILE")),
			CacheTTL: parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
			Timeout:  parseDuration(k.String("CATALOG_TIMEOUT"), "3s"),
		},
		Gateway: GatewayConfig{
			BaseURL:     strings.TrimSpace(k.String("GATEWAY_BASE_URL")),
			APIKey:      k.String("GATEWAY_API_KEY"),
			Timeout:     parseDuration(k.String("GATEWAY_TIMEOUT"), "5s"),
			MaxAttempts: int(parseInt64(k.String("GATEWAY_MAX_ATTEMPTS"), 3)),
		},
		RateLimit: RateLimitConfig{
			Window: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
			Max:    int(parseInt64(k.String("RATE_LIMIT_MAX"), 300)),
		},
		Tenant: TenantConfig{
			Header:     valueOrDefault(k.String("TENANT_HEADER"), "X-Tenant-ID"),
			RootDomain: strings.TrimSpace(k.String("TENANT_ROOT_DOMAIN")),
			Default:    strings.TrimSpace(k.String("TENANT_DEFAULT")),
		},
		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "pos"),
			EnablePrometheus: parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING"), false),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		},
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.Gateway.MaxAttempts < 1 {
		cfg.Gateway.MaxAttempts = 1
	}
	if cfg.RateLimit.Max < 0 {
		return nil, errors.New("RATE_LIMIT_MAX must not be negative")
	}
	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.AppEnv))
	return env == "production" || env == "prod"
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil || d < 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt64(value string, fallback int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
