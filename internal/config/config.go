// Package config provides gateway configuration loaded from environment
// variables with defaults and validation. It centralizes listener settings,
// downstream service URLs, CORS origins, JWT verification, rate-limit tiers,
// the limiter store (memory or Redis), logging, and observability.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/fleet-gateway/internal/domain"
)

// devJWTSecret is only accepted outside production.
const devJWTSecret = "dev-secret-change-me"

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	// AllowedOrigins is the explicit allow-list. A single "*" allows any
	// origin without credentials.
	AllowedOrigins []string
}

// AllowAny reports whether the allow-list is the wildcard.
func (c CORSConfig) AllowAny() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// TierLimits is the fixed window and ceiling of one rate-limit tier.
type TierLimits struct {
	Window time.Duration
	Max    int64
}

// RateLimitConfig is the single source of truth for every rate-limit tier.
type RateLimitConfig struct {
	General TierLimits // RATE_LIMIT_WINDOW_MS / RATE_LIMIT_MAX
	Strict  TierLimits // RATE_LIMIT_STRICT_WINDOW_MS / RATE_LIMIT_STRICT_MAX
	API     TierLimits // RATE_LIMIT_API_WINDOW_MS / RATE_LIMIT_API_MAX

	Store    string // memory|redis
	FailOpen bool   // allow traffic when the store is unreachable
}

// For returns the limits of tier t. Unknown tiers fall back to General.
func (c RateLimitConfig) For(t domain.Tier) TierLimits {
	switch t {
	case domain.TierStrict:
		return c.Strict
	case domain.TierAPI:
		return c.API
	default:
		return c.General
	}
}

// RedisConfig points the rate limiter at a shared Redis.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port.
func (r RedisConfig) Addr() string { return r.Host + ":" + strconv.Itoa(r.Port) }

// JWTConfig controls bearer token verification.
type JWTConfig struct {
	Secret    string
	Issuer    string        // JWT_ISSUER; empty disables the check
	ExpiresIn time.Duration // lifetime of tokens issued by the dev endpoint
}

// ProxyConfig controls downstream calls.
type ProxyConfig struct {
	Timeout         time.Duration // UPSTREAM_TIMEOUT
	BreakerFailures uint32        // consecutive transport errors before opening
	BreakerOpenFor  time.Duration // time spent open before probing again
}

// Config holds all configuration values for the gateway.
type Config struct {
	// Server
	Port              string
	Env               string        // development|production|test (NODE_ENV)
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
	TrustedProxies    []string

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogFormat string // json|pretty

	// Routing
	Services   map[domain.ServiceKey]string
	RoutesFile string

	// Edge policy
	CORS      CORSConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Proxy     ProxyConfig

	// Audit
	AuditDBPath    string
	AuditRetention time.Duration // AUDIT_RETENTION; 0 keeps entries forever

	// Observability
	OTEL OTELConfig
}

// IsProduction reports whether NODE_ENV is production.
func (c Config) IsProduction() bool { return c.Env == "production" }

// IsDevelopment reports whether NODE_ENV is development.
func (c Config) IsDevelopment() bool { return c.Env == "development" }

// GinMode maps NODE_ENV onto a gin mode.
func (c Config) GinMode() string {
	switch c.Env {
	case "development":
		return "debug"
	case "test":
		return "test"
	default:
		return "release"
	}
}

// Endpoints returns the parsed service base URLs.
func (c Config) Endpoints() (map[domain.ServiceKey]domain.ServiceEndpoint, error) {
	out := make(map[domain.ServiceKey]domain.ServiceEndpoint, len(c.Services))
	for k, raw := range c.Services {
		u, err := parseServiceURL(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", serviceEnvVar(k), err)
		}
		out[k] = domain.ServiceEndpoint{Key: k, BaseURL: u}
	}
	return out, nil
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	breakerFailures := getint("BREAKER_FAILURES", 5)
	cfg := Config{
		// Server
		Port:              getenv("PORT", "4000"),
		Env:               strings.ToLower(getenv("NODE_ENV", "development")),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 10<<20)),
		TrustedProxies:    splitCSV(getenv("TRUSTED_PROXIES", "127.0.0.1,::1")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getenv("LOG_FORMAT", "json")),

		// Routing
		Services: map[domain.ServiceKey]string{
			domain.ServiceAuth:     getenv("AUTH_SERVICE_URL", "http://localhost:4001"),
			domain.ServiceWorkshop: getenv("WORKSHOP_SERVICE_URL", "http://localhost:4002"),
			domain.ServiceFleet:    getenv("FLEET_SERVICE_URL", "http://localhost:4003"),
			domain.ServiceParts:    getenv("PARTS_SERVICE_URL", "http://localhost:4004"),
			domain.ServiceDelivery: getenv("DELIVERY_SERVICE_URL", "http://localhost:4005"),
			domain.ServiceSmartcar: getenv("SMARTCAR_SERVICE_URL", "http://localhost:4006"),
		},
		RoutesFile: getenv("ROUTES_FILE", ""),

		// Edge policy
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ORIGIN", "http://localhost:3000")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			General: TierLimits{
				Window: getms("RATE_LIMIT_WINDOW_MS", 15*time.Minute),
				Max:    int64(getint("RATE_LIMIT_MAX", 100)),
			},
			Strict: TierLimits{
				Window: getms("RATE_LIMIT_STRICT_WINDOW_MS", 15*time.Minute),
				Max:    int64(getint("RATE_LIMIT_STRICT_MAX", 5)),
			},
			API: TierLimits{
				Window: getms("RATE_LIMIT_API_WINDOW_MS", time.Minute),
				Max:    int64(getint("RATE_LIMIT_API_MAX", 30)),
			},
			Store:    strings.ToLower(getenv("RATE_LIMIT_STORE", "auto")),
			FailOpen: getbool("RATE_LIMIT_FAIL_OPEN", true),
		},
		Redis: RedisConfig{
			Host:     getenv("REDIS_HOST", ""),
			Port:     getint("REDIS_PORT", 6379),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:    getenv("JWT_SECRET", ""),
			Issuer:    getenv("JWT_ISSUER", ""),
			ExpiresIn: getlifetime("JWT_EXPIRES_IN", 7*24*time.Hour),
		},
		Proxy: ProxyConfig{
			Timeout:         getdur("UPSTREAM_TIMEOUT", 30*time.Second),
			BreakerFailures: uint32(max(breakerFailures, 0)),
			BreakerOpenFor:  getdur("BREAKER_OPEN_FOR", 30*time.Second),
		},

		AuditDBPath:    getenv("AUDIT_DB_PATH", ""),
		AuditRetention: getlifetime("AUDIT_RETENTION", 30*24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "fleet-gateway"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.RateLimit.Store == "auto" || cfg.RateLimit.Store == "" {
		cfg.RateLimit.Store = "memory"
		if cfg.Redis.Host != "" {
			cfg.RateLimit.Store = "redis"
		}
	}
	if cfg.JWT.Secret == "" && !cfg.IsProduction() {
		cfg.JWT.Secret = devJWTSecret
	}

	// --- validation ---
	switch cfg.Env {
	case "development", "production", "test":
	default:
		return cfg, fmt.Errorf("NODE_ENV must be one of: development, production, test (got %q)", cfg.Env)
	}
	if breakerFailures < 1 {
		return cfg, errors.New("BREAKER_FAILURES must be >= 1")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	switch cfg.LogFormat {
	case "json", "pretty":
	default:
		return cfg, errors.New("LOG_FORMAT must be one of: json, pretty")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	for k, raw := range cfg.Services {
		if _, err := parseServiceURL(raw); err != nil {
			return cfg, fmt.Errorf("%s: %w", serviceEnvVar(k), err)
		}
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		return cfg, errors.New("CORS_ORIGIN must list at least one origin")
	}
	if cfg.CORS.AllowAny() && len(cfg.CORS.AllowedOrigins) > 1 {
		return cfg, errors.New("CORS_ORIGIN cannot mix '*' with explicit origins")
	}
	if !cfg.CORS.AllowAny() {
		for _, o := range cfg.CORS.AllowedOrigins {
			if !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
				return cfg, fmt.Errorf("CORS_ORIGIN entry %q must start with http:// or https://", o)
			}
		}
	}
	for _, tl := range []struct {
		name string
		v    TierLimits
	}{{"RATE_LIMIT", cfg.RateLimit.General}, {"RATE_LIMIT_STRICT", cfg.RateLimit.Strict}, {"RATE_LIMIT_API", cfg.RateLimit.API}} {
		if tl.v.Window <= 0 {
			return cfg, fmt.Errorf("%s_WINDOW_MS must be > 0", tl.name)
		}
		if tl.v.Max < 1 {
			return cfg, fmt.Errorf("%s_MAX must be >= 1", tl.name)
		}
	}
	switch cfg.RateLimit.Store {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Redis.Host) == "" {
			return cfg, errors.New("REDIS_HOST is required when RATE_LIMIT_STORE=redis")
		}
	default:
		return cfg, errors.New("RATE_LIMIT_STORE must be one of: auto, memory, redis")
	}
	if cfg.Redis.Port <= 0 || cfg.Redis.Port > 65535 {
		return cfg, errors.New("REDIS_PORT must be a valid TCP port")
	}
	if cfg.JWT.Secret == "" {
		return cfg, errors.New("JWT_SECRET is required in production")
	}
	if cfg.IsProduction() && cfg.JWT.Secret == devJWTSecret {
		return cfg, errors.New("JWT_SECRET must not use the development default in production")
	}
	if cfg.JWT.ExpiresIn <= 0 {
		return cfg, errors.New("JWT_EXPIRES_IN must be a positive duration")
	}
	if cfg.Proxy.Timeout <= 0 {
		return cfg, errors.New("UPSTREAM_TIMEOUT must be > 0")
	}
	if cfg.Proxy.BreakerOpenFor <= 0 {
		return cfg, errors.New("BREAKER_OPEN_FOR must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getms reads an integer millisecond count (the *_WINDOW_MS variables).
func getms(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}

// getlifetime accepts Go durations ("12h") and day counts ("7d").
func getlifetime(k string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	d, err := ParseLifetime(v)
	if err != nil {
		return def
	}
	return d
}

// ParseLifetime parses "7d", "36h", "90m" or a bare number of seconds.
func ParseLifetime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty lifetime")
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseServiceURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%q must be an absolute http(s) URL", raw)
	}
	return u, nil
}

func serviceEnvVar(k domain.ServiceKey) string {
	return strings.ToUpper(string(k)) + "_SERVICE_URL"
}
