// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, the store backend, link behaviour, rate
// limiting and observability.
package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-shortlink-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend       string // STORE_BACKEND: sqlite|postgres|redis
	DBPath        string // DB_PATH (sqlite)
	PostgresDSN   string // POSTGRES_DSN
	RedisAddr     string // REDIS_ADDR
	RedisPassword string // REDIS_PASSWORD
	RedisDB       int    // REDIS_DB
	RedisPrefix   string // REDIS_PREFIX
	Tracing       bool   // DB_TRACING: GORM OpenTelemetry plugin
}

// LinkConfig tunes the short-link protocols.
type LinkConfig struct {
	BaseURL        string // BASE_URL, prefix of short_url
	RedirectStatus int    // REDIRECT_STATUS: 301|302|307|308
	IndexBucket    string // INDEX_BUCKET

	SeqRetryBaseDelay   time.Duration // SEQ_RETRY_BASE_DELAY
	SeqRetryMaxDelay    time.Duration // SEQ_RETRY_MAX_DELAY
	SeqRetryMaxAttempts int           // SEQ_RETRY_MAX_ATTEMPTS

	AuditTTL      time.Duration // AUDIT_TTL
	LedgerTimeout time.Duration // LEDGER_TIMEOUT
	SweepInterval time.Duration // SWEEP_INTERVAL, 0 disables

	BackfillOnStart  bool   // BACKFILL_ON_START
	BackfillLockPath string // BACKFILL_LOCK_PATH
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // graceful drain
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Persistence and link behaviour
	Store StoreConfig
	Links LinkConfig

	// Rate limiting. Writes (create, admin changes) and reads (redirects,
	// lookups) draw from separate per-IP buckets.
	RateRPS       float64 // write tokens per second (>= 0)
	RateBurst     int     // write bucket size (>= 1)
	ReadRateRPS   float64 // read tokens per second (>= 0)
	ReadRateBurst int     // read bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
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
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		Store: StoreConfig{
			Backend:       getenv("STORE_BACKEND", "sqlite"),
			DBPath:        getenv("DB_PATH", "shortlink.db"),
			PostgresDSN:   getenv("POSTGRES_DSN", ""),
			RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getint("REDIS_DB", 0),
			RedisPrefix:   getenv("REDIS_PREFIX", "shortlink:"),
			Tracing:       getbool("DB_TRACING", false),
		},
		Links: LinkConfig{
			BaseURL:             strings.TrimRight(getenv("BASE_URL", "http://localhost:8080"), "/"),
			RedirectStatus:      getint("REDIRECT_STATUS", 302),
			IndexBucket:         getenv("INDEX_BUCKET", "all"),
			SeqRetryBaseDelay:   getdur("SEQ_RETRY_BASE_DELAY", 100*time.Millisecond),
			SeqRetryMaxDelay:    getdur("SEQ_RETRY_MAX_DELAY", 5*time.Second),
			SeqRetryMaxAttempts: getint("SEQ_RETRY_MAX_ATTEMPTS", 5),
			AuditTTL:            getdur("AUDIT_TTL", 720*time.Hour),
			LedgerTimeout:       getdur("LEDGER_TIMEOUT", 5*time.Second),
			SweepInterval:       getdur("SWEEP_INTERVAL", 10*time.Minute),
			BackfillOnStart:     getbool("BACKFILL_ON_START", true),
			BackfillLockPath:    getenv("BACKFILL_LOCK_PATH", ""),
		},

		// Rate limiting
		RateRPS:       getfloat("RATE_RPS", 5.0),
		RateBurst:     getint("RATE_BURST", 10),
		ReadRateRPS:   getfloat("READ_RATE_RPS", 50.0),
		ReadRateBurst: getint("READ_RATE_BURST", 100),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-shortlink-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "postgresql" {
		c.Store.Backend = "postgres"
	}
}

// Validate reports every invalid setting at once, joined, so an operator can
// fix a bad environment in one pass. Callers that override fields after Load
// (the CLI flags) call it again.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"))
	}
	check(strings.TrimSpace(c.Port) != "", "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.ShutdownTimeout > 0, "SHUTDOWN_TIMEOUT must be > 0")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	switch c.Store.Backend {
	case "sqlite":
		check(strings.TrimSpace(c.Store.DBPath) != "", "DB_PATH must not be empty")
	case "postgres":
		check(strings.TrimSpace(c.Store.PostgresDSN) != "", "POSTGRES_DSN is required for STORE_BACKEND=postgres")
	case "redis":
		check(strings.TrimSpace(c.Store.RedisAddr) != "", "REDIS_ADDR is required for STORE_BACKEND=redis")
		check(c.Store.RedisDB >= 0, "REDIS_DB must be >= 0")
	default:
		errs = append(errs, errors.New("STORE_BACKEND must be one of: sqlite, postgres, redis"))
	}

	u, err := url.Parse(c.Links.BaseURL)
	check(err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "",
		"BASE_URL must be an absolute http(s) URL")
	switch c.Links.RedirectStatus {
	case 301, 302, 307, 308:
	default:
		errs = append(errs, errors.New("REDIRECT_STATUS must be one of: 301, 302, 307, 308"))
	}
	check(strings.TrimSpace(c.Links.IndexBucket) != "", "INDEX_BUCKET must not be empty")
	check(c.Links.SeqRetryBaseDelay > 0 && c.Links.SeqRetryMaxDelay >= c.Links.SeqRetryBaseDelay,
		"SEQ_RETRY_BASE_DELAY must be > 0 and <= SEQ_RETRY_MAX_DELAY")
	check(c.Links.SeqRetryMaxAttempts >= 1, "SEQ_RETRY_MAX_ATTEMPTS must be >= 1")
	check(c.Links.AuditTTL > 0, "AUDIT_TTL must be > 0")
	check(c.Links.LedgerTimeout > 0, "LEDGER_TIMEOUT must be > 0")
	check(c.Links.SweepInterval >= 0, "SWEEP_INTERVAL must be >= 0")

	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.ReadRateRPS >= 0, "READ_RATE_RPS must be >= 0")
	check(c.ReadRateBurst >= 1, "READ_RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

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

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
