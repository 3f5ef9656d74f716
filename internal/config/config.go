// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the HTTP
// server, logging, storage, device broadcasting, distributed locks, stock
// calibration, websocket transport, and observability.
package config

import (
	"errors"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "pos-coordinator")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects and addresses the backing store.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	URL    string // Postgres DSN
}

// BroadcastConfig tunes order routing to printers and displays.
type BroadcastConfig struct {
	KitchenDelay time.Duration // defer kitchen tickets behind bar tickets
}

// LockConfig tunes the storage-backed job lock.
type LockConfig struct {
	RetryDelay   time.Duration
	SweepOnStart bool
}

// CalibrationConfig tunes the stock calibration batch and its schedule.
type CalibrationConfig struct {
	BatchSize       int
	ItemDelay       time.Duration
	BatchDelay      time.Duration
	ItemLockTTL     time.Duration
	AllLockTTL      time.Duration
	// AllLockAttempts bounds the full-batch lock acquisition. Zero polls the
	// whole TTL budget (TTL / LOCK_RETRY_DELAY attempts).
	AllLockAttempts int
	BulkConcurrency int

	ScheduleEnabled bool
	Interval        time.Duration
	Warmup          time.Duration
}

// WSConfig tunes the device websocket transport.
type WSConfig struct {
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	SendBuffer       int
	DirectoryTTL     time.Duration // device directory cache lifetime
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DB DBConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Replay window for Idempotency-Key on order broadcasts
	IdempotencyTTL time.Duration

	// Domain
	Broadcast   BroadcastConfig
	Lock        LockConfig
	Calibration CalibrationConfig
	WS          WSConfig

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
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(strings.TrimSpace(getenv("DB_DRIVER", "sqlite"))),
			Path:   getenv("DB_PATH", "pos.db"),
			URL:    getenv("DATABASE_URL", ""),
		},

		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 10*time.Minute),

		Broadcast: BroadcastConfig{
			KitchenDelay: getdur("KITCHEN_DELAY", 800*time.Millisecond),
		},
		Lock: LockConfig{
			RetryDelay:   getdur("LOCK_RETRY_DELAY", 500*time.Millisecond),
			SweepOnStart: getbool("LOCK_SWEEP_ON_START", true),
		},
		Calibration: CalibrationConfig{
			BatchSize:       getint("CALIBRATION_BATCH_SIZE", 25),
			ItemDelay:       getdur("CALIBRATION_ITEM_DELAY", 50*time.Millisecond),
			BatchDelay:      getdur("CALIBRATION_BATCH_DELAY", 500*time.Millisecond),
			ItemLockTTL:     getdur("CALIBRATION_ITEM_LOCK_TTL", 60*time.Second),
			AllLockTTL:      getdur("CALIBRATION_ALL_LOCK_TTL", 10*time.Minute),
			AllLockAttempts: getint("CALIBRATION_ALL_LOCK_ATTEMPTS", 1),
			BulkConcurrency: getint("CALIBRATION_BULK_CONCURRENCY", 8),
			ScheduleEnabled: getbool("CALIBRATION_SCHEDULE_ENABLED", true),
			Interval:        getdur("CALIBRATION_INTERVAL", 6*time.Hour),
			Warmup:          getdur("CALIBRATION_WARMUP", 30*time.Second),
		},
		WS: WSConfig{
			WriteTimeout:     getdur("WS_WRITE_TIMEOUT", 10*time.Second),
			PingInterval:     getdur("WS_PING_INTERVAL", 30*time.Second),
			HandshakeTimeout: getdur("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
			SendBuffer:       getint("WS_SEND_BUFFER", 64),
			DirectoryTTL:     getdur("DEVICE_DIRECTORY_TTL", 5*time.Minute),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "pos-coordinator"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pg" {
		cfg.DB.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Broadcast.KitchenDelay < 0 {
		return cfg, errors.New("KITCHEN_DELAY must be >= 0")
	}
	if cfg.Lock.RetryDelay <= 0 {
		return cfg, errors.New("LOCK_RETRY_DELAY must be > 0")
	}
	c := cfg.Calibration
	if c.BatchSize < 1 {
		return cfg, errors.New("CALIBRATION_BATCH_SIZE must be >= 1")
	}
	if c.ItemDelay < 0 || c.BatchDelay < 0 {
		return cfg, errors.New("calibration delays must be >= 0")
	}
	if c.ItemLockTTL <= 0 || c.AllLockTTL <= 0 {
		return cfg, errors.New("calibration lock TTLs must be > 0")
	}
	if c.AllLockAttempts < 0 {
		return cfg, errors.New("CALIBRATION_ALL_LOCK_ATTEMPTS must be >= 0")
	}
	if c.BulkConcurrency < 1 {
		return cfg, errors.New("CALIBRATION_BULK_CONCURRENCY must be >= 1")
	}
	if c.ScheduleEnabled && c.Interval <= 0 {
		return cfg, errors.New("CALIBRATION_INTERVAL must be > 0 when the schedule is enabled")
	}
	if c.Warmup < 0 {
		return cfg, errors.New("CALIBRATION_WARMUP must be >= 0")
	}
	if cfg.WS.WriteTimeout <= 0 || cfg.WS.PingInterval <= 0 || cfg.WS.HandshakeTimeout <= 0 {
		return cfg, errors.New("websocket timeouts must be positive durations")
	}
	if cfg.WS.SendBuffer < 1 {
		return cfg, errors.New("WS_SEND_BUFFER must be >= 1")
	}
	if cfg.WS.DirectoryTTL < 0 {
		return cfg, errors.New("DEVICE_DIRECTORY_TTL must be >= 0")
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
