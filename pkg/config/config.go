package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Rate limit backends
const (
	RateLimitRedis  = "redis"
	RateLimitMemory = "memory"
	RateLimitNone   = "none"
)

// ErrInvalidConfig is wrapped by every Validate failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Session       SessionConfig
	Cron          CronConfig
	Upstream      UpstreamConfig
	RateLimit     RateLimitConfig
	CSP           CSPConfig
	Admin         AdminConfig
	Routes        RoutesConfig
	Cache         CacheConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics/ops server (separate port, never gated)
	OpsPort string
}

// DatabaseConfig holds the role/profile/portal store connection settings
type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
	AutoMigrate     bool
}

// SessionConfig holds session cookie settings
type SessionConfig struct {
	HashKey    []byte
	BlockKey   []byte
	CookieName string
	MaxAge     time.Duration
	Secure     bool
	Domain     string
}

// CronConfig holds the scheduled-job bearer secret
type CronConfig struct {
	Secret string
}

// UpstreamConfig holds the application that admitted requests are proxied to
type UpstreamConfig struct {
	URL string
}

// RateLimitConfig holds rate limiter settings
type RateLimitConfig struct {
	Backend          string
	RedisURL         string
	Window           time.Duration
	WebhookLimit     int
	UnsubscribeLimit int
}

// CSPConfig holds Content-Security-Policy settings
type CSPConfig struct {
	Development bool
	ReportOnly  bool
	ReportURI   string
	ConnectSrc  []string
}

// AdminConfig holds the admin allowlist tier settings
type AdminConfig struct {
	Allowlist       []string
	AllowlistSunset time.Time
	AuditSchedule   string
}

// RoutesConfig points at an optional YAML route table
type RoutesConfig struct {
	File string
}

// CacheConfig holds store lookup cache settings. A zero TTL disables caching.
type CacheConfig struct {
	RoleTTL   time.Duration
	PortalTTL time.Duration
	Size      int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadConfig() (*Config, error) {
	admin, err := loadAdminConfig()
	if err != nil {
		return nil, err
	}

	env := strings.ToLower(getEnv("GATEHOUSE_ENV", "production"))

	return &Config{
		Server:   loadServerConfig(),
		Database: loadDatabaseConfig(),
		Session:  loadSessionConfig(env),
		Cron: CronConfig{
			Secret: os.Getenv("GATEHOUSE_CRON_SECRET"),
		},
		Upstream: UpstreamConfig{
			URL: os.Getenv("GATEHOUSE_UPSTREAM_URL"),
		},
		RateLimit: loadRateLimitConfig(),
		CSP: CSPConfig{
			Development: env == "development",
			ReportOnly:  getEnvBool("GATEHOUSE_CSP_REPORT_ONLY", false),
			ReportURI:   getEnv("GATEHOUSE_CSP_REPORT_URI", ""),
			ConnectSrc:  getEnvList("GATEHOUSE_CSP_CONNECT_SRC"),
		},
		Admin: admin,
		Routes: RoutesConfig{
			File: getEnv("GATEHOUSE_ROUTES_FILE", ""),
		},
		Cache: CacheConfig{
			RoleTTL:   getEnvDuration("GATEHOUSE_ROLE_CACHE_TTL", 0),
			PortalTTL: getEnvDuration("GATEHOUSE_PORTAL_CACHE_TTL", 0),
			Size:      getEnvInt("GATEHOUSE_CACHE_SIZE", 10000),
		},
		Observability: loadObservabilityConfig(),
	}, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
		Port:            getEnv("GATEHOUSE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		OpsPort:         getEnv("GATEHOUSE_OPS_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          getEnv("GATEHOUSE_DATABASE_DRIVER", "postgres"),
		URL:             os.Getenv("GATEHOUSE_DATABASE_URL"),
		MaxOpenConns:    getEnvInt("GATEHOUSE_DATABASE_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("GATEHOUSE_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("GATEHOUSE_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		QueryTimeout:    getEnvDuration("GATEHOUSE_DATABASE_QUERY_TIMEOUT", 3*time.Second),
		AutoMigrate:     getEnvBool("GATEHOUSE_DATABASE_AUTO_MIGRATE", false),
	}
}

func loadSessionConfig(env string) SessionConfig {
	var blockKey []byte
	if v := os.Getenv("GATEHOUSE_SESSION_BLOCK_KEY"); v != "" {
		blockKey = []byte(v)
	}
	return SessionConfig{
		HashKey:    []byte(os.Getenv("GATEHOUSE_SESSION_HASH_KEY")),
		BlockKey:   blockKey,
		CookieName: getEnv("GATEHOUSE_SESSION_COOKIE", "gh_session"),
		MaxAge:     getEnvDuration("GATEHOUSE_SESSION_MAX_AGE", 7*24*time.Hour),
		Secure:     getEnvBool("GATEHOUSE_SESSION_SECURE", env != "development"),
		Domain:     getEnv("GATEHOUSE_SESSION_DOMAIN", ""),
	}
}

// loadRateLimitConfig picks the redis backend whenever a Redis URL is
// present and disables limiting otherwise, unless a backend is named.
func loadRateLimitConfig() RateLimitConfig {
	redisURL := getEnv("GATEHOUSE_RATE_LIMIT_REDIS_URL", "")
	defaultBackend := RateLimitNone
	if redisURL != "" {
		defaultBackend = RateLimitRedis
	}

	return RateLimitConfig{
		Backend:          strings.ToLower(getEnv("GATEHOUSE_RATE_LIMIT_BACKEND", defaultBackend)),
		RedisURL:         redisURL,
		Window:           getEnvDuration("GATEHOUSE_RATE_LIMIT_WINDOW", time.Minute),
		WebhookLimit:     getEnvInt("GATEHOUSE_RATE_LIMIT_WEBHOOK", 100),
		UnsubscribeLimit: getEnvInt("GATEHOUSE_RATE_LIMIT_UNSUBSCRIBE", 20),
	}
}

// EffectiveBackend returns the backend actually used. A redis backend with
// no URL degrades to none: rate limiting is optional.
func (c RateLimitConfig) EffectiveBackend() string {
	if c.Backend == RateLimitRedis && c.RedisURL == "" {
		return RateLimitNone
	}
	return c.Backend
}

func loadAdminConfig() (AdminConfig, error) {
	cfg := AdminConfig{
		Allowlist:     getEnvList("GATEHOUSE_ADMIN_ALLOWLIST"),
		AuditSchedule: getEnv("GATEHOUSE_ADMIN_AUDIT_SCHEDULE", "@daily"),
	}
	for i, email := range cfg.Allowlist {
		cfg.Allowlist[i] = strings.ToLower(email)
	}

	if sunset := os.Getenv("GATEHOUSE_ADMIN_ALLOWLIST_SUNSET"); sunset != "" {
		t, err := parseDate(sunset)
		if err != nil {
			return cfg, fmt.Errorf("%w: GATEHOUSE_ADMIN_ALLOWLIST_SUNSET: %v", ErrInvalidConfig, err)
		}
		cfg.AllowlistSunset = t
	}

	return cfg, nil
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEHOUSE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEHOUSE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEHOUSE_OTEL_SERVICE_NAME", "gatehouse"),
		OTelServiceVersion: getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEHOUSE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GATEHOUSE_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid and reports the first problem
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("%w: server port is required", ErrInvalidConfig)
	}
	if c.Server.OpsPort == "" {
		return fmt.Errorf("%w: ops port is required", ErrInvalidConfig)
	}
	if c.Server.Port == c.Server.OpsPort {
		return fmt.Errorf("%w: server port and ops port must be different", ErrInvalidConfig)
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("%w: invalid database driver: %s (must be postgres or sqlite3)", ErrInvalidConfig, c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("%w: GATEHOUSE_DATABASE_URL is required", ErrInvalidConfig)
	}

	if len(c.Session.HashKey) < 32 {
		return fmt.Errorf("%w: GATEHOUSE_SESSION_HASH_KEY must be at least 32 bytes", ErrInvalidConfig)
	}
	switch len(c.Session.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("%w: GATEHOUSE_SESSION_BLOCK_KEY must be 16, 24, or 32 bytes", ErrInvalidConfig)
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("%w: session cookie name is required", ErrInvalidConfig)
	}

	if c.Cron.Secret == "" {
		return fmt.Errorf("%w: GATEHOUSE_CRON_SECRET is required", ErrInvalidConfig)
	}

	if c.Upstream.URL == "" {
		return fmt.Errorf("%w: GATEHOUSE_UPSTREAM_URL is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.Upstream.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: GATEHOUSE_UPSTREAM_URL must be an absolute URL", ErrInvalidConfig)
	}

	switch c.RateLimit.Backend {
	case RateLimitRedis, RateLimitMemory, RateLimitNone:
	default:
		return fmt.Errorf("%w: invalid rate limit backend: %s (must be redis, memory, or none)", ErrInvalidConfig, c.RateLimit.Backend)
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.WebhookLimit <= 0 || c.RateLimit.UnsubscribeLimit <= 0 {
		return fmt.Errorf("%w: rate limit window and limits must be positive", ErrInvalidConfig)
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("%w: OpenTelemetry endpoint is required when OTel is enabled", ErrInvalidConfig)
	}

	return nil
}

// parseDate accepts RFC3339 timestamps or plain YYYY-MM-DD dates (UTC midnight)
func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
