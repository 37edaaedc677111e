package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/memhub/pkg/auth"
	"github.com/platinummonkey/memhub/pkg/errs"
	"github.com/platinummonkey/memhub/pkg/middleware"
	"github.com/platinummonkey/memhub/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Identity      IdentitySection     `yaml:"identity"`
	Bulk          BulkConfig          `yaml:"bulk"`
	Redis         RedisConfig         `yaml:"redis"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	ReplicaURLs    []string      `yaml:"replica_urls"`
	MaxConns       int           `yaml:"max_conns"`
	MinConns       int           `yaml:"min_conns"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
	MaxIdleTime    time.Duration `yaml:"max_idle_time"`
	MigrateOnStart bool          `yaml:"migrate_on_start"`
}

// IdentitySection configures how callers are identified
type IdentitySection struct {
	DevMode         bool              `yaml:"dev_mode"`
	DevEmail        string            `yaml:"dev_email"`
	DevDisplayName  string            `yaml:"dev_display_name"`
	PublicBaseURL   string            `yaml:"public_base_url"`
	DevAllowedHosts []string          `yaml:"dev_allowed_hosts"`
	AdminEmails     []string          `yaml:"admin_emails"`
	ProxyHeaders    []auth.HeaderPair `yaml:"proxy_headers"`
	UserCacheSize   int               `yaml:"user_cache_size"`
	UserCacheTTL    time.Duration     `yaml:"user_cache_ttl"`

	// MembershipStoreFallback makes policy checks load memberships missing
	// from the request's identity snapshot from the database
	MembershipStoreFallback bool `yaml:"membership_store_fallback"`
}

// BulkConfig holds bulk operation settings
type BulkConfig struct {
	MaxConcurrent     int                        `yaml:"max_concurrent"`
	StaleAfter        time.Duration              `yaml:"stale_after"`
	ReconcileSchedule string                     `yaml:"reconcile_schedule"`
	SubmitRateLimit   middleware.RateLimitConfig `yaml:"submit_rate_limit"`
}

// RedisConfig holds the optional Redis connection used for shared rate limits
type RedisConfig struct {
	URL       string `yaml:"url"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AuditConfig holds audit sink settings. The database sink is always on.
type AuditConfig struct {
	FileDir      string `yaml:"file_dir"`
	FileMaxBytes int64  `yaml:"file_max_bytes"`
	FileMaxFiles int    `yaml:"file_max_files"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:       20,
			MinConns:       5,
			Timeout:        10 * time.Second,
			MaxLifetime:    30 * time.Minute,
			MaxIdleTime:    5 * time.Minute,
			MigrateOnStart: true,
		},
		Identity: IdentitySection{
			DevEmail:       "dev@localhost",
			DevDisplayName: "Local Developer",
			PublicBaseURL:  "http://localhost:8080",
			UserCacheSize:  1024,
			UserCacheTTL:   time.Minute,
		},
		Bulk: BulkConfig{
			MaxConcurrent:     4,
			StaleAfter:        15 * time.Minute,
			ReconcileSchedule: "@every 5m",
			SubmitRateLimit:   middleware.DefaultRateLimitConfig(),
		},
		Redis: RedisConfig{PoolSize: 10, KeyPrefix: "memhub:ratelimit"},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "memhub",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file
// named by MEMHUB_CONFIG_FILE if set, then MEMHUB_* environment variables
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("MEMHUB_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %v: %w", path, err, errs.ErrConfiguration)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("MEMHUB_HOST", s.Host)
	s.Port = getEnv("MEMHUB_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("MEMHUB_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("MEMHUB_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("MEMHUB_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("MEMHUB_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	d := &c.Database
	d.URL = getEnv("MEMHUB_DATABASE_URL", d.URL)
	d.ReplicaURLs = getEnvList("MEMHUB_DATABASE_REPLICA_URLS", d.ReplicaURLs)
	d.MaxConns = getEnvInt("MEMHUB_DATABASE_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvInt("MEMHUB_DATABASE_MIN_CONNS", d.MinConns)
	d.Timeout = getEnvDuration("MEMHUB_DATABASE_TIMEOUT", d.Timeout)
	d.MigrateOnStart = getEnvBool("MEMHUB_DATABASE_MIGRATE", d.MigrateOnStart)

	id := &c.Identity
	id.DevMode = getEnvBool("MEMHUB_DEV_MODE", id.DevMode)
	id.DevEmail = getEnv("MEMHUB_DEV_EMAIL", id.DevEmail)
	id.DevDisplayName = getEnv("MEMHUB_DEV_DISPLAY_NAME", id.DevDisplayName)
	id.PublicBaseURL = getEnv("MEMHUB_PUBLIC_BASE_URL", id.PublicBaseURL)
	id.DevAllowedHosts = getEnvList("MEMHUB_DEV_ALLOWED_HOSTS", id.DevAllowedHosts)
	id.AdminEmails = getEnvList("MEMHUB_ADMIN_EMAILS", id.AdminEmails)
	id.MembershipStoreFallback = getEnvBool("MEMHUB_MEMBERSHIP_STORE_FALLBACK", id.MembershipStoreFallback)
	if raw := os.Getenv("MEMHUB_PROXY_HEADERS"); raw != "" {
		id.ProxyHeaders = parseHeaderPairs(raw)
	}

	b := &c.Bulk
	b.MaxConcurrent = getEnvInt("MEMHUB_BULK_MAX_CONCURRENT", b.MaxConcurrent)
	b.StaleAfter = getEnvDuration("MEMHUB_BULK_STALE_AFTER", b.StaleAfter)
	b.ReconcileSchedule = getEnv("MEMHUB_BULK_RECONCILE_SCHEDULE", b.ReconcileSchedule)
	b.SubmitRateLimit.RequestsPerWindow = getEnvInt("MEMHUB_BULK_SUBMIT_LIMIT", b.SubmitRateLimit.RequestsPerWindow)
	b.SubmitRateLimit.WindowDuration = getEnvDuration("MEMHUB_BULK_SUBMIT_WINDOW", b.SubmitRateLimit.WindowDuration)

	c.Redis.URL = getEnv("MEMHUB_REDIS_URL", c.Redis.URL)
	c.Redis.PoolSize = getEnvInt("MEMHUB_REDIS_POOL_SIZE", c.Redis.PoolSize)

	c.Audit.FileDir = getEnv("MEMHUB_AUDIT_FILE_DIR", c.Audit.FileDir)

	o := &c.Observability
	o.LogLevel = getEnv("MEMHUB_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("MEMHUB_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("MEMHUB_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("MEMHUB_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("MEMHUB_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("MEMHUB_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("MEMHUB_OTEL_INSECURE", o.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf(format+": %w", append(args, errs.ErrConfiguration)...)
	}

	if c.Server.Port == "" {
		return invalid("server port is required")
	}
	if c.Database.URL == "" {
		return invalid("database URL is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return invalid("database max conns %d is below min conns %d", c.Database.MaxConns, c.Database.MinConns)
	}

	if c.Identity.DevMode {
		if strings.TrimSpace(c.Identity.DevEmail) == "" {
			return invalid("dev email is required in development mode")
		}
		if c.Identity.PublicBaseURL == "" {
			return invalid("public base URL is required in development mode")
		}
	}
	for _, pair := range c.Identity.ProxyHeaders {
		if pair.EmailHeader == "" {
			return invalid("proxy header pair %q has no email header", pair.UserHeader)
		}
	}

	if c.Bulk.MaxConcurrent <= 0 {
		return invalid("bulk max concurrent must be positive")
	}
	if c.Bulk.StaleAfter <= 0 {
		return invalid("bulk stale after must be positive")
	}
	if _, err := cron.ParseStandard(c.Bulk.ReconcileSchedule); err != nil {
		return invalid("invalid bulk reconcile schedule %q: %v", c.Bulk.ReconcileSchedule, err)
	}

	if _, err := observability.ParseLogLevel(c.Observability.LogLevel); err != nil {
		return invalid("invalid log level %q", c.Observability.LogLevel)
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return invalid("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return invalid("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	return nil
}

// IdentityConfig returns the resolver configuration. Slices are copied so
// the result does not alias c.
func (c *Config) IdentityConfig() auth.IdentityConfig {
	id := c.Identity
	return auth.IdentityConfig{
		DevMode:         id.DevMode,
		DevEmail:        id.DevEmail,
		DevDisplayName:  id.DevDisplayName,
		PublicBaseURL:   id.PublicBaseURL,
		DevAllowedHosts: append([]string(nil), id.DevAllowedHosts...),
		AdminEmails:     append([]string(nil), id.AdminEmails...),
		ProxyHeaders:    append([]auth.HeaderPair(nil), id.ProxyHeaders...),
		UserCacheSize:   id.UserCacheSize,
		UserCacheTTL:    id.UserCacheTTL,
	}
}

// OTelConfig returns the OpenTelemetry provider configuration
func (c *Config) OTelConfig() observability.OTelConfig {
	o := c.Observability
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// LogLevel returns the parsed log level, defaulting to info
func (c *Config) LogLevel() observability.LogLevel {
	level, err := observability.ParseLogLevel(c.Observability.LogLevel)
	if err != nil {
		return observability.InfoLevel
	}
	return level
}

// parseHeaderPairs reads "User-Header:Email-Header" pairs separated by commas
func parseHeaderPairs(raw string) []auth.HeaderPair {
	var pairs []auth.HeaderPair
	for _, part := range strings.Split(raw, ",") {
		user, email, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			email, user = user, ""
		}
		pairs = append(pairs, auth.HeaderPair{UserHeader: strings.TrimSpace(user), EmailHeader: strings.TrimSpace(email)})
	}
	return pairs
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
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
