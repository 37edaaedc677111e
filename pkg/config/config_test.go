package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/platinummonkey/memhub/pkg/errs"
	"github.com/platinummonkey/memhub/pkg/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MEMHUB_DATABASE_URL", "postgres://localhost/memhub")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Server.Addr() = %v, want 0.0.0.0:8080", cfg.Server.Addr())
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.Server.ShutdownTimeout)
	}
	if !cfg.Database.MigrateOnStart {
		t.Error("MigrateOnStart should default to true")
	}
	if cfg.Identity.DevMode {
		t.Error("DevMode should default to false")
	}
	if cfg.Bulk.MaxConcurrent != 4 {
		t.Errorf("Bulk.MaxConcurrent = %v, want 4", cfg.Bulk.MaxConcurrent)
	}
	if cfg.Bulk.StaleAfter != 15*time.Minute {
		t.Errorf("Bulk.StaleAfter = %v, want 15m", cfg.Bulk.StaleAfter)
	}
	if cfg.Bulk.SubmitRateLimit.RequestsPerWindow != 30 {
		t.Errorf("SubmitRateLimit.RequestsPerWindow = %v, want 30", cfg.Bulk.SubmitRateLimit.RequestsPerWindow)
	}
	if cfg.LogLevel() != observability.InfoLevel {
		t.Errorf("LogLevel() = %v, want info", cfg.LogLevel())
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("MEMHUB_DATABASE_URL", "postgres://db/memhub")
	t.Setenv("MEMHUB_PORT", "9090")
	t.Setenv("MEMHUB_DATABASE_REPLICA_URLS", "postgres://r1/memhub, postgres://r2/memhub")
	t.Setenv("MEMHUB_ADMIN_EMAILS", "root@example.com,ops@example.com")
	t.Setenv("MEMHUB_PROXY_HEADERS", "X-Forwarded-User:X-Forwarded-Email,X-Auth-Email")
	t.Setenv("MEMHUB_BULK_MAX_CONCURRENT", "8")
	t.Setenv("MEMHUB_BULK_STALE_AFTER", "2m")
	t.Setenv("MEMHUB_LOG_LEVEL", "debug")
	t.Setenv("MEMHUB_METRICS_ENABLED", "false")
	t.Setenv("MEMHUB_MEMBERSHIP_STORE_FALLBACK", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Port = %v, want 9090", cfg.Server.Port)
	}
	if len(cfg.Database.ReplicaURLs) != 2 || cfg.Database.ReplicaURLs[1] != "postgres://r2/memhub" {
		t.Errorf("ReplicaURLs = %v", cfg.Database.ReplicaURLs)
	}
	if len(cfg.Identity.AdminEmails) != 2 {
		t.Errorf("AdminEmails = %v, want 2 entries", cfg.Identity.AdminEmails)
	}
	headers := cfg.Identity.ProxyHeaders
	if len(headers) != 2 {
		t.Fatalf("ProxyHeaders = %v, want 2 pairs", headers)
	}
	if headers[0].UserHeader != "X-Forwarded-User" || headers[0].EmailHeader != "X-Forwarded-Email" {
		t.Errorf("ProxyHeaders[0] = %+v", headers[0])
	}
	if headers[1].UserHeader != "" || headers[1].EmailHeader != "X-Auth-Email" {
		t.Errorf("ProxyHeaders[1] = %+v", headers[1])
	}
	if cfg.Bulk.MaxConcurrent != 8 {
		t.Errorf("Bulk.MaxConcurrent = %v, want 8", cfg.Bulk.MaxConcurrent)
	}
	if cfg.Bulk.StaleAfter != 2*time.Minute {
		t.Errorf("Bulk.StaleAfter = %v, want 2m", cfg.Bulk.StaleAfter)
	}
	if cfg.LogLevel() != observability.DebugLevel {
		t.Errorf("LogLevel() = %v, want debug", cfg.LogLevel())
	}
	if cfg.Observability.MetricsEnabled {
		t.Error("MetricsEnabled should be false")
	}
	if !cfg.Identity.MembershipStoreFallback {
		t.Error("MembershipStoreFallback should be true")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memhub.yaml")
	content := `
server:
  port: "7070"
  shutdown_timeout: 10s
database:
  url: postgres://file/memhub
identity:
  admin_emails: [boss@example.com]
  proxy_headers:
    - user_header: X-User
      email_header: X-Email
bulk:
  max_concurrent: 2
  reconcile_schedule: "*/10 * * * *"
  submit_rate_limit:
    requests_per_window: 5
    window: 30s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("MEMHUB_CONFIG_FILE", path)
	// Environment wins over the file.
	t.Setenv("MEMHUB_BULK_MAX_CONCURRENT", "3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("Port = %v, want 7070", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout = %v, want default 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.URL != "postgres://file/memhub" {
		t.Errorf("Database.URL = %v", cfg.Database.URL)
	}
	if len(cfg.Identity.ProxyHeaders) != 1 || cfg.Identity.ProxyHeaders[0].EmailHeader != "X-Email" {
		t.Errorf("ProxyHeaders = %v", cfg.Identity.ProxyHeaders)
	}
	if cfg.Bulk.MaxConcurrent != 3 {
		t.Errorf("Bulk.MaxConcurrent = %v, want 3 from environment", cfg.Bulk.MaxConcurrent)
	}
	if cfg.Bulk.SubmitRateLimit.WindowDuration != 30*time.Second {
		t.Errorf("SubmitRateLimit.WindowDuration = %v, want 30s", cfg.Bulk.SubmitRateLimit.WindowDuration)
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("MEMHUB_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
		if _, err := LoadConfig(); err == nil {
			t.Error("expected error for missing config file")
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("server: [not, a, map"), 0o600); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}
		t.Setenv("MEMHUB_CONFIG_FILE", path)
		_, err := LoadConfig()
		if !errors.Is(err, errs.ErrConfiguration) {
			t.Errorf("LoadConfig() error = %v, want ErrConfiguration", err)
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Database.URL = "postgres://localhost/memhub"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid defaults", mutate: func(*Config) {}},
		{name: "missing database url", mutate: func(c *Config) { c.Database.URL = "" }, wantErr: true},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: true},
		{name: "max conns below min", mutate: func(c *Config) { c.Database.MaxConns = 1 }, wantErr: true},
		{name: "dev mode without email", mutate: func(c *Config) {
			c.Identity.DevMode = true
			c.Identity.DevEmail = " "
		}, wantErr: true},
		{name: "dev mode with defaults", mutate: func(c *Config) { c.Identity.DevMode = true }},
		{name: "zero bulk concurrency", mutate: func(c *Config) { c.Bulk.MaxConcurrent = 0 }, wantErr: true},
		{name: "zero stale after", mutate: func(c *Config) { c.Bulk.StaleAfter = 0 }, wantErr: true},
		{name: "bad schedule", mutate: func(c *Config) { c.Bulk.ReconcileSchedule = "every so often" }, wantErr: true},
		{name: "cron schedule", mutate: func(c *Config) { c.Bulk.ReconcileSchedule = "0 * * * *" }},
		{name: "bad log level", mutate: func(c *Config) { c.Observability.LogLevel = "chatty" }, wantErr: true},
		{name: "otel without endpoint", mutate: func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errs.ErrConfiguration) {
				t.Errorf("Validate() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestIdentityConfigCopiesSlices(t *testing.T) {
	cfg := Default()
	cfg.Identity.AdminEmails = []string{"a@example.com"}

	idCfg := cfg.IdentityConfig()
	idCfg.AdminEmails[0] = "changed@example.com"

	if cfg.Identity.AdminEmails[0] != "a@example.com" {
		t.Error("IdentityConfig() should not alias the config slices")
	}
	if idCfg.UserCacheTTL != time.Minute {
		t.Errorf("UserCacheTTL = %v, want 1m", idCfg.UserCacheTTL)
	}
}

func TestOTelConfig(t *testing.T) {
	cfg := Default()
	cfg.Observability.OTelEnabled = true

	otel := cfg.OTelConfig()
	if !otel.Enabled || otel.ServiceName != "memhub" || otel.SampleRatio != 1.0 {
		t.Errorf("OTelConfig() = %+v", otel)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_BOOL", "1")
	t.Setenv("TEST_INT", "notanumber")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_LIST", " a, ,b ")

	if !getEnvBool("TEST_BOOL", false) {
		t.Error("getEnvBool should accept 1")
	}
	if got := getEnvInt("TEST_INT", 7); got != 7 {
		t.Errorf("getEnvInt() = %v, want fallback 7", got)
	}
	if got := getEnvDuration("TEST_DURATION", 0); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvList("TEST_LIST", nil); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("getEnvList() = %v, want [a b]", got)
	}
	if got := getEnv("TEST_UNSET_VALUE", "fallback"); got != "fallback" {
		t.Errorf("getEnv() = %v, want fallback", got)
	}
}
