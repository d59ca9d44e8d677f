package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("expected max_conns 15, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Proxy.BaseDomain != "lab.localhost" {
		t.Errorf("expected default base domain, got %s", cfg.Proxy.BaseDomain)
	}
	if cfg.Ports.StreamLow != 9300 || cfg.Ports.StreamHigh != 9500 {
		t.Errorf("expected default stream port range 9300-9500, got %d-%d", cfg.Ports.StreamLow, cfg.Ports.StreamHigh)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
postgres:
  max_conns: 20
logging:
  level: "debug"
proxy:
  base_domain: "lab.example.com"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.Postgres.MaxConns != 20 {
		t.Errorf("expected max_conns 20, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Proxy.BaseDomain != "lab.example.com" {
		t.Errorf("expected base domain override, got %s", cfg.Proxy.BaseDomain)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("API_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("CODEFORGE_PG_MAX_CONNS", "25")
	t.Setenv("CODEFORGE_LOG_LEVEL", "warn")
	t.Setenv("CODEFORGE_BREAKER_TIMEOUT", "1m")
	t.Setenv("STREAM_PORT_RANGE", "9600-9700")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Ports.StreamLow != 9600 || cfg.Ports.StreamHigh != 9700 {
		t.Errorf("expected stream port range override, got %d-%d", cfg.Ports.StreamLow, cfg.Ports.StreamHigh)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "empty NATS URL",
			modify: func(c *Config) { c.NATS.URL = "" },
			errMsg: "nats.url is required",
		},
		{
			name:   "zero max_conns",
			modify: func(c *Config) { c.Postgres.MaxConns = 0 },
			errMsg: "postgres.max_conns must be >= 1",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "zero rate burst",
			modify: func(c *Config) { c.Rate.Burst = 0 },
			errMsg: "rate.burst must be >= 1",
		},
		{
			name:   "empty base domain",
			modify: func(c *Config) { c.Proxy.BaseDomain = "" },
			errMsg: "proxy.base_domain is required",
		},
		{
			name:   "inverted port range",
			modify: func(c *Config) { c.Ports.StreamHigh = c.Ports.StreamLow - 1 },
			errMsg: "ports.stream_high must be >= ports.stream_low",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestBrowserDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Browser.MaxDaemonRetries != 3 {
		t.Errorf("expected default max daemon retries 3, got %d", cfg.Browser.MaxDaemonRetries)
	}
	if cfg.Browser.CleanupDelay != 10*time.Second {
		t.Errorf("expected default cleanup delay 10s, got %v", cfg.Browser.CleanupDelay)
	}
}

func TestBrowserEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("BROWSER_API_URL", "http://daemon:9400")
	t.Setenv("BROWSER_CLEANUP_DELAY_MS", "5000")
	t.Setenv("MAX_DAEMON_RETRIES", "7")

	loadEnv(&cfg)

	if cfg.Browser.APIURL != "http://daemon:9400" {
		t.Errorf("expected api url override, got %s", cfg.Browser.APIURL)
	}
	if cfg.Browser.CleanupDelay != 5*time.Second {
		t.Errorf("expected cleanup delay 5s, got %v", cfg.Browser.CleanupDelay)
	}
	if cfg.Browser.MaxDaemonRetries != 7 {
		t.Errorf("expected max daemon retries 7, got %d", cfg.Browser.MaxDaemonRetries)
	}
}

func TestReconcileEnvOverride(t *testing.T) {
	cfg := Defaults()
	t.Setenv("RECONCILE_INTERVAL_MS", "2500")
	loadEnv(&cfg)
	if cfg.Reconcile.Interval != 2500*time.Millisecond {
		t.Errorf("expected reconcile interval 2.5s, got %v", cfg.Reconcile.Interval)
	}
}
