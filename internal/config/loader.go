package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "codeforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg. Only non-empty env
// values override the current config. Variable names follow spec.md §6.4
// where named (API_PORT, PROXY_*, BROWSER_*, DATABASE_URL,
// SANDBOX_ENDPOINT, STREAM_PORT_RANGE, RECONCILE_INTERVAL_MS,
// MAX_DAEMON_RETRIES); ambient concerns use the CODEFORGE_ prefix.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "API_PORT")
	setString(&cfg.Server.CORSOrigin, "CODEFORGE_CORS_ORIGIN")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CODEFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CODEFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CODEFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CODEFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CODEFORGE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.Logging.Level, "CODEFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CODEFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CODEFORGE_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "CODEFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CODEFORGE_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "CODEFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "CODEFORGE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "CODEFORGE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "CODEFORGE_RATE_MAX_IDLE_TIME")

	setBool(&cfg.Telemetry.Enabled, "CODEFORGE_OTEL_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "CODEFORGE_OTEL_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "CODEFORGE_OTEL_SERVICE_NAME")
	setBool(&cfg.Telemetry.TracesInsecure, "CODEFORGE_OTEL_INSECURE")

	setString(&cfg.Proxy.Port, "PROXY_PORT")
	setString(&cfg.Proxy.BaseDomain, "PROXY_BASE_DOMAIN")
	setDuration(&cfg.Proxy.IdleTimeout, "CODEFORGE_PROXY_IDLE_TIMEOUT")

	setString(&cfg.Browser.APIURL, "BROWSER_API_URL")
	setString(&cfg.Browser.WSHost, "BROWSER_WS_HOST")
	setMillis(&cfg.Browser.CleanupDelay, "BROWSER_CLEANUP_DELAY_MS")
	setInt(&cfg.Browser.MaxDaemonRetries, "MAX_DAEMON_RETRIES")

	setMillis(&cfg.Reconcile.Interval, "RECONCILE_INTERVAL_MS")
	setInt(&cfg.Reconcile.MaxConcurrent, "CODEFORGE_RECONCILE_MAX_CONCURRENT")

	setString(&cfg.Sandbox.Endpoint, "SANDBOX_ENDPOINT")
	setInt(&cfg.Sandbox.MaxConcurrent, "CODEFORGE_SANDBOX_MAX_CONCURRENT")
	setDuration(&cfg.Sandbox.CallTimeout, "CODEFORGE_SANDBOX_CALL_TIMEOUT")

	setPortRange(&cfg.Ports.StreamLow, &cfg.Ports.StreamHigh, "STREAM_PORT_RANGE")

	setString(&cfg.Pool.WorkspacesVolume, "CODEFORGE_VOLUME_WORKSPACES")
	setString(&cfg.Pool.OpencodeAuthVolume, "CODEFORGE_VOLUME_OPENCODE_AUTH")
	setString(&cfg.Pool.BrowserSockVolume, "CODEFORGE_VOLUME_BROWSER_SOCKET")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Proxy.BaseDomain == "" {
		return errors.New("proxy.base_domain is required")
	}
	if cfg.Ports.StreamHigh < cfg.Ports.StreamLow {
		return errors.New("ports.stream_high must be >= ports.stream_low")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// setMillis parses a bare millisecond integer env var (as spec.md §6.4's
// *_MS variables are specified) into a time.Duration.
func setMillis(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}

// setPortRange parses a "lo-hi" env var like "9300-9500" into two ints.
func setPortRange(lo, hi *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := strings.SplitN(v, "-", 2)
	if len(parts) != 2 {
		return
	}
	l, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return
	}
	*lo, *hi = l, h
}
