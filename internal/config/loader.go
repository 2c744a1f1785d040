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
const DefaultConfigFile = "phasegate.yaml"

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

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PHASEGATE_PORT")
	setString(&cfg.Server.CORSOrigin, "PHASEGATE_CORS_ORIGIN")
	setString(&cfg.Storage.Driver, "PHASEGATE_STORAGE_DRIVER")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PHASEGATE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "PHASEGATE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PHASEGATE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "PHASEGATE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "PHASEGATE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "PHASEGATE_NATS_STREAM")
	setString(&cfg.Redis.Addr, "REDIS_URL")
	setString(&cfg.Redis.Password, "PHASEGATE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PHASEGATE_REDIS_DB")
	setString(&cfg.Logging.Level, "PHASEGATE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PHASEGATE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "PHASEGATE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "PHASEGATE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "PHASEGATE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "PHASEGATE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "PHASEGATE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "PHASEGATE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "PHASEGATE_RATE_MAX_IDLE_TIME")

	// Policy
	setString(&cfg.Policy.File, "PHASEGATE_POLICY_FILE")
	setBool(&cfg.Policy.Watch, "PHASEGATE_POLICY_WATCH")

	// HITL
	setInt64(&cfg.HITL.DefaultLimit, "PHASEGATE_HITL_DEFAULT_LIMIT")
	setDuration(&cfg.HITL.DefaultTTL, "PHASEGATE_HITL_DEFAULT_TTL")
	setDuration(&cfg.HITL.SweepInterval, "PHASEGATE_HITL_SWEEP_INTERVAL")
	setInt(&cfg.HITL.SweepBatch, "PHASEGATE_HITL_SWEEP_BATCH")
	setInt(&cfg.HITL.ReleaseParallelism, "PHASEGATE_HITL_RELEASE_PARALLELISM")

	// Counter
	setString(&cfg.Counter.Backend, "PHASEGATE_COUNTER_BACKEND")
	setString(&cfg.Counter.Bucket, "PHASEGATE_COUNTER_BUCKET")

	// Executor
	setString(&cfg.Executor.URL, "PHASEGATE_EXECUTOR_URL")
	setDuration(&cfg.Executor.Timeout, "PHASEGATE_EXECUTOR_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "PHASEGATE_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.PhaseTTL, "PHASEGATE_CACHE_PHASE_TTL")
	setString(&cfg.Cache.L2Bucket, "PHASEGATE_CACHE_L2_BUCKET")

	// Reviewers: "name:hash,name:hash"
	setReviewers(&cfg.Reviewers, "PHASEGATE_REVIEWERS")

	// OTEL
	setBool(&cfg.OTEL.Enabled, "PHASEGATE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "PHASEGATE_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "PHASEGATE_OTEL_SAMPLE_RATE")

	// MCP
	setBool(&cfg.MCP.Enabled, "PHASEGATE_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "PHASEGATE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "PHASEGATE_MCP_API_KEY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver %q: must be postgres or memory", cfg.Storage.Driver)
	}
	switch cfg.Counter.Backend {
	case "nats":
		if cfg.NATS.URL == "" {
			return errors.New("nats.url is required for counter.backend nats")
		}
		if cfg.Counter.Bucket == "" {
			return errors.New("counter.bucket is required for counter.backend nats")
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			return errors.New("redis.addr is required for counter.backend redis")
		}
	case "memory":
	default:
		return fmt.Errorf("counter.backend %q: must be nats, redis or memory", cfg.Counter.Backend)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.HITL.DefaultLimit < 1 {
		return errors.New("hitl.default_limit must be >= 1")
	}
	if cfg.HITL.SweepInterval <= 0 {
		return errors.New("hitl.sweep_interval must be > 0")
	}
	if cfg.HITL.ReleaseParallelism < 1 {
		return errors.New("hitl.release_parallelism must be >= 1")
	}
	for i, r := range cfg.Reviewers {
		if r.Name == "" || r.KeyHash == "" {
			return fmt.Errorf("reviewers[%d]: name and key_hash are required", i)
		}
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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

func setReviewers(dst *[]Reviewer, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []Reviewer
	for _, part := range strings.Split(v, ",") {
		name, hash, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || name == "" || hash == "" {
			continue
		}
		out = append(out, Reviewer{Name: name, KeyHash: hash})
	}
	*dst = out
}
