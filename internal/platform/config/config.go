// Package config loads process configuration. Defaults come first, then an
// optional YAML file, then STAGEPASS_* environment variables.
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

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// devSigningKey is filled in for development only and refused everywhere else.
const devSigningKey = "dev-session-key-change-in-production"

// Config is the complete process configuration.
type Config struct {
	Environment string `yaml:"environment"`
	Server      Server `yaml:"server"`
	Log         Log    `yaml:"log"`

	// DatabaseURL selects the Postgres stores. Empty means in-memory stores.
	DatabaseURL string `yaml:"database_url"`
	// SeedFile loads principals and tickets into the in-memory directory.
	SeedFile string `yaml:"seed_file"`

	Redis     RedisConfig `yaml:"redis"`
	Kafka     KafkaConfig `yaml:"kafka"`
	Session   Session     `yaml:"session"`
	Audit     Audit       `yaml:"audit"`
	RateLimit RateLimit   `yaml:"rate_limit"`

	StoreTimeout  time.Duration `yaml:"store_timeout"`
	LookupTimeout time.Duration `yaml:"lookup_timeout"`

	// FailOpenOnUpstreamError grants access when the directory is down.
	// Refused in production.
	FailOpenOnUpstreamError bool `yaml:"fail_open_on_upstream_error"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RedisConfig configures the shared rate-limit counters. Empty URL keeps
// counters in memory.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaConfig configures the audit stream. No brokers disables it.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	TopicPrefix string   `yaml:"topic_prefix"`
	Partitions  int32    `yaml:"partitions"`
	Replication int16    `yaml:"replication"`
}

type Session struct {
	SigningKey string `yaml:"signing_key"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

type Audit struct {
	// ChainSecret is the master secret the chain HMAC key is derived from.
	ChainSecret string `yaml:"chain_secret"`
	// StreamID names this instance's chain. Replicas sharing a database need
	// distinct, stable IDs; empty falls back to the hostname.
	StreamID       string        `yaml:"stream_id"`
	BufferSize     int           `yaml:"buffer_size"`
	BatchSize      int           `yaml:"batch_size"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

type RateLimit struct {
	AuthFailures int           `yaml:"auth_failures"`
	Window       time.Duration `yaml:"window"`
}

// Default returns the defaults shared by every environment. It names no
// environment and carries no signing key; both must be configured.
func Default() Config {
	return Config{
		Server: Server{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:    Log{Level: "info", Format: "json"},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		Kafka:   KafkaConfig{TopicPrefix: "stagepass.audit", Partitions: 3, Replication: 1},
		Session: Session{Issuer: "stagepass-identity", Audience: "stagepass"},
		Audit: Audit{
			BufferSize:     10000,
			BatchSize:      100,
			FlushInterval:  500 * time.Millisecond,
			PublishTimeout: 5 * time.Second,
		},
		RateLimit:     RateLimit{AuthFailures: 10, Window: 15 * time.Minute},
		StoreTimeout:  2 * time.Second,
		LookupTimeout: 2 * time.Second,
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if cfg.Development() && cfg.Session.SigningKey == "" {
		cfg.Session.SigningKey = devSigningKey
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsProduction reports whether the process runs in production.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Development reports whether error envelopes may carry details.
func (c Config) Development() bool {
	return c.Environment == EnvDevelopment
}

// Validate rejects configurations that are unsafe or unusable.
func (c Config) Validate() error {
	var errs []error
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	case "":
		errs = append(errs, errors.New("environment is required: set STAGEPASS_ENV or environment"))
	default:
		errs = append(errs, fmt.Errorf("environment %q is not one of development, staging, production", c.Environment))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server addr is required"))
	}
	if c.Session.SigningKey == "" {
		errs = append(errs, errors.New("session signing key is required"))
	}
	if c.Session.SigningKey == devSigningKey && !c.Development() {
		errs = append(errs, errors.New("the development session signing key is only accepted in development"))
	}
	if c.StoreTimeout <= 0 || c.LookupTimeout <= 0 {
		errs = append(errs, errors.New("store and lookup timeouts must be positive"))
	}
	if c.RateLimit.AuthFailures <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit needs a positive failure count and window"))
	}
	if c.IsProduction() {
		if c.FailOpenOnUpstreamError {
			errs = append(errs, errors.New("fail_open_on_upstream_error is not allowed in production"))
		}
		if len(c.Session.SigningKey) < 32 {
			errs = append(errs, errors.New("production requires a session signing key of at least 32 bytes"))
		}
		if c.Audit.ChainSecret == "" {
			errs = append(errs, errors.New("production requires an audit chain secret"))
		}
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("production requires a database url"))
		}
	}
	return errors.Join(errs...)
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup("STAGEPASS_" + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup("STAGEPASS_" + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("STAGEPASS_%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup("STAGEPASS_" + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("STAGEPASS_%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup("STAGEPASS_" + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("STAGEPASS_%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	str("ENV", &c.Environment)
	str("ADDR", &c.Server.Addr)
	duration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("DATABASE_URL", &c.DatabaseURL)
	str("SEED_FILE", &c.SeedFile)
	str("REDIS_URL", &c.Redis.URL)
	integer("REDIS_POOL_SIZE", &c.Redis.PoolSize)
	if v, ok := lookup("STAGEPASS_KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	str("KAFKA_TOPIC_PREFIX", &c.Kafka.TopicPrefix)
	str("SESSION_SIGNING_KEY", &c.Session.SigningKey)
	str("SESSION_ISSUER", &c.Session.Issuer)
	str("SESSION_AUDIENCE", &c.Session.Audience)
	str("AUDIT_CHAIN_SECRET", &c.Audit.ChainSecret)
	str("AUDIT_STREAM_ID", &c.Audit.StreamID)
	integer("AUDIT_BUFFER_SIZE", &c.Audit.BufferSize)
	duration("AUDIT_PUBLISH_TIMEOUT", &c.Audit.PublishTimeout)
	integer("AUTH_FAILURE_LIMIT", &c.RateLimit.AuthFailures)
	duration("AUTH_FAILURE_WINDOW", &c.RateLimit.Window)
	duration("STORE_TIMEOUT", &c.StoreTimeout)
	duration("LOOKUP_TIMEOUT", &c.LookupTimeout)
	boolean("FAIL_OPEN_ON_UPSTREAM_ERROR", &c.FailOpenOnUpstreamError)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
