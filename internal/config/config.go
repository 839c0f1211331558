// Package config provides application configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces environment overrides. A double underscore
// separates nesting levels, e.g. TOMBOLO_SERVER__PORT.
const envPrefix = "TOMBOLO_"

// Config is the root application configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Log         LogConfig         `koanf:"log"`
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	Queue       QueueConfig       `koanf:"queue"`
	RateLimit   RateLimitConfig   `koanf:"ratelimit"`
	Webhooks    WebhooksConfig    `koanf:"webhooks"`
	Mailer      MailerConfig      `koanf:"mailer"`
	Fulfillment FulfillmentConfig `koanf:"fulfillment"`
	CORS        CORSConfig        `koanf:"cors"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DatabaseConfig contains PostgreSQL configuration.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// RedisConfig contains shared store configuration.
type RedisConfig struct {
	Addr      string        `koanf:"addr"`
	Password  string        `koanf:"password"`
	DB        int           `koanf:"db"`
	OpTimeout time.Duration `koanf:"op_timeout"`
}

// QueueConfig contains job queue configuration.
type QueueConfig struct {
	PendingTTL         time.Duration `koanf:"pending_ttl"`
	CompletedTTL       time.Duration `koanf:"completed_ttl"`
	DLQRetention       time.Duration `koanf:"dlq_retention"`
	DefaultMaxAttempts int           `koanf:"default_max_attempts"`
	MaxJobsPerRun      int           `koanf:"max_jobs_per_run"`
	MaxRunTime         time.Duration `koanf:"max_run_time"`
	PollInterval       time.Duration `koanf:"poll_interval"`
}

// RateLimitConfig contains outage-grace tuning for the rate limiter.
type RateLimitConfig struct {
	GraceAllowance  int `koanf:"grace_allowance"`
	GraceMaxEntries int `koanf:"grace_max_entries"`
}

// WebhooksConfig contains payment webhook ingestion configuration.
type WebhooksConfig struct {
	SigningSecret string `koanf:"signing_secret"`
}

// MailerConfig contains SMTP configuration.
type MailerConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
}

// FulfillmentConfig contains the internal fulfillment endpoint used by
// webhook post-processing.
type FulfillmentConfig struct {
	URL            string        `koanf:"url"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RateLimit      float64       `koanf:"rate_limit"`
	Burst          int           `koanf:"burst"`
}

// CORSConfig contains CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// Load reads configuration from an optional YAML file and the
// environment, on top of defaults. Environment variables win.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("config: database.url is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("config: redis.addr is required")
	}
	if c.Webhooks.SigningSecret == "" {
		return errors.New("config: webhooks.signing_secret is required")
	}
	return nil
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 2 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Redis: RedisConfig{
			OpTimeout: 2 * time.Second,
		},
		Queue: QueueConfig{
			PendingTTL:         24 * time.Hour,
			CompletedTTL:       time.Hour,
			DLQRetention:       7 * 24 * time.Hour,
			DefaultMaxAttempts: 3,
			MaxJobsPerRun:      50,
			MaxRunTime:         25 * time.Second,
			PollInterval:       5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			GraceAllowance:  3,
			GraceMaxEntries: 10000,
		},
		Mailer: MailerConfig{
			SMTPPort: 587,
		},
		Fulfillment: FulfillmentConfig{
			URL:            "http://localhost:8081/internal/fulfillment",
			RequestTimeout: 10 * time.Second,
			RateLimit:      20,
			Burst:          5,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}
