package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	DatabaseURL         string `env:"DATABASE_URL,required" validate:"required"`
	WorkerCount         int    `env:"WORKER_COUNT" envDefault:"5" validate:"min=1,max=100"`
	PollIntervalSec     int    `env:"POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`
	DispatchIntervalSec int    `env:"DISPATCH_INTERVAL_SEC" envDefault:"5" validate:"min=1,max=60"`

	// SchedulerMaxJobsPerTick bounds how many due schedules ClaimDue returns
	// in a single tick, keeping one slow tick from starving others.
	SchedulerMaxJobsPerTick int `env:"SCHEDULER_MAX_JOBS_PER_TICK" envDefault:"100" validate:"min=1,max=10000"`
	// ScheduleLockTTLSec is the Redis lease TTL guarding one job's fire
	// window — must comfortably exceed one tick's claim-to-publish latency.
	ScheduleLockTTLSec int `env:"SCHEDULE_LOCK_TTL_SEC" envDefault:"30" validate:"min=5,max=600"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	NatsURL        string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NatsStreamName string `env:"NATS_STREAM_NAME" envDefault:"JOB_DISPATCH"`
	NatsMaxDeliver int    `env:"NATS_MAX_DELIVER" envDefault:"5" validate:"min=1,max=50"`

	MinioEndpoint  string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`
	MinioBucket    string `env:"MINIO_BUCKET" envDefault:"job-scheduler"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	// VariableEncryptionKey is a base64-encoded 32-byte key used to
	// encrypt sensitive Variable values at rest; the worker decrypts with
	// it only at resolve time. The default is fixed and insecure — fine
	// for local dev against a throwaway database, never for staging or
	// production, where it's required and validated to actually be set.
	VariableEncryptionKey string `env:"VARIABLE_ENCRYPTION_KEY" envDefault:"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=" validate:"required_if=Env production,required_if=Env staging"`

	// ClerkJWKSURL is read from CLERK_JWKS_URL but nothing uses it; no
	// RS256/JWKS verification is wired.
	ClerkJWKSURL string `env:"CLERK_JWKS_URL"`

	// JWTSecret is the HS256 key that signs magic-link JWTs and verifies
	// Bearer tokens on the manual-trigger route.
	JWTSecret     string `env:"JWT_SECRET"`
	ResendAPIKey  string `env:"RESEND_API_KEY"         validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom    string `env:"RESEND_FROM"            validate:"required_if=Env production,required_if=Env staging"`
	MagicLinkBase string `env:"MAGIC_LINK_BASE_URL"    envDefault:"http://localhost:8080"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// envDefault always fills VariableEncryptionKey, so required_if alone
	// can never fire; check that the variable was actually set.
	if cfg.Env == "staging" || cfg.Env == "production" {
		if _, ok := os.LookupEnv("VARIABLE_ENCRYPTION_KEY"); !ok {
			return nil, fmt.Errorf("invalid config: VARIABLE_ENCRYPTION_KEY must be set when ENV=%s", cfg.Env)
		}
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
