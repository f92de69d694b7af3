package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"concord"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	RedisAddr   string `env:"REDIS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	PollInterval     time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"2s"`
	SweepBatchSize   int           `env:"EXPIRY_SWEEP_BATCH_SIZE" envDefault:"200"`
	SweepConcurrency int           `env:"EXPIRY_SWEEP_CONCURRENCY" envDefault:"4"`
	OutboxBatchSize  int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	MaxAttempts      int           `env:"CONSENSUS_MAX_ATTEMPTS" envDefault:"5"`
	LockLease        time.Duration `env:"CONSENSUS_LOCK_LEASE" envDefault:"10s"`

	PolicyPresetFile string `env:"POLICY_PRESET_FILE"`

	TraceExporter string `env:"TRACE_EXPORTER" envDefault:"none"`
	OTLPEndpoint  string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads optional .env files and then the process environment. Values
// already set in the environment win over .env entries.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env", ".env.local"}
	}
	if err := loadEnvFiles(envFiles); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_POLL_INTERVAL must be positive, got %s", c.PollInterval))
	}
	if c.SweepBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("EXPIRY_SWEEP_BATCH_SIZE must be positive, got %d", c.SweepBatchSize))
	}
	if c.SweepConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("EXPIRY_SWEEP_CONCURRENCY must be positive, got %d", c.SweepConcurrency))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("OUTBOX_BATCH_SIZE must be positive, got %d", c.OutboxBatchSize))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("CONSENSUS_MAX_ATTEMPTS must be positive, got %d", c.MaxAttempts))
	}
	switch strings.ToLower(strings.TrimSpace(c.TraceExporter)) {
	case "", "none", "stdout":
	case "otlp":
		if strings.TrimSpace(c.OTLPEndpoint) == "" {
			errs = append(errs, errors.New("OTEL_EXPORTER_OTLP_ENDPOINT is required when TRACE_EXPORTER=otlp"))
		}
	default:
		errs = append(errs, fmt.Errorf("TRACE_EXPORTER must be none, stdout or otlp, got %q", c.TraceExporter))
	}
	return errors.Join(errs...)
}

func loadEnvFiles(files []string) error {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}
