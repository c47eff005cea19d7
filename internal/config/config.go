package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/promo-service/pkg/config"
)

// Config holds all configuration for the promo service, loaded from
// environment variables.
type Config struct {
	HTTPPort    int    `env:"PROMO_HTTP_PORT" envDefault:"8010"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"promo"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"promo_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"promo_db"`
	PostgresSSL  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// LockTimeout bounds every row-lock wait inside an apply transaction.
	LockTimeout time.Duration `env:"PROMO_LOCK_TIMEOUT" envDefault:"3s"`

	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load parses the configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := pkgconfig.Load(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}
	if cfg.PostgresHost == "" {
		return nil, fmt.Errorf("POSTGRES_HOST is required")
	}
	if cfg.PostgresUser == "" {
		return nil, fmt.Errorf("POSTGRES_USER is required")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS is required")
	}
	if cfg.LockTimeout <= 0 {
		return nil, fmt.Errorf("PROMO_LOCK_TIMEOUT must be positive")
	}
	if cfg.OTELSampleRate < 0 || cfg.OTELSampleRate > 1 {
		return nil, fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0")
	}

	return &cfg, nil
}
