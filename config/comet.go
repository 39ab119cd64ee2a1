package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Comet is cmd/comet's configuration (§6 "Comet: --bind, -r redis_url,
// --secret"). Comet carries no config file of its own — it is a stateless
// relay, so flags/env are enough.
type Comet struct {
	CometID     string        `env:"COMET_ID" validate:"required"`
	BindAddr    string        `env:"COMET_BIND_ADDR" envDefault:"0.0.0.0:3000" validate:"required"`
	RedisURL    string        `env:"REDIS_URL" validate:"required"`
	Secret      string        `env:"COMET_SECRET" validate:"required"`
	RoutingTTL  time.Duration `env:"ROUTING_TTL" envDefault:"30s"`
	MetricsAddr string        `env:"METRICS_ADDR" envDefault:":9090"`
	Env         string        `env:"ENV" envDefault:"local" validate:"oneof=local staging production"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
}

// LoadComet parses env vars, then applies bindFlag/redisFlag/secretFlag
// overrides when non-empty, mirroring the CLI flags named in §6.
func LoadComet(bindFlag, redisFlag, secretFlag string) (*Comet, error) {
	cfg := &Comet{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if bindFlag != "" {
		cfg.BindAddr = bindFlag
	}
	if redisFlag != "" {
		cfg.RedisURL = redisFlag
	}
	if secretFlag != "" {
		cfg.Secret = secretFlag
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Comet) SlogLevel() slog.Level {
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
