package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// ConsoleFile is the shape of console.toml (§6 "Configuration"). Flags
// override file values the way the teacher's env.Parse overrides defaults —
// file first, then CLI flags win.
type ConsoleFile struct {
	Debug       bool   `toml:"debug"`
	BindAddr    string `toml:"bind_addr"`
	APIURL      string `toml:"api_url"`
	RedisURL    string `toml:"redis_url"`
	CometSecret string `toml:"comet_secret"`
	DatabaseURL string `toml:"database_url"`

	Encrypt struct {
		PrivateKey string `toml:"private_key"`
	} `toml:"encrypt"`

	Admin struct {
		Username string `toml:"username"`
		Password string `toml:"password"`
	} `toml:"admin"`

	// Comets is the static comet_id -> address book the dispatcher's
	// CometForwarder uses to reach each Comet's /internal/forward endpoint.
	// The spec names no dynamic Comet registration protocol, so a static,
	// operator-maintained list is the simplest faithful resolution (see
	// DESIGN.md).
	Comets []CometEntry `toml:"comets"`
}

type CometEntry struct {
	ID   string `toml:"id"`
	Addr string `toml:"addr"`
}

// Console is the fully-resolved configuration for cmd/console, merging
// console.toml with environment overrides and validated defaults.
type Console struct {
	Debug       bool   `validate:"-"`
	BindAddr    string `env:"CONSOLE_BIND_ADDR" validate:"required"`
	APIURL      string `env:"CONSOLE_API_URL"`
	RedisURL    string `env:"REDIS_URL" validate:"required"`
	CometSecret string `env:"COMET_SECRET" validate:"required"`
	DatabaseURL string `env:"DATABASE_URL" validate:"required"`

	EncryptPrivateKey string `env:"ENCRYPT_PRIVATE_KEY"`
	AdminUsername     string `env:"ADMIN_USERNAME"`
	AdminPassword     string `env:"ADMIN_PASSWORD"`

	JWTSecret  string `env:"JWT_SECRET" validate:"required"`
	JWKSURL    string `env:"JWKS_URL"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	Env           string `env:"ENV" envDefault:"local" validate:"oneof=local staging production"`
	ResendAPIKey  string `env:"RESEND_API_KEY"`
	ResendFrom    string `env:"RESEND_FROM"`
	MagicLinkBase string `env:"MAGIC_LINK_BASE_URL" envDefault:"http://localhost:8080"`
	OpsNotifyTo   string `env:"OPS_NOTIFY_TO"`

	RoutingTTL time.Duration `env:"ROUTING_TTL" envDefault:"30s"`
	LeaseTTL   time.Duration `env:"LEASE_TTL" envDefault:"30s"`

	Comets map[string]string // comet_id -> base URL
}

// LoadConsole reads configPath (console.toml), then layers environment
// overrides and validates the result. bindAddrFlag, when non-empty, wins
// over both the file and the environment (§6 "--bind-addr").
func LoadConsole(configPath, bindAddrFlag string) (*Console, error) {
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		configPath = filepath.Join(home, ".jiascheduler", "console.toml")
	}

	var file ConsoleFile
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, &file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat %s: %w", configPath, err)
	}

	cfg := &Console{
		Debug:             file.Debug,
		BindAddr:          file.BindAddr,
		APIURL:            file.APIURL,
		RedisURL:          file.RedisURL,
		CometSecret:       file.CometSecret,
		DatabaseURL:       file.DatabaseURL,
		EncryptPrivateKey: file.Encrypt.PrivateKey,
		AdminUsername:     file.Admin.Username,
		AdminPassword:     file.Admin.Password,
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if bindAddrFlag != "" {
		cfg.BindAddr = bindAddrFlag
	}

	cfg.Comets = make(map[string]string, len(file.Comets))
	for _, c := range file.Comets {
		cfg.Comets[c.ID] = c.Addr
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts LogLevel to a slog.Level.
func (c *Console) SlogLevel() slog.Level {
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
