package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Agent is cmd/agent's configuration (§6 "Agent: --bind, --comet-addr,
// --output-dir, --comet-secret, -n/--namespace, --ssh-user|--ssh-password|
// --ssh-port, --assign-username|--assign-password").
type Agent struct {
	BindAddr    string `env:"AGENT_BIND_ADDR" envDefault:"0.0.0.0:2214"`
	CometAddr   string `env:"COMET_ADDR" validate:"required"`
	OutputDir   string `env:"OUTPUT_DIR" envDefault:"/var/lib/jiascheduler/output"`
	CometSecret string `env:"COMET_SECRET" validate:"required"`
	Namespace   string `env:"NAMESPACE" envDefault:"default"`

	SSHUser     string `env:"SSH_USER"`
	SSHPassword string `env:"SSH_PASSWORD"`
	SSHPort     int    `env:"SSH_PORT" envDefault:"22"`

	AssignUsername string `env:"ASSIGN_USERNAME"`
	AssignPassword string `env:"ASSIGN_PASSWORD"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"10s"`
	// MaxParallel is the agent-wide fallback applied only when a dispatched
	// job carries no max_parallel of its own (0 disables the fallback too).
	MaxParallel int `env:"MAX_PARALLEL" envDefault:"0"`

	Env      string `env:"ENV" envDefault:"local" validate:"oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
}

// LoadAgent parses env vars and layers the named CLI flag overrides (empty
// string/zero means "flag not passed, keep the env/default value").
func LoadAgent(bindFlag, cometAddrFlag, outputDirFlag, cometSecretFlag, namespaceFlag string, sshUserFlag, sshPasswordFlag string, sshPortFlag int, assignUsernameFlag, assignPasswordFlag string) (*Agent, error) {
	cfg := &Agent{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if bindFlag != "" {
		cfg.BindAddr = bindFlag
	}
	if cometAddrFlag != "" {
		cfg.CometAddr = cometAddrFlag
	}
	if outputDirFlag != "" {
		cfg.OutputDir = outputDirFlag
	}
	if cometSecretFlag != "" {
		cfg.CometSecret = cometSecretFlag
	}
	if namespaceFlag != "" {
		cfg.Namespace = namespaceFlag
	}
	if sshUserFlag != "" {
		cfg.SSHUser = sshUserFlag
	}
	if sshPasswordFlag != "" {
		cfg.SSHPassword = sshPasswordFlag
	}
	if sshPortFlag != 0 {
		cfg.SSHPort = sshPortFlag
	}
	if assignUsernameFlag != "" {
		cfg.AssignUsername = assignUsernameFlag
	}
	if assignPasswordFlag != "" {
		cfg.AssignPassword = assignPasswordFlag
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Agent) SlogLevel() slog.Level {
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
