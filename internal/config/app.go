package config

import (
	"context"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

const (
	ChannelTelegram = "telegram"
	ChannelCLI      = "cli"
)

type AppConfig struct {
	RuntimePath string `env:"TUSK_RUNTIME_PATH" envDefault:".tuskbridge"`
	Channel     string `env:"TUSK_CHANNEL" envDefault:"telegram"`
	AvatarPath  string `env:"TUSK_AVATAR_PATH"`
}

func LoadAppConfig() (*AppConfig, error) {
	c := &AppConfig{}
	if err := env.Parse(c); err != nil {
		return nil, err
	}
	c.RuntimePath = resolveRuntimePath(c.RuntimePath)
	return c, nil
}

func NewAppConfig(ctx context.Context) *AppConfig {
	c, err := LoadAppConfig()
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse App config")
	}
	return c
}

func (c AppConfig) IsTelegramSelected() bool {
	return c.Channel == ChannelTelegram
}

func (c AppConfig) GetRuntimePath() string {
	return c.RuntimePath
}

func (c AppConfig) GetSystemPath() string {
	return filepath.Join(c.RuntimePath, "SYSTEM.md")
}

func (c AppConfig) GetMCPConfigPath() string {
	return filepath.Join(c.RuntimePath, "mcp_config.json")
}

func (c AppConfig) GetInboxPath() string {
	return filepath.Join(c.RuntimePath, "inbox")
}

func (c AppConfig) GetOutboxPath() string {
	return filepath.Join(c.RuntimePath, "outbox")
}

func (c AppConfig) GetLogPath() string {
	return filepath.Join(c.RuntimePath, "tuskbridge.log")
}

func (c AppConfig) GetEnvPath() string {
	return filepath.Join(c.RuntimePath, ".env")
}
