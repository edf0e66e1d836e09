package config

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

const (
	ModeFast    = "fast"
	ModeDefault = "default"
	ModeDeep    = "deep"
)

type BackendConfig struct {
	Name            string `env:"TUSK_BACKEND" envDefault:"claude"`
	Binary          string `env:"TUSK_BACKEND_BINARY"`
	WorkDir         string `env:"TUSK_BACKEND_WORKDIR"`
	SkipPermissions bool   `env:"TUSK_BACKEND_SKIP_PERMISSIONS" envDefault:"true"`
	Mode            string `env:"TUSK_MODE" envDefault:"default"`

	ClaudeFastModel    string `env:"TUSK_CLAUDE_MODEL_FAST" envDefault:"haiku"`
	ClaudeDefaultModel string `env:"TUSK_CLAUDE_MODEL_DEFAULT" envDefault:"sonnet"`
	ClaudeDeepModel    string `env:"TUSK_CLAUDE_MODEL_DEEP" envDefault:"opus"`
	GeminiFastModel    string `env:"TUSK_GEMINI_MODEL_FAST" envDefault:"gemini-2.5-flash"`
	GeminiDefaultModel string `env:"TUSK_GEMINI_MODEL_DEFAULT" envDefault:"gemini-2.5-pro"`
	GeminiDeepModel    string `env:"TUSK_GEMINI_MODEL_DEEP" envDefault:"gemini-2.5-pro"`

	RateLimitDelay      time.Duration   `env:"TUSK_RATE_LIMIT_DELAY" envDefault:"30s"`
	MaxRateLimitRetries int             `env:"TUSK_RATE_LIMIT_RETRIES" envDefault:"5"`
	APIErrorDelays      []time.Duration `env:"TUSK_API_ERROR_DELAYS" envDefault:"30s,60s" envSeparator:","`
	ProbeInterval       time.Duration   `env:"TUSK_PROBE_INTERVAL" envDefault:"20s"`
	StdinGrace          time.Duration   `env:"TUSK_KILL_STDIN_GRACE" envDefault:"5s"`
	TermGrace           time.Duration   `env:"TUSK_KILL_TERM_GRACE" envDefault:"3s"`
}

func LoadBackendConfig() (*BackendConfig, error) {
	c := &BackendConfig{}
	if err := env.Parse(c); err != nil {
		return nil, err
	}
	return c, nil
}

func NewBackendConfig(ctx context.Context) *BackendConfig {
	c, err := LoadBackendConfig()
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Backend config")
	}
	return c
}

// ModelFor maps a mode to the model name of the given backend. Unknown
// modes fall back to the default model.
func (c BackendConfig) ModelFor(backend, mode string) string {
	if backend == "gemini" {
		switch mode {
		case ModeFast:
			return c.GeminiFastModel
		case ModeDeep:
			return c.GeminiDeepModel
		default:
			return c.GeminiDefaultModel
		}
	}

	switch mode {
	case ModeFast:
		return c.ClaudeFastModel
	case ModeDeep:
		return c.ClaudeDeepModel
	default:
		return c.ClaudeDefaultModel
	}
}

func IsValidMode(mode string) bool {
	switch mode {
	case ModeFast, ModeDefault, ModeDeep:
		return true
	}
	return false
}
