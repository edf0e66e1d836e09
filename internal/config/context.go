package config

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

type ContextConfig struct {
	WindowSize    int `env:"TUSK_CONTEXT_WINDOW" envDefault:"20"`
	CompactAt     int `env:"TUSK_CONTEXT_COMPACT_AT" envDefault:"30"`
	RetentionDays int `env:"TUSK_ARCHIVE_RETENTION_DAYS" envDefault:"30"`
}

type StreamConfig struct {
	FlushInterval time.Duration `env:"TUSK_STREAM_FLUSH_INTERVAL" envDefault:"30s"`
	FlushTimeout  time.Duration `env:"TUSK_STREAM_FLUSH_TIMEOUT" envDefault:"10s"`
}

type QueueConfig struct {
	StuckTimeout time.Duration `env:"TUSK_QUEUE_STUCK_TIMEOUT" envDefault:"5m"`
}

// RuntimeConfig groups the tuning knobs of the turn pipeline.
type RuntimeConfig struct {
	Context ContextConfig
	Stream  StreamConfig
	Queue   QueueConfig
}

func LoadRuntimeConfig() (*RuntimeConfig, error) {
	c := &RuntimeConfig{}
	if err := env.Parse(c); err != nil {
		return nil, err
	}
	if c.Context.CompactAt < c.Context.WindowSize {
		c.Context.CompactAt = c.Context.WindowSize
	}
	return c, nil
}

func NewRuntimeConfig(ctx context.Context) *RuntimeConfig {
	c, err := LoadRuntimeConfig()
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Runtime config")
	}
	return c
}
