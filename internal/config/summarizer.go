package config

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

// SummarizerBackend runs the backend CLI once with the fast model.
const SummarizerBackend = "backend"

type SummarizerConfig struct {
	Provider string        `env:"TUSK_SUMMARIZER" envDefault:"backend"`
	Model    string        `env:"TUSK_SUMMARIZER_MODEL"`
	Timeout  time.Duration `env:"TUSK_SUMMARIZER_TIMEOUT" envDefault:"2m"`

	AnthropicAPIKey     string `env:"TUSK_ANTHROPIC_API_KEY" secret:"true"`
	OpenAIAPIKey        string `env:"TUSK_OPENAI_API_KEY" secret:"true"`
	OpenRouterAPIKey    string `env:"TUSK_OPENROUTER_API_KEY" secret:"true"`
	OllamaAPIKey        string `env:"TUSK_OLLAMA_API_KEY" secret:"true"`
	OllamaBaseURL       string `env:"TUSK_OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	CustomOpenAIBaseURL string `env:"TUSK_CUSTOM_OPENAI_BASE_URL"`
	CustomOpenAIAPIKey  string `env:"TUSK_CUSTOM_OPENAI_API_KEY" secret:"true"`
}

func LoadSummarizerConfig() (*SummarizerConfig, error) {
	c := &SummarizerConfig{}
	if err := env.Parse(c); err != nil {
		return nil, err
	}
	return c, nil
}

func NewSummarizerConfig(ctx context.Context) *SummarizerConfig {
	c, err := LoadSummarizerConfig()
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Summarizer config")
	}
	return c
}
