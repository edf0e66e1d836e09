package llm

import (
	"context"
	"fmt"

	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderCustom     = "custom"
)

var defaultModels = map[string]string{
	ProviderOpenAI:     "gpt-4o-mini",
	ProviderAnthropic:  "claude-3-5-haiku-latest",
	ProviderOpenRouter: "openai/gpt-4o-mini",
	ProviderOllama:     "llama3.1",
}

// NewProvider creates the HTTP summarization provider named by cfg.Provider.
func NewProvider(ctx context.Context, cfg *config.SummarizerConfig) (core.AIProvider, error) {
	model := cfg.Model
	if model == "" {
		model = defaultModels[cfg.Provider]
	}

	log.FromCtx(ctx).Info().
		Str("provider", cfg.Provider).
		Str("model", model).
		Msg("starting llm provider")

	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAI(cfg.OpenAIAPIKey, model), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg.AnthropicAPIKey, model), nil
	case ProviderOpenRouter:
		return NewOpenRouter(cfg.OpenRouterAPIKey, model), nil
	case ProviderOllama:
		return NewOllama(cfg.OllamaBaseURL, cfg.OllamaAPIKey, model), nil
	case ProviderCustom:
		if cfg.CustomOpenAIBaseURL == "" {
			return nil, fmt.Errorf("custom provider needs TUSK_CUSTOM_OPENAI_BASE_URL")
		}
		if model == "" {
			return nil, fmt.Errorf("custom provider needs TUSK_SUMMARIZER_MODEL")
		}
		return NewCustomOpenAI(cfg.CustomOpenAIBaseURL, cfg.CustomOpenAIAPIKey, model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
