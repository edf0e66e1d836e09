package main

import (
	"context"
	"errors"
	"os"

	"github.com/sandevgo/tuskbridge/configs"
	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/internal/providers/backend"
	"github.com/sandevgo/tuskbridge/internal/providers/llm"
	"github.com/sandevgo/tuskbridge/internal/providers/mcp"
	"github.com/sandevgo/tuskbridge/internal/service/agent"
	"github.com/sandevgo/tuskbridge/internal/service/command"
	"github.com/sandevgo/tuskbridge/internal/service/memory"
	"github.com/sandevgo/tuskbridge/internal/service/outbox"
	"github.com/sandevgo/tuskbridge/internal/service/state"
	"github.com/sandevgo/tuskbridge/internal/transport/cli"
	"github.com/sandevgo/tuskbridge/internal/transport/telegram"
	"github.com/sandevgo/tuskbridge/pkg/log"
	"github.com/sandevgo/tuskbridge/pkg/srv"
)

// Hooks let services end the process.
type Hooks struct {
	Stop    func()
	Restart func()
}

func NewServices(ctx context.Context, appCfg *config.AppConfig, hooks Hooks) []srv.Service {
	logger := log.FromCtx(ctx)
	services := make([]srv.Service, 0)

	// 1. Configuration
	backendCfg := config.NewBackendConfig(ctx)
	runtimeCfg := config.NewRuntimeConfig(ctx)
	summarizerCfg := config.NewSummarizerConfig(ctx)

	// 2. Toolbox registration
	mcpPath := initMCP(ctx, appCfg)

	// 3. Backend supervisor
	opts, err := backend.OptionsFromConfig(backendCfg, mcpPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure backend")
	}
	sup := backend.NewSupervisor(opts)
	globalState := state.NewGlobalState(backendCfg, sup, appCfg.GetEnvPath())

	// 4. Context store
	summarizer, err := initSummarizer(ctx, backendCfg, summarizerCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize summarizer")
	}
	store := memory.NewStore(appCfg.GetRuntimePath(), runtimeCfg.Context, summarizer, memory.WithPreamble(configs.Preamble))
	if err := store.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load context store")
	}
	services = append(services, memory.NewPreambleWatcher(appCfg.GetSystemPath(), configs.Preamble, store.SetPreamble))

	// 5. Transport
	messenger, cleanup, err := initMessenger(ctx, appCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize transport")
	}
	if cleanup != nil {
		services = append(services, cleanup)
	}

	// 6. Agent and commands
	ag := agent.New(messenger, sup, store, outbox.New(appCfg.GetOutboxPath()), agent.Options{
		Stream:              runtimeCfg.Stream,
		Queue:               runtimeCfg.Queue,
		InboxDir:            appCfg.GetInboxPath(),
		AvatarPath:          appCfg.AvatarPath,
		MaxRateLimitRetries: backendCfg.MaxRateLimitRetries,
		OnRestart:           hooks.Restart,
	})
	ag.SetRouter(command.NewRouter(command.Deps{
		Store:   store,
		Backend: sup,
		Queue:   ag,
		State:   globalState,
	}))

	// the process ends with the channel, e.g. "exit" in the CLI
	services = append(services, srv.NewFunc(func(ctx context.Context) error {
		defer hooks.Stop()
		return ag.Start(ctx)
	}, ag.Shutdown))

	logger.Info().
		Str("backend", sup.Backend()).
		Str("model", sup.Model()).
		Str("mode", globalState.Mode()).
		Msg("bridge configured")
	return services
}

// initMCP registers the toolbox server in mcp_config.json. A failure only
// disables the toolbox.
func initMCP(ctx context.Context, cfg *config.AppConfig) string {
	logger := log.FromCtx(ctx)

	exe, err := os.Executable()
	if err != nil {
		logger.Warn().Err(err).Msg("cannot resolve executable, toolbox disabled")
		return ""
	}
	storage := mcp.NewFileStorage(cfg.GetMCPConfigPath())
	changed, err := storage.EnsureBridge(ctx, exe, cfg.GetRuntimePath())
	if err != nil {
		logger.Warn().Err(err).Msg("failed to register toolbox, toolbox disabled")
		return ""
	}
	if changed {
		logger.Info().Str("path", storage.Path()).Msg("toolbox registered in mcp config")
	}
	return storage.Path()
}

func initSummarizer(ctx context.Context, backendCfg *config.BackendConfig, cfg *config.SummarizerConfig) (memory.Summarizer, error) {
	var ai core.AIProvider
	if cfg.Provider == config.SummarizerBackend || cfg.Provider == "" {
		profile, err := backend.LookupProfile(backendCfg.Name)
		if err != nil {
			return nil, err
		}
		model := cfg.Model
		if model == "" {
			model = backendCfg.ModelFor(profile.Name, config.ModeFast)
		}
		ai = &backend.OneShot{
			Profile: profile,
			Binary:  backendCfg.Binary,
			WorkDir: backendCfg.WorkDir,
			Model:   model,
		}
	} else {
		p, err := llm.NewProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		ai = p
	}
	log.FromCtx(ctx).Debug().Str("provider", cfg.Provider).Msg("summarizer ready")
	return memory.NewLLMSummarizer(ai, cfg.Timeout), nil
}

func initMessenger(ctx context.Context, cfg *config.AppConfig) (core.Messenger, srv.Service, error) {
	switch cfg.Channel {
	case config.ChannelTelegram:
		bot, err := telegram.NewBot(config.NewTelegramConfig(ctx))
		if err != nil {
			return nil, nil, err
		}
		return bot, nil, nil
	case config.ChannelCLI:
		rl, err := cli.NewReadLine(cfg)
		if err != nil {
			return nil, nil, err
		}
		return rl, srv.NewCleanup(func() error { return rl.Shutdown(context.Background()) }), nil
	}
	return nil, nil, errors.New("unknown channel " + cfg.Channel)
}
