package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/pkg/log"
	"github.com/sandevgo/tuskbridge/pkg/srv"
)

const (
	// exitRestart is EX_TEMPFAIL. A process manager restarts the bridge.
	exitRestart     = 75
	shutdownTimeout = 15 * time.Second
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the bridge",
	Long:  `Starts the configured channel (Telegram or CLI) and relays messages to the backend CLI until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		envFile, err := loadEnv(config.GetRuntimePath())
		if err != nil {
			return err
		}
		appCfg, err := config.LoadAppConfig()
		if err != nil {
			return fmt.Errorf("failed to parse App config: %w", err)
		}
		if err := os.MkdirAll(appCfg.GetRuntimePath(), 0o755); err != nil {
			return fmt.Errorf("failed to create runtime directory: %w", err)
		}

		// the CLI channel owns the terminal
		var out io.Writer
		if !appCfg.IsTelegramSelected() {
			f, err := log.OpenFile(appCfg.GetLogPath())
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		// logger setup
		var flushLog func()
		ctx, flushLog = setupLogger(ctx, out)
		defer flushLog()

		logger := log.FromCtx(ctx)
		if envFile != "" {
			logger.Debug().Str("path", envFile).Msg("loaded .env file")
		}
		logger.Info().Str("channel", appCfg.Channel).Msg("starting tuskbridge")

		var restart atomic.Bool
		services := NewServices(ctx, appCfg, Hooks{
			Stop: cancel,
			Restart: func() {
				restart.Store(true)
				cancel()
			},
		})

		srv.StartServices(ctx, services, func(error) { cancel() })

		shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancelShutdown()
		srv.ShutdownServices(ctx, shutdownCtx, services)

		if restart.Load() {
			logger.Info().Msg("tuskbridge is restarting")
			flushLog()
			os.Exit(exitRestart)
		}
		logger.Info().Msg("tuskbridge has been shut down gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
