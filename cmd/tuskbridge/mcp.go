package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/internal/providers/mcp"
	"github.com/sandevgo/tuskbridge/internal/service/outbox"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

var mcpCmd = &cobra.Command{
	Use:    "mcp",
	Short:  "Serve the bridge toolbox over stdio (started by the backend)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if _, err := loadEnv(config.GetRuntimePath()); err != nil {
			return err
		}
		appCfg, err := config.LoadAppConfig()
		if err != nil {
			return err
		}

		// stdout carries the protocol
		var flushLog func()
		ctx, flushLog = setupLogger(ctx, os.Stderr)
		defer flushLog()

		log.FromCtx(ctx).Debug().Str("outbox", appCfg.GetOutboxPath()).Msg("serving toolbox")
		return mcp.NewToolbox(outbox.New(appCfg.GetOutboxPath())).Serve(ctx, os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
