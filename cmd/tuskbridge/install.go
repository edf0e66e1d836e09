package main

import (
	"github.com/spf13/cobra"

	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/internal/service/installer"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

var installCmd = &cobra.Command{
	Use:           "install",
	Short:         "Configure TuskBridge interactively",
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Setup logger
		var flushLog func()
		ctx, flushLog = setupLogger(ctx, nil)
		defer flushLog()

		logger := log.FromCtx(ctx)
		logger.Info().Msg("starting installation process")

		// run wizard (includes save step)
		if _, err := installer.RunWizard(); err != nil {
			return err
		}

		logger.Info().Msgf("initialized runtime directory at: %s", config.GetRuntimePath())
		logger.Info().Msg("Installation complete! You can now run 'tuskbridge start'.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
}
