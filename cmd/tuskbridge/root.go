package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/internal/service/ui"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

var (
	debug bool
)

var rootCmd = &cobra.Command{
	Use:     "tuskbridge",
	Short:   "TuskBridge: chat with a coding agent CLI from your messenger",
	Long:    `TuskBridge relays messages between Telegram (or a terminal) and the claude or gemini CLI, keeping a compacted conversation context between turns.`,
	Version: core.BridgeVersion,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags available to all subcommands
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", config.IsDebug(), "enable debug logging")
	CustomizeHelp(rootCmd)
}

func setupLogger(ctx context.Context, out io.Writer) (context.Context, func()) {
	isDebug := debug || config.IsDebug()
	return log.NewContextWithLogger(ctx, isDebug, out)
}

// loadEnv loads <runtime>/.env if present. Variables already set in the
// process environment win.
func loadEnv(runtimePath string) (string, error) {
	envFile := filepath.Join(runtimePath, ".env")

	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	if err := godotenv.Load(envFile); err != nil {
		return "", fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return envFile, nil
}

func CustomizeHelp(rootCmd *cobra.Command) {
	cobra.AddTemplateFunc("StyleTitle", func(s string) string { return ui.TitleStyle.Render(s) })
	cobra.AddTemplateFunc("StyleUsage", func(s string) string { return ui.UsageStyle.Render(s) })
	cobra.AddTemplateFunc("StyleFlag", func(s string) string { return ui.FlagStyle.Render(s) })
	cobra.AddTemplateFunc("StyleDesc", func(s string) string { return ui.DescStyle.Render(s) })

	template := `
{{StyleTitle "USAGE"}}
  {{StyleUsage .UseLine}}
{{if gt (len .Commands) 0}}{{StyleTitle "AVAILABLE COMMANDS"}}
{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding}} {{StyleDesc .Short}}{{end}}
{{end}}{{end}}
{{if .HasAvailableLocalFlags}}{{StyleTitle "FLAGS"}}
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces | StyleFlag}}
{{end}}
`
	rootCmd.SetHelpTemplate(template)
}
