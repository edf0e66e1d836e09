package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/pkg/env"
)

var showSecrets bool

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadEnv(config.GetRuntimePath()); err != nil {
			return err
		}

		app, err := config.LoadAppConfig()
		if err != nil {
			return err
		}
		backendCfg, err := config.LoadBackendConfig()
		if err != nil {
			return err
		}
		runtimeCfg, err := config.LoadRuntimeConfig()
		if err != nil {
			return err
		}
		summarizerCfg, err := config.LoadSummarizerConfig()
		if err != nil {
			return err
		}
		cfgs := []any{app, backendCfg, runtimeCfg, summarizerCfg}
		if app.IsTelegramSelected() {
			tg, err := config.LoadTelegramConfig()
			if err != nil {
				return err
			}
			cfgs = append(cfgs, tg)
		}

		return printEnv(cmd, !showSecrets, cfgs...)
	},
}

func printEnv(cmd *cobra.Command, redact bool, cfgs ...any) error {
	for _, c := range cfgs {
		out, err := env.MarshalEnv(c, redact)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
	}
	return nil
}

func init() {
	envCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print API keys and tokens unredacted")
	rootCmd.AddCommand(envCmd)
}
