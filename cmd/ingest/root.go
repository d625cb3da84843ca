package main

import (
	"github.com/spf13/cobra"

	"go-garment-ingest/internal/logger"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var logLevelFlag string

	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "ingest",
		Short:         "Compress garment photos and strip their backgrounds",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.Logger.SetOutput(ctx.bindStderr(cmd.ErrOrStderr()))
			logger.SetLevel(logLevelFlag)
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newProcessCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
