package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"stagepass/internal/platform/config"
	"stagepass/internal/platform/logger"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "stagepass",
		Short:         "Entitlement and security audit service for the venue platform",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("STAGEPASS_CONFIG"), "path to a YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newCredentialsCmd(opts),
	)
	return cmd
}

// load reads the config and builds the process logger from it.
func (o *rootOptions) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format).With("environment", cfg.Environment)
	return cfg, log, nil
}
