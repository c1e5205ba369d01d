package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/config"
	"github.com/suPer8Hu/momento/internal/logger"
)

// app carries what every subcommand needs once the root has run.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "momento",
		Short:         "Prompt lifecycle coordinator for Momento AI",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.AddCommand(newServeCmd(a), newProvisionCmd(a), newDevTokenCmd(a))
	return root
}
