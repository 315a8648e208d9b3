package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/phiberoptick/dockhand/config"
	"github.com/phiberoptick/dockhand/logger"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dockhand",
	Short: "Vulnerability-gated Docker container updates",
	Long: "Dockhand pulls new images for running containers, optionally gates the\n" +
		"swap behind a vulnerability scan, and recreates containers in place.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "set log level (debug, info, warn, error)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
