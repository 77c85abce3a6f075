// Package cmd implements the dealpipe command-line interface: the
// long-running ingestion service, one-shot manual ingestion, and source
// inspection.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dealpipe/dealpipe/internal/config"
	"github.com/dealpipe/dealpipe/internal/logger"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug forces debug-level logging regardless of configuration.
	debug bool

	rootCmd = &cobra.Command{
		Use:   "dealpipe",
		Short: "Deal and coupon ingestion service",
		Long:  `Polls external deal and coupon feeds on a schedule, deduplicates, enriches, and persists items for moderation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newIngestCommand())
	rootCmd.AddCommand(newSourcesCommand())
	rootCmd.AddCommand(newVersionCommand())
}

// setup loads configuration and builds the logger shared by subcommands.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if debug || cfg.App.Debug {
		cfg.Logging.Level = "debug"
	}
	if cfg.App.Environment == "development" {
		cfg.Logging.Development = true
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}

	return cfg, log, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, _, err := setup()
			version := "unknown"
			if err == nil {
				version = cfg.App.Version
			}
			fmt.Printf("dealpipe version %s\n", version)
		},
	}
}
