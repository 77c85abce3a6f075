package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dealpipe/dealpipe/internal/app"
)

// newServeCommand runs the full ingestion service: scheduler, pipeline,
// and the operational HTTP surface, until interrupted.
func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			application, err := app.New(cfg, log)
			if err != nil {
				return err
			}

			log.Info("starting ingestion service",
				"version", cfg.App.Version,
				"environment", cfg.App.Environment,
				"sources", len(cfg.Sources),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return application.Run(ctx)
		},
	}
}
