package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dealpipe/dealpipe/internal/app"
)

// newIngestCommand runs one source through the full pipeline once and
// exits. The run goes through the same resilience stack and audit trail
// as a scheduled run.
func newIngestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <source>",
		Short: "Run one ingestion pass for a single source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			application, err := app.New(cfg, log)
			if err != nil {
				return err
			}
			defer application.Close()

			return application.Scheduler().RunSource(cmd.Context(), args[0])
		},
	}
}
