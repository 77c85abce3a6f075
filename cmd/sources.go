package cmd

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// newSourcesCommand groups source inspection subcommands.
func newSourcesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect configured sources",
	}
	cmd.AddCommand(newSourcesListCommand())
	return cmd
}

// newSourcesListCommand prints the configured sources as a table.
func newSourcesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			if len(cfg.Sources) == 0 {
				log.Info("no sources configured")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Key", "Name", "Type", "Schedule", "Enabled", "Trusted", "Feed URL"})

			for i := range cfg.Sources {
				src := &cfg.Sources[i]
				t.AppendRow(table.Row{
					src.Key,
					src.Name,
					src.ItemType(),
					src.Schedule,
					src.Enabled,
					src.Trusted,
					src.FeedURL,
				})
			}

			t.Render()
			return nil
		},
	}
}
