package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/filings-corpus/internal/bootstrap"
	"github.com/kirillkom/filings-corpus/internal/config"
)

func runCmd(root *rootOptions) *cobra.Command {
	var (
		limit     int
		spotCheck int
		workers   int
		report    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract new source documents into a new shard",
		Long: `Scan the source directory, extract every document whose content is not yet in
the corpus and write the results as one new shard. Documents that fail
extraction are reported and retried on the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := root.newApp(cmd, func(cfg *config.Config) {
				if cmd.Flags().Changed("limit") {
					cfg.Limit = limit
				}
				if cmd.Flags().Changed("spot-check") {
					cfg.SpotCheckSample = spotCheck
				}
				if cmd.Flags().Changed("workers") {
					cfg.Workers = workers
				}
				if cmd.Flags().Changed("report") {
					cfg.ReportXLSX = report
				}
			})
			if err != nil {
				return err
			}
			defer app.Close()
			if app.Supervisor == nil {
				return bootstrap.ErrNoSourceDir
			}

			status := app.Supervisor.RunOnce(cmd.Context(), "cli")
			if err := printRunStatus(cmd.OutOrStdout(), status, root.jsonOutput); err != nil {
				return err
			}
			if status.Error != "" {
				return fmt.Errorf("run failed: %s", status.Error)
			}
			if !status.OK() {
				return ErrCheckFailed
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "process at most this many new documents (0 = all)")
	cmd.Flags().IntVar(&spotCheck, "spot-check", 0, "re-extract this many random records after the run")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent extractions")
	cmd.Flags().StringVar(&report, "report", "", "write an XLSX report to this path")
	return cmd
}
