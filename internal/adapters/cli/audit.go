package cli

import (
	"github.com/spf13/cobra"

	"github.com/kirillkom/filings-corpus/internal/config"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/report/xlsx"
)

func auditCmd(root *rootOptions) *cobra.Command {
	var report string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check the shard directory for duplicate CIDs and unreadable shards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := root.newApp(cmd, func(cfg *config.Config) {
				if cmd.Flags().Changed("report") {
					cfg.ReportXLSX = report
				}
			})
			if err != nil {
				return err
			}
			defer app.Close()

			rep, err := app.AuditUC.Audit(cmd.Context())
			if err != nil {
				return err
			}
			app.WriteReport(xlsx.Report{Audit: rep})
			if err := printAudit(cmd.OutOrStdout(), rep, root.jsonOutput); err != nil {
				return err
			}
			if !rep.Healthy() {
				return ErrCheckFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&report, "report", "", "write an XLSX report to this path")
	return cmd
}
