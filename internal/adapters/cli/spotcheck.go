package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/filings-corpus/internal/bootstrap"
	"github.com/kirillkom/filings-corpus/internal/config"
	"github.com/kirillkom/filings-corpus/internal/core/domain"
	"github.com/kirillkom/filings-corpus/internal/core/ports"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/report/xlsx"
)

func spotCheckCmd(root *rootOptions) *cobra.Command {
	var (
		sample  int
		cids    []string
		compare string
		seed    uint64
		report  string
	)
	cmd := &cobra.Command{
		Use:   "spot-check",
		Short: "Re-extract stored records and compare them with the corpus",
		Long: `Re-extract a random sample of stored records (or the CIDs given with --cid)
from their source documents and compare the fresh text with the stored pages.
Exits non-zero when any item does not match.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := root.newApp(cmd, func(cfg *config.Config) {
				if cmd.Flags().Changed("sample") {
					cfg.SpotCheckSample = sample
				}
				if cmd.Flags().Changed("compare") {
					cfg.VerifyCompareMode = compare
				}
				if cmd.Flags().Changed("seed") {
					cfg.VerifySeed = seed
				}
				if cmd.Flags().Changed("report") {
					cfg.ReportXLSX = report
				}
			})
			if err != nil {
				return err
			}
			defer app.Close()
			if app.SpotCheckUC == nil {
				return bootstrap.ErrNoSourceDir
			}

			mode, _ := domain.ParseCompareMode(app.Config.VerifyCompareMode)
			req := ports.SpotCheckRequest{SampleSize: app.Config.SpotCheckSample, CIDs: cids, Mode: mode}
			if req.SampleSize == 0 && len(req.CIDs) == 0 {
				return fmt.Errorf("nothing to check: pass --sample or --cid")
			}

			rep, err := app.SpotCheckUC.SpotCheck(cmd.Context(), req)
			if err != nil {
				return err
			}
			app.ExportMetrics(cmd.Context())
			app.WriteReport(xlsx.Report{SpotCheck: rep})

			if err := printSpotCheck(cmd.OutOrStdout(), rep, root.jsonOutput); err != nil {
				return err
			}
			if !rep.Passed {
				return ErrCheckFailed
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&sample, "sample", "n", 0, "number of random records to check")
	cmd.Flags().StringSliceVar(&cids, "cid", nil, "check these CIDs instead of a random sample")
	cmd.Flags().StringVar(&compare, "compare", "", "comparison mode: strict or normalized")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "fix the sample with this seed (0 = random)")
	cmd.Flags().StringVar(&report, "report", "", "write an XLSX report to this path")
	return cmd
}
