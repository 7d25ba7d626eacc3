package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errLedgerDisabled = errors.New("failure ledger is disabled (ledger_driver: none or unavailable)")

func failuresCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List documents that failed extraction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := root.newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			if app.Ledger == nil {
				return errLedgerDisabled
			}

			entries, err := app.Ledger.List(cmd.Context())
			if err != nil {
				return err
			}
			return printFailures(cmd.OutOrStdout(), entries, root.jsonOutput)
		},
	}
	cmd.AddCommand(failuresResetCmd(root))
	return cmd
}

func failuresResetCmd(root *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reset [CID...]",
		Short: "Forget recorded failures so the documents are retried",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("pass CIDs to reset or --all")
			}
			app, err := root.newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			if app.Ledger == nil {
				return errLedgerDisabled
			}

			cids := args
			if all {
				entries, err := app.Ledger.List(cmd.Context())
				if err != nil {
					return err
				}
				cids = make([]string, 0, len(entries))
				for _, e := range entries {
					cids = append(cids, e.CID)
				}
			}
			if err := app.Ledger.Clear(cmd.Context(), cids...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d failure(s)\n", len(cids))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "reset every recorded failure")
	return cmd
}
