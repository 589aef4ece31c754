package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the index with the note log",
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Discard the index and rebuild it from every note",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		quiet, _ := cmd.Flags().GetBool("quiet")
		var progress func(done, total int)
		if !quiet {
			progress = func(done, total int) {
				fmt.Printf("\rreindexing %d/%d notes", done, total)
				if done == total {
					fmt.Println()
				}
			}
		}

		stats, err := a.reconcile.FullReindex(cmd.Context(), progress)
		if err != nil {
			return err
		}
		a.optimizer.InvalidateAll()
		return printJSON(stats)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Report divergence between the log and the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.reconcile.VerifyIndex(cmd.Context())
		if err != nil {
			return err
		}
		if err := printJSON(report); err != nil {
			return err
		}
		if !report.Consistent {
			return fmt.Errorf("index diverges from the log; run 'engram sync repair'")
		}
		return nil
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Re-sync missing rows and remove orphaned ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.reconcile.RepairIndex(cmd.Context())
		if err != nil {
			return err
		}
		a.optimizer.InvalidateAll()
		return printJSON(stats)
	},
}

func init() {
	reindexCmd.Flags().Bool("quiet", false, "suppress progress output")

	syncCmd.AddCommand(reindexCmd)
	syncCmd.AddCommand(verifyCmd)
	syncCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(syncCmd)
}
