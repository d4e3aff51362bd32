package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Run promotion maintenance in-process",
}

var promoteSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Promote every custom value that has reached the threshold",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.SweepPromotions(ctx)
		if err != nil {
			return eris.Wrap(err, "promote sweep")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Evaluated %d rows, promoted %d.\n", res.Evaluated, len(res.Promoted))
		for _, t := range res.Promoted {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", t.Category, t.Value)
		}
		return nil
	},
}

var promoteReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair promoted values that are missing from the vocabulary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Service.Reconcile(ctx)
		if err != nil {
			return eris.Wrap(err, "promote reconcile")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), report)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Repaired %d, orphaned %d.\n", len(report.Repaired), len(report.Orphaned))
		return nil
	},
}

func init() {
	promoteReconcileCmd.Flags().Bool("json", false, "print the full report as JSON")

	promoteCmd.AddCommand(promoteSweepCmd)
	promoteCmd.AddCommand(promoteReconcileCmd)
	rootCmd.AddCommand(promoteCmd)
}
