package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/taxonomy-cli/internal/maintenance"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal maintenance worker",
	Long: "Polls the maintenance task queue and registers the nightly reconcile-and-sweep schedule. " +
		"With --once, starts one maintenance workflow, waits for it, and prints the result.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		once, _ := cmd.Flags().GetBool("once")
		skipReconcile, _ := cmd.Flags().GetBool("skip-reconcile")
		noSchedule, _ := cmd.Flags().GetBool("no-schedule")

		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		c, err := maintenance.Dial(ctx, cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		if once {
			res, err := maintenance.RunOnce(ctx, c, cfg.Temporal, maintenance.Input{SkipReconcile: skipReconcile})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		if !noSchedule {
			if err := maintenance.EnsureSchedule(ctx, c, cfg.Temporal); err != nil {
				zap.L().Warn("maintenance schedule not created", zap.Error(err))
			}
		}

		return maintenance.RunWorker(ctx, c, cfg.Temporal, &maintenance.Activities{Engine: env.Service})
	},
}

func init() {
	workerCmd.Flags().Bool("once", false, "run one maintenance workflow and exit")
	workerCmd.Flags().Bool("skip-reconcile", false, "with --once, only sweep")
	workerCmd.Flags().Bool("no-schedule", false, "do not create the nightly schedule")
	rootCmd.AddCommand(workerCmd)
}
