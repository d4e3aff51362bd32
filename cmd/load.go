package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/taxonomy-cli/internal/ingest"
)

var loadCmd = &cobra.Command{
	Use:   "load <consortium.yaml>",
	Short: "Load projects, investigators and field values from a consortium file",
	Long: "Upserts investigators and projects, links them, and submits every field value " +
		"through the normal edit path so values are normalized, tracked and logged.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := ingest.ReadConsortiumFile(args[0])
		if err != nil {
			return err
		}

		actor, _ := cmd.Flags().GetString("actor")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency == 0 {
			concurrency = cfg.Import.Concurrency
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := ingest.NewLoader(env.Service, actor, concurrency).Load(ctx, c)
		if res != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d investigators, %d projects, %d links, %d fields.\n",
				res.Investigators, res.Projects, res.Links, res.Fields)
			for _, t := range res.Promoted {
				fmt.Fprintf(cmd.OutOrStdout(), "Promoted %s term %q.\n", t.Category, t.Value)
			}
		}
		return err
	},
}

func init() {
	loadCmd.Flags().String("actor", "", "actor recorded on field edits (default agent:import)")
	loadCmd.Flags().Int("concurrency", 0, "projects loaded in parallel (default from config)")
	rootCmd.AddCommand(loadCmd)
}
