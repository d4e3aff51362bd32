package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Build and query the project knowledge graph",
}

var graphBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the graph and print it as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		g, err := env.Service.GetGraph(ctx)
		if err != nil {
			return eris.Wrap(err, "graph build")
		}
		if summary, _ := cmd.Flags().GetBool("summary"); summary {
			fmt.Fprintf(cmd.OutOrStdout(), "%d nodes, %d edges, built %s\n",
				len(g.Nodes), len(g.Edges), g.BuiltAt.Format("2006-01-02 15:04:05"))
			return nil
		}
		return printJSON(cmd.OutOrStdout(), g)
	},
}

var graphSharedCmd = &cobra.Command{
	Use:   "shared <grant-number>",
	Short: "List nodes a project shares with other projects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		shared, err := env.Service.GetSharedConnections(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "graph shared")
		}
		return printJSON(cmd.OutOrStdout(), shared)
	},
}

var graphNeighborsCmd = &cobra.Command{
	Use:   "neighbors <node-id>",
	Short: "List nodes adjacent to a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		neighbors, ok, err := env.Service.Neighbors(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "graph neighbors")
		}
		if !ok {
			return eris.Errorf("graph neighbors: unknown node %q", args[0])
		}
		return printJSON(cmd.OutOrStdout(), neighbors)
	},
}

var graphExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Mirror the graph into Neo4j",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Service.ExportGraph(ctx); err != nil {
			return eris.Wrap(err, "graph export")
		}
		zap.L().Info("graph exported to neo4j", zap.String("database", cfg.Neo4j.Database))
		fmt.Fprintln(cmd.OutOrStdout(), "Graph exported.")
		return nil
	},
}

func init() {
	graphBuildCmd.Flags().Bool("summary", false, "print node and edge counts only")

	graphCmd.AddCommand(graphBuildCmd)
	graphCmd.AddCommand(graphSharedCmd)
	graphCmd.AddCommand(graphNeighborsCmd)
	graphCmd.AddCommand(graphExportCmd)
	rootCmd.AddCommand(graphCmd)
}
