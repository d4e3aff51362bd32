package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxonomy-cli/internal/model"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects and investigators",
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		projects, err := env.Service.ListProjects(ctx)
		if err != nil {
			return eris.Wrap(err, "project list")
		}
		if len(projects) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No projects found.")
			return nil
		}
		formatProjects(cmd.OutOrStdout(), projects)
		return nil
	},
}

var projectAddCmd = &cobra.Command{
	Use:   "add <grant-number>",
	Short: "Create or update a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		title, _ := cmd.Flags().GetString("title")
		org, _ := cmd.Flags().GetString("organization")

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		p := model.Project{GrantNumber: args[0], Title: title, Organization: org}
		if err := env.Service.UpsertProject(ctx, p); err != nil {
			return eris.Wrap(err, "project add")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved project %s.\n", args[0])
		return nil
	},
}

var projectLinkCmd = &cobra.Command{
	Use:   "link <grant-number> <investigator-id>",
	Short: "Attach an investigator to a project, creating the investigator if needed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		if name != "" {
			if err := env.Service.UpsertInvestigator(ctx, model.Investigator{ID: args[1], Name: name}); err != nil {
				return eris.Wrap(err, "project link")
			}
		}
		link := model.ProjectInvestigator{GrantNumber: args[0], InvestigatorID: args[1], Role: role}
		if err := env.Service.LinkInvestigator(ctx, link); err != nil {
			return eris.Wrap(err, "project link")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Linked %s to %s.\n", args[1], args[0])
		return nil
	},
}

func init() {
	projectAddCmd.Flags().String("title", "", "project title")
	projectAddCmd.Flags().String("organization", "", "funded organization")

	projectLinkCmd.Flags().String("name", "", "investigator name; creates or updates the investigator")
	projectLinkCmd.Flags().String("role", model.DefaultInvestigatorRole, "investigator role on the project")

	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectLinkCmd)
	rootCmd.AddCommand(projectCmd)
}

func formatProjects(out io.Writer, projects []model.Project) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "GRANT\tTITLE\tORGANIZATION")
	_, _ = fmt.Fprintln(w, "-----\t-----\t------------")
	for _, p := range projects {
		title := p.Title
		if len(title) > 50 {
			title = title[:47] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", p.GrantNumber, title, p.Organization)
	}
	_ = w.Flush()
}
