package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxonomy-cli/internal/model"
)

var provenanceCmd = &cobra.Command{
	Use:   "provenance",
	Short: "Query the metadata change log",
}

// -- provenance query --

var provenanceQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List provenance events, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		entity, _ := cmd.Flags().GetString("entity")
		field, _ := cmd.Flags().GetString("field")
		actor, _ := cmd.Flags().GetString("actor")
		since, _ := cmd.Flags().GetDuration("since")
		page, _ := cmd.Flags().GetInt("page")
		pageSize, _ := cmd.Flags().GetInt("page-size")

		filter := model.ProvenanceFilter{EntityID: entity, FieldName: field, Actor: actor}
		if since > 0 {
			t := time.Now().Add(-since)
			filter.Since = &t
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.GetProvenance(ctx, filter, page, pageSize)
		if err != nil {
			return eris.Wrap(err, "provenance query")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		if len(res.Events) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No events found.")
			return nil
		}
		formatEvents(cmd.OutOrStdout(), res.Events)
		more := ""
		if res.HasMore {
			more = fmt.Sprintf(", next: --page %d", res.Page+1)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Page %d, %d of %d events%s.\n", res.Page, len(res.Events), res.Total, more)
		return nil
	},
}

// -- provenance history --

var provenanceHistoryCmd = &cobra.Command{
	Use:   "history <grant-number> <field>",
	Short: "Show every change to one field, oldest first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		events, err := env.Service.History(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "provenance history")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), events)
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No events found.")
			return nil
		}
		formatEvents(cmd.OutOrStdout(), events)
		return nil
	},
}

// -- provenance latest --

var provenanceLatestCmd = &cobra.Command{
	Use:   "latest <grant-number> <field>",
	Short: "Show the most recent change to one field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		ev, err := env.Service.LatestValue(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "provenance latest")
		}
		if ev == nil {
			return eris.Errorf("no provenance for %s/%s", args[0], args[1])
		}
		return printJSON(cmd.OutOrStdout(), ev)
	},
}

func init() {
	provenanceQueryCmd.Flags().String("entity", "", "filter by project grant number")
	provenanceQueryCmd.Flags().String("field", "", "filter by field name")
	provenanceQueryCmd.Flags().String("actor", "", "filter by actor")
	provenanceQueryCmd.Flags().Duration("since", 0, "only events newer than this (e.g. 24h)")
	provenanceQueryCmd.Flags().Int("page", 1, "page number, starting at 1")
	provenanceQueryCmd.Flags().Int("page-size", 50, "events per page")
	provenanceQueryCmd.Flags().Bool("json", false, "print the page as JSON")

	provenanceHistoryCmd.Flags().Bool("json", false, "print events as JSON")

	provenanceCmd.AddCommand(provenanceQueryCmd)
	provenanceCmd.AddCommand(provenanceHistoryCmd)
	provenanceCmd.AddCommand(provenanceLatestCmd)
	rootCmd.AddCommand(provenanceCmd)
}

// formatEvents writes a tabular list of events to out.
func formatEvents(out io.Writer, events []model.ProvenanceEvent) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tENTITY\tFIELD\tACTOR\tCREATED\tOLD\tNEW")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t-----\t-------\t---\t---")
	for _, ev := range events {
		old := "-"
		if ev.OldValue != nil {
			old = truncate(ev.OldValue.String(), 30)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.ID,
			ev.EntityID,
			ev.FieldName,
			ev.Actor,
			ev.CreatedAt.Format("2006-01-02 15:04:05"),
			old,
			truncate(ev.NewValue.String(), 30),
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
