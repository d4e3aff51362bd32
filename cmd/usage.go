package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxonomy-cli/internal/ingest"
	"github.com/sells-group/taxonomy-cli/internal/model"
	"github.com/sells-group/taxonomy-cli/internal/store"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect custom value usage",
	Long:  "Commands for listing and exporting the usage counts of values that are not yet canonical.",
}

// -- usage list --

var usageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List custom value usage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := usageFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := env.Service.GetCustomUsage(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "usage list")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), rows)
		}
		if len(rows) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No usage found.")
			return nil
		}
		formatUsage(cmd.OutOrStdout(), rows)
		return nil
	},
}

// -- usage export --

var usageExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export custom value usage to CSV or XLSX",
	Long:  "Writes usage rows to a .csv or .xlsx file. Use - to write CSV to stdout.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		filter, err := usageFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		path := args[0]
		ext := strings.ToLower(filepath.Ext(path))
		if path != "-" && ext != ".csv" && ext != ".xlsx" {
			return eris.Errorf("usage export: unsupported file type %q", ext)
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := env.Service.GetCustomUsage(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "usage export")
		}

		switch {
		case path == "-":
			return ingest.WriteUsageCSV(cmd.OutOrStdout(), rows)
		case ext == ".xlsx":
			if err := ingest.ExportUsageXLSX(path, rows); err != nil {
				return err
			}
		default:
			f, err := os.Create(path)
			if err != nil {
				return eris.Wrap(err, "usage export: create file")
			}
			if err := ingest.WriteUsageCSV(f, rows); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return eris.Wrap(err, "usage export: close file")
			}
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d rows to %s.\n", len(rows), path)
		return nil
	},
}

func usageFilterFromFlags(cmd *cobra.Command) (store.UsageFilter, error) {
	category, _ := cmd.Flags().GetString("category")
	minCount, _ := cmd.Flags().GetInt("min-count")
	promoted, _ := cmd.Flags().GetString("promoted")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	filter := store.UsageFilter{
		Category: model.Category(category),
		MinCount: minCount,
		Limit:    limit,
		Offset:   offset,
	}
	if promoted != "" {
		b, err := strconv.ParseBool(promoted)
		if err != nil {
			return filter, eris.Errorf("invalid --promoted value %q", promoted)
		}
		filter.Promoted = &b
	}
	return filter, nil
}

func addUsageFilterFlags(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().String("category", "", "filter by category")
	cmd.Flags().Int("min-count", 0, "only values used at least this often")
	cmd.Flags().String("promoted", "", "filter by promotion state (true or false)")
	cmd.Flags().Int("limit", defaultLimit, "max number of rows (0 for all)")
	cmd.Flags().Int("offset", 0, "rows to skip")
}

func init() {
	addUsageFilterFlags(usageListCmd, 100)
	usageListCmd.Flags().Bool("json", false, "print rows as JSON")
	addUsageFilterFlags(usageExportCmd, 0)

	usageCmd.AddCommand(usageListCmd)
	usageCmd.AddCommand(usageExportCmd)
	rootCmd.AddCommand(usageCmd)
}

// formatUsage writes a tabular list of usage rows to out.
func formatUsage(out io.Writer, rows []model.CustomFieldUsage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CATEGORY\tVALUE\tCOUNT\tCLOSEST\tDIST\tPROMOTED\tLAST_SEEN")
	_, _ = fmt.Fprintln(w, "--------\t-----\t-----\t-------\t----\t--------\t---------")
	for _, u := range rows {
		closest, dist := "", ""
		if u.ClosestCanonical != nil {
			closest = *u.ClosestCanonical
		}
		if u.Distance != nil {
			dist = strconv.Itoa(*u.Distance)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%t\t%s\n",
			u.Category,
			u.RawValue,
			u.UsageCount,
			closest,
			dist,
			u.Promoted,
			u.LastSeen.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
