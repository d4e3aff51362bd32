package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxonomy-cli/internal/ingest"
	"github.com/sells-group/taxonomy-cli/internal/model"
)

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Manage canonical vocabularies",
	Long:  "Commands for listing, adding, importing, and testing canonical vocabulary terms.",
}

// -- taxonomy list --

var taxonomyListCmd = &cobra.Command{
	Use:   "list [category]",
	Short: "List canonical terms",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		category := ""
		if len(args) == 1 {
			category = args[0]
		}
		terms, err := env.Service.GetTaxonomy(ctx, category)
		if err != nil {
			return eris.Wrap(err, "taxonomy list")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), terms)
		}
		if len(terms) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No terms found.")
			return nil
		}
		formatTerms(cmd.OutOrStdout(), terms)
		return nil
	},
}

// -- taxonomy add --

var taxonomyAddCmd = &cobra.Command{
	Use:   "add <category> <value>",
	Short: "Add a curated canonical term",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		term, inserted, err := env.Service.AddCanonicalTerm(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "taxonomy add")
		}
		if inserted {
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s term %q.\n", term.Category, term.Value)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already has %q.\n", term.Category, term.Value)
		}
		return nil
	},
}

// -- taxonomy import --

var taxonomyImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Seed canonical terms from a YAML, CSV or XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		terms, err := ingest.ReadTermsFile(ctx, args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Service.SeedTerms(ctx, terms)
		if err != nil {
			return eris.Wrap(err, "taxonomy import")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d new terms (%d read).\n", n, len(terms))
		return nil
	},
}

// -- taxonomy classify --

var taxonomyClassifyCmd = &cobra.Command{
	Use:   "classify <category> <value>",
	Short: "Show how a value would be normalized, without recording it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		cl, err := env.Service.Classify(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "taxonomy classify")
		}
		return printJSON(cmd.OutOrStdout(), cl)
	},
}

func init() {
	taxonomyListCmd.Flags().Bool("json", false, "print terms as JSON")

	taxonomyCmd.AddCommand(taxonomyListCmd)
	taxonomyCmd.AddCommand(taxonomyAddCmd)
	taxonomyCmd.AddCommand(taxonomyImportCmd)
	taxonomyCmd.AddCommand(taxonomyClassifyCmd)
	rootCmd.AddCommand(taxonomyCmd)
}

// formatTerms writes a tabular list of terms to out.
func formatTerms(out io.Writer, terms []model.CanonicalTerm) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CATEGORY\tVALUE\tORIGIN\tINTRODUCED")
	_, _ = fmt.Fprintln(w, "--------\t-----\t------\t----------")
	for _, t := range terms {
		origin := "curated"
		if t.PromotedFromCustom {
			origin = "promoted"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.Category,
			t.Value,
			origin,
			t.IntroducedAt.Format("2006-01-02"),
		)
	}
	_ = w.Flush()
}
