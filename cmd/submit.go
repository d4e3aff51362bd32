package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxonomy-cli/internal/engine"
	"github.com/sells-group/taxonomy-cli/internal/model"
)

var submitCmd = &cobra.Command{
	Use:   "submit <grant-number> <field> <value>...",
	Short: "Submit a metadata field value for a project",
	Long: "Normalizes the value against the field's vocabulary, records novel values, " +
		"stores the field and appends a provenance event. Several values form a list; " +
		"--json parses a single JSON value instead.",
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		asJSON, _ := cmd.Flags().GetBool("json")
		value, err := parseValueArgs(args[2:], asJSON)
		if err != nil {
			return err
		}
		actor, _ := cmd.Flags().GetString("actor")
		note, _ := cmd.Flags().GetString("context")

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.SubmitMetadataEdit(ctx, engine.EditRequest{
			EntityID:  args[0],
			FieldName: args[1],
			Value:     value,
			Actor:     actor,
			Context:   note,
		})
		if err != nil {
			return eris.Wrap(err, "submit")
		}
		formatEditResult(cmd.OutOrStdout(), res)
		return nil
	},
}

// parseValueArgs turns command arguments into a field value. A single plain
// argument is text; the engine coerces it for list fields.
func parseValueArgs(args []string, asJSON bool) (model.FieldValue, error) {
	if asJSON {
		if len(args) != 1 {
			return model.FieldValue{}, eris.New("submit: --json takes exactly one value")
		}
		var raw any
		if err := json.Unmarshal([]byte(args[0]), &raw); err != nil {
			return model.FieldValue{}, eris.Wrap(err, "submit: parse json value")
		}
		return model.FromAny(raw)
	}
	if len(args) == 1 {
		return model.Text(args[0]), nil
	}
	return model.List(args...), nil
}

func formatEditResult(out io.Writer, res *engine.EditResult) {
	_, _ = fmt.Fprintf(out, "Stored: %s\n", res.Stored.String())
	for _, c := range res.Classifications {
		line := fmt.Sprintf("  %-9s %q", c.Status, c.Input)
		if c.Canonical != nil && *c.Canonical != c.Input {
			line += fmt.Sprintf(" -> %q", *c.Canonical)
		}
		if c.NearMiss && c.Nearest != nil {
			line += fmt.Sprintf(" (near %q)", *c.Nearest)
		}
		_, _ = fmt.Fprintln(out, line)
	}
	for _, t := range res.Promoted {
		_, _ = fmt.Fprintf(out, "Promoted %s term %q.\n", t.Category, t.Value)
	}
	if res.Event != nil {
		_, _ = fmt.Fprintf(out, "Provenance event %d by %s.\n", res.Event.ID, res.Event.Actor)
	}
}

func init() {
	submitCmd.Flags().String("actor", "", "who is making the edit (required)")
	submitCmd.Flags().String("context", "", "free-text note stored with the provenance event")
	submitCmd.Flags().Bool("json", false, "parse the value as JSON")
	_ = submitCmd.MarkFlagRequired("actor")
	rootCmd.AddCommand(submitCmd)
}
