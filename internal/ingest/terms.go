package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/taxonomy-cli/internal/model"
)

// TermsFile is the YAML vocabulary format: category name to values.
//
//	species:
//	  - Mouse
//	  - Rat
//	analysis_method:
//	  - Kilosort
type TermsFile map[string][]string

// ParseTermsYAML reads a YAML vocabulary.
func ParseTermsYAML(r io.Reader) ([]model.CanonicalTerm, error) {
	var file TermsFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "ingest: decode terms yaml")
	}

	for name := range file {
		if c := model.Category(name); !c.Valid() {
			return nil, eris.Errorf("ingest: unknown category %q", name)
		}
	}

	// Emit categories in a fixed order.
	var terms []model.CanonicalTerm
	for _, c := range model.Categories() {
		for _, v := range file[string(c)] {
			terms = append(terms, model.CanonicalTerm{Category: c, Value: strings.TrimSpace(v)})
		}
	}
	return terms, nil
}

// TermsFromRows converts tabular rows with a header naming "category" and
// "value" columns. Blank rows are skipped.
func TermsFromRows(rows [][]string) ([]model.CanonicalTerm, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	idx := headerIndex(rows[0])
	ci, okC := idx["category"]
	vi, okV := idx["value"]
	if !okC || !okV {
		return nil, eris.New("ingest: header must name category and value columns")
	}

	terms := make([]model.CanonicalTerm, 0, len(rows)-1)
	for n, row := range rows[1:] {
		category, value := cell(row, ci), cell(row, vi)
		if category == "" && value == "" {
			continue
		}
		c, ok := model.ParseCategory(category)
		if !ok {
			return nil, eris.Errorf("ingest: row %d: unknown category %q", n+2, category)
		}
		if value == "" {
			return nil, eris.Errorf("ingest: row %d: empty value", n+2)
		}
		terms = append(terms, model.CanonicalTerm{Category: c, Value: value})
	}
	return terms, nil
}

// ReadTermsFile loads a vocabulary from a .yaml, .yml, .csv or .xlsx file.
func ReadTermsFile(ctx context.Context, path string) ([]model.CanonicalTerm, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: open terms file")
		}
		defer f.Close() //nolint:errcheck
		return ParseTermsYAML(f)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: open terms file")
		}
		defer f.Close() //nolint:errcheck
		rows, err := ReadCSV(ctx, f, CSVOptions{TrimSpace: true, Comment: '#'})
		if err != nil {
			return nil, err
		}
		return TermsFromRows(rows)
	case ".xlsx":
		rows, err := ReadXLSX(path, XLSXOptions{})
		if err != nil {
			return nil, err
		}
		return TermsFromRows(rows)
	default:
		return nil, eris.Errorf("ingest: unsupported terms file %q", filepath.Base(path))
	}
}
