package ingest

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/taxonomy-cli/internal/model"
)

var usageHeader = []string{
	"category", "raw_value", "usage_count", "closest_canonical", "distance", "promoted", "first_seen", "last_seen",
}

func usageRecord(u model.CustomFieldUsage) []string {
	closest, distance := "", ""
	if u.ClosestCanonical != nil {
		closest = *u.ClosestCanonical
	}
	if u.Distance != nil {
		distance = strconv.Itoa(*u.Distance)
	}
	return []string{
		string(u.Category),
		u.RawValue,
		strconv.Itoa(u.UsageCount),
		closest,
		distance,
		strconv.FormatBool(u.Promoted),
		u.FirstSeen.UTC().Format(time.RFC3339),
		u.LastSeen.UTC().Format(time.RFC3339),
	}
}

// WriteUsageCSV writes usage rows as CSV with a header.
func WriteUsageCSV(w io.Writer, rows []model.CustomFieldUsage) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(usageHeader); err != nil {
		return eris.Wrap(err, "ingest: write usage csv")
	}
	for _, u := range rows {
		if err := cw.Write(usageRecord(u)); err != nil {
			return eris.Wrap(err, "ingest: write usage csv")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "ingest: flush usage csv")
}

// ExportUsageXLSX writes usage rows to a single-sheet workbook at path.
func ExportUsageXLSX(path string, rows []model.CustomFieldUsage) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("custom_usage")
	if err != nil {
		return eris.Wrap(err, "ingest: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range usageHeader {
		header.AddCell().SetString(h)
	}
	for _, u := range rows {
		row := sheet.AddRow()
		for i, v := range usageRecord(u) {
			c := row.AddCell()
			if i == 2 {
				c.SetInt(u.UsageCount)
				continue
			}
			c.SetString(v)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "ingest: save usage xlsx")
	}
	return nil
}
