// Package sink serializes canonical records for downstream consumers. The
// pipeline's responsibility ends at in-memory records; sinks own the
// formatting.
package sink

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/waterfall-cli/internal/model"
)

// csvColumns defines the ordered CSV output columns.
var csvColumns = []string{
	"id",
	"name",
	"county",
	"state",
	"country",
	"latitude",
	"longitude",
	"watershed",
	"stream",
	"form",
	"source_url",
}

// WriteCSV writes records as a CSV file at path, one row per record in input
// order. Absent fields become empty cells.
func WriteCSV(path string, records []model.CanonicalRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "sink: create csv %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)

	if err := w.Write(csvColumns); err != nil {
		return eris.Wrap(err, "sink: write csv header")
	}
	for _, r := range records {
		if err := w.Write(csvRow(r)); err != nil {
			return eris.Wrapf(err, "sink: write csv row %s", r.ID)
		}
	}

	w.Flush()
	return eris.Wrap(w.Error(), "sink: flush csv")
}

func csvRow(r model.CanonicalRecord) []string {
	return []string{
		r.ID,
		r.Name,
		r.County,
		r.State,
		r.Country,
		formatCoord(r.Latitude),
		formatCoord(r.Longitude),
		r.Watershed,
		r.Stream,
		r.Form,
		r.SourceURL,
	}
}

// formatCoord renders a coordinate, or an empty cell when absent.
func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
