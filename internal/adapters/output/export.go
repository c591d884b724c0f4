package output

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/goccy/go-json"

	"github.com/xoelrdgz/logsift/internal/domain"
)

// ExportColumns returns the sorted union of field names over records.
func ExportColumns(records []domain.LogRecord) []string {
	seen := make(map[string]struct{})
	for i := range records {
		for _, name := range records[i].FieldNames() {
			seen[name] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for name := range seen {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return cols
}

// ExportCSV writes one header row of ExportColumns followed by one row per
// record. Fields a record does not have are left empty. datetime uses
// domain.ExportLayout when the timestamp parsed.
func ExportCSV(w io.Writer, records []domain.LogRecord) error {
	cols := ExportColumns(records)
	cw := csv.NewWriter(w)

	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	row := make([]string, len(cols))
	for i := range records {
		rec := &records[i]
		for j, col := range cols {
			row[j] = exportValue(rec, col)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func exportValue(rec *domain.LogRecord, col string) string {
	if col == domain.FieldDatetime && rec.HasTimestamp() {
		return rec.OccurredAt.Format(domain.ExportLayout)
	}
	v, _ := rec.Field(col)
	return v
}

// ExportJSON writes records as one indented JSON array.
func ExportJSON(w io.Writer, records []domain.LogRecord) error {
	if records == nil {
		records = []domain.LogRecord{}
	}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return bw.Flush()
}
