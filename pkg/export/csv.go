package export

import (
	"bytes"
	"fmt"
	"strings"
)

// Table defines ordered tabular export content.
type Table struct {
	Headers []string
	Rows    [][]string
}

// CSVExporter renders Table content into CSV bytes. The header line is
// emitted verbatim; every data field is wrapped in double quotes with
// embedded quotes doubled, matching the download contract of the legacy
// report endpoints.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes for the table.
func (e *CSVExporter) Render(t Table) ([]byte, error) {
	if len(t.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	buf.WriteString(strings.Join(t.Headers, ","))
	buf.WriteByte('\n')
	for _, row := range t.Rows {
		if len(row) != len(t.Headers) {
			return nil, fmt.Errorf("csv row has %d fields, want %d", len(row), len(t.Headers))
		}
		for i, field := range row {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(quoteField(field))
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func quoteField(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
