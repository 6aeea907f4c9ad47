package reporter

import (
	"context"
	"encoding/json"
	"io"
)

// JSONReporter generates JSON reports
type JSONReporter struct {
	writer io.Writer
	pretty bool
}

// NewJSONReporter creates a new JSON reporter
func NewJSONReporter(w io.Writer, pretty bool) *JSONReporter {
	return &JSONReporter{
		writer: w,
		pretty: pretty,
	}
}

// Generate produces a JSON report
func (r *JSONReporter) Generate(ctx context.Context, snapshot *Snapshot) error {
	encoder := json.NewEncoder(r.writer)
	if r.pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(snapshot)
}
