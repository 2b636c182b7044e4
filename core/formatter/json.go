package formatter

import (
	"encoding/json"
	"io"
)

// JSONFormatter formats output as JSON.
type JSONFormatter struct{}

// Name returns the formatter name.
func (JSONFormatter) Name() string { return "json" }

// FormatList formats a list of records as JSON.
func (f JSONFormatter) FormatList(w io.Writer, res Resource, records []map[string]any, opts Options) error {
	data := projectAll(records, columns(res, opts.Columns))
	return f.encode(w, envelope(res, data, len(data)), opts.Compact)
}

// FormatRecord formats a single record as JSON. A nil record encodes as null data.
func (f JSONFormatter) FormatRecord(w io.Writer, res Resource, record map[string]any, opts Options) error {
	var data any
	if record != nil {
		data = project(record, columns(res, opts.Columns))
	}
	return f.encode(w, envelope(res, data, -1), opts.Compact)
}

func (JSONFormatter) encode(w io.Writer, data any, compact bool) error {
	encoder := json.NewEncoder(w)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}
