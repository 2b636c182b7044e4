package formatter

import (
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats output as YAML.
type YAMLFormatter struct{}

// Name returns the formatter name.
func (YAMLFormatter) Name() string { return "yaml" }

// FormatList formats a list of records as YAML.
func (f YAMLFormatter) FormatList(w io.Writer, res Resource, records []map[string]any, opts Options) error {
	data := projectAll(records, columns(res, opts.Columns))
	return f.encode(w, envelope(res, data, len(data)))
}

// FormatRecord formats a single record as YAML.
func (f YAMLFormatter) FormatRecord(w io.Writer, res Resource, record map[string]any, opts Options) error {
	var data any
	if record != nil {
		data = project(record, columns(res, opts.Columns))
	}
	return f.encode(w, envelope(res, data, -1))
}

func (YAMLFormatter) encode(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(data)
}
