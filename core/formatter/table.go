package formatter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// TableFormatter formats output as aligned text tables.
type TableFormatter struct{}

// Name returns the formatter name.
func (TableFormatter) Name() string { return "table" }

// FormatList formats a list of records as a table.
func (f TableFormatter) FormatList(w io.Writer, res Resource, records []map[string]any, opts Options) error {
	if len(records) == 0 {
		fmt.Fprintf(w, "No %s found.\n", res.Name)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	cols := columns(res, opts.Columns)

	if !opts.NoHeader {
		headers := make([]string, len(cols))
		rules := make([]string, len(cols))
		for i, col := range cols {
			headers[i] = strings.ToUpper(col)
			rules[i] = strings.Repeat("-", len(col))
		}
		fmt.Fprintln(tw, strings.Join(headers, "\t"))
		fmt.Fprintln(tw, strings.Join(rules, "\t"))
	}

	for _, record := range records {
		values := make([]string, len(cols))
		for i, col := range cols {
			values[i] = formatValue(record[col], opts.MaxWidth)
		}
		fmt.Fprintln(tw, strings.Join(values, "\t"))
	}

	return tw.Flush()
}

// FormatRecord formats a single record as label/value pairs.
func (f TableFormatter) FormatRecord(w io.Writer, res Resource, record map[string]any, opts Options) error {
	if record == nil {
		fmt.Fprintln(w, "Not found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, col := range columns(res, opts.Columns) {
		fmt.Fprintf(tw, "%s:\t%s\n", formatLabel(col), formatValue(record[col], 0))
	}
	return tw.Flush()
}

// formatLabel converts snake_case to Title Case.
func formatLabel(name string) string {
	words := strings.Split(name, "_")
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}

// formatValue formats a value for a table cell.
func formatValue(val any, maxWidth int) string {
	var str string
	switch v := val.(type) {
	case nil:
		return "-"
	case string:
		str = v
	case bool:
		str = "no"
		if v {
			str = "yes"
		}
	case []string:
		if len(v) == 0 {
			return "-"
		}
		str = strings.Join(v, ",")
	case time.Time:
		str = v.Format(time.RFC3339)
	case fmt.Stringer:
		str = v.String()
	case int, int64, uint64:
		str = fmt.Sprint(v)
	default:
		b, _ := json.Marshal(v)
		str = string(b)
	}

	if str == "" {
		return "-"
	}
	if maxWidth > 3 && len(str) > maxWidth {
		str = str[:maxWidth-3] + "..."
	}
	return str
}
