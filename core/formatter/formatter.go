// Package formatter renders CLI output as a table, JSON or YAML.
package formatter

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Resource describes the kind of record being printed.
type Resource struct {
	// Name is the plural resource name (e.g. "modules").
	Name string

	// Columns is the default column order.
	Columns []string

	// Hidden fields are never printed, even when requested.
	Hidden []string
}

// Formatter converts records to a specific output format.
type Formatter interface {
	// Name returns the formatter name (e.g., "table", "json", "yaml").
	Name() string

	// FormatList formats a list of records.
	FormatList(w io.Writer, res Resource, records []map[string]any, opts Options) error

	// FormatRecord formats a single record.
	FormatRecord(w io.Writer, res Resource, record map[string]any, opts Options) error
}

// Options configures formatting behavior.
type Options struct {
	// Columns specifies which fields to include (nil = Resource.Columns).
	Columns []string

	// NoHeader disables the header row for tables.
	NoHeader bool

	// Compact minimizes whitespace (json only).
	Compact bool

	// MaxWidth truncates long table cells (0 = no limit).
	MaxWidth int
}

// Registry manages registered formatters.
type Registry struct {
	mu         sync.RWMutex
	formatters map[string]Formatter
	defaultFmt string
}

// NewRegistry creates a registry holding the table, json and yaml formatters.
func NewRegistry() *Registry {
	r := &Registry{
		formatters: make(map[string]Formatter),
		defaultFmt: "table",
	}
	for _, f := range []Formatter{TableFormatter{}, JSONFormatter{}, YAMLFormatter{}} {
		r.formatters[f.Name()] = f
	}
	return r
}

// Register adds a formatter to the registry.
func (r *Registry) Register(f Formatter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formatters[f.Name()]; exists {
		return fmt.Errorf("formatter %q already registered", f.Name())
	}
	r.formatters[f.Name()] = f
	return nil
}

// Get returns a formatter by name. An empty name selects the default.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultFmt
	}
	f, ok := r.formatters[name]
	if !ok {
		return nil, fmt.Errorf("unknown output format %q (available: %v)", name, r.namesLocked())
	}
	return f, nil
}

// List returns all registered formatter names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.formatters))
	for name := range r.formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// columns resolves the columns to print for res.
func columns(res Resource, requested []string) []string {
	cols := res.Columns
	if len(requested) > 0 {
		cols = requested
	}

	hidden := make(map[string]bool, len(res.Hidden))
	for _, h := range res.Hidden {
		hidden[h] = true
	}
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if !hidden[c] {
			out = append(out, c)
		}
	}
	return out
}

// project keeps only the given columns of record.
func project(record map[string]any, cols []string) map[string]any {
	result := make(map[string]any, len(cols))
	for _, c := range cols {
		if v, ok := record[c]; ok {
			result[c] = v
		}
	}
	return result
}

func projectAll(records []map[string]any, cols []string) []map[string]any {
	result := make([]map[string]any, len(records))
	for i, rec := range records {
		result[i] = project(rec, cols)
	}
	return result
}

// envelope is the document json and yaml output share.
func envelope(res Resource, data any, count int) map[string]any {
	out := map[string]any{
		"resource": res.Name,
		"data":     data,
	}
	if count >= 0 {
		out["count"] = count
	}
	return out
}
