package formatter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

var testResource = Resource{
	Name:    "users",
	Columns: []string{"uid", "source", "enabled"},
	Hidden:  []string{"password_hash"},
}

func testRecords() []map[string]any {
	return []map[string]any{
		{"uid": "admin", "source": "kimios", "enabled": true, "password_hash": "x"},
		{"uid": "jdoe", "source": "kimios", "enabled": false, "password_hash": "y"},
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()

	for _, name := range []string{"table", "json", "yaml"} {
		f, err := r.Get(name)
		if err != nil {
			t.Fatalf("Get(%q): %v", name, err)
		}
		if f.Name() != name {
			t.Errorf("Get(%q).Name() = %q", name, f.Name())
		}
	}

	f, err := r.Get("")
	if err != nil || f.Name() != "table" {
		t.Errorf("default formatter = %v, %v; want table", f, err)
	}

	if _, err := r.Get("csv"); err == nil || !strings.Contains(err.Error(), "csv") {
		t.Errorf("Get(csv) err = %v", err)
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(JSONFormatter{}); err == nil {
		t.Error("expected duplicate registration error")
	}
	if got := r.List(); strings.Join(got, ",") != "json,table,yaml" {
		t.Errorf("List() = %v", got)
	}
}

func TestTableFormatter_FormatList(t *testing.T) {
	var buf bytes.Buffer
	if err := (TableFormatter{}).FormatList(&buf, testResource, testRecords(), Options{}); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "UID") || !strings.Contains(lines[0], "ENABLED") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[2], "admin") || !strings.Contains(lines[2], "yes") {
		t.Errorf("row = %q", lines[2])
	}
	if strings.Contains(buf.String(), "PASSWORD") {
		t.Error("hidden column printed")
	}
}

func TestTableFormatter_Options(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		records []map[string]any
		want    string
		notWant string
	}{
		{"empty", Options{}, nil, "No users found.", "UID"},
		{"no header", Options{NoHeader: true}, testRecords(), "admin", "UID"},
		{"columns", Options{Columns: []string{"uid"}}, testRecords(), "jdoe", "SOURCE"},
		{"hidden requested", Options{Columns: []string{"uid", "password_hash"}}, testRecords(), "admin", "PASSWORD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := (TableFormatter{}).FormatList(&buf, testResource, tt.records, tt.opts); err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, buf.String())
			}
			if strings.Contains(buf.String(), tt.notWant) {
				t.Errorf("output contains %q:\n%s", tt.notWant, buf.String())
			}
		})
	}
}

func TestTableFormatter_FormatRecord(t *testing.T) {
	var buf bytes.Buffer
	rec := map[string]any{"symbolic_name": "kimios-kernel", "missing": []string{}}
	res := Resource{Name: "modules", Columns: []string{"symbolic_name", "missing"}}

	if err := (TableFormatter{}).FormatRecord(&buf, res, rec, Options{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Symbolic Name:") || !strings.Contains(buf.String(), "kimios-kernel") {
		t.Errorf("output = %s", buf.String())
	}
	if !strings.Contains(buf.String(), "Missing:") || !strings.Contains(buf.String(), "-") {
		t.Errorf("empty list should render as '-':\n%s", buf.String())
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		val      any
		maxWidth int
		want     string
	}{
		{nil, 0, "-"},
		{"", 0, "-"},
		{"kimios", 0, "kimios"},
		{true, 0, "yes"},
		{false, 0, "no"},
		{[]string{"a", "b"}, 0, "a,b"},
		{uint64(7), 0, "7"},
		{"abcdefghij", 6, "abc..."},
	}

	for _, tt := range tests {
		if got := formatValue(tt.val, tt.maxWidth); got != tt.want {
			t.Errorf("formatValue(%v, %d) = %q, want %q", tt.val, tt.maxWidth, got, tt.want)
		}
	}
}

func TestJSONFormatter_FormatList(t *testing.T) {
	var buf bytes.Buffer
	if err := (JSONFormatter{}).FormatList(&buf, testResource, testRecords(), Options{Compact: true}); err != nil {
		t.Fatal(err)
	}
	if strings.Count(strings.TrimSpace(buf.String()), "\n") != 0 {
		t.Errorf("compact output spans lines:\n%s", buf.String())
	}

	var doc struct {
		Resource string           `json:"resource"`
		Count    int              `json:"count"`
		Data     []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Resource != "users" || doc.Count != 2 {
		t.Errorf("doc = %+v", doc)
	}
	if _, ok := doc.Data[0]["password_hash"]; ok {
		t.Error("hidden field encoded")
	}
}

func TestJSONFormatter_FormatRecord_Nil(t *testing.T) {
	var buf bytes.Buffer
	if err := (JSONFormatter{}).FormatRecord(&buf, testResource, nil, Options{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"data": null`) {
		t.Errorf("output = %s", buf.String())
	}
}

func TestYAMLFormatter_FormatList(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{Columns: []string{"uid"}}
	if err := (YAMLFormatter{}).FormatList(&buf, testResource, testRecords(), opts); err != nil {
		t.Fatal(err)
	}

	var doc struct {
		Resource string              `yaml:"resource"`
		Count    int                 `yaml:"count"`
		Data     []map[string]string `yaml:"data"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Count != 2 || doc.Data[1]["uid"] != "jdoe" || len(doc.Data[1]) != 1 {
		t.Errorf("doc = %+v", doc)
	}
}
