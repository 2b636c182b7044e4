package main

import (
	"io"

	"github.com/artpar/bundlehost/core/capability"
	"github.com/artpar/bundlehost/core/formatter"
	"github.com/artpar/bundlehost/core/runtime"
	"github.com/artpar/bundlehost/domain/module"
	"github.com/artpar/bundlehost/domain/security"
)

var (
	moduleResource = formatter.Resource{
		Name:    "modules",
		Columns: []string{"id", "symbolic_name", "version", "state", "missing"},
	}
	serviceResource = formatter.Resource{
		Name:    "services",
		Columns: []string{"id", "capability", "module", "ranking"},
	}
	userResource = formatter.Resource{
		Name:    "users",
		Columns: []string{"uid", "source", "name", "email", "enabled"},
	}
)

// render writes records in the format chosen by --output.
func render(out io.Writer, res formatter.Resource, records []map[string]any) error {
	f, err := formatter.Get(outputFormat)
	if err != nil {
		return err
	}
	return f.FormatList(out, res, records, formatter.Options{})
}

func moduleRecords(mods []module.Module) []map[string]any {
	records := make([]map[string]any, 0, len(mods))
	for _, m := range mods {
		missing := m.Missing
		if missing == nil {
			missing = []string{}
		}
		records = append(records, map[string]any{
			"id":            uint64(m.ID),
			"symbolic_name": m.SymbolicName,
			"version":       m.Version,
			"state":         m.State.String(),
			"missing":       missing,
		})
	}
	return records
}

func serviceRecords(rt *runtime.Runtime, regs []capability.Registration) []map[string]any {
	records := make([]map[string]any, 0, len(regs))
	for _, reg := range regs {
		name := ""
		if m, err := rt.Module(reg.ModuleID); err == nil {
			name = m.SymbolicName
		}
		records = append(records, map[string]any{
			"id":         reg.ID,
			"capability": string(reg.Capability),
			"module":     name,
			"ranking":    reg.Ranking(),
		})
	}
	return records
}

func userRecords(users []security.User) []map[string]any {
	records := make([]map[string]any, 0, len(users))
	for _, u := range users {
		records = append(records, map[string]any{
			"uid":     u.UID,
			"source":  u.Source,
			"name":    u.Name,
			"email":   u.Email,
			"enabled": u.Enabled,
		})
	}
	return records
}
