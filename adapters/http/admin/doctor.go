package admin

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/artpar/bundlehost/app"
	"github.com/artpar/bundlehost/core/capability"
	"github.com/artpar/bundlehost/domain/module"
)

// DoctorResponse represents the system health check response.
type DoctorResponse struct {
	Status     string         `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  string         `json:"timestamp"`
	Version    string         `json:"version"`
	Checks     []HealthCheck  `json:"checks"`
	System     SystemInfo     `json:"system"`
	Statistics StatisticsInfo `json:"statistics"`
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "pass", "warn", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// SystemInfo represents system information.
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`
	MemAlloc     string `json:"mem_alloc"`
	Uptime       string `json:"uptime,omitempty"`
}

// StatisticsInfo represents runtime statistics.
type StatisticsInfo struct {
	Modules        int `json:"modules"`
	ActiveModules  int `json:"active_modules"`
	Registrations  int `json:"registrations"`
	StoredSessions int `json:"stored_sessions"`
}

var startTime = time.Now()

// Doctor performs a system health check.
func (h *Handler) Doctor(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	response := DoctorResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
		Checks: []HealthCheck{
			h.checkSecurity(),
			h.checkDataSource(ctx),
			h.checkModules(),
		},
	}

	hasWarn, hasFail := false, false
	for _, check := range response.Checks {
		switch check.Status {
		case "warn":
			hasWarn = true
		case "fail":
			hasFail = true
		}
	}
	if hasFail {
		response.Status = "unhealthy"
	} else if hasWarn {
		response.Status = "degraded"
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	response.System = SystemInfo{
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
		MemAlloc:     formatBytes(memStats.Alloc),
		Uptime:       time.Since(startTime).Round(time.Second).String(),
	}

	mods := h.runtime.Modules()
	active := 0
	for _, m := range mods {
		if m.IsActive() {
			active++
		}
	}
	response.Statistics = StatisticsInfo{
		Modules:       len(mods),
		ActiveModules: active,
		Registrations: h.runtime.Registry().Count(),
	}
	if h.sessions != nil {
		response.Statistics.StoredSessions, _ = h.sessions.Count(ctx)
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

func (h *Handler) checkSecurity() HealthCheck {
	check := HealthCheck{Name: "security_controller", Status: "pass"}
	ctrls := capability.LookupAllAs[*app.SecurityController](h.runtime.Registry(), capability.SecurityController)
	switch len(ctrls) {
	case 0:
		check.Status = "fail"
		check.Message = "No security controller published"
	case 1:
		check.Message = "Security controller published"
	default:
		check.Status = "warn"
		check.Message = fmt.Sprintf("%d security controllers published, lookups use the %s policy", len(ctrls), h.runtime.Registry().Policy())
	}
	return check
}

func (h *Handler) checkDataSource(ctx context.Context) HealthCheck {
	check := HealthCheck{Name: "datasource", Status: "pass"}

	ctrl, ok := h.controller()
	if !ok {
		check.Status = "warn"
		check.Message = "Skipped, no security controller"
		return check
	}

	start := time.Now()
	users, err := ctrl.GetUsers(ctx, "")
	check.Latency = time.Since(start).String()
	if err != nil {
		check.Status = "fail"
		check.Message = fmt.Sprintf("Data source query failed: %v", err)
		return check
	}
	check.Message = fmt.Sprintf("%d users under %s", len(users), ctrl.DefaultSource())
	return check
}

func (h *Handler) checkModules() HealthCheck {
	check := HealthCheck{Name: "modules", Status: "pass"}

	var issues []string
	for _, m := range h.runtime.Modules() {
		if len(m.Missing) > 0 {
			issues = append(issues, fmt.Sprintf("%s missing %s", m.SymbolicName, strings.Join(m.Missing, ",")))
		}
		if m.State == module.StateInstalled {
			issues = append(issues, m.SymbolicName+" not resolved")
		}
	}

	if len(issues) > 0 {
		check.Status = "warn"
		check.Message = strings.Join(issues, "; ")
	} else {
		check.Message = "All modules resolved"
	}
	return check
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
