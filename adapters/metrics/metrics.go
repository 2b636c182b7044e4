// Package metrics provides Prometheus metrics collection for bundlehost.
package metrics

import (
	"context"
	"time"

	"github.com/artpar/bundlehost/core/events"
	"github.com/artpar/bundlehost/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bundlehost"

// Collector holds all Prometheus metrics for bundlehost.
type Collector struct {
	// Module metrics
	ModuleEvents  *prometheus.CounterVec
	ModulesActive prometheus.Gauge
	Registrations *prometheus.GaugeVec

	// Security metrics
	SessionsStartedTotal *prometheus.CounterVec
	SessionsEndedTotal   prometheus.Counter
	SessionsExpiredTotal prometheus.Counter
	AuthFailures         *prometheus.CounterVec
	DataSourceErrors     *prometheus.CounterVec

	// Admin API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default Prometheus registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		ModuleEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_events_total",
				Help:      "Module lifecycle events by name",
			},
			[]string{"event"},
		),
		ModulesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "modules_active",
				Help:      "Number of modules currently ACTIVE, excluding the system module",
			},
		),
		Registrations: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "service_registrations",
				Help:      "Live service registrations by capability",
			},
			[]string{"capability"},
		),

		SessionsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_started_total",
				Help:      "Sessions issued by source",
			},
			[]string{"source"},
		),
		SessionsEndedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_ended_total",
				Help:      "Sessions ended explicitly",
			},
		),
		SessionsExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_expired_total",
				Help:      "Expired sessions removed by the sweeper",
			},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"source", "reason"},
		),
		DataSourceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datasource_errors_total",
				Help:      "Data source failures and timeouts by operation",
			},
			[]string{"op"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admin_requests_total",
				Help:      "Total number of admin API requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "admin_request_duration_seconds",
				Help:      "Admin API request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// Subscribe feeds module and registry events from bus into the collector.
func (c *Collector) Subscribe(bus *events.Bus) {
	bus.Subscribe("module.*", c.onModuleEvent)
	bus.Subscribe("service.*", c.onServiceEvent)
}

func (c *Collector) onModuleEvent(_ context.Context, e events.Event) {
	c.ModuleEvents.WithLabelValues(e.Name).Inc()
	switch e.Name {
	case events.ModuleStarted:
		c.ModulesActive.Inc()
	case events.ModuleStopped:
		c.ModulesActive.Dec()
	}
}

func (c *Collector) onServiceEvent(_ context.Context, e events.Event) {
	switch e.Name {
	case events.ServiceRegistered:
		c.Registrations.WithLabelValues(e.Capability).Inc()
	case events.ServiceUnregistered:
		c.Registrations.WithLabelValues(e.Capability).Dec()
	}
}

// ConfigReloaded records the outcome of a config reload.
func (c *Collector) ConfigReloaded(err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.Set(float64(time.Now().Unix()))
}

// SessionStarted implements ports.SecurityMetrics.
func (c *Collector) SessionStarted(source string) {
	c.SessionsStartedTotal.WithLabelValues(source).Inc()
}

// SessionEnded implements ports.SecurityMetrics.
func (c *Collector) SessionEnded() {
	c.SessionsEndedTotal.Inc()
}

// SessionsExpired implements ports.SecurityMetrics.
func (c *Collector) SessionsExpired(n int) {
	c.SessionsExpiredTotal.Add(float64(n))
}

// AuthFailure implements ports.SecurityMetrics.
func (c *Collector) AuthFailure(source, reason string) {
	c.AuthFailures.WithLabelValues(source, reason).Inc()
}

// DataSourceError implements ports.SecurityMetrics.
func (c *Collector) DataSourceError(op string) {
	c.DataSourceErrors.WithLabelValues(op).Inc()
}

var _ ports.SecurityMetrics = (*Collector)(nil)
