// Package metrics provides Prometheus metrics collection for ircmod.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for ircmod.
type Collector struct {
	// Module lifecycle metrics
	ModulesLoaded prometheus.Gauge
	ModuleErrors  *prometheus.CounterVec

	// Rehash metrics
	RehashesTotal prometheus.Counter
	RehashErrors  prometheus.Counter
	LastRehash    prometheus.Gauge

	// Dispatch metrics
	HookDispatches *prometheus.CounterVec
	EventsFired    prometheus.Counter

	// Extension registry metrics
	RegistryEntries *prometheus.GaugeVec

	// History metrics
	HistoryAdds    *prometheus.CounterVec
	HistoryQueries *prometheus.CounterVec
}

// New creates a new metrics collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		ModulesLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ircmod",
				Name:      "modules_loaded",
				Help:      "Number of modules currently loaded",
			},
		),
		ModuleErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ircmod",
				Name:      "module_errors_total",
				Help:      "Total number of module protocol failures",
			},
			[]string{"module", "phase"},
		),

		RehashesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ircmod",
				Name:      "rehashes_total",
				Help:      "Total number of rehash attempts",
			},
		),
		RehashErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ircmod",
				Name:      "rehash_errors_total",
				Help:      "Total number of rehashes that reported errors",
			},
		),
		LastRehash: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ircmod",
				Name:      "last_rehash_timestamp",
				Help:      "Unix timestamp of the last completed rehash",
			},
		),

		HookDispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ircmod",
				Name:      "hook_dispatches_total",
				Help:      "Total number of hook table dispatches",
			},
			[]string{"table"},
		),
		EventsFired: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ircmod",
				Name:      "events_fired_total",
				Help:      "Total number of timer event callbacks fired",
			},
		),

		RegistryEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "ircmod",
				Name:      "registry_entries",
				Help:      "Active entries per extension registry",
			},
			[]string{"kind"},
		),

		HistoryAdds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ircmod",
				Name:      "history_adds_total",
				Help:      "Total number of history lines stored",
			},
			[]string{"backend"},
		),
		HistoryQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ircmod",
				Name:      "history_queries_total",
				Help:      "Total number of history retrieval requests",
			},
			[]string{"backend"},
		),
	}
}

// HookObserver returns a callback suitable for hook.Set.SetObserver.
func (c *Collector) HookObserver() func(table string) {
	return func(table string) {
		c.HookDispatches.WithLabelValues(table).Inc()
	}
}
