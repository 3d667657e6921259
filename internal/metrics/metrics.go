// Package metrics exposes Prometheus instrumentation for the access
// engine. All collectors live on a dedicated registry so tests can
// create isolated instances.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the engine reports.
type Metrics struct {
	registry *prometheus.Registry

	Resolutions        prometheus.Counter
	Denials            prometheus.Counter
	Heartbeats         *prometheus.CounterVec
	ResolutionDuration prometheus.Histogram
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Resolutions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "resolutions_total",
			Help:      "Route resolutions computed.",
		}),
		Denials: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "denials_total",
			Help:      "Access checks that resulted in denial.",
		}),
		Heartbeats: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "heartbeats_total",
			Help:      "Agent heartbeats ingested, by node kind.",
		}, []string{"kind"}),
		ResolutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "warden",
			Name:      "resolution_duration_seconds",
			Help:      "Time spent computing a route resolution.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// RegisterNodeCounts registers gauges for the derived online node
// counts. Online-ness is a function of heartbeat age, not a stored
// field, so the counts are computed at scrape time by statsFn rather
// than pushed on writes.
func (m *Metrics) RegisterNodeCounts(statsFn func() (onlineHubs, onlineSpokes int)) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "warden",
		Name:      "online_hubs",
		Help:      "Hubs currently considered online.",
	}, func() float64 {
		hubs, _ := statsFn()
		return float64(hubs)
	}))
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "warden",
		Name:      "online_spokes",
		Help:      "Spokes currently considered online.",
	}, func() float64 {
		_, spokes := statsFn()
		return float64(spokes)
	}))
}

// Handler returns the HTTP handler serving the registry in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
