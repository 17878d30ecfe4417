// Package metrics holds the Prometheus collectors for the monitor and the
// helper.
//
// The monitor has no listener; its counters are written to a node_exporter
// textfile after every change. The helper may optionally serve them over
// loopback HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every downlink collector on a private registry.
type Registry struct {
	reg *prometheus.Registry

	// Monitor
	Interventions prometheus.Counter
	Events        *prometheus.CounterVec
	Batches       prometheus.Counter

	// Helper
	HelperRequests    *prometheus.CounterVec
	HelperConnections prometheus.Gauge
	HelperRejected    prometheus.Counter
}

// New returns a fresh registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Registry{
		reg: reg,
		Interventions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "downlink",
			Subsystem: "monitor",
			Name:      "interventions_total",
			Help:      "Times the monitored interface was forced down.",
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "downlink",
			Subsystem: "monitor",
			Name:      "events_total",
			Help:      "Kernel interface events seen, by relevance.",
		}, []string{"relevant"}),
		Batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "downlink",
			Subsystem: "monitor",
			Name:      "batches_total",
			Help:      "Drained kernel event batches.",
		}),
		HelperRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "downlink",
			Subsystem: "helper",
			Name:      "requests_total",
			Help:      "Broker requests by method and result.",
		}, []string{"method", "result"}),
		HelperConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "downlink",
			Subsystem: "helper",
			Name:      "connections",
			Help:      "Open broker connections.",
		}),
		HelperRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "downlink",
			Subsystem: "helper",
			Name:      "rejected_connections_total",
			Help:      "Connections closed because the peer was not allowed.",
		}),
	}
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// WriteTextfile atomically writes the current values to path in the text
// exposition format.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}

// Handler serves the registry over HTTP.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
