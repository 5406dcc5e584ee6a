// Package metrics provides Prometheus instrumentation for the relay. It
// exposes a gauge for live connections, counters for event throughput, and
// histograms for broadcast and persistence latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of live WebSocket
	// connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "Current number of live WebSocket connections",
	})

	// EventsTotal counts processed inbound events, labeled by type:
	// "chat", "typing", "stop_typing", "profile", or "dropped" for
	// malformed and invalid payloads.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Total number of inbound events processed",
	}, []string{"type"})

	// BroadcastSeconds records the time to fan one payload out to all
	// broadcast targets.
	BroadcastSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_broadcast_seconds",
		Help:    "Time to deliver one payload to all broadcast targets",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	})

	// PersistSeconds records the latency of store writes (message appends
	// and profile upserts).
	PersistSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_persist_seconds",
		Help:    "Store write latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		EventsTotal,
		BroadcastSeconds,
		PersistSeconds,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
