// Package metrics holds the bridge's Prometheus collectors. Every method is
// safe to call on a nil *Metrics so components can run without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	requestLatency *prometheus.HistogramVec
	upstreamErrors *prometheus.CounterVec
	dedupConflicts prometheus.Counter
	broadcasts     *prometheus.CounterVec
	duplicatesSeen prometheus.Counter
	pollSkipped    prometheus.Counter
	pollFailures   prometheus.Counter
	connections    prometheus.Gauge
	sinkFailures   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "msgbridge_request_duration_seconds",
			Help:    "Latency of client requests by route or socket event.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"route", "status"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msgbridge_upstream_errors_total",
			Help: "Failed daemon calls grouped by error kind.",
		}, []string{"kind"}),
		dedupConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msgbridge_send_conflicts_total",
			Help: "Sends rejected because the same token was already in flight.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msgbridge_broadcasts_total",
			Help: "Realtime events broadcast, by event name.",
		}, []string{"event"}),
		duplicatesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msgbridge_duplicate_messages_total",
			Help: "Inbound messages dropped because their id was already broadcast.",
		}),
		pollSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msgbridge_poll_skipped_total",
			Help: "Poll ticks skipped because the previous poll was still running.",
		}),
		pollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msgbridge_poll_failures_total",
			Help: "Poll rounds that failed against the daemon.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "msgbridge_realtime_connections",
			Help: "Currently open realtime connections.",
		}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msgbridge_sink_failures_total",
			Help: "Failed event deliveries by sink.",
		}, []string{"sink"}),
	}

	reg.MustRegister(
		m.requestLatency,
		m.upstreamErrors,
		m.dedupConflicts,
		m.broadcasts,
		m.duplicatesSeen,
		m.pollSkipped,
		m.pollFailures,
		m.connections,
		m.sinkFailures,
	)
	return m
}

func (m *Metrics) ObserveRequest(route string, status int, dur time.Duration) {
	if m == nil || route == "" {
		return
	}
	m.requestLatency.WithLabelValues(route, statusClass(status)).Observe(dur.Seconds())
}

func (m *Metrics) UpstreamError(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.upstreamErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) DedupConflict() {
	if m == nil {
		return
	}
	m.dedupConflicts.Inc()
}

func (m *Metrics) Broadcast(event string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(event).Inc()
}

func (m *Metrics) DuplicateSeen() {
	if m == nil {
		return
	}
	m.duplicatesSeen.Inc()
}

func (m *Metrics) PollSkipped() {
	if m == nil {
		return
	}
	m.pollSkipped.Inc()
}

func (m *Metrics) PollFailed() {
	if m == nil {
		return
	}
	m.pollFailures.Inc()
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) SinkFailed(sink string) {
	if m == nil {
		return
	}
	if sink == "" {
		sink = "unknown"
	}
	m.sinkFailures.WithLabelValues(sink).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
