package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the hub.
type Metrics struct {
	registry *prometheus.Registry

	ConnectedClients  prometheus.Gauge
	ConnectedAdapters prometheus.Gauge

	ChatsTotal      prometheus.Counter
	DispatchesTotal prometheus.Counter
	ResponsesTotal  *prometheus.CounterVec
	AuditFailures   prometheus.Counter
	AuditDropped    prometheus.Counter

	DispatchTargets prometheus.Histogram
}

// NewMetrics creates a metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmhub",
			Name:      "connected_clients",
			Help:      "Currently connected client-channel sessions.",
		}),
		ConnectedAdapters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmhub",
			Name:      "connected_adapters",
			Help:      "Currently registered adapter sessions.",
		}),
		ChatsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llmhub",
			Name:      "chats_total",
			Help:      "Chat requests accepted.",
		}),
		DispatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llmhub",
			Name:      "dispatches_total",
			Help:      "Process messages sent to adapters.",
		}),
		ResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmhub",
			Name:      "responses_total",
			Help:      "Adapter responses forwarded to clients.",
		}, []string{"status"}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llmhub",
			Name:      "audit_write_failures_total",
			Help:      "Audit store writes that failed.",
		}),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llmhub",
			Name:      "audit_writes_dropped_total",
			Help:      "Audit writes dropped because the queue was full.",
		}),
		DispatchTargets: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "llmhub",
			Name:      "dispatch_targets",
			Help:      "Adapter fan-out per chat request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
	}
	reg.MustRegister(
		m.ConnectedClients,
		m.ConnectedAdapters,
		m.ChatsTotal,
		m.DispatchesTotal,
		m.ResponsesTotal,
		m.AuditFailures,
		m.AuditDropped,
		m.DispatchTargets,
	)
	return m
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
