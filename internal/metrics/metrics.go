package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Router metrics
	MessagesReceivedTotal prometheus.Counter
	MessagesDroppedTotal  *prometheus.CounterVec
	MessagesDedupedTotal  prometheus.Counter

	// Run metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram

	// Orchestrator metrics
	ActionInvocationsTotal *prometheus.CounterVec
	ModelCallsTotal        *prometheus.CounterVec

	// Bridge metrics
	BridgeRequestsTotal *prometheus.CounterVec
}

// New creates and registers all metrics
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		MessagesReceivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fabric_messages_received_total",
				Help: "Total number of messages received from the event bus",
			},
		),
		MessagesDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fabric_messages_dropped_total",
				Help: "Total number of messages dropped before orchestration",
			},
			[]string{"reason"},
		),
		MessagesDedupedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fabric_messages_deduped_total",
				Help: "Total number of duplicate messages suppressed",
			},
		),

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fabric_runs_total",
				Help: "Total number of orchestration runs by terminal status",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fabric_run_duration_seconds",
				Help:    "Duration of orchestration runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
			},
		),

		ActionInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fabric_action_invocations_total",
				Help: "Total number of action invocations by outcome",
			},
			[]string{"action", "status"},
		),
		ModelCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fabric_model_calls_total",
				Help: "Total number of model collaborator calls",
			},
			[]string{"purpose"},
		),

		BridgeRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fabric_bridge_requests_total",
				Help: "Total number of outbound control plane requests",
			},
			[]string{"endpoint", "status"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.MessagesReceivedTotal)
	m.registry.MustRegister(m.MessagesDroppedTotal)
	m.registry.MustRegister(m.MessagesDedupedTotal)

	m.registry.MustRegister(m.RunsTotal)
	m.registry.MustRegister(m.RunDuration)

	m.registry.MustRegister(m.ActionInvocationsTotal)
	m.registry.MustRegister(m.ModelCallsTotal)

	m.registry.MustRegister(m.BridgeRequestsTotal)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
