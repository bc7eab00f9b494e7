package registry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus instrumentation for the agent registry and
// its inboxes. A nil *Metrics is valid everywhere below: every method
// checks for it so callers can pass nil to disable instrumentation
// without branching at every call site.
type Metrics struct {
	registry *prometheus.Registry

	registeredAgents *prometheus.GaugeVec
	inboxMessages    *prometheus.CounterVec
	inboxDepth       *prometheus.GaugeVec
}

// NewMetrics builds a registered, ready-to-use Metrics instance.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.registeredAgents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "agents_registered",
			Help:      "Number of agents currently registered",
		},
		[]string{},
	)

	m.inboxMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "inbox_messages_total",
			Help:      "Total number of messages enqueued into an agent inbox",
		},
		[]string{"project_id", "agent_id"},
	)

	m.inboxDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "inbox_depth",
			Help:      "Approximate number of messages waiting in an agent inbox",
		},
		[]string{"project_id", "agent_id"},
	)

	m.registry.MustRegister(m.registeredAgents, m.inboxMessages, m.inboxDepth)
	return m
}

// SetRegisteredAgents sets the total registered-agent gauge.
func (m *Metrics) SetRegisteredAgents(n int) {
	if m == nil {
		return
	}
	m.registeredAgents.WithLabelValues().Set(float64(n))
}

// IncInboxMessages records one message enqueued for (projectID, agentID).
func (m *Metrics) IncInboxMessages(projectID, agentID string) {
	if m == nil {
		return
	}
	m.inboxMessages.WithLabelValues(projectID, agentID).Inc()
}

// SetInboxDepth records the current queue depth for (projectID, agentID).
func (m *Metrics) SetInboxDepth(projectID, agentID string, depth int) {
	if m == nil {
		return
	}
	m.inboxDepth.WithLabelValues(projectID, agentID).Set(float64(depth))
}

// Handler exposes the registry's metrics over HTTP for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
