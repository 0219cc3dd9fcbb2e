package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects counters for the realtime core.
//
// A nil *Metrics is valid and records nothing, so components can be built in
// tests without a registry.
type Metrics struct {
	// ActiveConnections is the number of identities currently in the registry.
	ActiveConnections prometheus.Gauge

	// ConnectionsTotal counts handshakes by outcome.
	// Labels: outcome (admitted|superseded|unauthenticated|inactive)
	ConnectionsTotal *prometheus.CounterVec

	// EventsTotal counts inbound events by name and result.
	// Labels: event, result (ok|error|dropped|panic)
	EventsTotal *prometheus.CounterVec

	// MessagesTotal counts relayed chat messages by delivery path.
	// Labels: path (room|notification)
	MessagesTotal *prometheus.CounterVec

	// CallTransitions counts call session state changes.
	// Labels: to
	CallTransitions *prometheus.CounterVec

	// PersistFailures counts failed durability writes.
	// Labels: kind (message|call|presence|account)
	PersistFailures *prometheus.CounterVec

	// SendDropped counts outbound events dropped on a full send buffer.
	SendDropped prometheus.Counter

	// CallDuration observes ended calls in seconds.
	CallDuration prometheus.Histogram
}

// NewMetrics registers the collectors with reg. Passing nil uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "carelink_active_connections",
			Help: "Identities with a live realtime channel",
		}),
		ConnectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_connections_total",
			Help: "Realtime handshakes by outcome",
		}, []string{"outcome"}),
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_events_total",
			Help: "Inbound realtime events by name and result",
		}, []string{"event", "result"}),
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_messages_total",
			Help: "Chat message deliveries by path",
		}, []string{"path"}),
		CallTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_call_transitions_total",
			Help: "Call session state transitions by target state",
		}, []string{"to"}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_persist_failures_total",
			Help: "Failed durability writes by record kind",
		}, []string{"kind"}),
		SendDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "carelink_send_dropped_total",
			Help: "Outbound events dropped because a send buffer was full",
		}),
		CallDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "carelink_call_duration_seconds",
			Help:    "Duration of ended calls",
			Buckets: []float64{60, 300, 600, 900, 1800, 2700, 3600, 7200},
		}),
	}
}

func (m *Metrics) ConnectionOpened(superseded bool) {
	if m == nil {
		return
	}
	if superseded {
		m.ConnectionsTotal.WithLabelValues("superseded").Inc()
		return
	}
	m.ActiveConnections.Inc()
	m.ConnectionsTotal.WithLabelValues("admitted").Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) ConnectionRejected(outcome string) {
	if m == nil {
		return
	}
	m.ConnectionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Event(name, result string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(name, result).Inc()
}

func (m *Metrics) MessageDelivered(path string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(path).Inc()
}

func (m *Metrics) CallTransition(to string) {
	if m == nil {
		return
	}
	m.CallTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) CallEnded(d time.Duration) {
	if m == nil {
		return
	}
	m.CallDuration.Observe(d.Seconds())
}

func (m *Metrics) PersistFailed(kind string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.SendDropped.Inc()
}
