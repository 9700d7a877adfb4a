// Package metrics exposes Prometheus collectors for the real-time transport.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Transport groups the collectors updated by the connection manager and the
// subscriber registry. All methods are safe on a nil receiver so callers can
// run without metrics.
type Transport struct {
	FramesReceived     prometheus.Counter
	FramesDropped      prometheus.Counter
	MessagesDispatched prometheus.Counter
	HandlerPanics      prometheus.Counter
	ReconnectAttempts  prometheus.Counter
	ConnectionStatus   prometheus.Gauge
}

// NewTransport creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is convenient in tests.
func NewTransport(reg prometheus.Registerer) *Transport {
	m := &Transport{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "moldline",
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Total number of inbound frames read from the connection.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "moldline",
			Subsystem: "transport",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames that were malformed or of an unknown type.",
		}),
		MessagesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "moldline",
			Subsystem: "transport",
			Name:      "messages_dispatched_total",
			Help:      "Chat messages handed to the subscriber registry.",
		}),
		HandlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "moldline",
			Subsystem: "transport",
			Name:      "handler_panics_total",
			Help:      "Subscriber handlers that panicked during dispatch.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "moldline",
			Subsystem: "transport",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts made after a connection failure.",
		}),
		ConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "moldline",
			Subsystem: "transport",
			Name:      "connection_status",
			Help:      "0 = disconnected, 1 = connecting, 2 = connected.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.FramesReceived,
			m.FramesDropped,
			m.MessagesDispatched,
			m.HandlerPanics,
			m.ReconnectAttempts,
			m.ConnectionStatus,
		)
	}
	return m
}

func (m *Transport) FrameReceived() {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
}

func (m *Transport) FrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

func (m *Transport) MessageDispatched() {
	if m == nil {
		return
	}
	m.MessagesDispatched.Inc()
}

func (m *Transport) HandlerPanicked() {
	if m == nil {
		return
	}
	m.HandlerPanics.Inc()
}

func (m *Transport) ReconnectAttempted() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// SetStatus records the numeric connection status.
func (m *Transport) SetStatus(v int) {
	if m == nil {
		return
	}
	m.ConnectionStatus.Set(float64(v))
}
