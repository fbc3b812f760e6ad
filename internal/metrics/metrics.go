package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors updated by connections. All the methods are safe to call
// on a nil receiver, which simply disables the accounting.
type Metrics struct {
	connectionsOpened   prometheus.Counter
	connectionsReleased prometheus.Counter
	connectionsActive   prometheus.Gauge
	requests            prometheus.Counter
	parseErrors         prometheus.Counter
	bytesRead           prometheus.Counter
	bytesWritten        prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connectionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "evhttp_connections_opened_total",
			Help: "Total number of accepted connections",
		}),
		connectionsReleased: factory.NewCounter(prometheus.CounterOpts{
			Name: "evhttp_connections_released_total",
			Help: "Total number of connections whose resources were released",
		}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "evhttp_connections_active",
			Help: "Current number of connections not released yet",
		}),
		requests: factory.NewCounter(prometheus.CounterOpts{
			Name: "evhttp_requests_total",
			Help: "Total number of requests dispatched to handlers",
		}),
		parseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "evhttp_parse_errors_total",
			Help: "Total number of malformed requests",
		}),
		bytesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "evhttp_read_bytes_total",
			Help: "Total number of bytes read from transports",
		}),
		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "evhttp_written_bytes_total",
			Help: "Total number of bytes written to transports",
		}),
	}
}

func (m *Metrics) Opened() {
	if m == nil {
		return
	}

	m.connectionsOpened.Inc()
	m.connectionsActive.Inc()
}

func (m *Metrics) Released() {
	if m == nil {
		return
	}

	m.connectionsReleased.Inc()
	m.connectionsActive.Dec()
}

func (m *Metrics) Dispatched() {
	if m != nil {
		m.requests.Inc()
	}
}

func (m *Metrics) ParseError() {
	if m != nil {
		m.parseErrors.Inc()
	}
}

func (m *Metrics) Read(n int) {
	if m != nil {
		m.bytesRead.Add(float64(n))
	}
}

func (m *Metrics) Written(n int) {
	if m != nil {
		m.bytesWritten.Add(float64(n))
	}
}
