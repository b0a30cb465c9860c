// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for the relay hub and its transport.

package control

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Relay directions used as label values.
const (
	DirectionToDevice  = "to_device"
	DirectionToClients = "to_clients"
)

// Metrics owns a private registry so tests and multiple servers in one
// process never collide on the default one.
type Metrics struct {
	reg *prometheus.Registry

	activeSessions   prometheus.Gauge
	sessionsAccepted prometheus.Counter
	messages         *prometheus.CounterVec
	relayed          *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	loginErrors      *prometheus.CounterVec
	forcedCloses     *prometheus.CounterVec
	rateLimited      prometheus.Counter
	handshakeFailed  prometheus.Counter
}

// NewMetrics creates and registers all collectors, plus the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Sessions currently held in the registry.",
		}),
		sessionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "accepted_total",
			Help:      "WebSocket connections accepted.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_total",
			Help:      "Inbound messages by action.",
		}, []string{"action"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "relayed_total",
			Help:      "Frames forwarded between clients and devices.",
		}, []string{"direction"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "delivery_failures_total",
			Help:      "Frames that could not be queued for a recipient.",
		}, []string{"direction"}),
		loginErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "login_errors_total",
			Help:      "loginError responses by error code.",
		}, []string{"code"}),
		forcedCloses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "forced_closes_total",
			Help:      "Connections closed by the hub, by close code.",
		}, []string{"code"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "rate_limited_total",
			Help:      "Inbound messages dropped by the per-session limiter.",
		}),
		handshakeFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "handshake_failures_total",
			Help:      "HTTP requests that failed the WebSocket upgrade.",
		}),
	}
	m.reg.MustRegister(
		m.activeSessions, m.sessionsAccepted, m.messages, m.relayed,
		m.deliveryFailures, m.loginErrors, m.forcedCloses, m.rateLimited,
		m.handshakeFailed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsAccepted.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// SetActive resets the active gauge, used after the registry is cleared.
func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) MessageReceived(action string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(action).Inc()
}

func (m *Metrics) Relayed(direction string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(direction).Inc()
}

func (m *Metrics) DeliveryFailed(direction string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(direction).Inc()
}

func (m *Metrics) LoginError(code string) {
	if m == nil {
		return
	}
	m.loginErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) ForcedClose(code int) {
	if m == nil {
		return
	}
	m.forcedCloses.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) HandshakeFailed() {
	if m == nil {
		return
	}
	m.handshakeFailed.Inc()
}
