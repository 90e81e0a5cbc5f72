// Package metrics exposes entity server metrics in Prometheus format.
//
// All recording methods are safe on a nil *Metrics, so callers can keep
// metrics optional without guarding every call.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "entity"

// Exchange outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
)

// Drop reasons.
const (
	DropMalformed   = "malformed"
	DropBusy        = "busy"
	DropRateLimited = "rate_limited"
	DropUnknown     = "unknown_type"
)

// Metrics holds the entity server's collectors.
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	framesTotal       *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	exchangesTotal    *prometheus.CounterVec
	exchangesInFlight prometheus.Gauge
	exchangeDuration  prometheus.Histogram
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Client connections currently registered with the reactor.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Client connections accepted.",
		}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_frames_total",
			Help:      "Client frames processed, by message type.",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_frames_dropped_total",
			Help:      "Client frames dropped, by reason.",
		}, []string{"reason"}),
		exchangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_exchanges_total",
			Help:      "Session key exchanges with the Auth, by outcome.",
		}, []string{"outcome"}),
		exchangesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "auth_exchanges_in_flight",
			Help:      "Session key exchanges currently running.",
		}),
		exchangeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "auth_exchange_duration_seconds",
			Help:      "Duration of session key exchanges.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
	}

	m.registry.MustRegister(
		m.connectionsActive,
		m.connectionsTotal,
		m.framesTotal,
		m.framesDropped,
		m.exchangesTotal,
		m.exchangesInFlight,
		m.exchangeDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed records a deregistered connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// FrameReceived counts a processed client frame.
func (m *Metrics) FrameReceived(msgType string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(msgType).Inc()
}

// FrameDropped counts a dropped client frame.
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

// ExchangeStarted records the start of an exchange.
func (m *Metrics) ExchangeStarted() {
	if m == nil {
		return
	}
	m.exchangesInFlight.Inc()
}

// ExchangeFinished records the outcome and duration of an exchange.
func (m *Metrics) ExchangeFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.exchangesInFlight.Dec()
	m.exchangesTotal.WithLabelValues(outcome).Inc()
	m.exchangeDuration.Observe(d.Seconds())
}
