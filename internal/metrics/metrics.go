// Package metrics exposes valve state and request outcomes to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/valve-panel/internal/valve"
)

// Rejection reasons recorded by Rejected.
const (
	ReasonLocked     = "locked"
	ReasonOutOfRange = "out_of_range"
	ReasonDriver     = "driver"
	ReasonBadRequest = "bad_request"
)

// Metrics holds the collectors on a private registry so tests can create as
// many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	open     *prometheus.GaugeVec
	locked   *prometheus.GaugeVec
	events   *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

// New creates and registers the valve collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "valve_open",
			Help: "1 if the valve is open, 0 if closed.",
		}, []string{"valve"}),
		locked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "valve_locked",
			Help: "1 if the valve is locked.",
		}, []string{"valve"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "valve_events_total",
			Help: "Successful valve mutations by kind.",
		}, []string{"valve", "kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "valve_rejected_total",
			Help: "Refused valve requests by reason.",
		}, []string{"valve", "reason"}),
	}
	m.registry.MustRegister(m.open, m.locked, m.events, m.rejected)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe sets the state gauges from a full snapshot.
func (m *Metrics) Observe(valves []valve.Valve) {
	for _, v := range valves {
		m.setState(v)
	}
}

// Notify implements valve.Notifier.
func (m *Metrics) Notify(_ context.Context, ev valve.Event) {
	m.events.WithLabelValues(ev.Valve.Name, string(ev.Kind)).Inc()
	m.setState(ev.Valve)
}

// Rejected counts a refused request. name is empty when the request never
// resolved to a valve.
func (m *Metrics) Rejected(name, reason string) {
	m.rejected.WithLabelValues(name, reason).Inc()
}

func (m *Metrics) setState(v valve.Valve) {
	m.open.WithLabelValues(v.Name).Set(boolFloat(v.Open))
	m.locked.WithLabelValues(v.Name).Set(boolFloat(v.Locked))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
