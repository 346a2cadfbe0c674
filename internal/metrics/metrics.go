// Package metrics holds the prometheus collectors of the reservation
// engine.  A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry         *prometheus.Registry
	transitions      *prometheus.CounterVec
	availability     *prometheus.CounterVec
	sweepNotices     *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
}

// New registers the collectors (plus the Go and process collectors) on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aplabs",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions attempted, by transition and outcome code.",
		}, []string{"transition", "outcome"}),
		availability: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aplabs",
			Name:      "availability_checks_total",
			Help:      "Availability evaluations, by result code.",
		}, []string{"result"}),
		sweepNotices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aplabs",
			Name:      "sweep_notifications_total",
			Help:      "Reminders and overdue notices emitted by the devolution sweep; claim_failed counts flags that could not be claimed.",
		}, []string{"kind"}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aplabs",
			Name:      "dispatch_failures_total",
			Help:      "Side effects dropped after exhausting their retries.",
		}, []string{"channel"}),
	}
	reg.MustRegister(
		m.transitions, m.availability, m.sweepNotices, m.dispatchFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Transition counts one lifecycle operation ("approve", "reject", ...) with
// its outcome ("ok" or an error code).
func (m *Metrics) Transition(name, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(name, outcome).Inc()
}

// Availability counts one availability evaluation.
func (m *Metrics) Availability(result string) {
	if m == nil {
		return
	}
	m.availability.WithLabelValues(result).Inc()
}

// SweepNotice counts one reminder or overdue notice.
func (m *Metrics) SweepNotice(kind string) {
	if m == nil {
		return
	}
	m.sweepNotices.WithLabelValues(kind).Inc()
}

// DispatchFailure counts a notification or audit entry given up on.
func (m *Metrics) DispatchFailure(channel string) {
	if m == nil {
		return
	}
	m.dispatchFailures.WithLabelValues(channel).Inc()
}
