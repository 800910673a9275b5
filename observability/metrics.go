// Package observability exposes prometheus metrics for sync runs. All
// methods are nil-safe so instrumentation stays optional.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gh-myio/gcdr-sync/gcdr"
	"github.com/gh-myio/gcdr-sync/syncer"
)

type Metrics struct {
	registry *prometheus.Registry
	outcomes *prometheus.CounterVec
	requests *prometheus.CounterVec
	runs     prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gcdrsync_action_outcomes_total",
		Help: "Sync actions by entity kind, action type, and outcome.",
	}, []string{"kind", "action", "outcome"})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gcdrsync_registry_requests_total",
		Help: "HTTP requests issued to the downstream registry.",
	}, []string{"method", "status"})

	runs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gcdrsync_runs_total",
		Help: "Completed sync runs.",
	})

	registry.MustRegister(outcomes, requests, runs)

	return &Metrics{
		registry: registry,
		outcomes: outcomes,
		requests: requests,
		runs:     runs,
	}
}

func (m *Metrics) RecordOutcome(kind gcdr.EntityKind, action syncer.ActionType, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(kind), string(action), outcome).Inc()
}

func (m *Metrics) RecordRequest(method string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(method, label).Inc()
}

func (m *Metrics) RecordRun() {
	if m == nil {
		return
	}
	m.runs.Inc()
}

// Handler serves the metrics in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
