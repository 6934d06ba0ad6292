// Package telemetry exposes Prometheus metrics for the gateway.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// AuthRequests counts token validations by outcome machine code.
	AuthRequests *prometheus.CounterVec

	// PolicyDecisions counts policy evaluations by decision.
	PolicyDecisions *prometheus.CounterVec

	// SecretReads counts vault reads by outcome.
	SecretReads *prometheus.CounterVec
}

// NewMetrics creates and registers the gateway collectors on a fresh
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		AuthRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_auth_requests_total",
			Help: "Token validations by outcome machine code.",
		}, []string{"outcome"}),
		PolicyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_policy_decisions_total",
			Help: "Policy evaluations by decision.",
		}, []string{"decision"}),
		SecretReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_secret_reads_total",
			Help: "Vault reads by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(m.AuthRequests, m.PolicyDecisions, m.SecretReads)
	return m
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
