// Package metrics defines the Prometheus collectors exported by the
// framework core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dapp"

// Outcome label values.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeUnavailable = "unavailable"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ProviderRequests *prometheus.CounterVec
	ProviderRetries  *prometheus.CounterVec
	ProviderState    *prometheus.GaugeVec
	ContractBuilds   *prometheus.CounterVec
	ContractLookups  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg uses a
// private registry, so tests and multiple instances never collide.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Provider operations by network, operation and outcome.",
		}, []string{"network", "op", "outcome"}),
		ProviderRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "retries_total",
			Help:      "Retried provider queries.",
		}, []string{"network", "op"}),
		ProviderState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "state",
			Help:      "Connection state: 0 disconnected, 1 connecting, 2 connected, 3 failed.",
		}, []string{"network"}),
		ContractBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contracts",
			Name:      "builds_total",
			Help:      "Contract type builds by outcome.",
		}, []string{"outcome"}),
		ContractLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contracts",
			Name:      "lookups_total",
			Help:      "Contract type lookups by the layer that answered.",
		}, []string{"layer"}),
	}

	reg.MustRegister(
		m.ProviderRequests,
		m.ProviderRetries,
		m.ProviderState,
		m.ContractBuilds,
		m.ContractLookups,
	)
	return m
}

// Request records one provider operation.
func (m *Metrics) Request(network, op, outcome string) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(network, op, outcome).Inc()
}

// Retry records one retried provider query.
func (m *Metrics) Retry(network, op string) {
	if m == nil {
		return
	}
	m.ProviderRetries.WithLabelValues(network, op).Inc()
}

// State records a connection state transition.
func (m *Metrics) State(network string, state int) {
	if m == nil {
		return
	}
	m.ProviderState.WithLabelValues(network).Set(float64(state))
}

// Build records a contract type build outcome.
func (m *Metrics) Build(outcome string) {
	if m == nil {
		return
	}
	m.ContractBuilds.WithLabelValues(outcome).Inc()
}

// Lookup records which cache layer answered a contract type lookup.
func (m *Metrics) Lookup(layer string) {
	if m == nil {
		return
	}
	m.ContractLookups.WithLabelValues(layer).Inc()
}
