package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Request("testnet/local/mock", "get_balance", OutcomeOK)
	m.Request("testnet/local/mock", "get_balance", OutcomeOK)
	m.Retry("testnet/local/mock", "get_balance")
	m.State("testnet/local/mock", 2)
	m.Build(OutcomeOK)
	m.Lookup("memory")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProviderRequests.WithLabelValues("testnet/local/mock", "get_balance", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderRetries.WithLabelValues("testnet/local/mock", "get_balance")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProviderState.WithLabelValues("testnet/local/mock")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Request("a", "b", OutcomeError)
		m.Retry("a", "b")
		m.State("a", 3)
		m.Build(OutcomeError)
		m.Lookup("miss")
	})
}

func TestNew_PrivateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
