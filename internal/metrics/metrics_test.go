package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRPC("eth_gasPrice", time.Millisecond, nil)
		m.ObserveDiscovery(errors.New("x"))
		m.SetBreakerOpen(true)
		m.ObserveWithdrawal("confirmed", 1)
		m.SetTreasuryBalance(1)
		m.SetLedgerTotal(1)
		m.IncFlashLoans()
		m.ObserveHTTP("GET", "/", 200, time.Millisecond)
	})
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveRPC("eth_blockNumber", time.Millisecond, nil)
	m.ObserveRPC("eth_blockNumber", time.Millisecond, errors.New("boom"))
	m.ObserveWithdrawal("confirmed", 0.5)
	m.ObserveWithdrawal("rejected", 2)
	m.ObserveDiscovery(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCCalls.WithLabelValues("eth_blockNumber", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCCalls.WithLabelValues("eth_blockNumber", "error")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.WithdrawnETH))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiscoveryAttempts.WithLabelValues("connected")))
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New()
	m.SetTreasuryBalance(0.25)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "yield_desk_treasury_balance_eth 0.25")
}
