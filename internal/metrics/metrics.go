// Package metrics provides Prometheus metrics for the treasury service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "yield_desk"

// Metrics holds every collector on a private registry, so tests can build as many as they like.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	// RPC metrics
	RPCCalls          *prometheus.CounterVec
	RPCCallLatency    *prometheus.HistogramVec
	DiscoveryAttempts *prometheus.CounterVec
	BreakerOpen       prometheus.Gauge

	// Treasury metrics
	Withdrawals     *prometheus.CounterVec
	WithdrawnETH    prometheus.Counter
	TreasuryBalance prometheus.Gauge

	// Ledger metrics
	LedgerTotalUSD prometheus.Gauge
	FlashLoans     prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RPCCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "JSON-RPC calls by method and result",
		}, []string{"method", "result"}),
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		DiscoveryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "discovery_total",
			Help:      "Endpoint discovery runs by result",
		}, []string{"result"}),
		BreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "breaker_open",
			Help:      "1 while the RPC circuit breaker is open",
		}),

		Withdrawals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "treasury",
			Name:      "withdrawals_total",
			Help:      "Withdrawal attempts by result",
		}, []string{"result"}),
		WithdrawnETH: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "treasury",
			Name:      "withdrawn_eth_total",
			Help:      "ETH sent by confirmed withdrawals",
		}),
		TreasuryBalance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "treasury",
			Name:      "balance_eth",
			Help:      "Last observed treasury balance in ETH",
		}),

		LedgerTotalUSD: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "total_usd",
			Help:      "Simulated ledger total in USD",
		}),
		FlashLoans: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "flash_loans_total",
			Help:      "Simulated flash loans executed",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 30, 120},
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRPC(method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RPCCalls.WithLabelValues(method, result).Inc()
	m.RPCCallLatency.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) ObserveDiscovery(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.DiscoveryAttempts.WithLabelValues("failed").Inc()
		return
	}
	m.DiscoveryAttempts.WithLabelValues("connected").Inc()
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
	} else {
		m.BreakerOpen.Set(0)
	}
}

// ObserveWithdrawal counts one attempt; amountETH is added only for "confirmed".
func (m *Metrics) ObserveWithdrawal(result string, amountETH float64) {
	if m == nil {
		return
	}
	m.Withdrawals.WithLabelValues(result).Inc()
	if result == "confirmed" && amountETH > 0 {
		m.WithdrawnETH.Add(amountETH)
	}
}

func (m *Metrics) SetTreasuryBalance(eth float64) {
	if m == nil {
		return
	}
	m.TreasuryBalance.Set(eth)
}

func (m *Metrics) SetLedgerTotal(usd float64) {
	if m == nil {
		return
	}
	m.LedgerTotalUSD.Set(usd)
}

func (m *Metrics) IncFlashLoans() {
	if m == nil {
		return
	}
	m.FlashLoans.Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
