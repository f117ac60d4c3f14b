package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics captures engine-level settlement activity.
type SettlementMetrics struct {
	settlements *prometheus.CounterVec
	aborts      *prometheus.CounterVec
	latency     prometheus.Histogram
	surplus     prometheus.Counter
	routingFees prometheus.Counter
}

// RPCMetrics captures JSON-RPC server activity.
type RPCMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles prometheus.Counter
}

var (
	settlementOnce sync.Once
	settlementReg  *SettlementMetrics

	rpcOnce sync.Once
	rpcReg  *RPCMetrics
)

// Settlements returns the singleton settlement metrics registry.
func Settlements() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementReg = &SettlementMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swapsettle",
				Subsystem: "engine",
				Name:      "settlements_total",
				Help:      "Count of settlement attempts segmented by outcome.",
			}, []string{"outcome"}),
			aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swapsettle",
				Subsystem: "engine",
				Name:      "aborts_total",
				Help:      "Count of aborted settlements segmented by reason.",
			}, []string{"reason"}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "swapsettle",
				Subsystem: "engine",
				Name:      "settle_duration_seconds",
				Help:      "Latency distribution for settlement execution.",
				Buckets:   prometheus.DefBuckets,
			}),
			surplus: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "swapsettle",
				Subsystem: "engine",
				Name:      "surplus_units_total",
				Help:      "Cumulative surplus apportioned across settlements, in output asset units.",
			}),
			routingFees: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "swapsettle",
				Subsystem: "engine",
				Name:      "routing_fee_units_total",
				Help:      "Cumulative routing fees extracted across settlements, in output asset units.",
			}),
		}
		prometheus.MustRegister(
			settlementReg.settlements,
			settlementReg.aborts,
			settlementReg.latency,
			settlementReg.surplus,
			settlementReg.routingFees,
		)
	})
	return settlementReg
}

// ObserveSettled records one completed settlement.
func (m *SettlementMetrics) ObserveSettled(duration time.Duration, routingFee, surplus *big.Int) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues("settled").Inc()
	m.latency.Observe(duration.Seconds())
	m.routingFees.Add(bigToFloat(routingFee))
	m.surplus.Add(bigToFloat(surplus))
}

// ObserveAborted records one aborted settlement. Reasons should be stable
// strings such as "validation" or "slippage_breach" so dashboards remain
// consistent.
func (m *SettlementMetrics) ObserveAborted(duration time.Duration, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.settlements.WithLabelValues("aborted").Inc()
	m.aborts.WithLabelValues(reason).Inc()
	m.latency.Observe(duration.Seconds())
}

// RPC returns the singleton JSON-RPC metrics registry.
func RPC() *RPCMetrics {
	rpcOnce.Do(func() {
		rpcReg = &RPCMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swapsettle",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swapsettle",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "swapsettle",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "swapsettle",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}),
		}
		prometheus.MustRegister(rpcReg.requests, rpcReg.errors, rpcReg.latency, rpcReg.throttles)
	})
	return rpcReg
}

// Observe records the outcome of one JSON-RPC request. A code of zero means
// the request succeeded.
func (m *RPCMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the rate-limit rejection counter.
func (m *RPCMetrics) RecordThrottle() {
	if m == nil {
		return
	}
	m.throttles.Inc()
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
