package observability

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "p2pescrow"

type gatewayMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	gatewayMetricsOnce sync.Once
	gatewayRegistry    *gatewayMetrics

	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics

	consensusMetricsOnce sync.Once
	consensusRegistry    *ConsensusMetrics
)

// Gateway returns the lazily-initialised registry for HTTP gateway traffic.
func Gateway() *gatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &gatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the per-caller rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.errors,
			gatewayRegistry.latency,
			gatewayRegistry.throttles,
		)
	})
	return gatewayRegistry
}

// Observe records the outcome of a gateway request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *gatewayMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the route.
func (m *gatewayMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}

// EscrowMetrics tracks escrow engine calls and settlement volume. It
// satisfies escrow.Metrics.
type EscrowMetrics struct {
	calls       *prometheus.CounterVec
	settlements prometheus.Counter
	refunded    prometheus.Counter
	released    prometheus.Counter
}

// Escrow returns the singleton escrow metrics registry.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = newEscrowMetrics()
		escrowRegistry.register(prometheus.DefaultRegisterer)
	})
	return escrowRegistry
}

func newEscrowMetrics() *EscrowMetrics {
	return &EscrowMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "calls_total",
			Help:      "Escrow operations segmented by operation and reason code (ok on success).",
		}, []string{"op", "reason"}),
		settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "settlements_total",
			Help:      "Disputes settled from an agreed verdict.",
		}),
		refunded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "refunded_amount_total",
			Help:      "Value refunded to buyers by dispute settlements.",
		}),
		released: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "released_amount_total",
			Help:      "Value released to sellers by dispute settlements.",
		}),
	}
}

func (m *EscrowMetrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.calls, m.settlements, m.refunded, m.released)
}

// ObserveCall records one escrow call. An empty reason means success.
func (m *EscrowMetrics) ObserveCall(op, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "ok"
	}
	m.calls.WithLabelValues(op, reason).Inc()
}

// ObserveSettlement records the split of one settled dispute.
func (m *EscrowMetrics) ObserveSettlement(refund, seller *uint256.Int) {
	if m == nil {
		return
	}
	m.settlements.Inc()
	if refund != nil {
		m.refunded.Add(amountFloat(refund))
	}
	if seller != nil {
		m.released.Add(amountFloat(seller))
	}
}

// ConsensusMetrics tracks equivalence rounds. It satisfies
// equivalence.Observer.
type ConsensusMetrics struct {
	rounds  *prometheus.CounterVec
	support prometheus.Histogram
}

// Consensus exposes the metrics registry for consensus level instrumentation.
func Consensus() *ConsensusMetrics {
	consensusMetricsOnce.Do(func() {
		consensusRegistry = newConsensusMetrics()
		prometheus.MustRegister(consensusRegistry.rounds, consensusRegistry.support)
	})
	return consensusRegistry
}

func newConsensusMetrics() *ConsensusMetrics {
	return &ConsensusMetrics{
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "rounds_total",
			Help:      "Equivalence rounds segmented by outcome.",
		}, []string{"outcome"}),
		support: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "support_ratio",
			Help:      "Fraction of validators accepting the leader's candidate.",
			Buckets:   []float64{0, 0.25, 0.5, 0.67, 0.75, 0.9, 1},
		}),
	}
}

// ObserveConsensus records one round.
func (m *ConsensusMetrics) ObserveConsensus(outcome string, accepts, validators int) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(outcome).Inc()
	if validators > 0 {
		m.support.Observe(float64(accepts) / float64(validators))
	}
}

func amountFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
