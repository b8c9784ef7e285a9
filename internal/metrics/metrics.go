package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersSettled counts transfer records reaching a terminal status.
	TransfersSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundflow",
			Subsystem: "transfer",
			Name:      "settled_total",
			Help:      "Transfer records settled, partitioned by terminal status.",
		},
		[]string{"status"},
	)

	// LedgerApplies counts apply requests handled by the ledger engine.
	LedgerApplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundflow",
			Subsystem: "ledger",
			Name:      "applies_total",
			Help:      "Ledger apply requests, partitioned by result.",
		},
		[]string{"result"},
	)

	// BreakerState mirrors the ledger-client circuit breaker:
	// 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fundflow",
			Subsystem: "ledger_client",
			Name:      "breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		},
	)

	// HTTPDuration observes request latency per service.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fundflow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "status"},
	)
)

// Ledger apply result labels.
const (
	ResultApplied        = "applied"
	ResultAlreadyApplied = "already_applied"
	ResultRejected       = "rejected"
	ResultTransient      = "transient"
)
