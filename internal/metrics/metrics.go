// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bountypool"

var (
	// Registry holds the application collectors.
	Registry = prometheus.NewRegistry()

	ledgerOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by name and outcome.",
		},
		[]string{"op", "result"},
	)

	fundedUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "funded_units_total",
			Help:      "Display units funded into pools, per currency.",
		},
		[]string{"currency"},
	)

	distributions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "distributions_total",
			Help:      "Distribution attempts by outcome.",
		},
		[]string{"result"},
	)

	distributionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "distribution_duration_seconds",
			Help:      "Wall time of a full distribution including chain confirmation.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	chainTransfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "transfers_total",
			Help:      "Chain transfers by leg and outcome.",
		},
		[]string{"leg", "result"},
	)

	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "processed_total",
			Help:      "Comment commands by outcome.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		ledgerOps,
		fundedUnits,
		distributions,
		distributionDuration,
		chainTransfers,
		commands,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes Registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordLedgerOp counts one ledger operation. A nil err is "ok"; otherwise
// result is the error's class as returned by classify.
func RecordLedgerOp(op string, err error, classify func(error) string) {
	result := "ok"
	if err != nil {
		result = "error"
		if classify != nil {
			result = classify(err)
		}
	}
	ledgerOps.WithLabelValues(op, result).Inc()
}

// RecordFunding adds a funded amount expressed in display units.
func RecordFunding(currency string, units float64) {
	fundedUnits.WithLabelValues(currency).Add(units)
}

// RecordDistribution records a finished distribution attempt.
func RecordDistribution(success bool, d time.Duration) {
	result := "failed"
	if success {
		result = "succeeded"
	}
	distributions.WithLabelValues(result).Inc()
	distributionDuration.Observe(d.Seconds())
}

// RecordTransfer counts one chain transfer attempt.
func RecordTransfer(leg, result string) {
	chainTransfers.WithLabelValues(leg, result).Inc()
}

// RecordCommand counts one processed comment.
func RecordCommand(result string) {
	commands.WithLabelValues(result).Inc()
}

// ObserveHTTP records one served request. route is the mux pattern, or
// "unmatched" when empty.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
