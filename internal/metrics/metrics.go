// Package metrics defines the Prometheus instruments exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Engine outcomes by operation (register, cancel, checkin) and outcome
	// (registered, waiting, existing, cancelled, checked_in, or an error kind).
	OperationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registration_operation_outcomes_total",
			Help: "Outcomes of registration engine operations",
		},
		[]string{"operation", "outcome"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registration_operation_duration_seconds",
			Help:    "Duration of registration engine transactions, lock waits included",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	Promotions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registration_waitlist_promotions_total",
			Help: "Waiting registrations promoted to registered on cancellation",
		},
	)

	// PenaltyBlocks counts blocks set, by trigger (register, sweep).
	PenaltyBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registration_penalty_blocks_total",
			Help: "Users blocked by the no-show penalty policy",
		},
		[]string{"trigger"},
	)

	PenaltySweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registration_penalty_sweep_duration_seconds",
			Help:    "Duration of proactive no-show sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordOperation records one engine operation outcome and its duration.
func RecordOperation(operation, outcome string, d time.Duration) {
	OperationOutcomes.WithLabelValues(operation, outcome).Inc()
	OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordAPIRequest records one HTTP request.
func RecordAPIRequest(method, endpoint string, status int, d time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}
