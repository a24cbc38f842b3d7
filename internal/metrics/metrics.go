// Package metrics declares the Prometheus collectors of the lab gate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session timer metrics
var (
	// SessionsStarted counts deadlines recorded by StartOrResume.
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hairscope_sessions_started_total",
			Help: "Total lab sessions started",
		},
	)

	// SessionsExhausted counts transitions of the exhausted flag from unset to set.
	SessionsExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hairscope_sessions_exhausted_total",
			Help: "Total lab sessions marked exhausted by reason",
		},
		[]string{"reason"},
	)

	// SessionResets counts ResetAll calls.
	SessionResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hairscope_session_resets_total",
			Help: "Total session resets",
		},
	)

	// LabViewers tracks mounted lab views with a live countdown feed.
	LabViewers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hairscope_lab_viewers",
			Help: "Number of lab views currently connected to the countdown feed",
		},
	)
)

// Gate metrics
var (
	// LoginAttempts counts credential checks by result (success, invalid, missing, restricted).
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hairscope_login_attempts_total",
			Help: "Total login attempts by result",
		},
		[]string{"result"},
	)

	// GuardDecisions counts route guard outcomes.
	GuardDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hairscope_guard_decisions_total",
			Help: "Route guard decisions by path and outcome",
		},
		[]string{"path", "outcome"},
	)
)

// Storage metrics
var (
	// StorageOpsTotal tracks storage operations by backend, operation and status.
	StorageOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hairscope_storage_operations_total",
			Help: "Total storage operations by backend, operation and status",
		},
		[]string{"backend", "operation", "status"},
	)

	// StorageOpDuration tracks storage operation latency in seconds.
	StorageOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hairscope_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"backend", "operation"},
	)

	// StorageSubscribers tracks open in-process change subscriptions.
	StorageSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hairscope_storage_subscribers",
			Help: "Open in-process change subscriptions by backend",
		},
		[]string{"backend"},
	)
)
