package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HoldsAcquiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "holds_acquired_total",
		Help: "Total number of reservation holds acquired",
	})

	HoldsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holds_rejected_total",
		Help: "Total number of rejected hold acquisitions",
	}, []string{"reason"})

	HoldsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holds_resolved_total",
		Help: "Total number of holds reaching a terminal state",
	}, []string{"state"})

	HoldAcquireLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hold_acquire_latency_seconds",
		Help:    "Latency of hold acquisition including the room-type critical section",
		Buckets: prometheus.DefBuckets,
	})

	ActiveHolds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "holds_active",
		Help: "Number of holds currently in the ACTIVE state",
	})

	PaymentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Payment transition attempts by event and outcome",
	}, []string{"event", "outcome"})

	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliations_total",
		Help: "Reconciliation runs by outcome",
	}, []string{"outcome"})

	ProviderQueryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "provider_query_latency_seconds",
		Help:    "Latency of payment provider status queries",
		Buckets: prometheus.DefBuckets,
	})

	AuditAppendFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_append_failures_total",
		Help: "Audit entries that could not be written",
	}, []string{"entity_type"})

	NotificationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_publish_failures_total",
		Help: "Notifications that could not be published",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
