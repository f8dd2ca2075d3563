package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UnlocksStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlocks_started_total",
		Help: "Total number of unlock attempts started",
	})

	UnlocksRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlocks_recorded_total",
		Help: "Total number of unlocks written to the ledger",
	})

	UnlocksShortCircuitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlocks_short_circuited_total",
		Help: "Total number of unlock attempts answered from the ledger without a provider call",
	})

	UnlocksReconciledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlocks_reconciled_total",
		Help: "Total number of unlocks recovered from a provider-side success with no ledger row",
	})

	UnlocksCanceledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlocks_canceled_total",
		Help: "Total number of unlock attempts canceled by the buyer",
	})

	UnlocksFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unlocks_failed_total",
		Help: "Total number of failed unlock attempts",
	}, []string{"reason"})

	LedgerConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_conflicts_total",
		Help: "Total number of ledger inserts resolved by the uniqueness constraint",
	})

	IntentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_intents_created_total",
		Help: "Total number of payment intents created at the provider",
	})

	IntentsReusedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_intents_reused_total",
		Help: "Total number of unlock attempts that reused a cached open intent",
	})

	IntentCreateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_intent_create_latency_seconds",
		Help:    "Latency of payment intent creation",
		Buckets: prometheus.DefBuckets,
	})

	ListingStatusChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listing_status_changes_total",
		Help: "Total number of listing status transitions persisted",
	}, []string{"to"})

	FavoritesToggledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "favorites_toggled_total",
		Help: "Total number of favorite toggles",
	}, []string{"state"})

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
