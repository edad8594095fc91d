package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncPushesTotal counts outbound tier pushes by product and outcome
	// (ok, http_error, transport_error, timeout).
	SyncPushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entitlements",
		Subsystem: "sync",
		Name:      "pushes_total",
		Help:      "Outbound sync pushes by product and outcome.",
	}, []string{"product", "outcome"})

	// SyncPushDuration tracks outbound push latency per product.
	SyncPushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "entitlements",
		Subsystem: "sync",
		Name:      "push_duration_seconds",
		Help:      "Outbound sync push duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"product"})

	// SyncInflight gauges fire-and-forget sync batches still running.
	SyncInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "entitlements",
		Subsystem: "sync",
		Name:      "batches_inflight",
		Help:      "Sync batches currently in flight.",
	})

	// WebhookEventsTotal counts gateway events by type and outcome
	// (processed, ignored, duplicate, failed).
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entitlements",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Payment gateway events by type and outcome.",
	}, []string{"event_type", "outcome"})

	// LedgerMutationsTotal counts ledger writes by action and source.
	LedgerMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entitlements",
		Subsystem: "ledger",
		Name:      "mutations_total",
		Help:      "Entitlement ledger mutations by action and source.",
	}, []string{"action", "source"})

	// ClaimsTotal counts claim workflow transitions (issued, activated,
	// already_claimed, expired).
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entitlements",
		Subsystem: "claim",
		Name:      "transitions_total",
		Help:      "Claim token workflow transitions by outcome.",
	}, []string{"outcome"})
)
