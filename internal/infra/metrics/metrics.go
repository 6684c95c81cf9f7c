// Package metrics provides Prometheus metrics for the progression engine:
// XP awards, milestone notifications, sink failures, watchers and store errors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Awards ─────────────────────────────────────────────────────────────────

// XPAwarded tracks total XP granted across all users.
var XPAwarded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "anuvruddhi",
	Name:      "xp_awarded_total",
	Help:      "Total XP granted to users.",
})

// Completions tracks persisted completions, split by whether the chain
// bonus applied.
var Completions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "anuvruddhi",
	Name:      "completions_total",
	Help:      "Total habit/task completions recorded.",
}, []string{"chain"})

// ─── Milestones ─────────────────────────────────────────────────────────────

// MilestonesNotified tracks milestone notifications emitted by kind.
var MilestonesNotified = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "anuvruddhi",
	Name:      "milestones_notified_total",
	Help:      "Milestone notifications emitted after the dedup marker was persisted.",
}, []string{"kind"})

// MarkerWriteFailures tracks dedup marker writes that failed; each one
// leaves the milestone reached-but-unnotified for the next change.
var MarkerWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "anuvruddhi",
	Name:      "milestone_marker_failures_total",
	Help:      "Failed shown-milestone marker writes.",
})

// SinkFailures tracks notification sink failures by sink name.
var SinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "anuvruddhi",
	Name:      "notification_sink_failures_total",
	Help:      "Notification deliveries rejected by a sink.",
}, []string{"sink"})

// DeliveryRetries tracks background redeliveries to external sinks by
// outcome ("ok", "failed", "dropped").
var DeliveryRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "anuvruddhi",
	Name:      "notification_retries_total",
	Help:      "Background redelivery attempts to notification sinks.",
}, []string{"sink", "outcome"})

// ActiveWatchers tracks live per-user milestone watchers.
var ActiveWatchers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "anuvruddhi",
	Name:      "active_watchers",
	Help:      "Number of users with a running milestone watcher.",
})

// ─── Store ──────────────────────────────────────────────────────────────────

// StoreErrors tracks progress store failures by operation.
var StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "anuvruddhi",
	Name:      "store_errors_total",
	Help:      "Progress store operation failures.",
}, []string{"op"})
