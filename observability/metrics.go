/*
Package observability defines the Prometheus metrics exposed on /metrics.

PURPOSE:
  One place for every metric the engine records. Metrics are package-level
  collectors registered via promauto, so any component can increment them
  without threading a registry through constructors.

NAMING:
  All metrics live under the "karma" namespace and follow the
  <component>_<thing>_<unit> convention.
*/
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Event intake ───────────────────────────────────────────────────────────

// EventsProcessed counts inbound repository events by kind and outcome
// (ok, dropped, invalid).
var EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "karma",
	Name:      "events_processed_total",
	Help:      "Inbound repository events handled, by kind and outcome.",
}, []string{"kind", "outcome"})

// ─── Ledger ─────────────────────────────────────────────────────────────────

// TransfersApplied counts applied transfers by purpose code.
var TransfersApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "karma",
	Name:      "ledger_transfers_applied_total",
	Help:      "Transfers applied to the ledger, by code.",
}, []string{"code"})

// DuplicateTransfers counts transfer replays collapsed into no-ops.
// A non-zero rate here is normal under at-least-once delivery.
var DuplicateTransfers = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "karma",
	Name:      "ledger_duplicate_transfers_total",
	Help:      "Transfer replays rejected as duplicates.",
})

// ─── Funding gate ───────────────────────────────────────────────────────────

// FundingChecks counts gate evaluations by terminal outcome
// (funded, insufficient, bypassed).
var FundingChecks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "karma",
	Name:      "funding_checks_total",
	Help:      "Funding gate evaluations, by outcome.",
}, []string{"outcome"})

// ─── Rewards ────────────────────────────────────────────────────────────────

// RewardsPaid counts reward payouts by source (review, comment).
var RewardsPaid = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "karma",
	Name:      "rewards_paid_total",
	Help:      "Reward transfers paid, by source.",
}, []string{"source"})

// ─── External host ──────────────────────────────────────────────────────────

// HostSinkErrors counts failed outbound host calls (comments, check runs,
// labels). These events are dropped without retry; operators should alert
// on this counter.
var HostSinkErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "karma",
	Name:      "host_sink_errors_total",
	Help:      "Failed outbound host API effects.",
})
