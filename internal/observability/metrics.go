package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain collectors for the link protocols. HTTP-level metrics live in the
// middleware package; these count what the services did.
var (
	// LinksCreated counts create calls by outcome: "applied" or "conflict".
	LinksCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlink_creates_total",
			Help: "Create requests by conditional-insert outcome.",
		},
		[]string{"outcome"},
	)

	// AllocationsExhausted counts sequence allocations that gave up.
	AllocationsExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shortlink_id_allocation_exhausted_total",
			Help: "Sequence allocations that exhausted their retry budget.",
		},
	)

	// Resolutions counts redirect lookups by result: redirect, not_found,
	// disabled, expired or error.
	Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlink_resolutions_total",
			Help: "Redirect resolutions by result.",
		},
		[]string{"result"},
	)

	// LedgerFailures counts best-effort ledger writes that failed.
	LedgerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlink_ledger_failures_total",
			Help: "Failed best-effort audit and last-access writes.",
		},
		[]string{"op"},
	)

	// BackfillRows counts rows handled by the index reconciler.
	BackfillRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlink_backfill_rows_total",
			Help: "Ordered-index backfill rows by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(LinksCreated, AllocationsExhausted, Resolutions, LedgerFailures, BackfillRows)
}
