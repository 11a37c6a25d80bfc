// Package metrics exposes Prometheus counters for the booking and wallet
// engine. Collection is always on; whether the scrape endpoint is served is
// decided by configuration in the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var BookingsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "courtbook_bookings_confirmed_total",
	Help: "Reservations that reached confirmed status.",
})

var HoldsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "courtbook_holds_created_total",
	Help: "Provisional holds created.",
})

var ReservationsCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "courtbook_reservations_cancelled_total",
	Help: "Cancellations by actor (user or system).",
}, []string{"actor"})

var RefundsIssued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "courtbook_refunds_issued_total",
	Help: "Refund ledger entries written on cancellation.",
})

var LedgerEntriesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "courtbook_ledger_entries_total",
	Help: "Completed ledger entries by kind.",
}, []string{"kind"})

var ReaperExpiredHolds = promauto.NewCounter(prometheus.CounterOpts{
	Name: "courtbook_reaper_expired_holds_total",
	Help: "Holds reclaimed by the reaper.",
})

var ReaperSweepErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "courtbook_reaper_sweep_errors_total",
	Help: "Per-item cancellation failures observed during reaper sweeps.",
})
