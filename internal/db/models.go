package db

import (
	"database/sql"
	"time"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryKindDeposit  EntryKind = "deposit"
	EntryKindWithdraw EntryKind = "withdraw"
	EntryKindPayment  EntryKind = "payment"
	EntryKindRefund   EntryKind = "refund"
	EntryKindReward   EntryKind = "reward"
)

// EntryStatus is the lifecycle state of a ledger entry. Only pending
// entries may transition; completed and rejected entries are immutable.
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusRejected  EntryStatus = "rejected"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationStatusHolding   ReservationStatus = "holding"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusCancelled ReservationStatus = "cancelled"
	ReservationStatusCompleted ReservationStatus = "completed"
)

// Active reports whether the reservation occupies its court slot.
func (s ReservationStatus) Active() bool {
	return s == ReservationStatusHolding || s == ReservationStatusConfirmed
}

type Account struct {
	ID            int64
	Name          string
	Balance       int64
	LifetimeSpend int64
	CreatedAt     time.Time
}

type LedgerEntry struct {
	ID                   int64
	AccountID            int64
	Amount               int64
	Kind                 EntryKind
	Status               EntryStatus
	RelatedReservationID sql.NullInt64
	Description          string
	CreatedAt            time.Time
}

type Reservation struct {
	ID            int64
	CourtID       int64
	OwnerID       int64
	StartTime     time.Time
	EndTime       time.Time
	Price         int64
	LedgerEntryID sql.NullInt64
	Status        ReservationStatus
	ParentID      sql.NullInt64
	SeriesRule    sql.NullString
	HoldDeadline  sql.NullTime
	CreatedAt     time.Time
}
