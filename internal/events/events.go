// Package events defines the boundary through which the booking and wallet
// engine announces state changes. Delivery (websockets, push, email) is owned
// by the embedding service; the engine only emits.
package events

import (
	"time"

	"github.com/rs/zerolog/log"
)

// AvailabilityChanged is emitted whenever a court slot is taken or freed.
type AvailabilityChanged struct {
	CourtID   int64
	StartTime time.Time
	EndTime   time.Time
	NewStatus string
}

// BalanceChanged is emitted on every completed ledger entry.
type BalanceChanged struct {
	AccountID  int64
	NewBalance int64
}

// ReservationExpired is emitted by the hold reaper for each reclaimed hold.
type ReservationExpired struct {
	ReservationID int64
}

// Emitter receives engine state-change events. Implementations must not
// block; the engine calls these inside request paths.
type Emitter interface {
	AvailabilityChanged(AvailabilityChanged)
	BalanceChanged(BalanceChanged)
	ReservationExpired(ReservationExpired)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) AvailabilityChanged(AvailabilityChanged) {}
func (NopEmitter) BalanceChanged(BalanceChanged)           {}
func (NopEmitter) ReservationExpired(ReservationExpired)   {}

// LogEmitter writes events to the process log. Useful as a default until a
// real delivery channel is wired in.
type LogEmitter struct{}

func (LogEmitter) AvailabilityChanged(e AvailabilityChanged) {
	log.Info().
		Int64("court_id", e.CourtID).
		Time("start_time", e.StartTime).
		Time("end_time", e.EndTime).
		Str("status", e.NewStatus).
		Msg("Availability changed")
}

func (LogEmitter) BalanceChanged(e BalanceChanged) {
	log.Info().
		Int64("account_id", e.AccountID).
		Int64("balance", e.NewBalance).
		Msg("Balance changed")
}

func (LogEmitter) ReservationExpired(e ReservationExpired) {
	log.Info().
		Int64("reservation_id", e.ReservationID).
		Msg("Reservation expired")
}
