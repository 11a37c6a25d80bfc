// Package booking owns the reservation lifecycle: overlap-safe creation,
// hold confirmation, cancellation with tiered refunds, and recurring series
// expansion. Every monetary effect goes through the wallet's append path in
// the same transaction as the reservation write.
package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/racqet/courtbook/internal/db"
	"github.com/racqet/courtbook/internal/events"
	"github.com/racqet/courtbook/internal/locks"
	"github.com/racqet/courtbook/internal/metrics"
	"github.com/racqet/courtbook/internal/wallet"
)

// SystemActor is the actor id the hold reaper cancels with. Only the system
// may cancel on behalf of another account.
const SystemActor int64 = 0

// EligibilityFunc is the capability check for recurring bookings. The
// membership policy lives outside the engine; it only sees the boolean.
type EligibilityFunc func(ctx context.Context, accountID int64) (bool, error)

// Manager drives the reservation state machine. Units of work are serialized
// per court (overlap check through commit) and per account (balance check
// through debit); the court lock is always taken before the account lock.
type Manager struct {
	db       *db.DB
	index    *Index
	courts   *locks.Keyed
	accounts *locks.Keyed
	emitter  events.Emitter
	clock    Clock
	eligible EligibilityFunc
}

type Option func(*Manager)

// WithClock substitutes the time source, for tests.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithEligibility installs the recurring-booking capability check. Without
// one, every recurring request is refused.
func WithEligibility(fn EligibilityFunc) Option {
	return func(m *Manager) { m.eligible = fn }
}

func NewManager(database *db.DB, accountLocks *locks.Keyed, emitter events.Emitter, opts ...Option) (*Manager, error) {
	if database == nil {
		return nil, errors.New("booking manager requires a database")
	}
	if accountLocks == nil {
		return nil, errors.New("booking manager requires account locks")
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}

	m := &Manager{
		db:       database,
		index:    NewIndex(),
		courts:   locks.NewKeyed(),
		accounts: accountLocks,
		emitter:  emitter,
		clock:    realClock{},
		eligible: func(context.Context, int64) (bool, error) { return false, nil },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// LoadIndex rebuilds the interval index from the database. Call once at
// startup before serving requests.
func (m *Manager) LoadIndex(ctx context.Context) error {
	return m.index.LoadActive(ctx, m.db.Queries)
}

// Get returns a reservation by id.
func (m *Manager) Get(ctx context.Context, reservationID int64) (db.Reservation, error) {
	reservation, err := m.db.Queries.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.Reservation{}, ErrNotFound
		}
		return db.Reservation{}, err
	}
	return reservation, nil
}

// ListByOwner returns an account's reservations, most recent start first.
func (m *Manager) ListByOwner(ctx context.Context, ownerID int64) ([]db.Reservation, error) {
	return m.db.Queries.ListReservationsByOwner(ctx, ownerID)
}

// CreateConfirmed books and pays for a slot in one unit of work: overlap
// check, payment debit and confirmed reservation all succeed together or not
// at all.
func (m *Manager) CreateConfirmed(ctx context.Context, courtID, ownerID int64, interval Interval, unitPrice int64) (db.Reservation, error) {
	if err := interval.Validate(); err != nil {
		return db.Reservation{}, err
	}
	price := PriceFor(unitPrice, interval)

	unlockCourt := m.courts.Lock(courtID)
	defer unlockCourt()

	if m.index.HasOverlap(courtID, interval, 0) {
		return db.Reservation{}, ErrSlotUnavailable
	}

	unlockAccount := m.accounts.Lock(ownerID)
	defer unlockAccount()

	var reservation db.Reservation
	var payment wallet.AppendResult
	err := m.db.RunInTx(ctx, func(txdb *db.DB) error {
		var err error
		reservation, err = txdb.Queries.InsertReservation(ctx, db.InsertReservationParams{
			CourtID:   courtID,
			OwnerID:   ownerID,
			StartTime: interval.Start.UTC(),
			EndTime:   interval.End.UTC(),
			Price:     price,
			Status:    db.ReservationStatusConfirmed,
			CreatedAt: m.clock.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}

		payment, err = wallet.Append(ctx, txdb.Queries, wallet.AppendParams{
			AccountID:            ownerID,
			Amount:               -price,
			Kind:                 db.EntryKindPayment,
			RelatedReservationID: &reservation.ID,
			Description:          fmt.Sprintf("Court %d booking %s", courtID, interval.Start.Format("2006-01-02 15:04")),
			CreatedAt:            m.clock.Now().UTC(),
		})
		if err != nil {
			return err
		}

		return txdb.Queries.SetReservationPayment(ctx, db.SetReservationPaymentParams{
			ID:            reservation.ID,
			LedgerEntryID: payment.Entry.ID,
		})
	})
	if err != nil {
		return db.Reservation{}, err
	}
	reservation.LedgerEntryID = sql.NullInt64{Int64: payment.Entry.ID, Valid: true}

	m.index.Insert(courtID, interval, reservation.ID)
	m.emitter.AvailabilityChanged(events.AvailabilityChanged{
		CourtID:   courtID,
		StartTime: interval.Start,
		EndTime:   interval.End,
		NewStatus: string(db.ReservationStatusConfirmed),
	})
	m.emitter.BalanceChanged(events.BalanceChanged{
		AccountID:  ownerID,
		NewBalance: payment.NewBalance,
	})
	metrics.BookingsConfirmed.Inc()

	log.Ctx(ctx).Info().
		Int64("reservation_id", reservation.ID).
		Int64("court_id", courtID).
		Int64("owner_id", ownerID).
		Int64("price", price).
		Msg("Reservation confirmed")
	return reservation, nil
}

// CreateHold reserves a slot without payment for a bounded grace period. The
// price is computed now so confirmation charges exactly what was quoted.
func (m *Manager) CreateHold(ctx context.Context, courtID, ownerID int64, interval Interval, unitPrice int64, holdFor time.Duration) (db.Reservation, error) {
	if err := interval.Validate(); err != nil {
		return db.Reservation{}, err
	}
	if holdFor <= 0 {
		return db.Reservation{}, fmt.Errorf("hold duration must be positive")
	}
	if _, err := m.db.Queries.GetAccount(ctx, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.Reservation{}, wallet.ErrAccountNotFound
		}
		return db.Reservation{}, err
	}

	unlockCourt := m.courts.Lock(courtID)
	defer unlockCourt()

	if m.index.HasOverlap(courtID, interval, 0) {
		return db.Reservation{}, ErrSlotUnavailable
	}

	now := m.clock.Now().UTC()
	var reservation db.Reservation
	err := m.db.RunInTx(ctx, func(txdb *db.DB) error {
		var err error
		reservation, err = txdb.Queries.InsertReservation(ctx, db.InsertReservationParams{
			CourtID:      courtID,
			OwnerID:      ownerID,
			StartTime:    interval.Start.UTC(),
			EndTime:      interval.End.UTC(),
			Price:        PriceFor(unitPrice, interval),
			Status:       db.ReservationStatusHolding,
			HoldDeadline: sql.NullTime{Time: now.Add(holdFor), Valid: true},
			CreatedAt:    now,
		})
		return err
	})
	if err != nil {
		return db.Reservation{}, fmt.Errorf("insert hold: %w", err)
	}

	m.index.Insert(courtID, interval, reservation.ID)
	m.emitter.AvailabilityChanged(events.AvailabilityChanged{
		CourtID:   courtID,
		StartTime: interval.Start,
		EndTime:   interval.End,
		NewStatus: string(db.ReservationStatusHolding),
	})
	metrics.HoldsCreated.Inc()

	log.Ctx(ctx).Info().
		Int64("reservation_id", reservation.ID).
		Int64("court_id", courtID).
		Time("hold_deadline", reservation.HoldDeadline.Time).
		Msg("Hold created")
	return reservation, nil
}

// ConfirmHold pays for a held slot. A hold past its deadline can never be
// confirmed, even before the reaper has run: it is cancelled here and
// ErrHoldExpired returned. Confirming an already confirmed reservation is a
// no-op.
func (m *Manager) ConfirmHold(ctx context.Context, reservationID int64) (db.Reservation, error) {
	reservation, err := m.Get(ctx, reservationID)
	if err != nil {
		return db.Reservation{}, err
	}

	unlockCourt := m.courts.Lock(reservation.CourtID)
	defer unlockCourt()

	// Re-read under the lock; a user cancel or the reaper may have won.
	reservation, err = m.Get(ctx, reservationID)
	if err != nil {
		return db.Reservation{}, err
	}
	switch reservation.Status {
	case db.ReservationStatusCancelled:
		// A hold the reaper already reclaimed reports expiry, not a plain
		// cancellation, so the caller sees why confirmation lost the race.
		if reservation.HoldDeadline.Valid && m.clock.Now().After(reservation.HoldDeadline.Time) {
			return db.Reservation{}, ErrHoldExpired
		}
		return db.Reservation{}, ErrAlreadyCancelled
	case db.ReservationStatusCompleted:
		return db.Reservation{}, ErrAlreadyCompleted
	case db.ReservationStatusConfirmed:
		return reservation, nil
	}

	if reservation.HoldDeadline.Valid && m.clock.Now().After(reservation.HoldDeadline.Time) {
		// Stale hold: free the slot instead of leaving it dangling. The
		// deadline stays on the row so later confirm attempts still see why.
		if _, err := m.cancelLocked(ctx, reservation, 0, false); err != nil {
			return db.Reservation{}, fmt.Errorf("cancel expired hold: %w", err)
		}
		return db.Reservation{}, ErrHoldExpired
	}

	unlockAccount := m.accounts.Lock(reservation.OwnerID)
	defer unlockAccount()

	var payment wallet.AppendResult
	err = m.db.RunInTx(ctx, func(txdb *db.DB) error {
		var err error
		payment, err = wallet.Append(ctx, txdb.Queries, wallet.AppendParams{
			AccountID:            reservation.OwnerID,
			Amount:               -reservation.Price,
			Kind:                 db.EntryKindPayment,
			RelatedReservationID: &reservation.ID,
			Description:          fmt.Sprintf("Court %d hold confirmation", reservation.CourtID),
			CreatedAt:            m.clock.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return txdb.Queries.SetReservationPayment(ctx, db.SetReservationPaymentParams{
			ID:            reservation.ID,
			LedgerEntryID: payment.Entry.ID,
		})
	})
	if err != nil {
		return db.Reservation{}, err
	}

	reservation.Status = db.ReservationStatusConfirmed
	reservation.LedgerEntryID = sql.NullInt64{Int64: payment.Entry.ID, Valid: true}

	// The hold already occupies the index slot; no index change.
	m.emitter.AvailabilityChanged(events.AvailabilityChanged{
		CourtID:   reservation.CourtID,
		StartTime: reservation.StartTime,
		EndTime:   reservation.EndTime,
		NewStatus: string(db.ReservationStatusConfirmed),
	})
	m.emitter.BalanceChanged(events.BalanceChanged{
		AccountID:  reservation.OwnerID,
		NewBalance: payment.NewBalance,
	})
	metrics.BookingsConfirmed.Inc()

	log.Ctx(ctx).Info().
		Int64("reservation_id", reservation.ID).
		Int64("price", reservation.Price).
		Msg("Hold confirmed")
	return reservation, nil
}

type CancelResult struct {
	Reservation db.Reservation
	Refund      int64
}

// Cancel is the single cancellation entry point for users and the reaper.
// Ordinary cancellation requires actor == owner; SystemActor may cancel any
// reservation. Confirmed reservations are refunded per the tier policy;
// holds were never paid and refund nothing.
func (m *Manager) Cancel(ctx context.Context, reservationID, actorID int64) (CancelResult, error) {
	reservation, err := m.Get(ctx, reservationID)
	if err != nil {
		return CancelResult{}, err
	}

	unlockCourt := m.courts.Lock(reservation.CourtID)
	defer unlockCourt()

	reservation, err = m.Get(ctx, reservationID)
	if err != nil {
		return CancelResult{}, err
	}

	if actorID != SystemActor && actorID != reservation.OwnerID {
		return CancelResult{}, ErrForbidden
	}
	switch reservation.Status {
	case db.ReservationStatusCancelled:
		return CancelResult{}, ErrAlreadyCancelled
	case db.ReservationStatusCompleted:
		return CancelResult{}, ErrAlreadyCompleted
	}

	var refund int64
	if reservation.Status == db.ReservationStatusConfirmed {
		refund = RefundAmount(reservation.Price, reservation.StartTime.Sub(m.clock.Now()))
	}

	// A hold the user gives up is cancelled, not expired: drop its deadline
	// so a later confirm attempt reports the cancellation rather than
	// expiry. System cancellations come from the reaper and keep it.
	clearDeadline := actorID != SystemActor && reservation.Status == db.ReservationStatusHolding

	newBalance, err := m.cancelLocked(ctx, reservation, refund, clearDeadline)
	if err != nil {
		return CancelResult{}, err
	}

	actor := "user"
	if actorID == SystemActor {
		actor = "system"
	}
	metrics.ReservationsCancelled.WithLabelValues(actor).Inc()
	if refund > 0 {
		metrics.RefundsIssued.Inc()
	}

	reservation.Status = db.ReservationStatusCancelled
	log.Ctx(ctx).Info().
		Int64("reservation_id", reservation.ID).
		Int64("actor_id", actorID).
		Int64("refund", refund).
		Int64("balance", newBalance).
		Msg("Reservation cancelled")
	return CancelResult{Reservation: reservation, Refund: refund}, nil
}

// cancelLocked frees a slot and optionally refunds it. Callers hold the
// court lock; the account lock is taken here only when money moves.
func (m *Manager) cancelLocked(ctx context.Context, reservation db.Reservation, refund int64, clearDeadline bool) (int64, error) {
	if refund > 0 {
		unlockAccount := m.accounts.Lock(reservation.OwnerID)
		defer unlockAccount()
	}

	var newBalance int64
	err := m.db.RunInTx(ctx, func(txdb *db.DB) error {
		if err := txdb.Queries.SetReservationStatus(ctx, db.SetReservationStatusParams{
			ID:     reservation.ID,
			Status: db.ReservationStatusCancelled,
		}); err != nil {
			return fmt.Errorf("cancel reservation: %w", err)
		}
		if clearDeadline {
			if err := txdb.Queries.ClearHoldDeadline(ctx, reservation.ID); err != nil {
				return fmt.Errorf("clear hold deadline: %w", err)
			}
		}
		if refund > 0 {
			result, err := wallet.Append(ctx, txdb.Queries, wallet.AppendParams{
				AccountID:            reservation.OwnerID,
				Amount:               refund,
				Kind:                 db.EntryKindRefund,
				RelatedReservationID: &reservation.ID,
				Description:          fmt.Sprintf("Refund for court %d cancellation", reservation.CourtID),
				CreatedAt:            m.clock.Now().UTC(),
			})
			if err != nil {
				return err
			}
			newBalance = result.NewBalance
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.index.Remove(reservation.CourtID, reservation.ID)
	m.emitter.AvailabilityChanged(events.AvailabilityChanged{
		CourtID:   reservation.CourtID,
		StartTime: reservation.StartTime,
		EndTime:   reservation.EndTime,
		NewStatus: string(db.ReservationStatusCancelled),
	})
	if refund > 0 {
		m.emitter.BalanceChanged(events.BalanceChanged{
			AccountID:  reservation.OwnerID,
			NewBalance: newBalance,
		})
	}
	return newBalance, nil
}

// ExpiredHolds lists holds whose deadline has passed, for the reaper.
func (m *Manager) ExpiredHolds(ctx context.Context, now time.Time) ([]db.Reservation, error) {
	return m.db.Queries.ListExpiredHolds(ctx, now)
}

// CompletePast transitions confirmed reservations whose end time has passed
// to completed and drops them from the index. Per-item failures are logged
// and do not stop the sweep; the count of completed reservations is
// returned.
func (m *Manager) CompletePast(ctx context.Context, now time.Time) (int, error) {
	reservations, err := m.db.Queries.ListPastConfirmed(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list past reservations: %w", err)
	}

	logger := log.Ctx(ctx)
	completed := 0
	for _, stale := range reservations {
		err := func() error {
			unlockCourt := m.courts.Lock(stale.CourtID)
			defer unlockCourt()

			current, err := m.Get(ctx, stale.ID)
			if err != nil {
				return err
			}
			if current.Status != db.ReservationStatusConfirmed || current.EndTime.After(now) {
				return nil
			}

			if err := m.db.RunInTx(ctx, func(txdb *db.DB) error {
				return txdb.Queries.SetReservationStatus(ctx, db.SetReservationStatusParams{
					ID:     current.ID,
					Status: db.ReservationStatusCompleted,
				})
			}); err != nil {
				return err
			}
			m.index.Remove(current.CourtID, current.ID)
			completed++
			return nil
		}()
		if err != nil {
			logger.Error().Err(err).
				Int64("reservation_id", stale.ID).
				Msg("Failed to complete past reservation")
		}
	}

	if completed > 0 {
		logger.Info().Int("completed", completed).Msg("Completed past reservations")
	}
	return completed, nil
}
