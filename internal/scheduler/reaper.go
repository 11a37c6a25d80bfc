package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/racqet/courtbook/internal/booking"
	"github.com/racqet/courtbook/internal/events"
	"github.com/racqet/courtbook/internal/metrics"
)

// SweepResult summarizes one reaper cycle.
type SweepResult struct {
	Expired int
	Skipped int
	Failed  int
}

// SweepExpiredHolds reclaims every hold past its deadline by cancelling it
// through the same path a user cancellation takes, acting as the system.
// One hold failing must not abort the sweep for the others: a hold already
// transitioned by a racing ConfirmHold or Cancel is skipped, anything else
// is logged and counted.
func SweepExpiredHolds(ctx context.Context, manager *booking.Manager, emitter events.Emitter, now time.Time) (SweepResult, error) {
	if manager == nil {
		return SweepResult{}, fmt.Errorf("hold sweep requires a booking manager")
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}

	holds, err := manager.ExpiredHolds(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list expired holds: %w", err)
	}

	logger := log.Ctx(ctx)
	var result SweepResult
	for _, hold := range holds {
		_, err := manager.Cancel(ctx, hold.ID, booking.SystemActor)
		switch {
		case err == nil:
			result.Expired++
			metrics.ReaperExpiredHolds.Inc()
			emitter.ReservationExpired(events.ReservationExpired{ReservationID: hold.ID})
			logger.Info().
				Int64("reservation_id", hold.ID).
				Int64("court_id", hold.CourtID).
				Time("hold_deadline", hold.HoldDeadline.Time).
				Msg("Reclaimed expired hold")
		case errors.Is(err, booking.ErrAlreadyCancelled),
			errors.Is(err, booking.ErrAlreadyCompleted),
			errors.Is(err, booking.ErrNotFound):
			// Lost the race to a concurrent transition; nothing to reclaim.
			result.Skipped++
		default:
			result.Failed++
			metrics.ReaperSweepErrors.Inc()
			logger.Error().Err(err).
				Int64("reservation_id", hold.ID).
				Msg("Failed to reclaim expired hold")
		}
	}

	if result.Expired > 0 || result.Failed > 0 {
		logger.Info().
			Int("expired", result.Expired).
			Int("skipped", result.Skipped).
			Int("failed", result.Failed).
			Msg("Hold sweep finished")
	}
	return result, nil
}

// CompletePastReservations runs the completion sweep for reservations whose
// end time has passed.
func CompletePastReservations(ctx context.Context, manager *booking.Manager, now time.Time) error {
	if manager == nil {
		return fmt.Errorf("completion sweep requires a booking manager")
	}
	_, err := manager.CompletePast(ctx, now)
	return err
}
