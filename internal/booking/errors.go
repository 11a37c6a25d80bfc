package booking

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSlotUnavailable  = errors.New("slot unavailable")
	ErrHoldExpired      = errors.New("hold expired")
	ErrNotFound         = errors.New("reservation not found")
	ErrForbidden        = errors.New("actor may not act on this reservation")
	ErrAlreadyCancelled = errors.New("reservation already cancelled")
	ErrAlreadyCompleted = errors.New("reservation already completed")
)

// SlotConflictError reports which occurrence of a recurring series collided
// with an existing reservation. The whole series is rejected.
type SlotConflictError struct {
	Date time.Time
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slot unavailable on %s", e.Date.Format("2006-01-02"))
}

func (e *SlotConflictError) Unwrap() error {
	return ErrSlotUnavailable
}
