package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/racqet/courtbook/internal/booking"
	"github.com/racqet/courtbook/internal/db"
	"github.com/racqet/courtbook/internal/events"
	"github.com/racqet/courtbook/internal/locks"
	"github.com/racqet/courtbook/internal/testutil"
	"github.com/racqet/courtbook/internal/wallet"
)

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingEmitter captures expiry events for assertions.
type recordingEmitter struct {
	mu      sync.Mutex
	expired []int64
}

func (e *recordingEmitter) AvailabilityChanged(events.AvailabilityChanged) {}
func (e *recordingEmitter) BalanceChanged(events.BalanceChanged)          {}

func (e *recordingEmitter) ReservationExpired(event events.ReservationExpired) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expired = append(e.expired, event.ReservationID)
}

func (e *recordingEmitter) expiredIDs() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int64(nil), e.expired...)
}

func newSweepFixture(t *testing.T) (*booking.Manager, *wallet.Store, *stubClock) {
	t.Helper()

	database := testutil.NewTestDB(t)
	accountLocks := locks.NewKeyed()
	clock := &stubClock{now: time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)}

	store, err := wallet.NewStore(database, accountLocks, events.NopEmitter{})
	if err != nil {
		t.Fatalf("create wallet store: %v", err)
	}
	manager, err := booking.NewManager(database, accountLocks, events.NopEmitter{},
		booking.WithClock(clock))
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	return manager, store, clock
}

func createHold(t *testing.T, manager *booking.Manager, store *wallet.Store, courtID int64, start time.Time, holdFor time.Duration) db.Reservation {
	t.Helper()

	account, err := store.CreateAccount(context.Background(), "Hold Owner")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	hold, err := manager.CreateHold(context.Background(), courtID, account.ID, booking.Interval{
		Start: start,
		End:   start.Add(time.Hour),
	}, 180_000, holdFor)
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}
	return hold
}

func TestSweepExpiredHolds(t *testing.T) {
	manager, store, clock := newSweepFixture(t)
	ctx := context.Background()
	start := clock.Now().Add(24 * time.Hour)

	expiredA := createHold(t, manager, store, 1, start, 5*time.Minute)
	expiredB := createHold(t, manager, store, 2, start, 5*time.Minute)
	alive := createHold(t, manager, store, 3, start, time.Hour)

	clock.Advance(10 * time.Minute)

	emitter := &recordingEmitter{}
	result, err := SweepExpiredHolds(ctx, manager, emitter, clock.Now())
	if err != nil {
		t.Fatalf("SweepExpiredHolds: %v", err)
	}
	if result.Expired != 2 || result.Skipped != 0 || result.Failed != 0 {
		t.Fatalf("result = %+v, want 2 expired", result)
	}

	ids := emitter.expiredIDs()
	if len(ids) != 2 {
		t.Fatalf("expiry events = %d, want 2", len(ids))
	}
	for _, id := range []int64{expiredA.ID, expiredB.ID} {
		found := false
		for _, got := range ids {
			if got == id {
				found = true
			}
		}
		if !found {
			t.Errorf("no expiry event for reservation %d", id)
		}
		reservation, err := manager.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if reservation.Status != db.ReservationStatusCancelled {
			t.Errorf("reservation %d status = %s, want cancelled", id, reservation.Status)
		}
	}

	// Confirming a reaped hold reports expiry, not a plain cancellation.
	if _, err := manager.ConfirmHold(ctx, expiredA.ID); !errors.Is(err, booking.ErrHoldExpired) {
		t.Errorf("ConfirmHold on reaped hold error = %v, want ErrHoldExpired", err)
	}

	// The hold within its deadline is untouched.
	reservation, err := manager.Get(ctx, alive.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if reservation.Status != db.ReservationStatusHolding {
		t.Errorf("live hold status = %s, want holding", reservation.Status)
	}

	// Reclaimed slots are bookable again.
	account, err := store.CreateAccount(ctx, "Next Player")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := store.Deposit(ctx, account.ID, 500_000, "initial deposit"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := manager.CreateConfirmed(ctx, 1, account.ID, booking.Interval{
		Start: start,
		End:   start.Add(time.Hour),
	}, 180_000); err != nil {
		t.Errorf("booking reclaimed slot: %v", err)
	}
}

func TestSweepNothingExpired(t *testing.T) {
	manager, store, clock := newSweepFixture(t)

	createHold(t, manager, store, 1, clock.Now().Add(24*time.Hour), time.Hour)

	emitter := &recordingEmitter{}
	result, err := SweepExpiredHolds(context.Background(), manager, emitter, clock.Now())
	if err != nil {
		t.Fatalf("SweepExpiredHolds: %v", err)
	}
	if result != (SweepResult{}) {
		t.Errorf("result = %+v, want zero sweep", result)
	}
	if len(emitter.expiredIDs()) != 0 {
		t.Error("sweep with nothing expired emitted expiry events")
	}
}

func TestSweepDoesNotRefundHolds(t *testing.T) {
	manager, store, clock := newSweepFixture(t)
	ctx := context.Background()

	account, err := store.CreateAccount(ctx, "Hold Owner")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := store.Deposit(ctx, account.ID, 500_000, "initial deposit"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := manager.CreateHold(ctx, 1, account.ID, booking.Interval{
		Start: clock.Now().Add(24 * time.Hour),
		End:   clock.Now().Add(25 * time.Hour),
	}, 180_000, 5*time.Minute); err != nil {
		t.Fatalf("CreateHold: %v", err)
	}

	clock.Advance(10 * time.Minute)
	if _, err := SweepExpiredHolds(ctx, manager, events.NopEmitter{}, clock.Now()); err != nil {
		t.Fatalf("SweepExpiredHolds: %v", err)
	}

	balance, err := store.Balance(ctx, account.ID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 500_000 {
		t.Errorf("reaping an unpaid hold changed balance to %d", balance)
	}
}

func TestSweepRequiresManager(t *testing.T) {
	if _, err := SweepExpiredHolds(context.Background(), nil, events.NopEmitter{}, time.Now()); err == nil {
		t.Fatal("sweep without a manager was accepted")
	}
	if err := CompletePastReservations(context.Background(), nil, time.Now()); err == nil {
		t.Fatal("completion sweep without a manager was accepted")
	}
}

func TestCompletePastReservations(t *testing.T) {
	manager, store, clock := newSweepFixture(t)
	ctx := context.Background()

	account, err := store.CreateAccount(ctx, "Player")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := store.Deposit(ctx, account.ID, 500_000, "initial deposit"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	slot := booking.Interval{
		Start: clock.Now().Add(time.Hour),
		End:   clock.Now().Add(2 * time.Hour),
	}
	reservation, err := manager.CreateConfirmed(ctx, 1, account.ID, slot, 180_000)
	if err != nil {
		t.Fatalf("CreateConfirmed: %v", err)
	}

	clock.Advance(3 * time.Hour)
	if err := CompletePastReservations(ctx, manager, clock.Now()); err != nil {
		t.Fatalf("CompletePastReservations: %v", err)
	}

	completed, err := manager.Get(ctx, reservation.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if completed.Status != db.ReservationStatusCompleted {
		t.Errorf("status = %s, want completed", completed.Status)
	}

	// Completed reservations leave the index; the slot is free for a new
	// booking even though the times are in the past relative to the clock.
	if _, err := manager.CreateConfirmed(ctx, 1, account.ID, slot, 180_000); err != nil {
		t.Errorf("rebooking completed slot: %v", err)
	}

	// Cancelling a completed reservation is refused.
	if _, err := manager.Cancel(ctx, reservation.ID, account.ID); !errors.Is(err, booking.ErrAlreadyCompleted) {
		t.Errorf("cancel of completed reservation error = %v, want ErrAlreadyCompleted", err)
	}
}
