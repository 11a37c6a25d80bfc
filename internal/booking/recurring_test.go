package booking

import (
	"context"
	"errors"
	"testing"
	"time"
)

func allowRecurring(context.Context, int64) (bool, error) { return true, nil }

func TestParseRule(t *testing.T) {
	tests := []struct {
		input   string
		want    []time.Weekday
		wantErr bool
	}{
		{input: "Weekly;Tue,Thu", want: []time.Weekday{time.Tuesday, time.Thursday}},
		{input: "Weekly;Mon", want: []time.Weekday{time.Monday}},
		{input: "Weekly; Sat , Sun", want: []time.Weekday{time.Saturday, time.Sunday}},
		{input: "Weekly;Tue,Tue,Thu", want: []time.Weekday{time.Tuesday, time.Thursday}},
		{input: "Daily;Tue", wantErr: true},
		{input: "Weekly;Tuesday", wantErr: true},
		{input: "Weekly;", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			rule, err := ParseRule(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRule(%q) accepted invalid rule", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRule(%q): %v", tt.input, err)
			}
			if len(rule.Weekdays) != len(tt.want) {
				t.Fatalf("weekdays = %v, want %v", rule.Weekdays, tt.want)
			}
			for i, day := range tt.want {
				if rule.Weekdays[i] != day {
					t.Errorf("weekday[%d] = %s, want %s", i, rule.Weekdays[i], day)
				}
			}
		})
	}
}

func TestRuleStringRoundTrip(t *testing.T) {
	original := "Weekly;Tue,Thu"
	rule, err := ParseRule(original)
	if err != nil {
		t.Fatalf("ParseRule: %v", err)
	}
	if got := rule.String(); got != original {
		t.Errorf("String() = %q, want %q", got, original)
	}
}

func TestSeriesExpand(t *testing.T) {
	params := SeriesParams{
		Rule:     Rule{Weekdays: []time.Weekday{time.Tuesday, time.Thursday}},
		FromDate: time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),  // Monday
		ToDate:   time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC), // Sunday
		Window:   Window{Start: 18 * time.Hour, End: 19 * time.Hour},
	}

	intervals := params.expand()
	wantStarts := []time.Time{
		time.Date(2026, time.March, 3, 18, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 5, 18, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 10, 18, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 12, 18, 0, 0, 0, time.UTC),
	}
	if len(intervals) != len(wantStarts) {
		t.Fatalf("expanded to %d occurrences, want %d", len(intervals), len(wantStarts))
	}
	for i, want := range wantStarts {
		if !intervals[i].Start.Equal(want) {
			t.Errorf("occurrence %d start = %s, want %s", i, intervals[i].Start, want)
		}
		if got := intervals[i].Duration(); got != time.Hour {
			t.Errorf("occurrence %d duration = %s, want 1h", i, got)
		}
	}
}

func TestCreateRecurring(t *testing.T) {
	manager, store, _ := newTestManager(t, WithEligibility(allowRecurring))
	ctx := context.Background()

	owner := fundedAccount(t, store, 1_000_000)
	result, err := manager.CreateRecurring(ctx, SeriesParams{
		CourtID:   1,
		OwnerID:   owner,
		Rule:      Rule{Weekdays: []time.Weekday{time.Tuesday, time.Thursday}},
		FromDate:  time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
		ToDate:    time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC),
		Window:    Window{Start: 18 * time.Hour, End: 19 * time.Hour},
		UnitPrice: 180_000,
	})
	if err != nil {
		t.Fatalf("CreateRecurring: %v", err)
	}

	if result.TotalPrice != 720_000 {
		t.Errorf("total price = %d, want 720000", result.TotalPrice)
	}
	if len(result.Children) != 3 {
		t.Fatalf("children = %d, want 3", len(result.Children))
	}
	if got := result.Parent.SeriesRule.String; !result.Parent.SeriesRule.Valid || got != "Weekly;Tue,Thu" {
		t.Errorf("parent series rule = %q, want Weekly;Tue,Thu", got)
	}
	for i, child := range result.Children {
		if !child.ParentID.Valid || child.ParentID.Int64 != result.Parent.ID {
			t.Errorf("child %d parent id = %v, want %d", i, child.ParentID, result.Parent.ID)
		}
		if child.Price != 180_000 {
			t.Errorf("child %d price = %d, want 180000", i, child.Price)
		}
	}
	if got := mustBalance(t, store, owner); got != 280_000 {
		t.Errorf("balance = %d, want 280000", got)
	}

	// One aggregate debit carries the whole series, linked to the parent.
	entry, err := manager.db.Queries.GetLedgerEntry(ctx, result.Parent.LedgerEntryID.Int64)
	if err != nil {
		t.Fatalf("GetLedgerEntry: %v", err)
	}
	if entry.Amount != -720_000 {
		t.Errorf("aggregate debit = %d, want -720000", entry.Amount)
	}
	if !entry.RelatedReservationID.Valid || entry.RelatedReservationID.Int64 != result.Parent.ID {
		t.Errorf("debit related reservation = %v, want parent %d", entry.RelatedReservationID, result.Parent.ID)
	}

	// Every occurrence now occupies its slot.
	other := fundedAccount(t, store, 500_000)
	_, err = manager.CreateConfirmed(ctx, 1, other, Interval{
		Start: time.Date(2026, time.March, 12, 18, 30, 0, 0, time.UTC),
		End:   time.Date(2026, time.March, 12, 19, 30, 0, 0, time.UTC),
	}, 180_000)
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Errorf("booking over series occurrence error = %v, want ErrSlotUnavailable", err)
	}
}

func TestCreateRecurringAllOrNothing(t *testing.T) {
	manager, store, _ := newTestManager(t, WithEligibility(allowRecurring))
	ctx := context.Background()

	// Occupy the second Tuesday before the series is requested.
	blocker := fundedAccount(t, store, 500_000)
	conflictDate := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	if _, err := manager.CreateConfirmed(ctx, 1, blocker, Interval{
		Start: conflictDate.Add(18*time.Hour + 30*time.Minute),
		End:   conflictDate.Add(19 * time.Hour),
	}, 180_000); err != nil {
		t.Fatalf("blocking booking: %v", err)
	}

	owner := fundedAccount(t, store, 1_000_000)
	_, err := manager.CreateRecurring(ctx, SeriesParams{
		CourtID:   1,
		OwnerID:   owner,
		Rule:      Rule{Weekdays: []time.Weekday{time.Tuesday, time.Thursday}},
		FromDate:  time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
		ToDate:    time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC),
		Window:    Window{Start: 18 * time.Hour, End: 19 * time.Hour},
		UnitPrice: 180_000,
	})

	var conflict *SlotConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error = %v, want SlotConflictError", err)
	}
	if !conflict.Date.Equal(conflictDate) {
		t.Errorf("conflict date = %s, want %s", conflict.Date, conflictDate)
	}
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Error("SlotConflictError should unwrap to ErrSlotUnavailable")
	}

	// Nothing was created: no rows, no debit, and the clear Thursday slots
	// remain bookable.
	reservations, err := manager.ListByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(reservations) != 0 {
		t.Errorf("rejected series left %d reservations", len(reservations))
	}
	if got := mustBalance(t, store, owner); got != 1_000_000 {
		t.Errorf("rejected series moved money: balance = %d", got)
	}
	if _, err := manager.CreateConfirmed(ctx, 1, owner, Interval{
		Start: time.Date(2026, time.March, 5, 18, 0, 0, 0, time.UTC),
		End:   time.Date(2026, time.March, 5, 19, 0, 0, 0, time.UTC),
	}, 180_000); err != nil {
		t.Errorf("booking untouched occurrence slot: %v", err)
	}
}

func TestCreateRecurringRequiresEligibility(t *testing.T) {
	// Without an eligibility hook every recurring request is refused.
	manager, store, _ := newTestManager(t)
	ctx := context.Background()

	owner := fundedAccount(t, store, 1_000_000)
	_, err := manager.CreateRecurring(ctx, SeriesParams{
		CourtID:   1,
		OwnerID:   owner,
		Rule:      Rule{Weekdays: []time.Weekday{time.Tuesday}},
		FromDate:  time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
		ToDate:    time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC),
		Window:    Window{Start: 18 * time.Hour, End: 19 * time.Hour},
		UnitPrice: 180_000,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("error = %v, want ErrForbidden", err)
	}
}

func TestCreateRecurringInsufficientFundsForSeries(t *testing.T) {
	manager, store, _ := newTestManager(t, WithEligibility(allowRecurring))
	ctx := context.Background()

	// Enough for three occurrences but the series needs four.
	owner := fundedAccount(t, store, 600_000)
	_, err := manager.CreateRecurring(ctx, SeriesParams{
		CourtID:   1,
		OwnerID:   owner,
		Rule:      Rule{Weekdays: []time.Weekday{time.Tuesday, time.Thursday}},
		FromDate:  time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
		ToDate:    time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC),
		Window:    Window{Start: 18 * time.Hour, End: 19 * time.Hour},
		UnitPrice: 180_000,
	})
	if err == nil {
		t.Fatal("underfunded series was accepted")
	}

	reservations, err := manager.ListByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(reservations) != 0 {
		t.Errorf("failed series left %d reservations", len(reservations))
	}
	if got := mustBalance(t, store, owner); got != 600_000 {
		t.Errorf("failed series moved money: balance = %d", got)
	}
}

func TestCreateRecurringWindowValidation(t *testing.T) {
	manager, store, _ := newTestManager(t, WithEligibility(allowRecurring))
	owner := fundedAccount(t, store, 1_000_000)

	params := SeriesParams{
		CourtID:   1,
		OwnerID:   owner,
		Rule:      Rule{Weekdays: []time.Weekday{time.Tuesday}},
		FromDate:  time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
		ToDate:    time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC),
		Window:    Window{Start: 19 * time.Hour, End: 18 * time.Hour},
		UnitPrice: 180_000,
	}
	if _, err := manager.CreateRecurring(context.Background(), params); err == nil {
		t.Error("inverted window was accepted")
	}

	params.Window = Window{Start: 18 * time.Hour, End: 19 * time.Hour}
	params.ToDate = params.FromDate.AddDate(0, 0, -1)
	if _, err := manager.CreateRecurring(context.Background(), params); err == nil {
		t.Error("series ending before it starts was accepted")
	}

	// A range containing none of the rule's weekdays produces no occurrences.
	params.FromDate = time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC) // Wednesday
	params.ToDate = time.Date(2026, time.March, 6, 0, 0, 0, 0, time.UTC)   // Friday
	if _, err := manager.CreateRecurring(context.Background(), params); err == nil {
		t.Error("empty series was accepted")
	}

	reservations, err := manager.ListByOwner(context.Background(), owner)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(reservations) != 0 {
		t.Errorf("rejected series left %d reservations", len(reservations))
	}
}
