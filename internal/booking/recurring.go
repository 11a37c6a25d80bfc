package booking

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/racqet/courtbook/internal/db"
	"github.com/racqet/courtbook/internal/events"
	"github.com/racqet/courtbook/internal/metrics"
	"github.com/racqet/courtbook/internal/wallet"
)

// Rule is a weekly recurrence: which weekdays a series occupies. Its wire
// form is "Weekly;Tue,Thu".
type Rule struct {
	Weekdays []time.Weekday
}

var weekdayNames = map[string]time.Weekday{
	"Sun": time.Sunday, "Mon": time.Monday, "Tue": time.Tuesday, "Wed": time.Wednesday,
	"Thu": time.Thursday, "Fri": time.Friday, "Sat": time.Saturday,
}

func ParseRule(s string) (Rule, error) {
	parts := strings.SplitN(s, ";", 2)
	if len(parts) != 2 || parts[0] != "Weekly" {
		return Rule{}, fmt.Errorf("invalid recurrence rule %q", s)
	}

	var rule Rule
	seen := make(map[time.Weekday]bool)
	for _, name := range strings.Split(parts[1], ",") {
		day, ok := weekdayNames[strings.TrimSpace(name)]
		if !ok {
			return Rule{}, fmt.Errorf("invalid weekday %q in rule %q", name, s)
		}
		if !seen[day] {
			seen[day] = true
			rule.Weekdays = append(rule.Weekdays, day)
		}
	}
	if len(rule.Weekdays) == 0 {
		return Rule{}, fmt.Errorf("recurrence rule %q names no weekdays", s)
	}
	return rule, nil
}

func (r Rule) String() string {
	names := make([]string, len(r.Weekdays))
	for i, day := range r.Weekdays {
		names[i] = day.String()[:3]
	}
	return "Weekly;" + strings.Join(names, ",")
}

func (r Rule) contains(day time.Weekday) bool {
	for _, d := range r.Weekdays {
		if d == day {
			return true
		}
	}
	return false
}

// Window is a daily time-of-day range as offsets from midnight.
type Window struct {
	Start time.Duration
	End   time.Duration
}

func (w Window) Validate() error {
	if w.Start < 0 || w.End > 24*time.Hour || w.Start >= w.End {
		return fmt.Errorf("invalid daily window [%s, %s)", w.Start, w.End)
	}
	return nil
}

type SeriesParams struct {
	CourtID   int64
	OwnerID   int64
	Rule      Rule
	FromDate  time.Time // inclusive; time-of-day ignored
	ToDate    time.Time // inclusive; time-of-day ignored
	Window    Window
	UnitPrice int64
}

type SeriesResult struct {
	Parent     db.Reservation
	Children   []db.Reservation
	TotalPrice int64
}

// expand enumerates every occurrence interval in ascending date order.
func (p SeriesParams) expand() []Interval {
	from := truncateToDay(p.FromDate)
	to := truncateToDay(p.ToDate)

	var intervals []Interval
	for date := from; !date.After(to); date = date.AddDate(0, 0, 1) {
		if p.Rule.contains(date.Weekday()) {
			intervals = append(intervals, Interval{
				Start: date.Add(p.Window.Start),
				End:   date.Add(p.Window.End),
			})
		}
	}
	return intervals
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CreateRecurring expands a recurrence rule into a series of reservations
// and commits them as one unit: every occurrence is validated against the
// index before anything is written, then one transaction writes a single
// aggregate debit, the parent and every child. If any occurrence conflicts,
// nothing is created.
func (m *Manager) CreateRecurring(ctx context.Context, params SeriesParams) (SeriesResult, error) {
	if err := params.Window.Validate(); err != nil {
		return SeriesResult{}, err
	}
	if len(params.Rule.Weekdays) == 0 {
		return SeriesResult{}, fmt.Errorf("recurrence rule names no weekdays")
	}
	if params.ToDate.Before(params.FromDate) {
		return SeriesResult{}, fmt.Errorf("series end date precedes start date")
	}

	eligible, err := m.eligible(ctx, params.OwnerID)
	if err != nil {
		return SeriesResult{}, fmt.Errorf("recurring eligibility check: %w", err)
	}
	if !eligible {
		return SeriesResult{}, fmt.Errorf("%w: recurring booking requires a qualifying membership", ErrForbidden)
	}

	intervals := params.expand()
	if len(intervals) == 0 {
		return SeriesResult{}, fmt.Errorf("series produces no occurrences")
	}

	perPrice := PriceFor(params.UnitPrice, intervals[0])
	totalPrice := perPrice * int64(len(intervals))

	unlockCourt := m.courts.Lock(params.CourtID)
	defer unlockCourt()

	// Validate every candidate before committing any of it.
	for _, interval := range intervals {
		if m.index.HasOverlap(params.CourtID, interval, 0) {
			return SeriesResult{}, &SlotConflictError{Date: truncateToDay(interval.Start)}
		}
	}

	unlockAccount := m.accounts.Lock(params.OwnerID)
	defer unlockAccount()

	now := m.clock.Now().UTC()
	ruleText := params.Rule.String()

	var result SeriesResult
	var payment wallet.AppendResult
	err = m.db.RunInTx(ctx, func(txdb *db.DB) error {
		parent, err := txdb.Queries.InsertReservation(ctx, db.InsertReservationParams{
			CourtID:    params.CourtID,
			OwnerID:    params.OwnerID,
			StartTime:  intervals[0].Start,
			EndTime:    intervals[0].End,
			Price:      perPrice,
			Status:     db.ReservationStatusConfirmed,
			SeriesRule: sql.NullString{String: ruleText, Valid: true},
			CreatedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("insert series parent: %w", err)
		}

		payment, err = wallet.Append(ctx, txdb.Queries, wallet.AppendParams{
			AccountID:            params.OwnerID,
			Amount:               -totalPrice,
			Kind:                 db.EntryKindPayment,
			RelatedReservationID: &parent.ID,
			Description:          fmt.Sprintf("Recurring court %d booking, %d occurrences", params.CourtID, len(intervals)),
			CreatedAt:            now,
		})
		if err != nil {
			return err
		}

		if err := txdb.Queries.SetReservationPayment(ctx, db.SetReservationPaymentParams{
			ID:            parent.ID,
			LedgerEntryID: payment.Entry.ID,
		}); err != nil {
			return err
		}
		parent.LedgerEntryID = sql.NullInt64{Int64: payment.Entry.ID, Valid: true}

		children := make([]db.Reservation, 0, len(intervals)-1)
		for _, interval := range intervals[1:] {
			child, err := txdb.Queries.InsertReservation(ctx, db.InsertReservationParams{
				CourtID:   params.CourtID,
				OwnerID:   params.OwnerID,
				StartTime: interval.Start,
				EndTime:   interval.End,
				Price:     perPrice,
				Status:    db.ReservationStatusConfirmed,
				ParentID:  sql.NullInt64{Int64: parent.ID, Valid: true},
				CreatedAt: now,
			})
			if err != nil {
				return fmt.Errorf("insert series child: %w", err)
			}
			children = append(children, child)
		}

		result = SeriesResult{Parent: parent, Children: children, TotalPrice: totalPrice}
		return nil
	})
	if err != nil {
		return SeriesResult{}, err
	}

	m.index.Insert(params.CourtID, intervals[0], result.Parent.ID)
	for i, child := range result.Children {
		m.index.Insert(params.CourtID, intervals[i+1], child.ID)
	}
	for _, interval := range intervals {
		m.emitter.AvailabilityChanged(events.AvailabilityChanged{
			CourtID:   params.CourtID,
			StartTime: interval.Start,
			EndTime:   interval.End,
			NewStatus: string(db.ReservationStatusConfirmed),
		})
	}
	m.emitter.BalanceChanged(events.BalanceChanged{
		AccountID:  params.OwnerID,
		NewBalance: payment.NewBalance,
	})
	metrics.BookingsConfirmed.Add(float64(len(intervals)))

	log.Ctx(ctx).Info().
		Int64("parent_id", result.Parent.ID).
		Int64("court_id", params.CourtID).
		Str("rule", ruleText).
		Int("occurrences", len(intervals)).
		Int64("total_price", totalPrice).
		Msg("Recurring series created")
	return result, nil
}
