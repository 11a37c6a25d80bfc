package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/racqet/courtbook/internal/db"
)

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Validate() error {
	if iv.Start.IsZero() || iv.End.IsZero() {
		return fmt.Errorf("interval times are required")
	}
	if !iv.Start.Before(iv.End) {
		return fmt.Errorf("interval start %s must be before end %s", iv.Start, iv.End)
	}
	return nil
}

// Overlaps reports whether two half-open intervals intersect. A reservation
// ending at 10:00 does not conflict with one starting at 10:00.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

type indexEntry struct {
	reservationID int64
	interval      Interval
}

// Index answers "does this interval overlap any active reservation?" per
// court. Only holding and confirmed reservations live in it; the database
// remains the source of truth and the index is rebuilt from it at startup.
//
// The internal mutex only protects the map structure. Check-then-insert
// atomicity per court is the manager's job via its keyed court lock.
type Index struct {
	mu      sync.RWMutex
	byCourt map[int64][]indexEntry
}

func NewIndex() *Index {
	return &Index{byCourt: make(map[int64][]indexEntry)}
}

// HasOverlap reports whether interval overlaps any indexed reservation on
// the court, ignoring excludeID (pass 0 to exclude nothing).
func (x *Index) HasOverlap(courtID int64, interval Interval, excludeID int64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	for _, entry := range x.byCourt[courtID] {
		// Entries are sorted by start time.
		if !entry.interval.Start.Before(interval.End) {
			break
		}
		if entry.reservationID == excludeID {
			continue
		}
		if entry.interval.Overlaps(interval) {
			return true
		}
	}
	return false
}

func (x *Index) Insert(courtID int64, interval Interval, reservationID int64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	entries := x.byCourt[courtID]
	pos := sort.Search(len(entries), func(i int) bool {
		return !entries[i].interval.Start.Before(interval.Start)
	})
	entries = append(entries, indexEntry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = indexEntry{reservationID: reservationID, interval: interval}
	x.byCourt[courtID] = entries
}

func (x *Index) Remove(courtID, reservationID int64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	entries := x.byCourt[courtID]
	for i, entry := range entries {
		if entry.reservationID == reservationID {
			x.byCourt[courtID] = append(entries[:i], entries[i+1:]...)
			if len(x.byCourt[courtID]) == 0 {
				delete(x.byCourt, courtID)
			}
			return
		}
	}
}

// LoadActive rebuilds the index from every holding and confirmed
// reservation. Existing contents are discarded.
func (x *Index) LoadActive(ctx context.Context, q *db.Queries) error {
	reservations, err := q.ListActiveReservations(ctx)
	if err != nil {
		return fmt.Errorf("list active reservations: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.byCourt = make(map[int64][]indexEntry)
	// Rows arrive ordered by court and start time, so appends stay sorted.
	for _, r := range reservations {
		x.byCourt[r.CourtID] = append(x.byCourt[r.CourtID], indexEntry{
			reservationID: r.ID,
			interval:      Interval{Start: r.StartTime, End: r.EndTime},
		})
	}
	return nil
}
