package db

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx, so the
// same queries run inside and outside a transaction.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries bundles the hand-written SQL for the engine's three tables.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

const accountColumns = "id, name, balance, lifetime_spend, created_at"

func scanAccount(row *sql.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.Balance, &a.LifetimeSpend, &a.CreatedAt)
	return a, err
}

func (q *Queries) CreateAccount(ctx context.Context, name string) (Account, error) {
	now := time.Now().UTC()
	result, err := q.db.ExecContext(ctx,
		"INSERT INTO accounts (name, balance, lifetime_spend, created_at) VALUES (?, 0, 0, ?)",
		name, now,
	)
	if err != nil {
		return Account{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Account{}, err
	}
	return Account{ID: id, Name: name, CreatedAt: now}, nil
}

func (q *Queries) GetAccount(ctx context.Context, id int64) (Account, error) {
	return scanAccount(q.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id))
}

type AddToBalanceParams struct {
	ID           int64
	BalanceDelta int64
	SpendDelta   int64
}

// AddToBalance applies a balance delta and a lifetime-spend delta to an
// account. Callers are responsible for the balance-floor check; the schema
// CHECK is a backstop only.
func (q *Queries) AddToBalance(ctx context.Context, arg AddToBalanceParams) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE accounts SET balance = balance + ?, lifetime_spend = lifetime_spend + ? WHERE id = ?",
		arg.BalanceDelta, arg.SpendDelta, arg.ID,
	)
	return err
}

const ledgerEntryColumns = "id, account_id, amount, kind, status, related_reservation_id, description, created_at"

func scanLedgerEntry(row *sql.Row) (LedgerEntry, error) {
	var e LedgerEntry
	err := row.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Kind, &e.Status,
		&e.RelatedReservationID, &e.Description, &e.CreatedAt)
	return e, err
}

type InsertLedgerEntryParams struct {
	AccountID            int64
	Amount               int64
	Kind                 EntryKind
	Status               EntryStatus
	RelatedReservationID sql.NullInt64
	Description          string
	CreatedAt            time.Time
}

func (q *Queries) InsertLedgerEntry(ctx context.Context, arg InsertLedgerEntryParams) (LedgerEntry, error) {
	result, err := q.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (account_id, amount, kind, status, related_reservation_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		arg.AccountID, arg.Amount, arg.Kind, arg.Status,
		arg.RelatedReservationID, arg.Description, arg.CreatedAt,
	)
	if err != nil {
		return LedgerEntry{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return LedgerEntry{}, err
	}
	return LedgerEntry{
		ID:                   id,
		AccountID:            arg.AccountID,
		Amount:               arg.Amount,
		Kind:                 arg.Kind,
		Status:               arg.Status,
		RelatedReservationID: arg.RelatedReservationID,
		Description:          arg.Description,
		CreatedAt:            arg.CreatedAt,
	}, nil
}

func (q *Queries) GetLedgerEntry(ctx context.Context, id int64) (LedgerEntry, error) {
	return scanLedgerEntry(q.db.QueryRowContext(ctx,
		"SELECT "+ledgerEntryColumns+" FROM ledger_entries WHERE id = ?", id))
}

type SetLedgerEntryStatusParams struct {
	ID     int64
	Status EntryStatus
}

func (q *Queries) SetLedgerEntryStatus(ctx context.Context, arg SetLedgerEntryStatusParams) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE ledger_entries SET status = ? WHERE id = ?", arg.Status, arg.ID)
	return err
}

type ListLedgerEntriesParams struct {
	AccountID int64
	Kind      sql.NullString
	Limit     int64
	Offset    int64
}

func (q *Queries) ListLedgerEntries(ctx context.Context, arg ListLedgerEntriesParams) ([]LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+ledgerEntryColumns+` FROM ledger_entries
		 WHERE account_id = ? AND (? IS NULL OR kind = ?)
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		arg.AccountID, arg.Kind, arg.Kind, arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Kind, &e.Status,
			&e.RelatedReservationID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *Queries) SumCompletedEntries(ctx context.Context, accountID int64) (int64, error) {
	var sum int64
	err := q.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = ? AND status = ?",
		accountID, EntryStatusCompleted,
	).Scan(&sum)
	return sum, err
}

type SumCompletedEntriesByKindParams struct {
	AccountID int64
	Kind      EntryKind
}

func (q *Queries) SumCompletedEntriesByKind(ctx context.Context, arg SumCompletedEntriesByKindParams) (int64, error) {
	var sum int64
	err := q.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = ? AND status = ? AND kind = ?",
		arg.AccountID, EntryStatusCompleted, arg.Kind,
	).Scan(&sum)
	return sum, err
}

func (q *Queries) CountPendingEntries(ctx context.Context, accountID int64) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE account_id = ? AND status = ?",
		accountID, EntryStatusPending,
	).Scan(&count)
	return count, err
}

const reservationColumns = "id, court_id, owner_id, start_time, end_time, price, ledger_entry_id, status, parent_id, series_rule, hold_deadline, created_at"

func scanReservationRow(row *sql.Row) (Reservation, error) {
	var r Reservation
	err := row.Scan(&r.ID, &r.CourtID, &r.OwnerID, &r.StartTime, &r.EndTime, &r.Price,
		&r.LedgerEntryID, &r.Status, &r.ParentID, &r.SeriesRule, &r.HoldDeadline, &r.CreatedAt)
	return r, err
}

func (q *Queries) listReservations(ctx context.Context, query string, args ...any) ([]Reservation, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reservations []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.CourtID, &r.OwnerID, &r.StartTime, &r.EndTime, &r.Price,
			&r.LedgerEntryID, &r.Status, &r.ParentID, &r.SeriesRule, &r.HoldDeadline, &r.CreatedAt); err != nil {
			return nil, err
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

type InsertReservationParams struct {
	CourtID      int64
	OwnerID      int64
	StartTime    time.Time
	EndTime      time.Time
	Price        int64
	Status       ReservationStatus
	ParentID     sql.NullInt64
	SeriesRule   sql.NullString
	HoldDeadline sql.NullTime
	CreatedAt    time.Time
}

func (q *Queries) InsertReservation(ctx context.Context, arg InsertReservationParams) (Reservation, error) {
	result, err := q.db.ExecContext(ctx,
		`INSERT INTO reservations (court_id, owner_id, start_time, end_time, price, status, parent_id, series_rule, hold_deadline, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.CourtID, arg.OwnerID, arg.StartTime, arg.EndTime, arg.Price,
		arg.Status, arg.ParentID, arg.SeriesRule, arg.HoldDeadline, arg.CreatedAt,
	)
	if err != nil {
		return Reservation{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Reservation{}, err
	}
	return Reservation{
		ID:           id,
		CourtID:      arg.CourtID,
		OwnerID:      arg.OwnerID,
		StartTime:    arg.StartTime,
		EndTime:      arg.EndTime,
		Price:        arg.Price,
		Status:       arg.Status,
		ParentID:     arg.ParentID,
		SeriesRule:   arg.SeriesRule,
		HoldDeadline: arg.HoldDeadline,
		CreatedAt:    arg.CreatedAt,
	}, nil
}

func (q *Queries) GetReservation(ctx context.Context, id int64) (Reservation, error) {
	return scanReservationRow(q.db.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id))
}

type SetReservationStatusParams struct {
	ID     int64
	Status ReservationStatus
}

func (q *Queries) SetReservationStatus(ctx context.Context, arg SetReservationStatusParams) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE reservations SET status = ? WHERE id = ?", arg.Status, arg.ID)
	return err
}

type SetReservationPaymentParams struct {
	ID            int64
	LedgerEntryID int64
}

// SetReservationPayment links a completed payment entry to a reservation and
// confirms it in a single update.
func (q *Queries) SetReservationPayment(ctx context.Context, arg SetReservationPaymentParams) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE reservations SET ledger_entry_id = ?, status = ? WHERE id = ?",
		arg.LedgerEntryID, ReservationStatusConfirmed, arg.ID)
	return err
}

// ListActiveReservations returns every holding or confirmed reservation,
// used to rebuild the interval index at startup.
// ClearHoldDeadline removes the hold deadline from a reservation.
func (q *Queries) ClearHoldDeadline(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE reservations SET hold_deadline = NULL WHERE id = ?", id)
	return err
}

func (q *Queries) ListActiveReservations(ctx context.Context) ([]Reservation, error) {
	return q.listReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE status IN (?, ?) ORDER BY court_id, start_time`,
		ReservationStatusHolding, ReservationStatusConfirmed)
}

func (q *Queries) ListExpiredHolds(ctx context.Context, now time.Time) ([]Reservation, error) {
	return q.listReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE status = ? AND hold_deadline IS NOT NULL AND hold_deadline < ?
		 ORDER BY hold_deadline`,
		ReservationStatusHolding, now.UTC())
}

func (q *Queries) ListPastConfirmed(ctx context.Context, now time.Time) ([]Reservation, error) {
	return q.listReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE status = ? AND end_time <= ? ORDER BY end_time`,
		ReservationStatusConfirmed, now.UTC())
}

func (q *Queries) ListReservationsByOwner(ctx context.Context, ownerID int64) ([]Reservation, error) {
	return q.listReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE owner_id = ? ORDER BY start_time DESC`,
		ownerID)
}
