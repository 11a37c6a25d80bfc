// Package wallet implements the custodial ledger: an append-only transaction
// log per account with a derived running balance. Balance mutations happen
// only here, always paired with a completed ledger entry, so the invariant
// balance == sum(completed amounts) holds after every operation.
package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/racqet/courtbook/internal/db"
	"github.com/racqet/courtbook/internal/metrics"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrEntryNotFound     = errors.New("ledger entry not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyResolved   = errors.New("ledger entry already resolved")
	ErrInvalidAmount     = errors.New("invalid amount for entry kind")
)

// balanceChecked reports whether an entry kind must respect the balance
// floor. Deposits, refunds and rewards are never balance-checked.
func balanceChecked(kind db.EntryKind) bool {
	return kind == db.EntryKindPayment || kind == db.EntryKindWithdraw
}

// validAmount enforces the sign convention: money leaving the wallet
// (payment, withdraw) is negative, money entering it is positive.
func validAmount(kind db.EntryKind, amount int64) bool {
	if balanceChecked(kind) {
		return amount < 0
	}
	return amount > 0
}

type AppendParams struct {
	AccountID            int64
	Amount               int64
	Kind                 db.EntryKind
	RelatedReservationID *int64
	Description          string
	// CreatedAt defaults to time.Now when zero.
	CreatedAt time.Time
}

type AppendResult struct {
	Entry      db.LedgerEntry
	NewBalance int64
}

// Append writes a completed ledger entry and adjusts the account balance in
// the same querier. Callers must pass a transactional querier when the entry
// must be atomic with other writes, and must hold the account lock.
// Lifetime spend accumulates the absolute value of completed payments.
func Append(ctx context.Context, q *db.Queries, params AppendParams) (AppendResult, error) {
	if !validAmount(params.Kind, params.Amount) {
		return AppendResult{}, fmt.Errorf("%w: %s amount %d", ErrInvalidAmount, params.Kind, params.Amount)
	}

	account, err := q.GetAccount(ctx, params.AccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AppendResult{}, ErrAccountNotFound
		}
		return AppendResult{}, fmt.Errorf("load account %d: %w", params.AccountID, err)
	}

	newBalance := account.Balance + params.Amount
	if balanceChecked(params.Kind) && newBalance < 0 {
		return AppendResult{}, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, -params.Amount, account.Balance)
	}

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	entry, err := q.InsertLedgerEntry(ctx, db.InsertLedgerEntryParams{
		AccountID:            params.AccountID,
		Amount:               params.Amount,
		Kind:                 params.Kind,
		Status:               db.EntryStatusCompleted,
		RelatedReservationID: toNullInt64(params.RelatedReservationID),
		Description:          params.Description,
		CreatedAt:            createdAt,
	})
	if err != nil {
		return AppendResult{}, fmt.Errorf("insert ledger entry: %w", err)
	}

	var spendDelta int64
	if params.Kind == db.EntryKindPayment {
		spendDelta = -params.Amount
	}
	if err := q.AddToBalance(ctx, db.AddToBalanceParams{
		ID:           params.AccountID,
		BalanceDelta: params.Amount,
		SpendDelta:   spendDelta,
	}); err != nil {
		return AppendResult{}, fmt.Errorf("adjust balance: %w", err)
	}

	metrics.LedgerEntriesWritten.WithLabelValues(string(params.Kind)).Inc()

	return AppendResult{Entry: entry, NewBalance: newBalance}, nil
}

func toNullInt64(value *int64) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *value, Valid: true}
}
