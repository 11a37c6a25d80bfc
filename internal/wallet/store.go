package wallet

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
)

// Store is the wallet's public surface. Every balance mutation is serialized
// per account through the shared keyed lock, which the booking manager also
// holds while it debits.
type Store struct {
	db       *db.DB
	accounts *locks.Keyed
	emitter  events.Emitter
}

func NewStore(database *db.DB, accountLocks *locks.Keyed, emitter events.Emitter) (*Store, error) {
	if database == nil {
		return nil, errors.New("wallet store requires a database")
	}
	if accountLocks == nil {
		return nil, errors.New("wallet store requires account locks")
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Store{db: database, accounts: accountLocks, emitter: emitter}, nil
}

func (s *Store) CreateAccount(ctx context.Context, name string) (db.Account, error) {
	return s.db.Queries.CreateAccount(ctx, name)
}

func (s *Store) Account(ctx context.Context, accountID int64) (db.Account, error) {
	account, err := s.db.Queries.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.Account{}, ErrAccountNotFound
		}
		return db.Account{}, err
	}
	return account, nil
}

func (s *Store) Balance(ctx context.Context, accountID int64) (int64, error) {
	account, err := s.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Deposit credits an account immediately (the auto-approved deposit path).
func (s *Store) Deposit(ctx context.Context, accountID, amount int64, description string) (db.LedgerEntry, error) {
	return s.appendLocked(ctx, AppendParams{
		AccountID:   accountID,
		Amount:      amount,
		Kind:        db.EntryKindDeposit,
		Description: description,
	})
}

// Withdraw debits an account immediately, respecting the balance floor.
func (s *Store) Withdraw(ctx context.Context, accountID, amount int64, description string) (db.LedgerEntry, error) {
	return s.appendLocked(ctx, AppendParams{
		AccountID:   accountID,
		Amount:      -amount,
		Kind:        db.EntryKindWithdraw,
		Description: description,
	})
}

// Reward credits an account outside the booking flow (prizes and the like).
func (s *Store) Reward(ctx context.Context, accountID, amount int64, description string) (db.LedgerEntry, error) {
	return s.appendLocked(ctx, AppendParams{
		AccountID:   accountID,
		Amount:      amount,
		Kind:        db.EntryKindReward,
		Description: description,
	})
}

func (s *Store) appendLocked(ctx context.Context, params AppendParams) (db.LedgerEntry, error) {
	unlock := s.accounts.Lock(params.AccountID)
	defer unlock()

	var result AppendResult
	err := s.db.RunInTx(ctx, func(txdb *db.DB) error {
		var err error
		result, err = Append(ctx, txdb.Queries, params)
		return err
	})
	if err != nil {
		return db.LedgerEntry{}, err
	}

	s.emitter.BalanceChanged(events.BalanceChanged{
		AccountID:  params.AccountID,
		NewBalance: result.NewBalance,
	})
	return result.Entry, nil
}

// RequestDeposit records a pending deposit awaiting manual review. No
// balance effect until resolved.
func (s *Store) RequestDeposit(ctx context.Context, accountID, amount int64, description string) (db.LedgerEntry, error) {
	if amount <= 0 {
		return db.LedgerEntry{}, fmt.Errorf("%w: deposit amount %d", ErrInvalidAmount, amount)
	}
	if _, err := s.Account(ctx, accountID); err != nil {
		return db.LedgerEntry{}, err
	}

	return s.db.Queries.InsertLedgerEntry(ctx, db.InsertLedgerEntryParams{
		AccountID:   accountID,
		Amount:      amount,
		Kind:        db.EntryKindDeposit,
		Status:      db.EntryStatusPending,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	})
}

// ResolvePending completes or rejects a pending entry. Approval applies the
// balance delta; rejection has no balance effect. Returns ErrAlreadyResolved
// if the entry is not pending.
func (s *Store) ResolvePending(ctx context.Context, entryID int64, approve bool) (db.LedgerEntry, error) {
	entry, err := s.db.Queries.GetLedgerEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.LedgerEntry{}, ErrEntryNotFound
		}
		return db.LedgerEntry{}, err
	}

	unlock := s.accounts.Lock(entry.AccountID)
	defer unlock()

	var newBalance int64
	err = s.db.RunInTx(ctx, func(txdb *db.DB) error {
		// Re-read under the lock; a concurrent resolve may have won.
		entry, err = txdb.Queries.GetLedgerEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.Status != db.EntryStatusPending {
			return ErrAlreadyResolved
		}

		if !approve {
			entry.Status = db.EntryStatusRejected
			return txdb.Queries.SetLedgerEntryStatus(ctx, db.SetLedgerEntryStatusParams{
				ID:     entryID,
				Status: db.EntryStatusRejected,
			})
		}

		account, err := txdb.Queries.GetAccount(ctx, entry.AccountID)
		if err != nil {
			return err
		}
		newBalance = account.Balance + entry.Amount
		if newBalance < 0 {
			return fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, -entry.Amount, account.Balance)
		}

		if err := txdb.Queries.SetLedgerEntryStatus(ctx, db.SetLedgerEntryStatusParams{
			ID:     entryID,
			Status: db.EntryStatusCompleted,
		}); err != nil {
			return err
		}
		entry.Status = db.EntryStatusCompleted
		return txdb.Queries.AddToBalance(ctx, db.AddToBalanceParams{
			ID:           entry.AccountID,
			BalanceDelta: entry.Amount,
		})
	})
	if err != nil {
		return db.LedgerEntry{}, err
	}

	if approve {
		s.emitter.BalanceChanged(events.BalanceChanged{
			AccountID:  entry.AccountID,
			NewBalance: newBalance,
		})
	} else {
		log.Ctx(ctx).Info().
			Int64("entry_id", entryID).
			Int64("account_id", entry.AccountID).
			Msg("Rejected pending deposit")
	}
	return entry, nil
}

type EntriesParams struct {
	AccountID int64
	Kind      *db.EntryKind
	Limit     int64
	Offset    int64
}

func (s *Store) Entries(ctx context.Context, params EntriesParams) ([]db.LedgerEntry, error) {
	if params.Limit <= 0 {
		params.Limit = 20
	}
	kind := sql.NullString{}
	if params.Kind != nil {
		kind = sql.NullString{String: string(*params.Kind), Valid: true}
	}
	return s.db.Queries.ListLedgerEntries(ctx, db.ListLedgerEntriesParams{
		AccountID: params.AccountID,
		Kind:      kind,
		Limit:     params.Limit,
		Offset:    params.Offset,
	})
}

type Summary struct {
	Balance        int64
	TotalDeposited int64
	TotalSpent     int64
	TotalRewarded  int64
	PendingCount   int64
}

// AccountSummary aggregates an account's completed entries by kind plus its
// pending count, the data a wallet overview screen needs.
func (s *Store) AccountSummary(ctx context.Context, accountID int64) (Summary, error) {
	account, err := s.Account(ctx, accountID)
	if err != nil {
		return Summary{}, err
	}

	q := s.db.Queries
	deposited, err := q.SumCompletedEntriesByKind(ctx, db.SumCompletedEntriesByKindParams{
		AccountID: accountID, Kind: db.EntryKindDeposit,
	})
	if err != nil {
		return Summary{}, err
	}
	spent, err := q.SumCompletedEntriesByKind(ctx, db.SumCompletedEntriesByKindParams{
		AccountID: accountID, Kind: db.EntryKindPayment,
	})
	if err != nil {
		return Summary{}, err
	}
	rewarded, err := q.SumCompletedEntriesByKind(ctx, db.SumCompletedEntriesByKindParams{
		AccountID: accountID, Kind: db.EntryKindReward,
	})
	if err != nil {
		return Summary{}, err
	}
	pending, err := q.CountPendingEntries(ctx, accountID)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		Balance:        account.Balance,
		TotalDeposited: deposited,
		TotalSpent:     -spent,
		TotalRewarded:  rewarded,
		PendingCount:   pending,
	}, nil
}
