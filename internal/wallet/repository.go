package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"consult-platform/pkg/utils"

	"github.com/google/uuid"
)

// Repository abstracts wallet persistence.
//
// ConditionalDecrement is the only mutation the metering path is allowed to
// use: the credits >= n guard must live inside the statement itself so that
// concurrent debits serialize on the row, never on application code.
type Repository interface {
	Find(ctx context.Context, userID string) (Wallet, error)
	Topup(ctx context.Context, userID string, amount int64, now time.Time) (int64, error)

	// ConditionalDecrement subtracts amount iff credits >= amount.
	// Returns the new balance and ok=false (no error) when funds are short.
	ConditionalDecrement(ctx context.Context, userID string, amount int64, now time.Time) (int64, bool, error)

	// ListLedger returns the newest entries first.
	ListLedger(ctx context.Context, userID string, limit int) ([]LedgerEntry, error)
}

// PostgresRepo implements Repository on a wallets table plus an append-only
// ledger:
//
//	wallets(user_id PK, credits, last_topup, last_deduction, created_at, updated_at)
//	wallet_ledger(id PK, user_id, kind, amount, balance, created_at)
//
// Balance changes and their ledger rows commit together.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Find(ctx context.Context, userID string) (Wallet, error) {
	const q = `
SELECT user_id, credits, last_topup, last_deduction, created_at, updated_at
FROM wallets
WHERE user_id = $1
`
	var w Wallet
	err := r.db.QueryRowContext(ctx, q, userID).Scan(
		&w.UserID,
		&w.Credits,
		&w.LastTopup,
		&w.LastDeduction,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

func (r *PostgresRepo) Topup(ctx context.Context, userID string, amount int64, now time.Time) (int64, error) {
	const q = `
INSERT INTO wallets (user_id, credits, last_topup, created_at, updated_at)
VALUES ($1, $2, $3, $3, $3)
ON CONFLICT (user_id)
DO UPDATE SET credits = wallets.credits + EXCLUDED.credits,
              last_topup = EXCLUDED.last_topup,
              updated_at = EXCLUDED.updated_at
RETURNING credits
`
	var balance int64
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, q, userID, amount, now).Scan(&balance); err != nil {
			return err
		}
		return appendLedger(ctx, tx, LedgerEntry{
			UserID:    userID,
			Kind:      EntryTopup,
			Amount:    amount,
			Balance:   balance,
			CreatedAt: now,
		})
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *PostgresRepo) ConditionalDecrement(ctx context.Context, userID string, amount int64, now time.Time) (int64, bool, error) {
	// The WHERE clause is the entire funds check. A row that exists but cannot
	// cover the amount matches zero rows, same as a missing wallet; the
	// follow-up read distinguishes the two.
	const q = `
UPDATE wallets
SET credits = credits - $2,
    last_deduction = $3,
    updated_at = $3
WHERE user_id = $1 AND credits >= $2
RETURNING credits
`
	var balance int64
	var short bool
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, q, userID, amount, now).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			short = true
			return nil
		}
		if err != nil {
			return err
		}
		return appendLedger(ctx, tx, LedgerEntry{
			UserID:    userID,
			Kind:      EntryDeduction,
			Amount:    -amount,
			Balance:   balance,
			CreatedAt: now,
		})
	})
	if err != nil {
		return 0, false, err
	}
	if !short {
		return balance, true, nil
	}

	if _, ferr := r.Find(ctx, userID); ferr != nil {
		return 0, false, ferr
	}
	return 0, false, nil
}

func (r *PostgresRepo) ListLedger(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	const q = `
SELECT id, user_id, kind, amount, balance, created_at
FROM wallet_ledger
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Amount, &e.Balance, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func appendLedger(ctx context.Context, tx *sql.Tx, e LedgerEntry) error {
	const q = `
INSERT INTO wallet_ledger (id, user_id, kind, amount, balance, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err := tx.ExecContext(ctx, q, uuid.NewString(), e.UserID, e.Kind, e.Amount, e.Balance, e.CreatedAt)
	return err
}
