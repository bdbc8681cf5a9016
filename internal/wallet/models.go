package wallet

import "time"

// Wallet holds a user's prepaid credit balance.
//
// Money invariants:
// - Credits never go negative.
// - Every decrement is a conditional update guarded by credits >= n at the
//   database level. No code path may read a balance and then write a new one.
type Wallet struct {
	UserID  string `json:"user_id" db:"user_id"`
	Credits int64  `json:"credits" db:"credits"`

	LastTopup     *time.Time `json:"last_topup,omitempty" db:"last_topup"`
	LastDeduction *time.Time `json:"last_deduction,omitempty" db:"last_deduction"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EntryKind labels a ledger entry.
type EntryKind string

const (
	EntryTopup     EntryKind = "topup"
	EntryDeduction EntryKind = "deduction"
)

// LedgerEntry is one immutable balance movement. Entries are written in the
// same transaction as the balance change; the ledger can always be replayed
// to the current balance.
type LedgerEntry struct {
	ID      string    `json:"id" db:"id"`
	UserID  string    `json:"user_id" db:"user_id"`
	Kind    EntryKind `json:"kind" db:"kind"`
	Amount  int64     `json:"amount" db:"amount"`
	Balance int64     `json:"balance" db:"balance"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
