package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests and early development.
// The mutex gives the same atomicity the SQL conditional update provides.
type MemoryRepo struct {
	mu      sync.Mutex
	wallets map[string]*Wallet
	ledger  map[string][]LedgerEntry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		wallets: map[string]*Wallet{},
		ledger:  map[string][]LedgerEntry{},
	}
}

func (r *MemoryRepo) Find(ctx context.Context, userID string) (Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[userID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return *w, nil
}

func (r *MemoryRepo) Topup(ctx context.Context, userID string, amount int64, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[userID]
	if !ok {
		w = &Wallet{UserID: userID, CreatedAt: now}
		r.wallets[userID] = w
	}
	w.Credits += amount
	t := now
	w.LastTopup = &t
	w.UpdatedAt = now
	r.appendLedger(LedgerEntry{UserID: userID, Kind: EntryTopup, Amount: amount, Balance: w.Credits, CreatedAt: now})
	return w.Credits, nil
}

func (r *MemoryRepo) ConditionalDecrement(ctx context.Context, userID string, amount int64, now time.Time) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[userID]
	if !ok {
		return 0, false, ErrNotFound
	}
	if w.Credits < amount {
		return 0, false, nil
	}
	w.Credits -= amount
	t := now
	w.LastDeduction = &t
	w.UpdatedAt = now
	r.appendLedger(LedgerEntry{UserID: userID, Kind: EntryDeduction, Amount: -amount, Balance: w.Credits, CreatedAt: now})
	return w.Credits, true, nil
}

func (r *MemoryRepo) ListLedger(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.ledger[userID]
	out := make([]LedgerEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

// appendLedger requires r.mu held.
func (r *MemoryRepo) appendLedger(e LedgerEntry) {
	e.ID = uuid.NewString()
	r.ledger[e.UserID] = append(r.ledger[e.UserID], e)
}
