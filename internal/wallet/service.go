package wallet

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("wallet: not found")
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	ErrInvalidArgument   = errors.New("wallet: invalid argument")
)

// Service provides wallet operations.
//
// Insufficient funds is not an exceptional condition here: Deduct reports it
// as ErrInsufficientFunds and callers decide what it means (at request time a
// refusal, mid-session a termination trigger).
type Service struct {
	repo Repository
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrInvalidArgument
	}
	w, err := s.repo.Find(ctx, userID)
	if err != nil {
		return 0, err
	}
	return w.Credits, nil
}

func (s *Service) Topup(ctx context.Context, userID string, amount int64) (int64, error) {
	if userID == "" || amount <= 0 {
		return 0, ErrInvalidArgument
	}
	return s.repo.Topup(ctx, userID, amount, s.clock().UTC())
}

// Deduct atomically subtracts amount from the user's balance.
// Returns the new balance, or ErrInsufficientFunds without mutating anything.
func (s *Service) Deduct(ctx context.Context, userID string, amount int64) (int64, error) {
	if userID == "" || amount <= 0 {
		return 0, ErrInvalidArgument
	}
	balance, ok, err := s.repo.ConditionalDecrement(ctx, userID, amount, s.clock().UTC())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrInsufficientFunds
	}
	return balance, nil
}

// Ledger returns the user's most recent balance movements, newest first.
func (s *Service) Ledger(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListLedger(ctx, userID, limit)
}
