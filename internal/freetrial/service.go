// Package freetrial tracks the once-per-user free session allowance.
// The allowance substitutes for wallet billing until it is consumed; consume
// is permanent and idempotent, and every session request rechecks it.
package freetrial

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidArgument = errors.New("freetrial: invalid argument")

// Repository persists consumption of the allowance.
type Repository interface {
	// Used reports whether the user's allowance is already consumed.
	Used(ctx context.Context, userID string) (bool, error)
	// MarkUsed consumes the allowance. Marking twice is a no-op.
	MarkUsed(ctx context.Context, userID string, at time.Time) error
}

// Service answers "can this user still run a free session" and records
// exhaustion.
type Service struct {
	repo     Repository
	duration time.Duration
	clock    func() time.Time
}

// NewService builds a tracker granting one free window of d per user.
func NewService(repo Repository, d time.Duration) *Service {
	return &Service{repo: repo, duration: d, clock: time.Now}
}

// Duration is the length of the free window granted on acceptance.
func (s *Service) Duration() time.Duration { return s.duration }

func (s *Service) Available(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, ErrInvalidArgument
	}
	used, err := s.repo.Used(ctx, userID)
	if err != nil {
		return false, err
	}
	return !used, nil
}

func (s *Service) Consume(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidArgument
	}
	return s.repo.MarkUsed(ctx, userID, s.clock().UTC())
}
