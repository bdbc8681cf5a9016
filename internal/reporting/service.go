package reporting

import (
	"context"
	"errors"
	"time"

	"consult-platform/internal/history"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts read access to settled session history.
// Implementations must scope by the requested identity; reporting never
// exposes one user's records to another.
type Repository interface {
	ListByProvider(ctx context.Context, providerID string, from, to time.Time) ([]history.Record, error)
	ListByConsumer(ctx context.Context, consumerID string, from, to time.Time) ([]history.Record, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) EarningsSummary(ctx context.Context, req EarningsSummaryRequest) (EarningsSummary, error) {
	if req.ProviderID == "" {
		return EarningsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return EarningsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return EarningsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListByProvider(ctx, req.ProviderID, req.Range.From, req.Range.To)
	if err != nil {
		return EarningsSummary{}, err
	}

	out := EarningsSummary{ProviderID: req.ProviderID}
	for _, r := range rows {
		out.TotalSessions++
		out.TotalDurationSeconds += r.DurationSeconds
		switch r.Status {
		case history.StatusCompleted:
			out.CompletedSessions++
		case history.StatusFailed:
			out.FailedSessions++
		}
		if r.FreeSession {
			out.FreeSessions++
		}
		out.TotalCredits += r.TotalCredits
		out.ProviderCredits += r.ProviderCredits
		out.PlatformCredits += r.PlatformCredits
	}
	if out.TotalSessions > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalSessions
	}
	return out, nil
}

func (s *Service) ConsumerSpend(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.ConsumerID == "" {
		return SpendSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListByConsumer(ctx, req.ConsumerID, req.Range.From, req.Range.To)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{ConsumerID: req.ConsumerID}
	for _, r := range rows {
		out.TotalSessions++
		out.TotalDurationSeconds += r.DurationSeconds
		out.TotalCredits += r.TotalCredits
		if r.FreeSession {
			out.FreeSessions++
		}
	}
	return out, nil
}
