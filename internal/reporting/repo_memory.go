package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"consult-platform/internal/history"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.
type MemoryRepo struct {
	mu      sync.Mutex
	Records []history.Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListByProvider(ctx context.Context, providerID string, from, to time.Time) ([]history.Record, error) {
	if providerID == "" {
		return nil, errors.New("provider_id required")
	}
	return r.filter(func(rec history.Record) bool { return rec.ProviderID == providerID }, from, to), nil
}

func (r *MemoryRepo) ListByConsumer(ctx context.Context, consumerID string, from, to time.Time) ([]history.Record, error) {
	if consumerID == "" {
		return nil, errors.New("consumer_id required")
	}
	return r.filter(func(rec history.Record) bool { return rec.ConsumerID == consumerID }, from, to), nil
}

func (r *MemoryRepo) filter(keep func(history.Record) bool, from, to time.Time) []history.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]history.Record, 0)
	for _, rec := range r.Records {
		if !keep(rec) {
			continue
		}
		if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
