package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and early development.
// The mutex stands in for the conditional updates the Postgres repo issues.
type MemoryRepo struct {
	mu       sync.Mutex
	requests map[string]*SessionRequest
	live     map[string]*LiveSession
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		requests: map[string]*SessionRequest{},
		live:     map[string]*LiveSession{},
	}
}

func (r *MemoryRepo) CreateRequest(ctx context.Context, req SessionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := req
	r.requests[req.ID] = &cp
	return nil
}

func (r *MemoryRepo) GetRequest(ctx context.Context, id string) (SessionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return SessionRequest{}, ErrNotFound
	}
	return *req, nil
}

func (r *MemoryRepo) TransitionRequest(ctx context.Context, id string, to RequestStatus, at time.Time) (SessionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return SessionRequest{}, ErrNotFound
	}
	if req.Status != RequestPending {
		return *req, ErrConflict
	}
	req.Status = to
	t := at
	req.RespondedAt = &t
	return *req, nil
}

func (r *MemoryRepo) ExpireOverdue(ctx context.Context, now time.Time, limit int) ([]SessionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SessionRequest
	for _, req := range r.requests {
		if len(out) >= limit {
			break
		}
		if req.Status == RequestPending && !now.Before(req.ExpiresAt) {
			req.Status = RequestExpired
			t := now
			req.RespondedAt = &t
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *MemoryRepo) CreateLive(ctx context.Context, s LiveSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := s
	r.live[s.ID] = &cp
	return nil
}

func (r *MemoryRepo) GetLive(ctx context.Context, id string) (LiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.live[id]
	if !ok {
		return LiveSession{}, ErrNotFound
	}
	return *s, nil
}

func (r *MemoryRepo) GetLiveByRequest(ctx context.Context, requestID string) (LiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.live {
		if s.RequestID == requestID {
			return *s, nil
		}
	}
	return LiveSession{}, ErrNotFound
}

func (r *MemoryRepo) ActiveForConsumer(ctx context.Context, consumerID string) (LiveSession, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.live {
		if s.ConsumerID == consumerID && !s.Status.Terminal() && !s.Archived {
			return *s, true, nil
		}
	}
	return LiveSession{}, false, nil
}

func (r *MemoryRepo) ActiveForProvider(ctx context.Context, providerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.live {
		if s.ProviderID == providerID && s.Status == LiveInProgress && !s.Archived {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) MarkInProgress(ctx context.Context, id, roomID string, startTime time.Time, freeEndTime *time.Time) (LiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.live[id]
	if !ok {
		return LiveSession{}, ErrNotFound
	}
	if s.Status.Terminal() {
		return *s, ErrConflict
	}
	s.Status = LiveInProgress
	s.RoomID = roomID
	t := startTime
	s.StartTime = &t
	s.FreeEndTime = freeEndTime
	s.LastProcessed = startTime
	s.UpdatedAt = startTime
	return *s, nil
}

func (r *MemoryRepo) MarkEnded(ctx context.Context, id string, status LiveStatus, reason EndReason, endedAt time.Time) (LiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.live[id]
	if !ok {
		return LiveSession{}, ErrNotFound
	}
	if s.Status.Terminal() {
		return *s, ErrConflict
	}
	s.Status = status
	s.EndReason = reason
	t := endedAt
	s.EndTime = &t
	s.UpdatedAt = endedAt
	return *s, nil
}

func (r *MemoryRepo) RecordDeduction(ctx context.Context, id string, lastDeductedMinute int, totalCreditsUsed int64, processedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.live[id]
	if !ok {
		return ErrNotFound
	}
	if lastDeductedMinute <= s.LastDeductedMinute {
		return ErrConflict
	}
	s.LastDeductedMinute = lastDeductedMinute
	s.TotalCreditsUsed = totalCreditsUsed
	s.LastProcessed = processedAt
	s.UpdatedAt = processedAt
	return nil
}

func (r *MemoryRepo) TouchProcessed(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.live[id]
	if !ok {
		return ErrNotFound
	}
	s.LastProcessed = at
	return nil
}

func (r *MemoryRepo) ListBillable(ctx context.Context, limit int) ([]LiveSession, error) {
	return r.list(limit, func(s *LiveSession) bool {
		return s.Status == LiveInProgress && !s.FreeSession && !s.Archived
	})
}

func (r *MemoryRepo) ListFree(ctx context.Context, limit int) ([]LiveSession, error) {
	return r.list(limit, func(s *LiveSession) bool {
		return s.Status == LiveInProgress && s.FreeSession && !s.Archived
	})
}

func (r *MemoryRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]LiveSession, error) {
	return r.list(limit, func(s *LiveSession) bool {
		return s.Status == LiveInProgress && !s.Archived && s.LastProcessed.Before(olderThan)
	})
}

func (r *MemoryRepo) list(limit int, keep func(*LiveSession) bool) ([]LiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LiveSession
	for _, s := range r.live {
		if keep(s) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastProcessed.Before(out[j].LastProcessed) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Archive(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.live[id]
	if !ok {
		return ErrNotFound
	}
	s.Archived = true
	return nil
}
