package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"consult-platform/internal/session"

	"github.com/google/uuid"
)

var ErrNotTerminated = errors.New("history: session not terminated")

// RecordStore persists settled records. SessionID carries a uniqueness
// constraint so a settle retry can never produce a second row.
type RecordStore interface {
	FindBySession(ctx context.Context, sessionID string) (Record, bool, error)
	Create(ctx context.Context, rec Record) error
}

// Archiver flags the live record as settled. Satisfied by session.Repository.
type Archiver interface {
	Archive(ctx context.Context, sessionID string) error
}

// Settler converts a terminated live session into exactly one Record.
//
// Idempotent under retry: an existing record for the session is returned
// as-is. Every termination path (explicit end, insufficient credits, max
// duration, free exhaustion, abandonment, rejection) goes through here.
type Settler struct {
	store   RecordStore
	archive Archiver
	clock   func() time.Time
}

func NewSettler(store RecordStore, archive Archiver) *Settler {
	return &Settler{store: store, archive: archive, clock: time.Now}
}

func (s *Settler) Settle(ctx context.Context, live session.LiveSession) (Record, error) {
	if !live.Status.Terminal() {
		return Record{}, fmt.Errorf("%w: %s is %s", ErrNotTerminated, live.ID, live.Status)
	}

	if existing, ok, err := s.store.FindBySession(ctx, live.ID); err != nil {
		return Record{}, err
	} else if ok {
		return existing, nil
	}

	status, reason := Normalize(live.EndReason)
	providerCredits, platformCredits := Split(live.TotalCreditsUsed)

	rec := Record{
		ID:              uuid.NewString(),
		SessionID:       live.ID,
		CallID:          live.CallID,
		RoomID:          live.RoomID,
		ConsumerID:      live.ConsumerID,
		ProviderID:      live.ProviderID,
		Kind:            live.Kind,
		Status:          status,
		Reason:          reason,
		CreditsPerMin:   live.CreditsPerMin,
		DurationSeconds: duration(live),
		TotalCredits:    live.TotalCreditsUsed,
		ProviderCredits: providerCredits,
		PlatformCredits: platformCredits,
		FreeSession:     live.FreeSession,
		StartedAt:       live.StartTime,
		EndedAt:         live.EndTime,
		CreatedAt:       s.clock().UTC(),
	}

	if err := s.store.Create(ctx, rec); err != nil {
		// A concurrent settle may have beaten us to the unique session_id.
		if existing, ok, ferr := s.store.FindBySession(ctx, live.ID); ferr == nil && ok {
			return existing, nil
		}
		return Record{}, err
	}

	if err := s.archive.Archive(ctx, live.ID); err != nil &&
		!errors.Is(err, session.ErrNotFound) {
		return rec, err
	}
	return rec, nil
}

// duration clamps endTime - startTime to >= 0 whole seconds.
func duration(live session.LiveSession) int {
	if live.StartTime == nil || live.EndTime == nil {
		return 0
	}
	d := live.EndTime.Sub(*live.StartTime)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
