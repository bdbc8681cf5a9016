package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"consult-platform/internal/session"
)

func terminatedSession(reason session.EndReason) session.LiveSession {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Minute)
	return session.LiveSession{
		ID:               "s1",
		CallID:           "c1",
		RoomID:           "r1",
		ConsumerID:       "u1",
		ProviderID:       "p1",
		Kind:             session.KindCall,
		Status:           session.LiveEnded,
		CreditsPerMin:    1,
		StartTime:        &start,
		EndTime:          &end,
		TotalCreditsUsed: 3,
		EndReason:        reason,
	}
}

func TestSettleWritesExactlyOneRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sessions := session.NewMemoryRepo()
	live := terminatedSession(session.EndedByUser)
	if err := sessions.CreateLive(ctx, live); err != nil {
		t.Fatalf("create live: %v", err)
	}

	settler := NewSettler(store, sessions)

	first, err := settler.Settle(ctx, live)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	second, err := settler.Settle(ctx, live)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("retry produced a new record: %s vs %s", first.ID, second.ID)
	}
	if got := len(store.All()); got != 1 {
		t.Fatalf("records = %d, want 1", got)
	}

	if first.DurationSeconds != 180 {
		t.Fatalf("duration = %d, want 180", first.DurationSeconds)
	}
	if first.TotalCredits != 3 {
		t.Fatalf("total credits = %d, want 3", first.TotalCredits)
	}
	if first.ProviderCredits+first.PlatformCredits != first.TotalCredits {
		t.Fatal("split does not sum to total")
	}

	archived, err := sessions.GetLive(ctx, "s1")
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	if !archived.Archived {
		t.Fatal("live session not archived after settlement")
	}
}

func TestSettleRejectsLiveSession(t *testing.T) {
	settler := NewSettler(NewMemoryStore(), session.NewMemoryRepo())
	live := terminatedSession(session.EndedByUser)
	live.Status = session.LiveInProgress
	if _, err := settler.Settle(context.Background(), live); !errors.Is(err, ErrNotTerminated) {
		t.Fatalf("err = %v, want ErrNotTerminated", err)
	}
}

func TestNormalizeIsTotal(t *testing.T) {
	cases := []struct {
		in     session.EndReason
		status Status
		reason Reason
	}{
		{session.EndedByUser, StatusCompleted, ReasonCompletedNormally},
		{session.EndMaxDuration, StatusCompleted, ReasonCompletedNormally},
		{session.EndFreeTimeOver, StatusCompleted, ReasonFreeTimeEnded},
		{session.EndInsufficientCred, StatusFailed, ReasonInsufficientCred},
		{session.EndAbandoned, StatusFailed, ReasonDisconnected},
		{session.EndRejected, StatusFailed, ReasonRejected},
		{session.EndExpired, StatusFailed, ReasonExpired},
		{session.EndReason(""), StatusFailed, ReasonDisconnected},
		{session.EndReason("something-new"), StatusFailed, ReasonDisconnected},
	}
	for _, c := range cases {
		status, reason := Normalize(c.in)
		if status != c.status || reason != c.reason {
			t.Fatalf("Normalize(%q) = %s/%s, want %s/%s", c.in, status, reason, c.status, c.reason)
		}
	}
}

func TestSettleNegativeDurationClampsToZero(t *testing.T) {
	ctx := context.Background()
	sessions := session.NewMemoryRepo()
	live := terminatedSession(session.EndAbandoned)
	end := live.StartTime.Add(-time.Minute)
	live.EndTime = &end
	if err := sessions.CreateLive(ctx, live); err != nil {
		t.Fatalf("create live: %v", err)
	}

	rec, err := NewSettler(NewMemoryStore(), sessions).Settle(ctx, live)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if rec.DurationSeconds != 0 {
		t.Fatalf("duration = %d, want 0", rec.DurationSeconds)
	}
}
