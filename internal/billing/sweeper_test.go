package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"consult-platform/internal/history"
	"consult-platform/internal/session"
)

func newSweeper(f *billingFixture, staleAfter time.Duration) *Sweeper {
	settler := history.NewSettler(f.records, f.sessions)
	w := NewSweeper(f.sessions, f.leases, f.notifier,
		session.SettlerFunc(func(ctx context.Context, live session.LiveSession) error {
			_, err := settler.Settle(ctx, live)
			return err
		}), staleAfter, 10, time.Minute, nil)
	w.clock = func() time.Time { return f.now }
	return w
}

func TestSweeperReapsStaleSessions(t *testing.T) {
	ctx := context.Background()
	f := newBillingFixture(t)
	w := newSweeper(f, 10*time.Minute)

	stale := f.startSession(t, "user-1", 1)
	stale.TotalCreditsUsed = 4
	stale.LastDeductedMinute = 4
	if err := f.sessions.RecordDeduction(ctx, stale.ID, 4, 4, f.now); err != nil {
		t.Fatalf("seed deduction: %v", err)
	}

	// Metering goes quiet for longer than the stale threshold.
	f.now = f.now.Add(11 * time.Minute)
	if err := w.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := f.sessions.GetLive(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	if got.Status != session.LiveFailed || got.EndReason != session.EndAbandoned {
		t.Fatalf("session = %s/%s, want failed/abandoned", got.Status, got.EndReason)
	}
	if !got.Archived {
		t.Fatal("reaped session not archived")
	}

	recs := f.records.All()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Status != history.StatusFailed || recs[0].Reason != history.ReasonDisconnected {
		t.Fatalf("record = %s/%s, want failed/participant_disconnected", recs[0].Status, recs[0].Reason)
	}
	if recs[0].TotalCredits != 4 {
		t.Fatalf("settled credits = %d, want 4", recs[0].TotalCredits)
	}

	if len(f.notifier.Pending("user-1")) == 0 {
		t.Fatal("consumer was not told the session was reaped")
	}
}

func TestSweeperLeavesFreshSessionsAlone(t *testing.T) {
	ctx := context.Background()
	f := newBillingFixture(t)
	w := newSweeper(f, 10*time.Minute)

	fresh := f.startSession(t, "user-1", 1)

	f.now = f.now.Add(5 * time.Minute)
	if err := f.sessions.TouchProcessed(ctx, fresh.ID, f.now); err != nil {
		t.Fatalf("touch: %v", err)
	}
	f.now = f.now.Add(5 * time.Minute)
	if err := w.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := f.sessions.GetLive(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	if got.Status != session.LiveInProgress {
		t.Fatalf("status = %s, want in_progress", got.Status)
	}
	if len(f.records.All()) != 0 {
		t.Fatal("fresh session was settled")
	}
}

// failingEnder simulates a store that cannot complete the termination write.
type failingEnder struct {
	session.Repository
}

func (failingEnder) MarkEnded(ctx context.Context, id string, status session.LiveStatus, reason session.EndReason, endedAt time.Time) (session.LiveSession, error) {
	return session.LiveSession{}, errors.New("store unavailable")
}

func TestSweeperReleasesLeaseOnTransientFailure(t *testing.T) {
	ctx := context.Background()
	f := newBillingFixture(t)

	stale := f.startSession(t, "user-1", 1)
	f.now = f.now.Add(11 * time.Minute)

	settler := history.NewSettler(f.records, f.sessions)
	w := NewSweeper(failingEnder{f.sessions}, f.leases, f.notifier,
		session.SettlerFunc(func(ctx context.Context, live session.LiveSession) error {
			_, err := settler.Settle(ctx, live)
			return err
		}), 10*time.Minute, 10, time.Minute, nil)
	w.clock = func() time.Time { return f.now }

	if err := w.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// The failed reap must not sit on the lease until the TTL runs out; a
	// retry can take it immediately.
	ok, err := f.leases.Acquire(ctx, stale.ID, "retry-holder", time.Minute)
	if err != nil || !ok {
		t.Fatalf("lease still held after failed reap: ok=%v err=%v", ok, err)
	}

	got, err := f.sessions.GetLive(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	if got.Status != session.LiveInProgress {
		t.Fatalf("status = %s, want in_progress", got.Status)
	}
	if len(f.records.All()) != 0 {
		t.Fatal("failed reap produced a settlement record")
	}
}

func TestSweeperSkipsLeasedSessions(t *testing.T) {
	ctx := context.Background()
	f := newBillingFixture(t)
	w := newSweeper(f, 10*time.Minute)

	stale := f.startSession(t, "user-1", 1)
	f.now = f.now.Add(11 * time.Minute)

	// A live processor still holds this session.
	if ok, err := f.leases.Acquire(ctx, stale.ID, "other-holder", time.Minute); err != nil || !ok {
		t.Fatalf("seed lease: ok=%v err=%v", ok, err)
	}

	if err := w.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := f.sessions.GetLive(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	if got.Status != session.LiveInProgress {
		t.Fatalf("status = %s, want in_progress while leased", got.Status)
	}
}
