package billing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"consult-platform/internal/freetrial"
	"consult-platform/internal/history"
	"consult-platform/internal/lease"
	"consult-platform/internal/notify"
	"consult-platform/internal/session"
	"consult-platform/internal/wallet"

	"github.com/google/uuid"
)

type billingFixture struct {
	sessions *session.MemoryRepo
	wallets  *wallet.Service
	leases   *lease.MemoryLease
	notifier *notify.MemoryNotifier
	records  *history.MemoryStore
	meter    *Meter
	now      time.Time
}

func newBillingFixture(t *testing.T) *billingFixture {
	t.Helper()
	f := &billingFixture{
		sessions: session.NewMemoryRepo(),
		wallets:  wallet.NewService(wallet.NewMemoryRepo()),
		leases:   lease.NewMemoryLease(),
		notifier: notify.NewMemoryNotifier(),
		records:  history.NewMemoryStore(),
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	settler := history.NewSettler(f.records, f.sessions)
	f.meter = NewMeter(f.sessions, f.wallets, f.leases, f.notifier,
		session.SettlerFunc(func(ctx context.Context, live session.LiveSession) error {
			_, err := settler.Settle(ctx, live)
			return err
		}),
		MeterConfig{BatchSize: 10, LeaseTTL: time.Minute, MaxDuration: time.Hour}, nil)
	f.meter.clock = func() time.Time { return f.now }
	return f
}

// startSession seeds an in-progress paid session started at f.now.
func (f *billingFixture) startSession(t *testing.T, consumerID string, rate int64) session.LiveSession {
	t.Helper()
	start := f.now
	s := session.LiveSession{
		ID:            uuid.NewString(),
		RequestID:     uuid.NewString(),
		CallID:        uuid.NewString(),
		RoomID:        "RM" + uuid.NewString(),
		ConsumerID:    consumerID,
		ProviderID:    "psychic-1",
		Kind:          session.KindCall,
		Status:        session.LiveInProgress,
		CreditsPerMin: rate,
		StartTime:     &start,
		LastProcessed: start,
		CreatedAt:     start,
		UpdatedAt:     start,
	}
	if err := f.sessions.CreateLive(context.Background(), s); err != nil {
		t.Fatalf("create live: %v", err)
	}
	return s
}

func (f *billingFixture) topup(t *testing.T, userID string, credits int64) {
	t.Helper()
	if _, err := f.wallets.Topup(context.Background(), userID, credits); err != nil {
		t.Fatalf("topup: %v", err)
	}
}

func TestMeterHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newBillingFixture(t)
	f.topup(t, "user-1", 10)
	s := f.startSession(t, "user-1", 1)

	// Three minutes elapse across several ticks.
	for i := 0; i < 6; i++ {
		f.now = f.now.Add(30 * time.Second)
		if err := f.meter.Tick(ctx); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	bal, err := f.wallets.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 7 {
		t.Fatalf("balance = %d, want 7", bal)
	}

	got, err := f.sessions.GetLive(ctx, s.ID)
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	if got.Status != session.LiveInProgress {
		t.Fatalf("status = %s, want in_progress", got.Status)
	}
	if got.TotalCreditsUsed != 3 {
		t.Fatalf("total used = %d, want 3", got.TotalCreditsUsed)
	}
	if got.LastDeductedMinute != 3 {
		t.Fatalf("last deducted minute = %d, want 3", got.LastDeductedMinute)
	}
}

func TestMeterMonotonicHighWaterMark(t *testing.T) {
	ctx := context.Background()
	f := newBillingFixture(t)
	f.topup(t, "user-1", 100)
	s := f.startSession(t, "user-1", 1)

	prev := 0
	for i := 0; i < 10; i++ {
		f.now = f.now.Add(45 * time.Second)
		if err := f.meter.Tick(ctx); err != nil {
			t.Fatalf("tick: %v", err)
		}
		got, err := f.sessions.GetLive(ctx, s.ID)
		if err != nil {
			t.Fatalf("get live: %v", err)
		}
		if got.LastDeductedMinute < prev {
			t.Fatalf("high-water mark went backwards: %d -> %d", prev, got.LastDeductedMinute)
		}
		elapsed := int(f.now.Sub(*s.StartTime) / time.Minute)
		if got.LastDeductedMinute != elapsed {
			t.Fatalf("mark = %d, elapsed = %d", got.LastDeductedMinute, elapsed)
		}
		prev = got.LastDeductedMinute
	}
}

func TestMeterExhaustion(t *testing.T) {
	ctx := context.Background()
	f := newBillingFixture(t)
	f.topup(t, "user-1", 2)
	s := f.startSession(t, "user-1", 1)

	// Minute 1: 2 -> 1.
	f.now = f.now.Add(time.Minute)
	if err := f.meter.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if bal, _ := f.wallets.Balance(ctx, "user-1"); bal != 1 {
		t.Fatalf("balance after minute 1 = %d, want 1", bal)
	}

	// Minute 2: 1 -> 0.
	f.now = f.now.Add(time.Minute)
	if err := f.meter.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if bal, _ := f.wallets.Balance(ctx, "user-1"); bal != 0 {
		t.Fatalf("balance after minute 2 = %d, want 0", bal)
	}

	// Minute 3: debit fails, session terminates.
	f.now = f.now.Add(time.Minute)
	if err := f.meter.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := f.sessions.GetLive(ctx, s.ID)
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	if got.Status != session.LiveFailed || got.EndReason != session.EndInsufficientCred {
		t.Fatalf("session = %s/%s, want failed/insufficient_credits", got.Status, got.EndReason)
	}
	if !got.Archived {
		t.Fatal("terminated session not archived")
	}

	recs := f.records.All()
	if len(recs) != 1 {
		t.Fatalf("history records = %d, want 1", len(recs))
	}
	if recs[0].TotalCredits != 2 {
		t.Fatalf("settled credits = %d, want 2", recs[0].TotalCredits)
	}
	if recs[0].Status != history.StatusFailed || recs[0].Reason != history.ReasonInsufficientCred {
		t.Fatalf("record = %s/%s", recs[0].Status, recs[0].Reason)
	}

	// Both parties got the auto-ended push.
	if len(f.notifier.Pending("user-1")) == 0 || len(f.notifier.Pending("psychic-1")) == 0 {
		t.Fatal("termination notifications missing")
	}
}

func TestMeterMaxDurationCeiling(t *testing.T) {
	ctx := context.Background()
	f := newBillingFixture(t)
	f.topup(t, "user-1", 1000)
	s := f.startSession(t, "user-1", 1)

	f.now = f.now.Add(time.Hour)
	if err := f.meter.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := f.sessions.GetLive(ctx, s.ID)
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	if got.Status != session.LiveEnded || got.EndReason != session.EndMaxDuration {
		t.Fatalf("session = %s/%s, want ended/max_duration_reached", got.Status, got.EndReason)
	}
	// The final hour was still billed before the ceiling ended the session.
	if bal, _ := f.wallets.Balance(ctx, "user-1"); bal != 1000-60 {
		t.Fatalf("balance = %d, want 940", bal)
	}
	recs := f.records.All()
	if len(recs) != 1 || recs[0].Status != history.StatusCompleted {
		t.Fatalf("history = %+v, want one completed record", recs)
	}
}

// slowDebitor holds a debit open long enough for a competing processor to
// collide on the lease.
type slowDebitor struct {
	inner Debitor
	delay time.Duration
	calls int64
}

func (d *slowDebitor) Deduct(ctx context.Context, userID string, amount int64) (int64, error) {
	atomic.AddInt64(&d.calls, 1)
	time.Sleep(d.delay)
	return d.inner.Deduct(ctx, userID, amount)
}

func TestMeterAtMostOneProcessorPerSession(t *testing.T) {
	f := newBillingFixture(t)
	f.topup(t, "user-1", 100)
	s := f.startSession(t, "user-1", 1)
	f.now = f.now.Add(time.Minute)

	slow := &slowDebitor{inner: f.wallets, delay: 50 * time.Millisecond}
	f.meter.wallets = slow

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.meter.processOne(context.Background(), s)
		}()
	}
	wg.Wait()

	// The loser observed lease contention and skipped: one debit, one minute.
	if got := atomic.LoadInt64(&slow.calls); got != 1 {
		t.Fatalf("debit calls = %d, want 1", got)
	}
	bal, _ := f.wallets.Balance(context.Background(), "user-1")
	if bal != 99 {
		t.Fatalf("balance = %d, want 99", bal)
	}
}

func TestStaleBatchSnapshotBillsOnce(t *testing.T) {
	ctx := context.Background()
	f := newBillingFixture(t)
	f.topup(t, "user-1", 100)
	s := f.startSession(t, "user-1", 1)

	// A second scheduler instance over the same stores.
	settler := history.NewSettler(f.records, f.sessions)
	second := NewMeter(f.sessions, f.wallets, f.leases, f.notifier,
		session.SettlerFunc(func(ctx context.Context, live session.LiveSession) error {
			_, err := settler.Settle(ctx, live)
			return err
		}),
		MeterConfig{BatchSize: 10, LeaseTTL: time.Minute, MaxDuration: time.Hour}, nil)
	second.clock = func() time.Time { return f.now }

	// Both instances listed the session before either took the lease, then
	// process it one after the other with no lease overlap. Only the first
	// may charge the elapsed minute; the second must see the fresh
	// high-water mark under its own lease and owe nothing.
	f.now = f.now.Add(time.Minute)
	snapshot := s
	f.meter.processOne(ctx, snapshot)
	second.processOne(ctx, snapshot)

	bal, err := f.wallets.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 99 {
		t.Fatalf("one elapsed minute cost %d credits: balance = %d, want 99", 100-bal, bal)
	}
	live, err := f.sessions.GetLive(ctx, s.ID)
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	if live.LastDeductedMinute != 1 || live.TotalCreditsUsed != 1 {
		t.Fatalf("mark = %d credits = %d, want 1/1", live.LastDeductedMinute, live.TotalCreditsUsed)
	}
}

func TestRecordDeductionNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	f := newBillingFixture(t)
	s := f.startSession(t, "user-1", 1)

	if err := f.sessions.RecordDeduction(ctx, s.ID, 3, 3, f.now); err != nil {
		t.Fatalf("record: %v", err)
	}
	for _, stale := range []int{3, 2} {
		if err := f.sessions.RecordDeduction(ctx, s.ID, stale, int64(stale), f.now); !errors.Is(err, session.ErrConflict) {
			t.Fatalf("record %d after 3: err = %v, want conflict", stale, err)
		}
	}
	live, err := f.sessions.GetLive(ctx, s.ID)
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	if live.LastDeductedMinute != 3 || live.TotalCreditsUsed != 3 {
		t.Fatalf("mark = %d credits = %d, want 3/3", live.LastDeductedMinute, live.TotalCreditsUsed)
	}
}

func TestMeterSkipsChargeWithinSameMinute(t *testing.T) {
	ctx := context.Background()
	f := newBillingFixture(t)
	f.topup(t, "user-1", 10)
	f.startSession(t, "user-1", 1)

	// 59 seconds in: no whole minute elapsed, nothing owed.
	f.now = f.now.Add(59 * time.Second)
	if err := f.meter.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if bal, _ := f.wallets.Balance(ctx, "user-1"); bal != 10 {
		t.Fatalf("balance = %d, want 10", bal)
	}
}

func TestFreeSessionsAreInvisibleToMeter(t *testing.T) {
	ctx := context.Background()
	f := newBillingFixture(t)
	s := f.startSession(t, "user-1", 1)

	// Flip to free via a fresh record; selectors must keep it away from the
	// paid meter entirely.
	free := s
	free.ID = uuid.NewString()
	free.RequestID = uuid.NewString()
	free.FreeSession = true
	end := f.now.Add(3 * time.Minute)
	free.FreeEndTime = &end
	if err := f.sessions.CreateLive(ctx, free); err != nil {
		t.Fatalf("create live: %v", err)
	}

	billable, err := f.sessions.ListBillable(ctx, 50)
	if err != nil {
		t.Fatalf("list billable: %v", err)
	}
	for _, b := range billable {
		if b.ID == free.ID {
			t.Fatal("free session surfaced in the paid batch")
		}
	}
	freeBatch, err := f.sessions.ListFree(ctx, 50)
	if err != nil {
		t.Fatalf("list free: %v", err)
	}
	if len(freeBatch) != 1 || freeBatch[0].ID != free.ID {
		t.Fatalf("free batch = %+v", freeBatch)
	}
}

func TestFreeTickerCountdownAndExhaustion(t *testing.T) {
	ctx := context.Background()
	f := newBillingFixture(t)
	trials := freetrial.NewService(freetrial.NewMemoryRepo(), 3*time.Minute)
	settler := history.NewSettler(f.records, f.sessions)
	ticker := NewFreeTicker(f.sessions, trials, f.leases, f.notifier,
		session.SettlerFunc(func(ctx context.Context, live session.LiveSession) error {
			_, err := settler.Settle(ctx, live)
			return err
		}), 10, time.Minute, nil)
	ticker.clock = func() time.Time { return f.now }

	s := f.startSession(t, "user-1", 1)
	// Re-create as free.
	free := s
	free.ID = uuid.NewString()
	free.FreeSession = true
	end := f.now.Add(3 * time.Minute)
	free.FreeEndTime = &end
	if err := f.sessions.CreateLive(ctx, free); err != nil {
		t.Fatalf("create live: %v", err)
	}

	// Inside the window: countdown only, no termination.
	f.now = f.now.Add(2 * time.Minute)
	if err := ticker.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got, _ := f.sessions.GetLive(ctx, free.ID); got.Status != session.LiveInProgress {
		t.Fatalf("status = %s, want in_progress", got.Status)
	}
	var sawCountdown bool
	for _, p := range f.notifier.Pending("user-1") {
		if p.Event.Type == notify.EventFreeCountdown {
			sawCountdown = true
		}
	}
	if !sawCountdown {
		t.Fatal("no countdown emitted inside the free window")
	}

	// Past the window: allowance consumed, session settled.
	f.now = f.now.Add(2 * time.Minute)
	if err := ticker.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if ok, _ := trials.Available(ctx, "user-1"); ok {
		t.Fatal("allowance survived exhaustion")
	}
	got, err := f.sessions.GetLive(ctx, free.ID)
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	if got.Status != session.LiveEnded || got.EndReason != session.EndFreeTimeOver {
		t.Fatalf("session = %s/%s, want ended/free_time_ended", got.Status, got.EndReason)
	}
	recs := f.records.All()
	if len(recs) != 1 || recs[0].Reason != history.ReasonFreeTimeEnded {
		t.Fatalf("records = %+v, want one free_time_ended record", recs)
	}

	// Ticks after exhaustion find nothing to do.
	if err := ticker.Tick(ctx); err != nil {
		t.Fatalf("post-exhaustion tick: %v", err)
	}
	if len(f.records.All()) != 1 {
		t.Fatal("exhaustion settled twice")
	}
}
