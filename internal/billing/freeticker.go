package billing

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"consult-platform/internal/lease"
	"consult-platform/internal/notify"
	"consult-platform/internal/session"

	"github.com/google/uuid"
)

// TrialSink records permanent consumption of the free allowance.
type TrialSink interface {
	Consume(ctx context.Context, userID string) error
}

// FreeTicker owns sessions riding the one-time free allowance. It never
// debits: within the window it publishes a countdown, on exhaustion it marks
// the allowance consumed and ends the session.
//
// FreeSession is immutable and the selectors are disjoint, so this ticker and
// the paid Meter can never pick up the same row; the lease guards against a
// second FreeTicker instance, not against the Meter.
type FreeTicker struct {
	sessions session.Repository
	trials   TrialSink
	leases   lease.Lease
	notifier notify.Notifier
	settler  session.Settler

	batchSize int
	leaseTTL  time.Duration
	log       *slog.Logger
	clock     func() time.Time
}

func NewFreeTicker(sessions session.Repository, trials TrialSink, leases lease.Lease, notifier notify.Notifier, settler session.Settler, batchSize int, leaseTTL time.Duration, log *slog.Logger) *FreeTicker {
	if batchSize <= 0 {
		batchSize = 50
	}
	if leaseTTL <= 0 {
		leaseTTL = 2 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &FreeTicker{
		sessions:  sessions,
		trials:    trials,
		leases:    leases,
		notifier:  notifier,
		settler:   settler,
		batchSize: batchSize,
		leaseTTL:  leaseTTL,
		log:       log,
		clock:     time.Now,
	}
}

func (f *FreeTicker) Tick(ctx context.Context) error {
	batch, err := f.sessions.ListFree(ctx, f.batchSize)
	if err != nil {
		return err
	}
	for _, s := range batch {
		f.processOne(ctx, s)
	}
	return nil
}

func (f *FreeTicker) processOne(ctx context.Context, s session.LiveSession) {
	holder := uuid.NewString()

	ok, err := f.leases.Acquire(ctx, s.ID, holder, f.leaseTTL)
	if err != nil {
		f.log.Error("lease acquire failed", "session_id", s.ID, "err", err)
		return
	}
	if !ok {
		leaseContention.Inc()
		return
	}

	terminated := false
	defer func() {
		if p := recover(); p != nil {
			f.log.Error("free session processing panicked", "session_id", s.ID, "panic", p)
		}
		if !terminated {
			if err := f.leases.Release(ctx, s.ID, holder); err != nil {
				f.log.Error("lease release failed", "session_id", s.ID, "err", err)
			}
		}
	}()

	now := f.clock().UTC()

	if s.FreeEndTime == nil {
		// A free session without a deadline cannot be metered; end it rather
		// than letting it run forever.
		f.log.Error("free session missing deadline", "session_id", s.ID)
		terminated = true
		f.exhaust(ctx, s, now)
		return
	}

	remaining := s.FreeEndTime.Sub(now)
	if remaining <= 0 {
		terminated = true
		f.exhaust(ctx, s, now)
		return
	}

	ev := notify.Event{
		Type:      notify.EventFreeCountdown,
		CallID:    s.CallID,
		SessionID: s.ID,
		Payload:   map[string]string{"remaining_seconds": strconv.Itoa(int(remaining / time.Second))},
	}
	f.deliver(ctx, s.ConsumerID, ev)
	f.deliver(ctx, s.ProviderID, ev)

	if err := f.sessions.TouchProcessed(ctx, s.ID, now); err != nil {
		f.log.Error("processed stamp failed", "session_id", s.ID, "err", err)
	}
}

func (f *FreeTicker) exhaust(ctx context.Context, s session.LiveSession, now time.Time) {
	// Consume first: even if the session teardown fails mid-way, the
	// allowance must not survive for a second free ride. Consume is
	// idempotent so retries are harmless.
	if err := f.trials.Consume(ctx, s.ConsumerID); err != nil {
		f.log.Error("free allowance consume failed", "session_id", s.ID, "err", err)
		return
	}

	ended, err := f.sessions.MarkEnded(ctx, s.ID, session.LiveEnded, session.EndFreeTimeOver, now)
	if err != nil && !errors.Is(err, session.ErrConflict) {
		f.log.Error("mark ended failed", "session_id", s.ID, "err", err)
		return
	}

	if err := f.settler.Settle(ctx, ended); err != nil {
		f.log.Error("settlement failed", "session_id", s.ID, "err", err)
		return
	}
	terminationsTotal.WithLabelValues(string(session.EndFreeTimeOver)).Inc()
	f.log.Info("free session ended", "session_id", s.ID)

	ev := notify.Event{
		Type:      notify.EventSessionAutoEnded,
		CallID:    s.CallID,
		SessionID: s.ID,
		Payload:   map[string]string{"reason": string(session.EndFreeTimeOver)},
	}
	f.deliver(ctx, s.ConsumerID, ev)
	f.deliver(ctx, s.ProviderID, ev)
}

func (f *FreeTicker) deliver(ctx context.Context, identity string, ev notify.Event) {
	if err := f.notifier.Deliver(ctx, identity, ev); err != nil {
		f.log.Error("notification delivery failed", "identity", identity, "event", string(ev.Type), "err", err)
	}
}
