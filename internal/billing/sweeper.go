package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"consult-platform/internal/lease"
	"consult-platform/internal/notify"
	"consult-platform/internal/session"

	"github.com/google/uuid"
)

// Sweeper force-terminates sessions whose metering silently stopped: a
// crashed scheduler, an orphaned room, a client that never signaled end.
// It is the sole defense against leaked live sessions, deliberately coarse
// (minutes, not seconds).
type Sweeper struct {
	sessions session.Repository
	leases   lease.Lease
	notifier notify.Notifier
	settler  session.Settler

	staleAfter time.Duration
	batchSize  int
	leaseTTL   time.Duration
	log        *slog.Logger
	clock      func() time.Time
}

func NewSweeper(sessions session.Repository, leases lease.Lease, notifier notify.Notifier, settler session.Settler, staleAfter time.Duration, batchSize int, leaseTTL time.Duration, log *slog.Logger) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if leaseTTL <= 0 {
		leaseTTL = 2 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		sessions:   sessions,
		leases:     leases,
		notifier:   notifier,
		settler:    settler,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		leaseTTL:   leaseTTL,
		log:        log,
		clock:      time.Now,
	}
}

func (w *Sweeper) Tick(ctx context.Context) error {
	now := w.clock().UTC()
	stale, err := w.sessions.ListStale(ctx, now.Add(-w.staleAfter), w.batchSize)
	if err != nil {
		return err
	}
	for _, s := range stale {
		w.reap(ctx, s, now)
	}
	return nil
}

func (w *Sweeper) reap(ctx context.Context, s session.LiveSession, now time.Time) {
	// A stale session's lease has long expired, but another sweeper instance
	// may be reaping the same batch.
	holder := uuid.NewString()
	ok, err := w.leases.Acquire(ctx, s.ID, holder, w.leaseTTL)
	if err != nil {
		w.log.Error("lease acquire failed", "session_id", s.ID, "err", err)
		return
	}
	if !ok {
		leaseContention.Inc()
		return
	}

	// terminated sessions leave the live table, so their lease is left to
	// expire. A transient failure before that point releases the lease so the
	// next sweep can retry without waiting out the TTL.
	terminated := false
	defer func() {
		if p := recover(); p != nil {
			w.log.Error("sweep panicked", "session_id", s.ID, "panic", p)
		}
		if !terminated {
			if err := w.leases.Release(ctx, s.ID, holder); err != nil {
				w.log.Error("lease release failed", "session_id", s.ID, "err", err)
			}
		}
	}()

	ended, err := w.sessions.MarkEnded(ctx, s.ID, session.LiveFailed, session.EndAbandoned, now)
	if err != nil && !errors.Is(err, session.ErrConflict) {
		w.log.Error("mark ended failed", "session_id", s.ID, "err", err)
		return
	}
	terminated = true

	if err := w.settler.Settle(ctx, ended); err != nil {
		w.log.Error("settlement failed", "session_id", s.ID, "err", err)
		return
	}
	terminationsTotal.WithLabelValues(string(session.EndAbandoned)).Inc()
	w.log.Warn("abandoned session reaped",
		"session_id", s.ID, "last_processed", s.LastProcessed.Format(time.RFC3339))

	if err := w.notifier.Deliver(ctx, s.ConsumerID, notify.Event{
		Type:      notify.EventSessionAutoEnded,
		CallID:    s.CallID,
		SessionID: s.ID,
		Payload:   map[string]string{"reason": string(session.EndAbandoned)},
	}); err != nil {
		w.log.Error("notification delivery failed", "identity", s.ConsumerID, "err", err)
	}
}
