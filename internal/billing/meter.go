// Package billing contains the periodic tasks that keep live sessions and
// wallets in lockstep: the paid metering scheduler, the free-trial ticker and
// the abandonment sweeper. All three share one discipline: select a bounded
// batch, take a per-session lease, process, settle or release. A failure
// while processing one session never touches the rest of the batch.
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
	"consult-platform/internal/wallet"

	"github.com/google/uuid"
)

// Debitor is the slice of the wallet service the meter needs.
type Debitor interface {
	Deduct(ctx context.Context, userID string, amount int64) (int64, error)
}

// MeterConfig carries the metering knobs.
type MeterConfig struct {
	BatchSize   int
	LeaseTTL    time.Duration
	MaxDuration time.Duration
}

func (c MeterConfig) withDefaults() MeterConfig {
	out := c
	if out.BatchSize <= 0 {
		out.BatchSize = 50
	}
	if out.LeaseTTL <= 0 {
		out.LeaseTTL = 2 * time.Minute
	}
	if out.MaxDuration <= 0 {
		out.MaxDuration = time.Hour
	}
	return out
}

// Meter debits in-progress paid sessions once per whole elapsed minute and
// terminates the ones that run out of funds or hit the duration ceiling.
type Meter struct {
	sessions session.Repository
	wallets  Debitor
	leases   lease.Lease
	notifier notify.Notifier
	settler  session.Settler
	cfg      MeterConfig
	log      *slog.Logger
	clock    func() time.Time
}

func NewMeter(sessions session.Repository, wallets Debitor, leases lease.Lease, notifier notify.Notifier, settler session.Settler, cfg MeterConfig, log *slog.Logger) *Meter {
	if log == nil {
		log = slog.Default()
	}
	return &Meter{
		sessions: sessions,
		wallets:  wallets,
		leases:   leases,
		notifier: notifier,
		settler:  settler,
		cfg:      cfg.withDefaults(),
		log:      log,
		clock:    time.Now,
	}
}

// Tick processes one bounded batch of billable sessions.
func (m *Meter) Tick(ctx context.Context) error {
	batch, err := m.sessions.ListBillable(ctx, m.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, s := range batch {
		m.processOne(ctx, s)
	}
	return nil
}

func (m *Meter) processOne(ctx context.Context, s session.LiveSession) {
	holder := uuid.NewString()

	ok, err := m.leases.Acquire(ctx, s.ID, holder, m.cfg.LeaseTTL)
	if err != nil {
		m.log.Error("lease acquire failed", "session_id", s.ID, "err", err)
		return
	}
	if !ok {
		// Another processor owns this session right now. Next tick retries.
		leaseContention.Inc()
		m.log.Debug("session leased elsewhere, skipping", "session_id", s.ID)
		return
	}

	// terminated means the session left the live table; its lease is left to
	// expire rather than released, since there is nothing left to protect.
	terminated := false
	defer func() {
		if p := recover(); p != nil {
			m.log.Error("session processing panicked", "session_id", s.ID, "panic", p)
		}
		if !terminated {
			if err := m.leases.Release(ctx, s.ID, holder); err != nil {
				m.log.Error("lease release failed", "session_id", s.ID, "err", err)
			}
		}
	}()

	// The batch snapshot was taken before the lease. Another instance may
	// have billed this session in between, so re-read it now that the lease
	// guarantees exclusivity and compute what is owed from fresh state.
	fresh, err := m.sessions.GetLive(ctx, s.ID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			m.log.Error("session re-read failed", "session_id", s.ID, "err", err)
		}
		return
	}
	if fresh.Status != session.LiveInProgress || fresh.Archived {
		return
	}
	s = fresh

	now := m.clock().UTC()
	elapsed := s.ElapsedMinutes(now)
	owed := elapsed - s.LastDeductedMinute

	if owed > 0 {
		credits := int64(owed) * s.CreditsPerMin

		balance, err := m.wallets.Deduct(ctx, s.ConsumerID, credits)
		switch {
		case errors.Is(err, wallet.ErrInsufficientFunds), errors.Is(err, wallet.ErrNotFound):
			terminated = true
			m.terminate(ctx, s, session.LiveFailed, session.EndInsufficientCred, now)
			return
		case err != nil:
			// Transient store failure: log, release via defer, retry next tick.
			m.log.Error("wallet debit failed", "session_id", s.ID, "err", err)
			return
		}

		s.LastDeductedMinute = elapsed
		s.TotalCreditsUsed += credits
		if err := m.sessions.RecordDeduction(ctx, s.ID, elapsed, s.TotalCreditsUsed, now); err != nil {
			m.log.Error("billing mark update failed", "session_id", s.ID, "err", err)
			return
		}
		debitsTotal.Inc()
		creditsDeducted.Add(float64(credits))

		m.deliver(ctx, s.ConsumerID, notify.Event{
			Type:      notify.EventBalanceUpdate,
			CallID:    s.CallID,
			SessionID: s.ID,
			Payload: map[string]string{
				"balance":        strconv.FormatInt(balance, 10),
				"minutes_billed": strconv.Itoa(elapsed),
			},
		})
		m.deliver(ctx, s.ProviderID, notify.Event{
			Type:      notify.EventSessionActivity,
			CallID:    s.CallID,
			SessionID: s.ID,
			Payload:   map[string]string{"minutes_billed": strconv.Itoa(elapsed)},
		})
	}

	if s.StartTime != nil && now.Sub(*s.StartTime) >= m.cfg.MaxDuration {
		terminated = true
		m.terminate(ctx, s, session.LiveEnded, session.EndMaxDuration, now)
		return
	}

	if err := m.sessions.TouchProcessed(ctx, s.ID, now); err != nil {
		m.log.Error("processed stamp failed", "session_id", s.ID, "err", err)
	}
}

// terminate ends, settles and notifies. Used by every scheduler-initiated
// termination path.
func (m *Meter) terminate(ctx context.Context, s session.LiveSession, status session.LiveStatus, reason session.EndReason, now time.Time) {
	ended, err := m.sessions.MarkEnded(ctx, s.ID, status, reason, now)
	if err != nil && !errors.Is(err, session.ErrConflict) {
		m.log.Error("mark ended failed", "session_id", s.ID, "err", err)
		return
	}
	// On conflict someone else already ended it; the returned record is the
	// terminal one and settlement is idempotent either way.

	if err := m.settler.Settle(ctx, ended); err != nil {
		m.log.Error("settlement failed", "session_id", s.ID, "err", err)
		return
	}
	terminationsTotal.WithLabelValues(string(reason)).Inc()
	m.log.Info("session terminated", "session_id", s.ID, "reason", string(reason))

	ev := notify.Event{
		Type:      notify.EventSessionAutoEnded,
		CallID:    s.CallID,
		SessionID: s.ID,
		Payload:   map[string]string{"reason": string(reason)},
	}
	m.deliver(ctx, s.ConsumerID, ev)
	m.deliver(ctx, s.ProviderID, ev)
}

func (m *Meter) deliver(ctx context.Context, identity string, ev notify.Event) {
	if err := m.notifier.Deliver(ctx, identity, ev); err != nil {
		m.log.Error("notification delivery failed", "identity", identity, "event", string(ev.Type), "err", err)
	}
}
