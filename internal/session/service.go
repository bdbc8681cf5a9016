package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"consult-platform/internal/notify"
	"consult-platform/internal/video"
	"consult-platform/internal/wallet"
	"consult-platform/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrProviderBusy        = errors.New("session: provider busy")
	ErrInsufficientCredits = errors.New("session: insufficient credits")
	ErrInvalidArgument     = errors.New("session: invalid argument")
)

// BalanceSource reads a consumer's credit balance. Satisfied by
// *wallet.Service.
type BalanceSource interface {
	Balance(ctx context.Context, userID string) (int64, error)
}

// TrialGate answers whether a consumer's one-time free allowance is still
// unused. Satisfied by *freetrial.Service.
type TrialGate interface {
	Available(ctx context.Context, userID string) (bool, error)
}

// RateSource resolves a provider's per-minute rate. Rate management lives in
// the provider-profile layer outside this core.
type RateSource interface {
	RatePerMinute(ctx context.Context, providerID string) (int64, error)
}

// StaticRates is a fixed-rate RateSource for tests and development.
type StaticRates map[string]int64

func (r StaticRates) RatePerMinute(ctx context.Context, providerID string) (int64, error) {
	if rate, ok := r[providerID]; ok {
		return rate, nil
	}
	return 0, ErrNotFound
}

// Settler archives a terminated live session into history.
// *history.Settler is wired through SettlerFunc.
type Settler interface {
	Settle(ctx context.Context, live LiveSession) error
}

// SettlerFunc adapts a function to the Settler interface.
type SettlerFunc func(ctx context.Context, live LiveSession) error

func (f SettlerFunc) Settle(ctx context.Context, live LiveSession) error { return f(ctx, live) }

// Deps are the collaborators the protocol acts through.
type Deps struct {
	Wallets  BalanceSource
	Trials   TrialGate
	Rates    RateSource
	Rooms    video.Provider
	Notifier notify.Notifier
	Settler  Settler

	// RequestTTL is the acceptance window; 30s unless configured otherwise.
	RequestTTL time.Duration
	// FreeWindow is the length of a free-allowance session.
	FreeWindow time.Duration
}

// Service runs the request/acceptance protocol.
//
// Every request transition is a conditional update keyed on status=pending,
// so two racing actors (two acceptance attempts, accept vs. expiry sweep)
// resolve to exactly one winner at the datastore.
type Service struct {
	repo  Repository
	deps  Deps
	clock func() time.Time
}

func NewService(repo Repository, deps Deps) *Service {
	if deps.RequestTTL <= 0 {
		deps.RequestTTL = 30 * time.Second
	}
	if deps.FreeWindow <= 0 {
		deps.FreeWindow = 3 * time.Minute
	}
	return &Service{repo: repo, deps: deps, clock: time.Now}
}

// Request creates a pending invitation plus its provisional live session and
// notifies the provider. Refusals (provider busy, no credit) are persisted as
// terminal requests so the invitation trail stays complete.
func (s *Service) Request(ctx context.Context, consumerID, providerID string, kind Kind) (SessionRequest, error) {
	if consumerID == "" || providerID == "" || consumerID == providerID {
		return SessionRequest{}, ErrInvalidArgument
	}
	if kind != KindChat && kind != KindCall {
		return SessionRequest{}, ErrInvalidArgument
	}

	now := s.clock().UTC()

	if _, active, err := s.repo.ActiveForConsumer(ctx, consumerID); err != nil {
		return SessionRequest{}, err
	} else if active {
		return SessionRequest{}, fmt.Errorf("%w: consumer already in a session", ErrConflict)
	}

	rate, err := s.deps.Rates.RatePerMinute(ctx, providerID)
	if err != nil {
		return SessionRequest{}, err
	}

	balance, err := s.deps.Wallets.Balance(ctx, consumerID)
	if err != nil && !isNotFound(err) {
		return SessionRequest{}, err
	}

	req := SessionRequest{
		ID:               uuid.NewString(),
		CallID:           uuid.NewString(),
		ConsumerID:       consumerID,
		ProviderID:       providerID,
		Kind:             kind,
		Status:           RequestPending,
		CreditsPerMin:    rate,
		CreditsAtRequest: balance,
		RequestedAt:      now,
		ExpiresAt:        now.Add(s.deps.RequestTTL),
	}

	if busy, err := s.repo.ActiveForProvider(ctx, providerID); err != nil {
		return SessionRequest{}, err
	} else if busy {
		req.Status = RequestBusy
		req.RespondedAt = &now
		if err := s.repo.CreateRequest(ctx, req); err != nil {
			return SessionRequest{}, err
		}
		return req, ErrProviderBusy
	}

	// The first billing interval must be covered unless the one-time free
	// allowance still is available.
	if balance < rate {
		free, err := s.deps.Trials.Available(ctx, consumerID)
		if err != nil {
			return SessionRequest{}, err
		}
		if !free {
			req.Status = RequestNoCredit
			req.RespondedAt = &now
			if err := s.repo.CreateRequest(ctx, req); err != nil {
				return SessionRequest{}, err
			}
			return req, ErrInsufficientCredits
		}
		req.FreeSession = true
	}

	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return SessionRequest{}, err
	}

	live := LiveSession{
		ID:            uuid.NewString(),
		RequestID:     req.ID,
		CallID:        req.CallID,
		ConsumerID:    consumerID,
		ProviderID:    providerID,
		Kind:          kind,
		Status:        LiveRinging,
		CreditsPerMin: rate,
		FreeSession:   req.FreeSession,
		LastProcessed: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateLive(ctx, live); err != nil {
		return SessionRequest{}, err
	}

	s.deliver(ctx, providerID, notify.Event{
		Type:      notify.EventIncomingSession,
		CallID:    req.CallID,
		SessionID: live.ID,
		Payload: map[string]string{
			"consumer_id":     consumerID,
			"kind":            string(kind),
			"credits_per_min": strconv.FormatInt(rate, 10),
			"free_session":    strconv.FormatBool(req.FreeSession),
			"expires_at":      req.ExpiresAt.Format(time.RFC3339),
		},
	})

	return req, nil
}

// Accept moves a pending request to accepted and starts the live session.
//
// Room and token creation happen before any state mutation: a provider
// failure aborts the attempt and leaves the request pending and retryable.
// Re-accepting an already-accepted request returns the existing live session.
func (s *Service) Accept(ctx context.Context, requestID, providerID string) (LiveSession, Credentials, error) {
	if requestID == "" || providerID == "" {
		return LiveSession{}, Credentials{}, ErrInvalidArgument
	}

	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return LiveSession{}, Credentials{}, err
	}
	if req.ProviderID != providerID {
		return LiveSession{}, Credentials{}, ErrNotFound
	}

	if req.Status == RequestAccepted {
		return s.reacceptExisting(ctx, req)
	}
	if req.Status != RequestPending {
		return LiveSession{}, Credentials{}, fmt.Errorf("%w: request is %s", ErrConflict, req.Status)
	}

	now := s.clock().UTC()

	// Acceptance guards. The consumer's own provisional session for this
	// request does not count as a competing session.
	if active, ok, err := s.repo.ActiveForConsumer(ctx, req.ConsumerID); err != nil {
		return LiveSession{}, Credentials{}, err
	} else if ok && active.RequestID != req.ID {
		return LiveSession{}, Credentials{}, fmt.Errorf("%w: consumer already in a session", ErrConflict)
	}
	if busy, err := s.repo.ActiveForProvider(ctx, providerID); err != nil {
		return LiveSession{}, Credentials{}, err
	} else if busy {
		return LiveSession{}, Credentials{}, ErrProviderBusy
	}
	if req.FreeSession {
		free, err := s.deps.Trials.Available(ctx, req.ConsumerID)
		if err != nil {
			return LiveSession{}, Credentials{}, err
		}
		if !free {
			return LiveSession{}, Credentials{}, ErrInsufficientCredits
		}
	} else {
		balance, err := s.deps.Wallets.Balance(ctx, req.ConsumerID)
		if err != nil && !isNotFound(err) {
			return LiveSession{}, Credentials{}, err
		}
		if balance < req.CreditsPerMin {
			return LiveSession{}, Credentials{}, ErrInsufficientCredits
		}
	}

	// External provider first: nothing is mutated until the room and both
	// tokens exist.
	room, err := s.deps.Rooms.CreateRoom(ctx, "session-"+req.CallID)
	if err != nil {
		return LiveSession{}, Credentials{}, err
	}
	consumerToken, err := s.deps.Rooms.GenerateToken(ctx, req.ConsumerID, room.ID)
	if err != nil {
		return LiveSession{}, Credentials{}, err
	}
	providerToken, err := s.deps.Rooms.GenerateToken(ctx, req.ProviderID, room.ID)
	if err != nil {
		return LiveSession{}, Credentials{}, err
	}

	if _, err := s.repo.TransitionRequest(ctx, req.ID, RequestAccepted, now); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a race. If the winner was another acceptance, this call
			// is a duplicate and returns the winner's session.
			current, gerr := s.repo.GetRequest(ctx, req.ID)
			if gerr != nil {
				return LiveSession{}, Credentials{}, gerr
			}
			if current.Status == RequestAccepted {
				return s.reacceptExisting(ctx, current)
			}
			return LiveSession{}, Credentials{}, fmt.Errorf("%w: request is %s", ErrConflict, current.Status)
		}
		return LiveSession{}, Credentials{}, err
	}

	var freeEnd *time.Time
	if req.FreeSession {
		t := now.Add(s.deps.FreeWindow)
		freeEnd = &t
	}

	live, err := s.repo.GetLiveByRequest(ctx, req.ID)
	if errors.Is(err, ErrNotFound) {
		// Provisional session is missing (e.g. a crash between the two
		// creates). Recreate rather than fail the acceptance.
		live = LiveSession{
			ID:            uuid.NewString(),
			RequestID:     req.ID,
			CallID:        req.CallID,
			ConsumerID:    req.ConsumerID,
			ProviderID:    req.ProviderID,
			Kind:          req.Kind,
			Status:        LiveRinging,
			CreditsPerMin: req.CreditsPerMin,
			FreeSession:   req.FreeSession,
			LastProcessed: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.repo.CreateLive(ctx, live); err != nil {
			return LiveSession{}, Credentials{}, err
		}
	} else if err != nil {
		return LiveSession{}, Credentials{}, err
	}

	live, err = s.repo.MarkInProgress(ctx, live.ID, room.ID, now, freeEnd)
	if err != nil && !errors.Is(err, ErrConflict) {
		return LiveSession{}, Credentials{}, err
	}

	creds := Credentials{RoomID: room.ID, ConsumerToken: consumerToken, ProviderToken: providerToken}

	s.deliver(ctx, req.ConsumerID, notify.Event{
		Type:      notify.EventSessionAccepted,
		CallID:    req.CallID,
		SessionID: live.ID,
		Payload:   map[string]string{"room_id": room.ID, "token": consumerToken},
	})
	s.deliver(ctx, req.ProviderID, notify.Event{
		Type:      notify.EventSessionAccepted,
		CallID:    req.CallID,
		SessionID: live.ID,
		Payload:   map[string]string{"room_id": room.ID, "token": providerToken},
	})

	return live, creds, nil
}

// reacceptExisting serves duplicate acceptance attempts: same session, fresh
// tokens, no new state.
func (s *Service) reacceptExisting(ctx context.Context, req SessionRequest) (LiveSession, Credentials, error) {
	live, err := s.repo.GetLiveByRequest(ctx, req.ID)
	if err != nil {
		return LiveSession{}, Credentials{}, err
	}
	consumerToken, err := s.deps.Rooms.GenerateToken(ctx, req.ConsumerID, live.RoomID)
	if err != nil {
		return LiveSession{}, Credentials{}, err
	}
	providerToken, err := s.deps.Rooms.GenerateToken(ctx, req.ProviderID, live.RoomID)
	if err != nil {
		return LiveSession{}, Credentials{}, err
	}
	return live, Credentials{RoomID: live.RoomID, ConsumerToken: consumerToken, ProviderToken: providerToken}, nil
}

// Reject declines a pending request and settles its provisional session.
func (s *Service) Reject(ctx context.Context, requestID, providerID string) (SessionRequest, error) {
	return s.decline(ctx, requestID, providerID, true)
}

// Cancel withdraws a pending request on behalf of the consumer.
func (s *Service) Cancel(ctx context.Context, requestID, consumerID string) (SessionRequest, error) {
	return s.decline(ctx, requestID, consumerID, false)
}

func (s *Service) decline(ctx context.Context, requestID, actorID string, byProvider bool) (SessionRequest, error) {
	if requestID == "" || actorID == "" {
		return SessionRequest{}, ErrInvalidArgument
	}
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return SessionRequest{}, err
	}

	to := RequestCancelled
	counterpart := req.ProviderID
	if byProvider {
		to = RequestRejected
		counterpart = req.ConsumerID
	}
	if byProvider && req.ProviderID != actorID {
		return SessionRequest{}, ErrNotFound
	}
	if !byProvider && req.ConsumerID != actorID {
		return SessionRequest{}, ErrNotFound
	}

	now := s.clock().UTC()
	updated, err := s.repo.TransitionRequest(ctx, requestID, to, now)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return updated, fmt.Errorf("%w: request is %s", ErrConflict, updated.Status)
		}
		return SessionRequest{}, err
	}

	s.closeProvisional(ctx, req.ID, EndRejected, now)

	s.deliver(ctx, counterpart, notify.Event{
		Type:    notify.EventSessionRejected,
		CallID:  req.CallID,
		Payload: map[string]string{"status": string(to)},
	})
	return updated, nil
}

// End honors either party's explicit end signal, settles and notifies the
// counterpart. Ending an already-terminated session is a no-op returning the
// current record.
func (s *Service) End(ctx context.Context, sessionID, actorID string) (LiveSession, error) {
	if sessionID == "" || actorID == "" {
		return LiveSession{}, ErrInvalidArgument
	}
	live, err := s.repo.GetLive(ctx, sessionID)
	if err != nil {
		return LiveSession{}, err
	}
	if actorID != live.ConsumerID && actorID != live.ProviderID {
		return LiveSession{}, ErrNotFound
	}

	now := s.clock().UTC()
	ended, err := s.repo.MarkEnded(ctx, sessionID, LiveEnded, EndedByUser, now)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return ended, nil
		}
		return LiveSession{}, err
	}

	if err := s.deps.Settler.Settle(ctx, ended); err != nil {
		return LiveSession{}, fmt.Errorf("session: settle %s: %w", sessionID, err)
	}

	counterpart := live.ProviderID
	if actorID == live.ProviderID {
		counterpart = live.ConsumerID
	}
	s.deliver(ctx, counterpart, notify.Event{
		Type:      notify.EventSessionEnded,
		CallID:    live.CallID,
		SessionID: live.ID,
		Payload:   map[string]string{"reason": string(EndedByUser)},
	})
	return ended, nil
}

// ExpireSweep proactively times out overdue pending requests. Lazy expiry on
// read covers requests that are acted upon; this pass covers the ones nobody
// touches again.
func (s *Service) ExpireSweep(ctx context.Context, limit int) (int, error) {
	now := s.clock().UTC()
	expired, err := s.repo.ExpireOverdue(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	for _, req := range expired {
		s.closeProvisional(ctx, req.ID, EndExpired, now)
		s.deliver(ctx, req.ConsumerID, notify.Event{
			Type:    notify.EventSessionRejected,
			CallID:  req.CallID,
			Payload: map[string]string{"status": string(RequestExpired)},
		})
	}
	return len(expired), nil
}

// getRequest reads a request, enforcing the TTL lazily: an overdue pending
// request is flipped to expired before anyone acts on it.
func (s *Service) getRequest(ctx context.Context, id string) (SessionRequest, error) {
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return SessionRequest{}, err
	}
	now := s.clock().UTC()
	if req.Status == RequestPending && !now.Before(req.ExpiresAt) {
		updated, terr := s.repo.TransitionRequest(ctx, id, RequestExpired, now)
		if terr != nil && !errors.Is(terr, ErrConflict) {
			return SessionRequest{}, terr
		}
		s.closeProvisional(ctx, id, EndExpired, now)
		return updated, nil
	}
	return req, nil
}

// closeProvisional terminates and settles the never-started live session
// attached to a request, if one exists. Best-effort: a missing or already
// terminal session is fine.
func (s *Service) closeProvisional(ctx context.Context, requestID string, reason EndReason, now time.Time) {
	live, err := s.repo.GetLiveByRequest(ctx, requestID)
	if err != nil {
		return
	}
	ended, err := s.repo.MarkEnded(ctx, live.ID, LiveRejected, reason, now)
	if err != nil {
		return
	}
	if err := s.deps.Settler.Settle(ctx, ended); err != nil {
		logger.From(ctx).Error("settle provisional session failed", "session_id", live.ID, "err", err)
	}
}

// deliver is best-effort: the notifier durably queues for unreachable
// identities, and even a hard failure must not fail the operation.
func (s *Service) deliver(ctx context.Context, identity string, ev notify.Event) {
	if err := s.deps.Notifier.Deliver(ctx, identity, ev); err != nil {
		logger.From(ctx).Error("notification delivery failed",
			"identity", identity, "event", string(ev.Type), "err", err)
	}
}

// isNotFound treats a missing wallet as a zero balance rather than an error;
// a consumer who never topped up can still use their free allowance.
func isNotFound(err error) bool {
	return errors.Is(err, wallet.ErrNotFound)
}
