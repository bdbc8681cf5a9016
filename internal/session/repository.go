package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("session: not found")
	// ErrConflict is returned by transitions attempted from a non-eligible
	// status. The accompanying record carries the current status.
	ErrConflict = errors.New("session: conflict")
)

// Repository is the authoritative store for requests and live sessions.
//
// Transition methods must be conditional updates: the status check and the
// write are one statement, so concurrently racing actors resolve at the
// datastore and exactly one of them wins.
type Repository interface {
	CreateRequest(ctx context.Context, req SessionRequest) error
	GetRequest(ctx context.Context, id string) (SessionRequest, error)

	// TransitionRequest moves a pending request to a terminal status.
	// If the request is no longer pending it returns the current record and
	// ErrConflict without mutating anything.
	TransitionRequest(ctx context.Context, id string, to RequestStatus, at time.Time) (SessionRequest, error)

	// ExpireOverdue flips pending requests past their deadline to expired
	// and returns the ones it flipped, up to limit.
	ExpireOverdue(ctx context.Context, now time.Time, limit int) ([]SessionRequest, error)

	CreateLive(ctx context.Context, s LiveSession) error
	GetLive(ctx context.Context, id string) (LiveSession, error)
	GetLiveByRequest(ctx context.Context, requestID string) (LiveSession, error)

	// ActiveForConsumer / ActiveForProvider report non-terminal, unarchived
	// sessions. Used by the acceptance guards.
	ActiveForConsumer(ctx context.Context, consumerID string) (LiveSession, bool, error)
	ActiveForProvider(ctx context.Context, providerID string) (bool, error)

	// MarkInProgress transitions a live session to in_progress, recording the
	// room and start time. Conditional on the session not being terminal.
	MarkInProgress(ctx context.Context, id, roomID string, startTime time.Time, freeEndTime *time.Time) (LiveSession, error)

	// MarkEnded transitions to a terminal status with an end reason.
	// Idempotent under race: an already-terminal session returns the current
	// record and ErrConflict.
	MarkEnded(ctx context.Context, id string, status LiveStatus, reason EndReason, endedAt time.Time) (LiveSession, error)

	// RecordDeduction advances the billing high-water mark. The mark only
	// moves forward: an update that would not raise it returns ErrConflict.
	RecordDeduction(ctx context.Context, id string, lastDeductedMinute int, totalCreditsUsed int64, processedAt time.Time) error

	// TouchProcessed stamps LastProcessed so the abandonment sweep knows the
	// session is still owned by a live scheduler.
	TouchProcessed(ctx context.Context, id string, at time.Time) error

	// ListBillable returns in-progress paid sessions, oldest-processed first.
	ListBillable(ctx context.Context, limit int) ([]LiveSession, error)
	// ListFree returns in-progress free-allowance sessions.
	ListFree(ctx context.Context, limit int) ([]LiveSession, error)
	// ListStale returns in-progress sessions not processed since olderThan.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]LiveSession, error)

	// Archive flags a terminated session as settled.
	Archive(ctx context.Context, id string) error
}
