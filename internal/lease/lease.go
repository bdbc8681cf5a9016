// Package lease provides record-level mutual exclusion for the session
// schedulers. A lease is held by at most one holder at a time, globally,
// and expires on its own if the holder crashes before releasing it.
package lease

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidArgument = errors.New("lease: invalid argument")

// Lease is the acquire/release contract the schedulers run on.
//
// Acquire returns (false, nil) when another holder currently owns the id;
// contention is an expected outcome, not an error. Release is a no-op when
// the caller no longer holds the lease (expired or taken over).
type Lease interface {
	Acquire(ctx context.Context, id, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, id, holder string) error
}
