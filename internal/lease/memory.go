package lease

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	holder    string
	expiresAt time.Time
}

// MemoryLease is an in-process Lease for tests.
// It honors TTL expiry against an injectable clock.
type MemoryLease struct {
	mu      sync.Mutex
	entries map[string]memEntry

	// Clock is injectable for deterministic expiry tests.
	Clock func() time.Time
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{entries: map[string]memEntry{}, Clock: time.Now}
}

func (l *MemoryLease) Acquire(ctx context.Context, id, holder string, ttl time.Duration) (bool, error) {
	if id == "" || holder == "" || ttl <= 0 {
		return false, ErrInvalidArgument
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.Clock()
	if e, ok := l.entries[id]; ok && now.Before(e.expiresAt) {
		return false, nil
	}
	l.entries[id] = memEntry{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

func (l *MemoryLease) Release(ctx context.Context, id, holder string) error {
	if id == "" || holder == "" {
		return ErrInvalidArgument
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[id]; ok && e.holder == holder {
		delete(l.entries, id)
	}
	return nil
}

// Held reports whether id is currently leased. Test helper.
func (l *MemoryLease) Held(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	return ok && l.Clock().Before(e.expiresAt)
}
