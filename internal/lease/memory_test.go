package lease

import (
	"context"
	"testing"
	"time"
)

func TestAcquireExcludesSecondHolder(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLease()

	ok, err := l.Acquire(ctx, "s1", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	ok, err = l.Acquire(ctx, "s1", "b", time.Minute)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second holder acquired a held lease")
	}
}

func TestReleaseByNonHolderIsNoop(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLease()

	if ok, _ := l.Acquire(ctx, "s1", "a", time.Minute); !ok {
		t.Fatal("acquire failed")
	}
	if err := l.Release(ctx, "s1", "b"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !l.Held("s1") {
		t.Fatal("non-holder release dropped the lease")
	}
	if err := l.Release(ctx, "s1", "a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if l.Held("s1") {
		t.Fatal("holder release did not drop the lease")
	}
}

func TestExpiredLeaseIsReacquirable(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLease()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.Clock = func() time.Time { return now }

	if ok, _ := l.Acquire(ctx, "s1", "a", time.Minute); !ok {
		t.Fatal("acquire failed")
	}

	now = now.Add(61 * time.Second)
	ok, err := l.Acquire(ctx, "s1", "b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after expiry = %v, %v", ok, err)
	}
}
