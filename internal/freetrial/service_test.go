package freetrial

import (
	"context"
	"testing"
	"time"
)

func TestAllowanceLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepo(), 5*time.Minute)

	ok, err := svc.Available(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("available = %v, %v, want true", ok, err)
	}

	if err := svc.Consume(ctx, "u1"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	// Consuming twice must stay a no-op.
	if err := svc.Consume(ctx, "u1"); err != nil {
		t.Fatalf("second consume: %v", err)
	}

	ok, err = svc.Available(ctx, "u1")
	if err != nil || ok {
		t.Fatalf("available after consume = %v, %v, want false", ok, err)
	}

	// Other users are unaffected.
	if ok, _ := svc.Available(ctx, "u2"); !ok {
		t.Fatal("unrelated user lost their allowance")
	}
}
