package notify

import (
	"context"
	"testing"
)

func TestUnreachableIdentityGetsDurableQueue(t *testing.T) {
	ctx := context.Background()
	n := NewMemoryNotifier()

	ev := Event{Type: EventSessionAccepted, SessionID: "s1"}
	if err := n.Deliver(ctx, "psychic-1", ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if got := len(n.Events("psychic-1")); got != 0 {
		t.Fatalf("delivered = %d, want 0", got)
	}
	pending := n.Pending("psychic-1")
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].Event.Type != EventSessionAccepted {
		t.Fatalf("pending type = %s", pending[0].Event.Type)
	}
}

func TestReachableIdentityGetsLiveDelivery(t *testing.T) {
	ctx := context.Background()
	n := NewMemoryNotifier()
	n.SetReachable("u1", true)

	if err := n.Deliver(ctx, "u1", Event{Type: EventBalanceUpdate}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got := len(n.Events("u1")); got != 1 {
		t.Fatalf("delivered = %d, want 1", got)
	}
	if got := len(n.Pending("u1")); got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
}
