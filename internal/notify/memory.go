package notify

import (
	"context"
	"sync"
	"time"
)

// MemoryNotifier is an in-process Notifier for tests. Reachable identities
// receive events in Delivered; everyone else lands in the pending queue.
type MemoryNotifier struct {
	mu        sync.Mutex
	reachable map[string]bool
	Delivered map[string][]Event
	pending   map[string][]PendingNotification
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{
		reachable: map[string]bool{},
		Delivered: map[string][]Event{},
		pending:   map[string][]PendingNotification{},
	}
}

// SetReachable toggles presence for an identity.
func (n *MemoryNotifier) SetReachable(identity string, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reachable[identity] = ok
}

func (n *MemoryNotifier) IsReachable(ctx context.Context, identity string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reachable[identity], nil
}

func (n *MemoryNotifier) Deliver(ctx context.Context, identity string, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reachable[identity] {
		n.Delivered[identity] = append(n.Delivered[identity], ev)
		return nil
	}
	n.pending[identity] = append(n.pending[identity], PendingNotification{
		Identity: identity,
		Event:    ev,
		QueuedAt: time.Now().UTC(),
	})
	return nil
}

// Pending returns the queued events for an identity. Test helper.
func (n *MemoryNotifier) Pending(identity string) []PendingNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]PendingNotification(nil), n.pending[identity]...)
}

// Events returns delivered events for an identity. Test helper.
func (n *MemoryNotifier) Events(identity string) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.Delivered[identity]...)
}
