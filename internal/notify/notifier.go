package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Notifier delivers events to user identities.
//
// Delivery is fire-and-forget for reachable identities. An identity without a
// live presence entry gets a durable pending-notification row instead; events
// are never silently dropped.
type Notifier interface {
	Deliver(ctx context.Context, identity string, ev Event) error
	IsReachable(ctx context.Context, identity string) (bool, error)
}

// PendingStore persists notifications addressed to unreachable identities.
// The gateway drains it on reconnect.
type PendingStore interface {
	Append(ctx context.Context, p PendingNotification) error
	Drain(ctx context.Context, identity string) ([]PendingNotification, error)
}

// PendingNotification is one durably queued event.
type PendingNotification struct {
	ID       string    `json:"id" db:"id"`
	Identity string    `json:"identity" db:"identity"`
	Event    Event     `json:"event" db:"event"`
	QueuedAt time.Time `json:"queued_at" db:"queued_at"`
}

// RedisNotifier publishes to a per-identity channel and checks reachability
// against the presence keys the gateway refreshes while a socket is open.
type RedisNotifier struct {
	rdb     *redis.Client
	pending PendingStore
	clock   func() time.Time
}

func NewRedisNotifier(rdb *redis.Client, pending PendingStore) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, pending: pending, clock: time.Now}
}

func channelFor(identity string) string { return "user:" + identity }
func presenceKey(identity string) string {
	return fmt.Sprintf("presence:%s", identity)
}

func (n *RedisNotifier) IsReachable(ctx context.Context, identity string) (bool, error) {
	exists, err := n.rdb.Exists(ctx, presenceKey(identity)).Result()
	if err != nil {
		return false, fmt.Errorf("notify: presence check: %w", err)
	}
	return exists > 0, nil
}

func (n *RedisNotifier) Deliver(ctx context.Context, identity string, ev Event) error {
	reachable, err := n.IsReachable(ctx, identity)
	if err != nil {
		return err
	}
	if !reachable {
		return n.queue(ctx, identity, ev)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	if err := n.rdb.Publish(ctx, channelFor(identity), body).Err(); err != nil {
		// Publish failed after the presence check said reachable; fall back
		// to the durable queue rather than dropping the event.
		return n.queue(ctx, identity, ev)
	}
	return nil
}

func (n *RedisNotifier) queue(ctx context.Context, identity string, ev Event) error {
	return n.pending.Append(ctx, PendingNotification{
		ID:       uuid.NewString(),
		Identity: identity,
		Event:    ev,
		QueuedAt: n.clock().UTC(),
	})
}
