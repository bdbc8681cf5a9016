package lease

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease key only if the caller still holds it.
// Without the holder check a slow processor could release a lease that
// already expired and was re-acquired by someone else.
var releaseScript = redis.NewScript(`
-- KEYS[1] = lease key
-- ARGV[1] = holder
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLease implements Lease on a single Redis key per session.
// Safety properties:
// - Atomic acquire via SET NX PX.
// - TTL bounds how long a crashed holder can wedge a session.
type RedisLease struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLease(rdb *redis.Client) *RedisLease {
	return &RedisLease{rdb: rdb, prefix: "lease:session:"}
}

func (l *RedisLease) Acquire(ctx context.Context, id, holder string, ttl time.Duration) (bool, error) {
	if id == "" || holder == "" || ttl <= 0 {
		return false, ErrInvalidArgument
	}
	return l.rdb.SetNX(ctx, l.prefix+id, holder, ttl).Result()
}

func (l *RedisLease) Release(ctx context.Context, id, holder string) error {
	if id == "" || holder == "" {
		return ErrInvalidArgument
	}
	return releaseScript.Run(ctx, l.rdb, []string{l.prefix + id}, holder).Err()
}
