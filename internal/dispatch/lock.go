package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker serializes first payments for one contact across workers. A lock
// that cannot be obtained is not an error: callers proceed unlocked.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), ok bool)
}

var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`)

type RedisLocker struct {
	rdb  *redis.Client
	ttl  time.Duration
	wait time.Duration
	log  *zap.SugaredLogger
}

// NewRedisLocker returns nil when rdb is nil so callers can pass the result straight through.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration, log *zap.SugaredLogger) Locker {
	if rdb == nil {
		return nil
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, wait: 100 * time.Millisecond, log: log}
}

// Lock polls SET NX until it wins or the TTL elapses.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), bool) {
	owner := uuid.NewString()
	deadline := time.Now().Add(l.ttl)
	for {
		ok, err := l.rdb.SetNX(ctx, key, owner, l.ttl).Result()
		if err != nil {
			l.log.Warnw("customer lock unavailable", "key", key, "err", err)
			return nil, false
		}
		if ok {
			return func() {
				if err := releaseScript.Run(context.Background(), l.rdb, []string{key}, owner).Err(); err != nil {
					l.log.Warnw("customer lock release", "key", key, "err", err)
				}
			}, true
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(l.wait):
		}
	}
}
