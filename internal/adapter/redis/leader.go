package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNotLeader is returned by Renew when this instance no longer holds the lock.
var ErrNotLeader = errors.New("leader lock not held")

// renewScript extends the TTL only while the lock still names this instance.
var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// LeaderElector is a SETNX lease so only one instance runs scheduled jobs.
type LeaderElector struct {
	rdb        *goredis.Client
	instanceID string
	lockKey    string
	lockTTL    time.Duration
}

func NewLeaderElector(rdb *goredis.Client, lockKey, instanceID string, ttl time.Duration) *LeaderElector {
	return &LeaderElector{
		rdb:        rdb,
		instanceID: instanceID,
		lockKey:    lockKey,
		lockTTL:    ttl,
	}
}

func (l *LeaderElector) TTL() time.Duration { return l.lockTTL }

// TryAcquire reports whether this instance took the lease.
func (l *LeaderElector) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.lockKey, l.instanceID, l.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire leader lock: %w", err)
	}
	return ok, nil
}

// Renew extends the lease. It returns ErrNotLeader if another instance holds it or it expired.
func (l *LeaderElector) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.rdb, []string{l.lockKey}, l.instanceID, l.lockTTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to renew leader lock: %w", err)
	}
	if n == 0 {
		return ErrNotLeader
	}
	return nil
}

// Release gives up the lease if this instance still holds it.
func (l *LeaderElector) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.lockKey}, l.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to release leader lock: %w", err)
	}
	return nil
}
