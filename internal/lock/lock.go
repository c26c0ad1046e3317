// Package lock provides the cycle locks the reconciliation loop uses to
// keep a single reconciler running at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Local is an in-process lock for single-replica deployments.
type Local struct {
	mu sync.Mutex
}

// TryAcquire takes the lock if it is free.
func (l *Local) TryAcquire(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// DefaultTTL bounds how long a crashed holder can block other replicas.
const DefaultTTL = 2 * time.Minute

// Redis is a distributed lock on a single key, shared by every replica that
// reconciles the same queue.
type Redis struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
}

// NewRedis creates a lock on key. A non-positive ttl uses DefaultTTL.
func NewRedis(rdb redis.UniversalClient, key string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{locker: redislock.New(rdb), key: key, ttl: ttl}
}

// TryAcquire obtains the lock without retrying. A lock held elsewhere is
// reported as ok=false, not as an error.
func (r *Redis) TryAcquire(ctx context.Context) (func(), bool, error) {
	l, err := r.locker.Obtain(ctx, r.key, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("obtain %s: %w", r.key, err)
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Release(ctx)
	}
	return release, true, nil
}

// Connect opens a Redis client and verifies it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return rdb, nil
}
