package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another ingestion run owns the lock.
var ErrLockHeld = errors.New("another ingestion run is in progress")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock keeps two ingestion runs from writing the same collection at
// once. It is a single Redis key holding a per-holder token.
type RunLock struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

func NewRunLock(rdb *redis.Client, destinationNamespace string, ttl time.Duration) *RunLock {
	return &RunLock{
		rdb:   rdb,
		key:   "ingest:lock:" + destinationNamespace,
		token: uuid.NewString(),
		ttl:   ttl,
	}
}

// Key returns the Redis key guarding the destination.
func (l *RunLock) Key() string {
	return l.key
}

// Acquire takes the lock or returns ErrLockHeld.
func (l *RunLock) Acquire(ctx context.Context) error {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// Release frees the lock if this holder still owns it.
func (l *RunLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
