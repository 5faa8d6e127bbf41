package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LeaderLock elects a single sweeper across replicas.
type LeaderLock interface {
	// Acquire reports whether this process now holds the lock. release must be called
	// once the sweep ends and is a no-op when the lock was not acquired.
	Acquire(ctx context.Context, ttl time.Duration) (release func(), acquired bool, err error)
}

const lockKey = "tenantedge:verify:leader"

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a SET NX PX lock with token-checked release.
type RedisLock struct {
	client redis.UniversalClient
	key    string
}

// NewRedisLock returns a lock stored under the default leader key.
func NewRedisLock(client redis.UniversalClient) *RedisLock {
	return &RedisLock{client: client, key: lockKey}
}

// Acquire implements LeaderLock.
func (l *RedisLock) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("redis setnx %s: %w", l.key, err)
	}
	if !ok {
		return func() {}, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
	}
	return release, true, nil
}
