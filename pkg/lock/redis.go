// Package lock serialises pipeline runs for the same source across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another run holds the lock.
var ErrHeld = errors.New("run lock is held by another process")

const keyPrefix = "finguard:run-lock:"

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes a SET NX lock with a TTL per source name.
type RedisLocker struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{Client: client, TTL: ttl}
}

// Acquire takes the lock for source and returns the function that releases it.
func (l *RedisLocker) Acquire(ctx context.Context, source string) (func(context.Context) error, error) {
	key := keyPrefix + source
	token := uuid.NewString()

	ok, err := l.Client.SetNX(ctx, key, token, l.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, source)
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.Client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release run lock %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}
