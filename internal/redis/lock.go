package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("pet lock not acquired")
)

// Locker serializes reservation creation per pet so that two concurrent
// create calls cannot both pass the duplicate-reservation check.
type Locker interface {
	WithPetLock(ctx context.Context, petID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisPetLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPetLocker creates a locker that uses a per pet Redis key
func NewRedisPetLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisPetLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisPetLocker) WithPetLock(ctx context.Context, petID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:pet:%s", petID.String())
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire pet lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisPetLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release pet lock: %w", err)
	}
	return nil
}
