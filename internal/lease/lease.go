// Package lease provides Redis-backed exclusive leases so that only one replica runs a
// given ticker at a time.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "lease:"

var (
	// ErrNotAcquired indicates that another owner holds the lease.
	ErrNotAcquired = errors.New("lease is held by another owner")
	// ErrLost indicates that the lease expired or was taken over.
	ErrLost = errors.New("lease lost")
)

var (
	refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Locker issues leases keyed by name. Each acquisition gets a fresh owner token.
type Locker struct {
	client goredis.Cmdable
}

func NewLocker(client goredis.Cmdable) *Locker {
	return &Locker{client: client}
}

// Acquire takes the lease for ttl and returns the owner token.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (string, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, keyPrefix+name, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return "", ErrNotAcquired
	}

	return token, nil
}

// Refresh extends a held lease to ttl.
func (l *Locker) Refresh(ctx context.Context, name, token string, ttl time.Duration) error {
	res, err := refreshScript.Run(ctx, l.client, []string{keyPrefix + name}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lease %s: %w", name, err)
	}
	if res == 0 {
		return ErrLost
	}
	return nil
}

// Release drops the lease if token still owns it.
func (l *Locker) Release(ctx context.Context, name, token string) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{keyPrefix + name}, token).Int(); err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}
