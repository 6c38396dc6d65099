// Package cache decorates a store with a Redis read-through cache of notification opt-ins.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Proton-105/lesson-notifier/internal/store"
)

const (
	optedIn  = "1"
	optedOut = "0"
	// unset marks a user with no stored preference; such users are opted in.
	unset = "-"
)

// Store serves OptIns from Redis and delegates everything else to the wrapped store.
// Cache failures fall back to the wrapped store. Preferences are written outside
// this service, so a changed opt-in is picked up only after its entry expires.
type Store struct {
	store.Store
	client redis.Cmdable
	ttl    time.Duration
	log    *slog.Logger
}

// New wraps st. A non-positive ttl disables caching.
func New(st store.Store, client redis.Cmdable, ttl time.Duration, log *slog.Logger) store.Store {
	if client == nil || ttl <= 0 {
		return st
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{Store: st, client: client, ttl: ttl, log: log}
}

// OptIns implements store.Preferences.
func (s *Store) OptIns(ctx context.Context, userIDs []int64) (map[int64]bool, error) {
	if len(userIDs) == 0 {
		return map[int64]bool{}, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = cacheKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		s.log.Warn("opt-in cache read failed", slog.Any("error", err))
		return s.Store.OptIns(ctx, userIDs)
	}

	result := make(map[int64]bool)
	var missing []int64
	for i, raw := range values {
		v, ok := raw.(string)
		switch {
		case !ok:
			missing = append(missing, userIDs[i])
		case v == optedIn:
			result[userIDs[i]] = true
		case v == optedOut:
			result[userIDs[i]] = false
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	fresh, err := s.Store.OptIns(ctx, missing)
	if err != nil {
		return nil, err
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range missing {
			value := unset
			if need, ok := fresh[id]; ok {
				value = optedOut
				if need {
					value = optedIn
				}
				result[id] = need
			}
			pipe.Set(ctx, cacheKey(id), value, s.ttl)
		}
		return nil
	})
	if err != nil {
		s.log.Warn("opt-in cache write failed", slog.Any("error", err))
	}

	return result, nil
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("optin:%d", userID)
}
