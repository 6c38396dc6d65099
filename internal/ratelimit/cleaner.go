package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cleaner periodically drops stale rate-limit entries from Redis and the in-memory fallback.
type Cleaner struct {
	redis    redis.Cmdable
	memory   *MemoryLimiter
	log      *slog.Logger
	interval time.Duration
	maxAge   time.Duration
}

// NewCleaner constructs a Cleaner instance. Either backend may be nil.
func NewCleaner(client redis.Cmdable, memory *MemoryLimiter, interval, maxAge time.Duration, log *slog.Logger) *Cleaner {
	if log == nil {
		log = slog.Default()
	}

	return &Cleaner{
		redis:    client,
		memory:   memory,
		log:      log,
		interval: interval,
		maxAge:   maxAge,
	}
}

// Run starts the cleaner loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("rate limit cleaner stopped", slog.String("reason", ctx.Err().Error()))
			return
		case <-ticker.C:
			c.Cleanup(ctx)
		}
	}
}

// Cleanup runs one pass and returns the number of removed keys.
func (c *Cleaner) Cleanup(ctx context.Context) int {
	removed := 0
	if c.memory != nil {
		removed += c.memory.Cleanup(c.maxAge)
	}
	if c.redis != nil {
		removed += c.cleanupRedis(ctx)
	}

	if removed > 0 {
		c.log.Info("rate limit keys cleaned", slog.Int("keys_removed", removed))
	}
	return removed
}

func (c *Cleaner) cleanupRedis(ctx context.Context) int {
	const scanCount = 100

	cutoff := time.Now().Add(-c.maxAge).UnixMilli()
	var cursor uint64
	cleaned := 0

	for {
		keys, nextCursor, err := c.redis.Scan(ctx, cursor, keyPrefix+"*", scanCount).Result()
		if err != nil {
			c.log.Error("rate limit scan failed", slog.Any("error", err))
			return cleaned
		}

		for _, key := range keys {
			pipe := c.redis.TxPipeline()
			pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff))
			cardCmd := pipe.ZCard(ctx, key)
			if _, err := pipe.Exec(ctx); err != nil {
				c.log.Warn("cleanup pipeline failed", slog.String("key", key), slog.Any("error", err))
				continue
			}

			if cardCmd.Val() == 0 {
				if err := c.redis.Del(ctx, key).Err(); err != nil {
					c.log.Warn("failed to delete empty rate limit key", slog.String("key", key), slog.Any("error", err))
					continue
				}
				cleaned++
			}
		}

		if nextCursor == 0 {
			break
		}
		cursor = nextCursor
	}

	return cleaned
}
