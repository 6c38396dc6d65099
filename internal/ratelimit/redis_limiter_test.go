package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/lesson-notifier/internal/errors"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestRedisLimiter_AllowsWithinLimit(t *testing.T) {
	client, _ := setupTestRedis(t)

	limiter := NewRedisLimiter(client, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "test:allows", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 4-i, result.Remaining)
	}
}

func TestRedisLimiter_BlocksWhenExceeded(t *testing.T) {
	client, _ := setupTestRedis(t)

	limiter := NewRedisLimiter(client, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "test:blocks", 2, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i < 2, result.Allowed)
	}
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	client, _ := setupTestRedis(t)

	limiter := NewRedisLimiter(client, testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Check(ctx, "test:window", 2, 200*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	time.Sleep(250 * time.Millisecond)

	result, err := limiter.Check(ctx, "test:window", 2, 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestMemoryLimiter_Window(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		result, err := limiter.Check(context.Background(), "k", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := limiter.Check(context.Background(), "k", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, now.Add(time.Minute), result.ResetAt)

	now = now.Add(time.Minute + time.Second)
	result, err = limiter.Check(context.Background(), "k", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	now = now.Add(time.Hour)
	assert.Equal(t, 1, limiter.Cleanup(time.Minute))
}

type failingLimiter struct{}

func (failingLimiter) Check(context.Context, string, int, time.Duration) (*Result, error) {
	return nil, errors.New("redis down")
}

func TestAdaptiveLimiter_FallsBackWithHalfLimit(t *testing.T) {
	limiter := NewAdaptiveLimiter(failingLimiter{}, NewMemoryLimiter(), testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Check(ctx, "k", 4, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := limiter.Check(ctx, "k", 4, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestEnforce_ReturnsRateLimitError(t *testing.T) {
	limiter := NewMemoryLimiter()
	rule := Rule{Limit: 1, Window: time.Minute}

	_, err := Enforce(context.Background(), limiter, "admin", rule)
	require.NoError(t, err)

	_, err = Enforce(context.Background(), limiter, "admin", rule)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeRateLimit, appErr.Code)
}

func TestCleaner_RemovesStaleRedisKeys(t *testing.T) {
	client, mr := setupTestRedis(t)
	limiter := NewRedisLimiter(client, testLogger())

	_, err := limiter.Check(context.Background(), "stale", 5, time.Minute)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	cleaner := NewCleaner(client, nil, time.Minute, 10*time.Millisecond, testLogger())
	assert.Equal(t, 1, cleaner.Cleanup(context.Background()))
	assert.False(t, mr.Exists(keyPrefix+"stale"))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
