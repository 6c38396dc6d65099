package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (Manager, *RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, nil)
	return NewManager(store, nil), store, mr
}

func TestManager_ReplaysCompletedOperation(t *testing.T) {
	m, _, mr := newTestManager(t)
	ctx := context.Background()

	calls := 0
	op := func(context.Context) (any, error) {
		calls++
		return map[string]string{"status": "success"}, nil
	}

	first, err := m.Execute(ctx, "k1", time.Hour, op)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := m.Execute(ctx, "k1", time.Hour, op)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, calls)

	var body map[string]string
	require.NoError(t, json.Unmarshal(second.Response, &body))
	assert.Equal(t, "success", body["status"])

	assert.False(t, mr.Exists(lockKey("k1")))
	assert.True(t, mr.TTL(recordKey("k1")) > 0)
}

func TestManager_FailedOperationIsNotRecorded(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Execute(ctx, "k2", time.Hour, func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	res, err := m.Execute(ctx, "k2", time.Hour, func(context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.False(t, res.FromCache)
}

func TestManager_InProgress(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	locked, err := store.Lock(ctx, "k3", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	_, err = m.Execute(ctx, "k3", time.Hour, func(context.Context) (any, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrRequestInProgress)
}

func TestGenerateKey_Deterministic(t *testing.T) {
	assert.Equal(t, GenerateKey("POST", "/a", "x"), GenerateKey("POST", "/a", "x"))
	assert.NotEqual(t, GenerateKey("POST", "/a", "x"), GenerateKey("POST", "/b", "x"))
}
