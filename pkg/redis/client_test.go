package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/lesson-notifier/pkg/config"
)

func TestNew_InstrumentsCommands(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := New(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	before := testutil.ToFloat64(redisRequestsTotal.WithLabelValues("set"))
	require.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
	assert.Equal(t, before+1, testutil.ToFloat64(redisRequestsTotal.WithLabelValues("set")))

	missBefore := testutil.ToFloat64(redisErrorsTotal.WithLabelValues("get"))
	_, err = rdb.Get(context.Background(), "missing").Result()
	require.Error(t, err)
	assert.Equal(t, missBefore, testutil.ToFloat64(redisErrorsTotal.WithLabelValues("get")))
}

func TestNew_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), config.RedisConfig{Addr: addr})
	assert.Error(t, err)
}
