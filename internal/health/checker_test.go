package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestChecker_AggregatesComponents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	checker := NewChecker(nil, time.Second)
	checker.AddCheck("redis", NewRedisChecker(client))
	checker.AddCheck("store", CheckFunc(func(context.Context) error { return nil }))

	report := checker.Check(context.Background())
	assert.True(t, report.Healthy)
	assert.Equal(t, map[string]string{"redis": "OK", "store": "OK"}, report.Components)
	assert.Equal(t, []string{"redis", "store"}, checker.Names())

	checker.AddCheck("telegram", CheckFunc(func(context.Context) error { return errors.New("unauthorized") }))
	report = checker.Check(context.Background())
	assert.False(t, report.Healthy)
	assert.Equal(t, "unauthorized", report.Components["telegram"])
}

func TestChecker_TimesOutSlowChecks(t *testing.T) {
	checker := NewChecker(nil, 10*time.Millisecond)
	checker.AddCheck("slow", CheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	report := checker.Check(context.Background())
	assert.False(t, report.Healthy)
	assert.Equal(t, context.DeadlineExceeded.Error(), report.Components["slow"])
}

func TestRedisChecker_Nil(t *testing.T) {
	assert.ErrorIs(t, NewRedisChecker(nil).HealthCheck(context.Background()), redis.ErrClosed)
}
