package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/lesson-notifier/internal/health"
)

func TestShutdown_RunsPhasesInOrder(t *testing.T) {
	s := NewShutdown(nil)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string, err error) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return err
		}
	}

	s.Register(PhaseTelemetry, "sentry", record("sentry", nil))
	s.Register(PhaseResources, "store", record("store", errors.New("close failed")))
	s.Register(PhaseIngress, "http", record("http", nil))
	s.Register(PhaseWorkers, "tickers", record("tickers", nil))
	s.Register(PhaseIngress, "nil", nil)

	err := s.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store: close failed")
	assert.Equal(t, []string{"http", "tickers", "store", "sentry"}, order)
}

func TestShutdown_RecoversPanics(t *testing.T) {
	s := NewShutdown(nil)
	s.Register(PhaseIngress, "bad", func(context.Context) error { panic("boom") })

	err := s.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestProbes_Readiness(t *testing.T) {
	checker := health.NewChecker(nil, 0)
	healthy := true
	checker.AddCheck("store", health.CheckFunc(func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	}))

	probes := NewProbes(checker, nil)
	require.NoError(t, probes.Liveness(context.Background()))

	report, err := probes.Readiness(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy)

	healthy = false
	_, err = probes.Readiness(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)

	probes.Drain()
	_, err = probes.Readiness(context.Background())
	assert.ErrorIs(t, err, ErrShuttingDown)
}
