package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/lesson-notifier/internal/state"
)

type fakeCounter struct {
	counts map[state.State]int
	err    error
}

func (f fakeCounter) CountByState(context.Context) (map[state.State]int, error) {
	return f.counts, f.err
}

func TestStatusCollector_Collect(t *testing.T) {
	c := NewStatusCollector(fakeCounter{counts: map[state.State]int{
		state.StatePending:   2,
		state.StateSucceeded: 5,
	}}, 0, nil)

	require.NoError(t, c.Collect(context.Background()))

	assert.Equal(t, 2.0, testutil.ToFloat64(usersByState.WithLabelValues("PENDING")))
	assert.Equal(t, 5.0, testutil.ToFloat64(usersByState.WithLabelValues("SUCCEEDED")))
	assert.Equal(t, 0.0, testutil.ToFloat64(usersByState.WithLabelValues("FAILED")))
}

func TestStatusCollector_CollectError(t *testing.T) {
	c := NewStatusCollector(fakeCounter{err: errors.New("boom")}, 0, nil)
	assert.Error(t, c.Collect(context.Background()))
}

func TestSetTickerRunning(t *testing.T) {
	SetTickerRunning("morning", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(tickersRunning.WithLabelValues("morning")))
	SetTickerRunning("morning", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(tickersRunning.WithLabelValues("morning")))
}
