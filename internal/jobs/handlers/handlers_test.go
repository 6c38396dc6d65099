package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/lesson-notifier/internal/domain"
	"github.com/Proton-105/lesson-notifier/internal/jobs"
	"github.com/Proton-105/lesson-notifier/internal/lease"
	"github.com/Proton-105/lesson-notifier/internal/metadata"
	"github.com/Proton-105/lesson-notifier/internal/scheduler"
)

type mockTriggerer struct {
	mock.Mock
}

func (m *mockTriggerer) Trigger(ctx context.Context, variant domain.Variant) (scheduler.Snapshot, error) {
	args := m.Called(ctx, variant)
	return args.Get(0).(scheduler.Snapshot), args.Error(1)
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context) (metadata.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(metadata.Result), args.Error(1)
}

func TestLessonNotifyHandler(t *testing.T) {
	task, err := jobs.NewLessonNotifyTask(domain.VariantEvening)
	require.NoError(t, err)

	t.Run("triggers the variant ticker", func(t *testing.T) {
		trig := &mockTriggerer{}
		trig.On("Trigger", mock.Anything, domain.VariantEvening).
			Return(scheduler.Snapshot{Name: "lesson-notify:evening", State: scheduler.StateRunning}, nil).Once()

		require.NoError(t, NewLessonNotifyHandler(trig, nil).ProcessTask(context.Background(), task))
		trig.AssertExpectations(t)
	})

	t.Run("lease held elsewhere is not a failure", func(t *testing.T) {
		trig := &mockTriggerer{}
		trig.On("Trigger", mock.Anything, domain.VariantEvening).Return(scheduler.Snapshot{}, lease.ErrNotAcquired)

		assert.NoError(t, NewLessonNotifyHandler(trig, nil).ProcessTask(context.Background(), task))
	})

	t.Run("other errors are returned", func(t *testing.T) {
		trig := &mockTriggerer{}
		trig.On("Trigger", mock.Anything, domain.VariantEvening).Return(scheduler.Snapshot{}, scheduler.ErrClosed)

		assert.ErrorIs(t, NewLessonNotifyHandler(trig, nil).ProcessTask(context.Background(), task), scheduler.ErrClosed)
	})

	t.Run("invalid payload skips retry", func(t *testing.T) {
		trig := &mockTriggerer{}
		bad := asynq.NewTask(jobs.TaskTypeLessonNotify, []byte(`{"variant":"noon"}`))

		err := NewLessonNotifyHandler(trig, nil).ProcessTask(context.Background(), bad)
		assert.ErrorIs(t, err, asynq.SkipRetry)
		trig.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)
	})
}

func TestMetadataRolloverHandler(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything).Return(metadata.Result{Branch: "wrap_week"}, nil).Once()
	runner.On("Run", mock.Anything).Return(metadata.Result{}, errors.New("invariant")).Once()

	h := NewMetadataRolloverHandler(runner, nil)
	task := jobs.NewMetadataRolloverTask()

	assert.NoError(t, h.ProcessTask(context.Background(), task))
	assert.ErrorIs(t, h.ProcessTask(context.Background(), task), asynq.SkipRetry)
	runner.AssertExpectations(t)
}
