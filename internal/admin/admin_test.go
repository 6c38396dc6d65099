package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/lesson-notifier/internal/domain"
	apperrors "github.com/Proton-105/lesson-notifier/internal/errors"
	"github.com/Proton-105/lesson-notifier/internal/health"
	"github.com/Proton-105/lesson-notifier/internal/jobs"
	"github.com/Proton-105/lesson-notifier/internal/lease"
	"github.com/Proton-105/lesson-notifier/internal/lifecycle"
	"github.com/Proton-105/lesson-notifier/internal/metadata"
	"github.com/Proton-105/lesson-notifier/internal/middleware"
	"github.com/Proton-105/lesson-notifier/internal/ratelimit"
	"github.com/Proton-105/lesson-notifier/internal/scheduler"
)

type mockTickers struct{ mock.Mock }

func (m *mockTickers) Trigger(ctx context.Context, variant domain.Variant) (scheduler.Snapshot, error) {
	args := m.Called(ctx, variant)
	return args.Get(0).(scheduler.Snapshot), args.Error(1)
}

func (m *mockTickers) Snapshots() []scheduler.Snapshot {
	return m.Called().Get(0).([]scheduler.Snapshot)
}

type mockRollover struct{ mock.Mock }

func (m *mockRollover) Run(ctx context.Context) (metadata.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(metadata.Result), args.Error(1)
}

type mockQueue struct{ mock.Mock }

func (m *mockQueue) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task.Type(), string(task.Payload()))
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

type fixture struct {
	tickers  *mockTickers
	rollover *mockRollover
	queue    *mockQueue
	handler  http.Handler
	token    string
}

func newFixture(t *testing.T, withQueue bool) *fixture {
	t.Helper()

	f := &fixture{tickers: &mockTickers{}, rollover: &mockRollover{}, queue: &mockQueue{}}
	auth := middleware.NewAuthenticator("0123456789abcdef0123", middleware.RoleAdmin)

	token, err := auth.Issue("ops", time.Hour)
	require.NoError(t, err)
	f.token = token

	deps := Deps{
		Tickers:     f.tickers,
		Rollover:    f.rollover,
		Probes:      lifecycle.NewProbes(health.NewChecker(nil, time.Second), nil),
		Auth:        auth,
		Limiter:     ratelimit.NewMemoryLimiter(),
		TriggerRule: ratelimit.Rule{Limit: 100, Window: time.Minute},
	}
	if withQueue {
		deps.Queue = f.queue
	}
	f.handler = NewRouter(deps)

	return f
}

func (f *fixture) do(method, target string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if authed {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestTrigger_DefaultsToEvening(t *testing.T) {
	f := newFixture(t, false)
	f.tickers.On("Trigger", mock.Anything, domain.VariantEvening).
		Return(scheduler.Snapshot{Name: "lesson-notify:evening", State: scheduler.StateRunning}, nil).Once()

	rec := f.do(http.MethodPost, "/admin/notifications/trigger", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body triggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, "lesson-notify:evening", body.Ticker.Name)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
	f.tickers.AssertExpectations(t)
}

func TestTrigger_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		want   int
	}{
		{name: "bad variant", target: "/admin/notifications/trigger?variant=noon", want: http.StatusBadRequest},
		{name: "held elsewhere", target: "/admin/notifications/trigger?variant=morning", err: fmt.Errorf("start: %w", lease.ErrNotAcquired), want: http.StatusConflict},
		{name: "shut down", target: "/admin/notifications/trigger?variant=morning", err: scheduler.ErrClosed, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.tickers.On("Trigger", mock.Anything, domain.VariantMorning).Return(scheduler.Snapshot{}, tt.err)

			rec := f.do(http.MethodPost, tt.target, true)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestTrigger_RequiresToken(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(http.MethodPost, "/admin/notifications/trigger", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	f.tickers.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)
}

func TestEnqueue(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(http.MethodPost, "/admin/notifications/enqueue", true)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	f = newFixture(t, true)
	f.queue.On("Enqueue", mock.Anything, jobs.TaskTypeLessonNotify, `{"variant":"morning"}`).
		Return(&asynq.TaskInfo{ID: "t-1", Queue: jobs.QueueDefault}, nil).Once()

	rec = f.do(http.MethodPost, "/admin/notifications/enqueue?variant=morning", true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"success","task_id":"t-1","queue":"default"}`, rec.Body.String())
	f.queue.AssertExpectations(t)
}

func TestRollover(t *testing.T) {
	f := newFixture(t, false)
	f.rollover.On("Run", mock.Anything).Return(metadata.Result{Branch: "increment_day"}, nil).Once()

	rec := f.do(http.MethodPost, "/admin/metadata/rollover", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "increment_day")

	f.rollover.On("Run", mock.Anything).
		Return(metadata.Result{}, apperrors.NewMetadataInvariantError("2 updates applied", nil)).Once()
	rec = f.do(http.MethodPost, "/admin/metadata/rollover", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListTickers(t *testing.T) {
	f := newFixture(t, false)
	f.tickers.On("Snapshots").Return([]scheduler.Snapshot{{Name: "lesson-notify:morning", State: scheduler.StateStopped}})

	rec := f.do(http.MethodGet, "/admin/notifications/tickers", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lesson-notify:morning")
}

func TestProbesAndMetrics(t *testing.T) {
	f := newFixture(t, false)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/livez", false).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/readyz", false).Code)

	rec := f.do(http.MethodGet, "/metrics", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
