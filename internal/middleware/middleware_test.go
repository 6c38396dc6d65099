package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/lesson-notifier/internal/idempotency"
	"github.com/Proton-105/lesson-notifier/internal/ratelimit"
)

const testSecret = "0123456789abcdef0123"

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success"}`))
	})
}

func TestAuthenticator_Middleware(t *testing.T) {
	auth := NewAuthenticator(testSecret, RoleAdmin)
	calls := 0
	h := auth.Middleware(okHandler(&calls))

	valid, err := auth.Issue("ops", time.Hour)
	require.NoError(t, err)

	viewer, err := NewAuthenticator(testSecret, "viewer").Issue("ops", time.Hour)
	require.NoError(t, err)

	expired, err := auth.Issue("ops", -time.Minute)
	require.NoError(t, err)

	foreign, err := NewAuthenticator("another-secret-value", RoleAdmin).Issue("ops", time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: RoleAdmin}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid", header: "Bearer " + valid, want: http.StatusOK},
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong role", header: "Bearer " + viewer, want: http.StatusForbidden},
		{name: "expired", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "foreign secret", header: "Bearer " + foreign, want: http.StatusUnauthorized},
		{name: "alg none", header: "Bearer " + none, want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, 1, calls)
}

func TestRateLimit_RejectsAfterLimit(t *testing.T) {
	calls := 0
	h := RateLimit(ratelimit.NewMemoryLimiter(), ratelimit.Rule{Limit: 2, Window: time.Minute}, nil)(okHandler(&calls))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/admin/x", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}

	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, 2, calls)
}

type brokenLimiter struct{}

func (brokenLimiter) Check(context.Context, string, int, time.Duration) (*ratelimit.Result, error) {
	return nil, errors.New("redis down")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	calls := 0
	h := RateLimit(brokenLimiter{}, ratelimit.Rule{Limit: 1, Window: time.Minute}, nil)(okHandler(&calls))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIdempotency_ReplaysSuccess(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	manager := idempotency.NewManager(idempotency.NewRedisStore(client, nil), nil)
	calls := 0
	h := Idempotency(manager, time.Hour, nil)(okHandler(&calls))

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/admin/x", nil)
		if key != "" {
			req.Header.Set(IdempotencyKeyHeader, key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send("abc")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get(ReplayedHeader))

	second := send("abc")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.JSONEq(t, `{"status":"success"}`, second.Body.String())
	assert.Equal(t, 1, calls)

	send("")
	assert.Equal(t, 2, calls)
}

func TestIdempotency_DoesNotStoreFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	manager := idempotency.NewManager(idempotency.NewRedisStore(client, nil), nil)
	calls := 0
	h := Idempotency(manager, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeError(w, http.StatusConflict, "busy")
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/admin/x", nil)
		req.Header.Set(IdempotencyKeyHeader, "k")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusConflict, rec.Code)
	}
	assert.Equal(t, 2, calls)
}

func TestLoggingAndMetrics_PassThroughStatus(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}), Logging(nil), Metrics("/test"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
