package logger

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskingHandler_MasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewMaskingHandler(slog.NewTextHandler(&buf, nil)))

	log.Info("sending",
		slog.String("push_address", "123456"),
		slog.String("user", "alice"),
		slog.Group("db", slog.String("password", "hunter2"), slog.String("host", "localhost")),
	)

	out := buf.String()
	assert.NotContains(t, out, "123456")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "user=alice")
	assert.Contains(t, out, "db.host=localhost")
	assert.Contains(t, out, "push_address=***")
}

func TestMaskingHandler_MasksWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewMaskingHandler(slog.NewTextHandler(&buf, nil))).With(slog.String("token", "abc"))

	log.Info("hello")

	assert.NotContains(t, buf.String(), "abc")
}

func TestMiddleware_PropagatesCorrelationID(t *testing.T) {
	var seen string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(CorrelationIDHeader))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "abc-123", seen)
}

func TestWithCorrelationID_Generates(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	assert.Len(t, CorrelationIDFromContext(ctx), 36)
	assert.Empty(t, CorrelationIDFromContext(context.Background()))
}
