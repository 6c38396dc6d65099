package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Proton-105/lesson-notifier/internal/idempotency"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"
)

type capturedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

func (c capturedResponse) writeTo(w http.ResponseWriter) {
	if c.ContentType != "" {
		w.Header().Set("Content-Type", c.ContentType)
	}
	w.WriteHeader(c.Status)
	_, _ = w.Write(c.Body)
}

// notStored carries a non-2xx response past the idempotency store.
type notStored struct{ resp capturedResponse }

func (notStored) Error() string { return "response not stored" }

type bufferWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferWriter) Header() http.Header { return b.header }

func (b *bufferWriter) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

// Idempotency executes a request carrying an Idempotency-Key header at most once per ttl
// and replays the stored response for repeats. Only 2xx responses are stored.
func Idempotency(manager idempotency.Manager, ttl time.Duration, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if manager == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(IdempotencyKeyHeader)
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := idempotency.GenerateKey(r.Method, r.URL.Path, r.URL.RawQuery, SubjectFromContext(r.Context()), header)

			result, err := manager.Execute(r.Context(), key, ttl, func(ctx context.Context) (any, error) {
				buf := &bufferWriter{header: make(http.Header)}
				next.ServeHTTP(buf, r.WithContext(ctx))

				resp := capturedResponse{
					Status:      buf.status,
					ContentType: buf.header.Get("Content-Type"),
					Body:        buf.body.Bytes(),
				}
				if resp.Status == 0 {
					resp.Status = http.StatusOK
				}
				for k, v := range buf.header {
					w.Header()[k] = v
				}
				if resp.Status < 200 || resp.Status >= 300 {
					return nil, notStored{resp: resp}
				}
				return resp, nil
			})

			var skipped notStored
			switch {
			case errors.As(err, &skipped):
				skipped.resp.writeTo(w)
				return
			case errors.Is(err, idempotency.ErrRequestInProgress):
				writeError(w, http.StatusConflict, err.Error())
				return
			case err != nil:
				log.Error("idempotent request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
				writeError(w, http.StatusInternalServerError, "idempotency store unavailable")
				return
			}

			var resp capturedResponse
			if err := json.Unmarshal(result.Response, &resp); err != nil {
				log.Error("stored idempotent response is corrupt", slog.String("path", r.URL.Path), slog.Any("error", err))
				writeError(w, http.StatusInternalServerError, "idempotency store unavailable")
				return
			}

			if result.FromCache {
				w.Header().Set(ReplayedHeader, "true")
			}
			resp.writeTo(w)
		})
	}
}
