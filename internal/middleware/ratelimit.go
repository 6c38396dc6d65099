package middleware

import (
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/Proton-105/lesson-notifier/internal/errors"
	"github.com/Proton-105/lesson-notifier/internal/ratelimit"
)

// RateLimit enforces rule per authenticated subject, falling back to the client address.
// Limiter failures let the request through.
func RateLimit(limiter ratelimit.Limiter, rule ratelimit.Rule, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "admin:" + clientKey(r)

			result, err := ratelimit.Enforce(r.Context(), limiter, key, rule)
			var appErr *apperrors.AppError
			switch {
			case errors.As(err, &appErr) && appErr.Code == apperrors.CodeRateLimit:
				log.Warn("rate limit exceeded", slog.String("key", key), slog.String("path", r.URL.Path))
				retryAfter := int(math.Max(1, math.Ceil(time.Until(result.ResetAt).Seconds())))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, appErr.UserMessage)
				return
			case err != nil:
				log.Warn("rate limiter error", slog.String("key", key), slog.Any("error", err))
			case result != nil:
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if sub := SubjectFromContext(r.Context()); sub != "" {
		return "sub:" + sub
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
