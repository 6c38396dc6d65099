package middleware

import (
	"net/http"
	"time"

	"github.com/Proton-105/lesson-notifier/pkg/metrics"
)

// Metrics records request count and latency under route.
func Metrics(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			metrics.RecordHTTPRequest(route, rec.code(), time.Since(start))
		})
	}
}
