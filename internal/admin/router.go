package admin

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Proton-105/lesson-notifier/internal/idempotency"
	"github.com/Proton-105/lesson-notifier/internal/lifecycle"
	"github.com/Proton-105/lesson-notifier/internal/middleware"
	"github.com/Proton-105/lesson-notifier/internal/ratelimit"
	"github.com/Proton-105/lesson-notifier/pkg/logger"
)

// IdempotencyTTL is how long a replayable admin response is kept.
const IdempotencyTTL = 24 * time.Hour

// Deps are the collaborators of the admin API. Queue, Limiter and Idempotency are optional.
type Deps struct {
	Tickers     TickerService
	Rollover    RolloverRunner
	Queue       Enqueuer
	Probes      lifecycle.HealthChecker
	Auth        *middleware.Authenticator
	Limiter     ratelimit.Limiter
	TriggerRule ratelimit.Rule
	Idempotency idempotency.Manager
	Logger      *slog.Logger
}

// NewRouter builds the HTTP handler of the admin API, the probes and /metrics.
func NewRouter(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "admin"))

	h := &handlers{
		tickers:  d.Tickers,
		rollover: d.Rollover,
		queue:    d.Queue,
		probes:   d.Probes,
		log:      log,
	}

	mux := http.NewServeMux()

	public := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, middleware.Metrics(pattern)(fn))
	}
	read := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, middleware.Chain(fn,
			middleware.Metrics(pattern),
			d.Auth.Middleware,
		))
	}
	write := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, middleware.Chain(fn,
			middleware.Metrics(pattern),
			d.Auth.Middleware,
			middleware.RateLimit(d.Limiter, d.TriggerRule, log),
			middleware.Idempotency(d.Idempotency, IdempotencyTTL, log),
		))
	}

	public("GET /livez", h.livez)
	public("GET /readyz", h.readyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	write("POST /admin/notifications/trigger", h.trigger)
	write("POST /admin/notifications/enqueue", h.enqueue)
	write("POST /admin/metadata/rollover", h.runRollover)
	read("GET /admin/notifications/tickers", h.listTickers)

	return middleware.Chain(mux, logger.Middleware, middleware.Logging(log))
}
