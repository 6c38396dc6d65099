// Package metrics exposes the Prometheus instruments of the lesson notifier.
package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Proton-105/lesson-notifier/internal/state"
)

var (
	ticksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_ticks_total",
			Help: "Total number of notification ticks labeled by variant and outcome",
		},
		[]string{"variant", "outcome"},
	)
	tickDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifier_tick_duration_seconds",
			Help:    "Duration of notification ticks in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"variant"},
	)
	claimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_claimed_total",
			Help: "Total number of users claimed into batches",
		},
		[]string{"variant"},
	)
	claimConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_claim_conflicts_total",
			Help: "Total number of batch claims rejected by a concurrent writer",
		},
		[]string{"variant"},
	)
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_deliveries_total",
			Help: "Total number of push deliveries labeled by result",
		},
		[]string{"variant", "result"},
	)
	deliveryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifier_delivery_duration_seconds",
			Help:    "Duration of single push deliveries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"variant"},
	)
	tagConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_tag_conflicts_total",
			Help: "Total number of outcome tag writes that matched fewer rows than expected",
		},
		[]string{"state"},
	)
	tickersRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notifier_tickers_running",
			Help: "Whether the sub-job ticker of a variant is running",
		},
		[]string{"variant"},
	)
	rolloversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadata_rollovers_total",
			Help: "Total number of metadata rollovers labeled by branch",
		},
		[]string{"branch"},
	)
	invariantViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metadata_invariant_violations_total",
			Help: "Total number of rollovers where the applied update count was not exactly one",
		},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of admin API requests labeled by route and status code",
		},
		[]string{"route", "status"},
	)
	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Admin API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	usersByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_users_by_state",
			Help: "Number of stored notification statuses per state",
		},
		[]string{"state"},
	)
)

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// RecordTick counts a finished tick and its duration.
func RecordTick(variant, outcome string, duration time.Duration) {
	ticksTotal.WithLabelValues(orUnknown(variant), orUnknown(outcome)).Inc()
	tickDurationSeconds.WithLabelValues(orUnknown(variant)).Observe(duration.Seconds())
}

// RecordClaim adds n claimed users.
func RecordClaim(variant string, n int) {
	claimedTotal.WithLabelValues(orUnknown(variant)).Add(float64(n))
}

// RecordClaimConflict counts a rejected claim.
func RecordClaimConflict(variant string) {
	claimConflictsTotal.WithLabelValues(orUnknown(variant)).Inc()
}

// RecordDelivery counts a single send attempt.
func RecordDelivery(variant string, ok bool, duration time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	deliveriesTotal.WithLabelValues(orUnknown(variant), result).Inc()
	deliveryDurationSeconds.WithLabelValues(orUnknown(variant)).Observe(duration.Seconds())
}

// RecordHTTPRequest counts a served HTTP request.
func RecordHTTPRequest(route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(orUnknown(route), strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(orUnknown(route)).Observe(duration.Seconds())
}

// RecordTagConflict counts a tag write that did not match every expected row.
func RecordTagConflict(target string) {
	tagConflictsTotal.WithLabelValues(orUnknown(target)).Inc()
}

// SetTickerRunning flips the running gauge of a variant.
func SetTickerRunning(variant string, running bool) {
	value := 0.0
	if running {
		value = 1
	}
	tickersRunning.WithLabelValues(orUnknown(variant)).Set(value)
}

// RecordRollover counts an applied rollover branch.
func RecordRollover(branch string) {
	rolloversTotal.WithLabelValues(orUnknown(branch)).Inc()
}

// RecordInvariantViolation counts a rollover that broke the single-update invariant.
func RecordInvariantViolation() {
	invariantViolationsTotal.Inc()
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	errorsTotal.WithLabelValues(orUnknown(errType), orUnknown(severity)).Inc()
}

// SetUsersByState updates the gauge for the given state.
func SetUsersByState(state string, count int) {
	usersByState.WithLabelValues(orUnknown(state)).Set(float64(count))
}

// StateCounter reports stored statuses per state.
type StateCounter interface {
	CountByState(ctx context.Context) (map[state.State]int, error)
}

// StatusCollector periodically gathers status counts and emits gauge metrics.
type StatusCollector struct {
	counter  StateCounter
	interval time.Duration
	log      *slog.Logger
}

// NewStatusCollector builds a metrics collector bound to the provided store.
func NewStatusCollector(counter StateCounter, interval time.Duration, log *slog.Logger) *StatusCollector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &StatusCollector{counter: counter, interval: interval, log: log.With(slog.String("component", "status_collector"))}
}

// Run polls the store every interval until ctx is cancelled.
func (c *StatusCollector) Run(ctx context.Context) {
	if c == nil || c.counter == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.Collect(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("collect status counts", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Collect refreshes the per-state gauges once.
func (c *StatusCollector) Collect(ctx context.Context) error {
	counts, err := c.counter.CountByState(ctx)
	if err != nil {
		return err
	}

	for _, tracked := range state.Persisted {
		SetUsersByState(tracked.String(), counts[tracked])
	}

	return nil
}
