package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/Proton-105/lesson-notifier/internal/domain"
	"github.com/Proton-105/lesson-notifier/internal/push"
	"github.com/Proton-105/lesson-notifier/pkg/logger"
	"github.com/Proton-105/lesson-notifier/pkg/metrics"
)

// TickReport describes one Select, Dispatch and Tag pass.
type TickReport struct {
	Variant    domain.Variant    `json:"variant"`
	Coordinate domain.Coordinate `json:"coordinate"`
	Eligible   int               `json:"eligible"`
	Claimed    int               `json:"claimed"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Conflict   bool              `json:"conflict"`
	StartedAt  time.Time         `json:"started_at"`
	Duration   time.Duration     `json:"duration"`
}

// Exhausted reports whether no user was eligible, which ends the variant's ticker.
func (r TickReport) Exhausted() bool {
	return r.Eligible == 0
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithErrorReporter routes non-fatal tick errors through reporter.
func WithErrorReporter(reporter ErrorReporter) Option {
	return func(e *Engine) {
		e.reporter = reporter
	}
}

// Engine runs notification ticks.
type Engine struct {
	policy     *PolicyHolder
	selector   *Selector
	dispatcher *Dispatcher
	tagger     *Tagger
	reporter   ErrorReporter
	now        func() time.Time
	log        *slog.Logger
}

func NewEngine(st SelectorStore, sender push.Sender, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		policy: NewPolicyHolder(policy),
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.log = e.log.With(slog.String("component", "notification_engine"))
	e.selector = NewSelector(st, e.policy, e.now, e.log)
	e.dispatcher = NewDispatcher(sender, e.policy, e.log)
	e.tagger = NewTagger(st, e.reporter, e.now, e.log)

	return e
}

// Policy returns the active policy.
func (e *Engine) Policy() Policy {
	return e.policy.Load()
}

// SetPolicy swaps the policy; the next tick uses it.
func (e *Engine) SetPolicy(p Policy) {
	e.policy.Store(p)
	e.log.Info("notification policy updated",
		slog.Int("batch_size", p.BatchSize),
		slog.Duration("fast_retry", p.FastRetry),
		slog.Duration("pending_timeout", p.PendingTimeout),
		slog.Duration("cooldown", p.Cooldown),
		slog.Duration("send_timeout", p.SendTimeout),
	)
}

// RunTick performs one claim, dispatch and tag pass for variant. The returned error is set
// only when the claim could not be evaluated; delivery and tag failures are reported in the
// TickReport and never abort the tick.
func (e *Engine) RunTick(ctx context.Context, variant domain.Variant) (TickReport, error) {
	if logger.CorrelationIDFromContext(ctx) == "" {
		ctx = logger.WithCorrelationID(ctx, "")
	}

	started := time.Now()
	report := TickReport{Variant: variant, StartedAt: e.now().UTC()}

	claim, err := e.selector.Select(ctx, variant)
	report.Coordinate = claim.Coordinate
	report.Eligible = claim.Eligible
	report.Conflict = claim.Conflict
	if err != nil {
		report.Duration = time.Since(started)
		metrics.RecordTick(variant.String(), "error", report.Duration)
		return report, err
	}

	if !claim.Empty() {
		outcomes := e.dispatcher.Dispatch(ctx, claim)
		tagged := e.tagger.Tag(ctx, claim, outcomes)

		report.Claimed = len(claim.Recipients)
		report.Succeeded = len(tagged.Succeeded)
		report.Failed = len(tagged.Failed)
	}

	report.Duration = time.Since(started)
	metrics.RecordTick(variant.String(), tickOutcome(report), report.Duration)

	e.log.InfoContext(ctx, "notification tick finished",
		slog.String("variant", variant.String()),
		slog.String("coordinate", report.Coordinate.String()),
		slog.String("correlation_id", logger.CorrelationIDFromContext(ctx)),
		slog.Int("eligible", report.Eligible),
		slog.Int("claimed", report.Claimed),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Bool("conflict", report.Conflict),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

func tickOutcome(r TickReport) string {
	switch {
	case r.Exhausted():
		return "exhausted"
	case r.Conflict:
		return "conflict"
	default:
		return "dispatched"
	}
}
