package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/Proton-105/lesson-notifier/internal/health"
)

// ErrShuttingDown is returned by readiness once shutdown started.
var ErrShuttingDown = errors.New("shutting down")

// ErrNotReady is returned by readiness when a dependency check fails.
var ErrNotReady = errors.New("dependencies unhealthy")

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) (health.Report, error)
}

// Probes backs the /livez and /readyz endpoints.
type Probes struct {
	checker  *health.Checker
	draining atomic.Bool
	log      *slog.Logger
}

var _ HealthChecker = (*Probes)(nil)

// NewProbes creates a new Probes instance.
func NewProbes(checker *health.Checker, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{checker: checker, log: log}
}

// Liveness reports whether the process is running; it does not touch dependencies.
func (p *Probes) Liveness(ctx context.Context) error {
	p.log.Debug("liveness probe called")
	return nil
}

// Readiness runs the dependency checks. It fails as soon as shutdown has begun.
func (p *Probes) Readiness(ctx context.Context) (health.Report, error) {
	if p.draining.Load() {
		return health.Report{Components: map[string]string{}}, ErrShuttingDown
	}

	if p.checker == nil {
		return health.Report{Healthy: true, Components: map[string]string{}}, nil
	}

	report := p.checker.Check(ctx)
	if !report.Healthy {
		return report, ErrNotReady
	}
	return report, nil
}

// Drain makes readiness fail so load balancers stop routing traffic.
func (p *Probes) Drain() {
	p.draining.Store(true)
}
