// Package scheduler runs the per-variant notification sub-jobs: a ticker is started by a
// daily trigger, ticks every interval and stops itself once nobody is eligible.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Proton-105/lesson-notifier/internal/domain"
	"github.com/Proton-105/lesson-notifier/internal/lease"
	"github.com/Proton-105/lesson-notifier/internal/notification"
	"github.com/Proton-105/lesson-notifier/pkg/metrics"
)

// State is the lifecycle state of a ticker.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

// TickFunc runs one tick for variant.
type TickFunc func(ctx context.Context, variant domain.Variant) (notification.TickReport, error)

// Locker hands out exclusive leases shared between replicas.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (string, error)
	Refresh(ctx context.Context, name, token string, ttl time.Duration) error
	Release(ctx context.Context, name, token string) error
}

// Snapshot is a point-in-time view of a ticker.
type Snapshot struct {
	Name      string                   `json:"name"`
	Variant   domain.Variant           `json:"variant"`
	State     State                    `json:"state"`
	Ticks     int64                    `json:"ticks"`
	StartedAt time.Time                `json:"started_at,omitempty"`
	StoppedAt time.Time                `json:"stopped_at,omitempty"`
	LastTick  *notification.TickReport `json:"last_tick,omitempty"`
	LastError string                   `json:"last_error,omitempty"`
}

// Ticker is the recurring sub-job of one variant. Ticks never overlap: the next tick is
// scheduled one interval after the previous one returned.
type Ticker struct {
	name     string
	variant  domain.Variant
	interval time.Duration
	leaseTTL time.Duration
	tick     TickFunc
	locker   Locker
	log      *slog.Logger

	startMu sync.Mutex

	mu        sync.Mutex
	state     State
	rearm     bool
	cancel    context.CancelFunc
	done      chan struct{}
	ticks     int64
	startedAt time.Time
	stoppedAt time.Time
	last      *notification.TickReport
	lastErr   string
}

// Start moves a stopped ticker to RUNNING and fires its first tick immediately. Starting a
// running ticker guarantees at least one more tick before it may stop. It returns
// lease.ErrNotAcquired when another replica runs the ticker.
func (t *Ticker) Start(parent context.Context) error {
	t.startMu.Lock()
	defer t.startMu.Unlock()

	t.mu.Lock()
	if t.state == StateRunning {
		t.rearm = true
		t.mu.Unlock()
		return nil
	}
	previous := t.done
	t.mu.Unlock()

	// The previous run releases its lease before closing done.
	if previous != nil {
		<-previous
	}

	var token string
	if t.locker != nil {
		var err error
		token, err = t.locker.Acquire(parent, t.name, t.leaseTTL)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	t.mu.Lock()
	t.state = StateRunning
	t.rearm = false
	t.cancel = cancel
	t.done = done
	t.startedAt = time.Now().UTC()
	t.mu.Unlock()

	metrics.SetTickerRunning(t.variant.String(), true)
	t.log.Info("ticker started", slog.String("ticker", t.name))

	alive := make(chan struct{})
	if token != "" {
		go t.keepAlive(ctx, cancel, token, alive)
	} else {
		close(alive)
	}
	go t.run(ctx, cancel, done, alive, token)

	return nil
}

// Stop cancels a running ticker and waits for its in-flight tick to return.
func (t *Ticker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (t *Ticker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Ticker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Name:      t.name,
		Variant:   t.variant,
		State:     t.state,
		Ticks:     t.ticks,
		StartedAt: t.startedAt,
		StoppedAt: t.stoppedAt,
		LastError: t.lastErr,
	}
	if t.last != nil {
		last := *t.last
		snap.LastTick = &last
	}
	return snap
}

func (t *Ticker) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, alive <-chan struct{}, token string) {
	defer close(done)

	timer := time.NewTimer(t.interval)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		t.mu.Lock()
		t.rearm = false
		t.mu.Unlock()

		report, err := t.tick(ctx, t.variant)
		if t.record(report, err) {
			t.finish(cancel, alive, token, "no eligible users")
			return
		}

		timer.Reset(t.interval)
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.stopLocked()
			t.mu.Unlock()
			t.finish(cancel, alive, token, "cancelled")
			return
		case <-timer.C:
		}
	}
}

// record stores the tick result and reports whether the ticker stopped itself. The
// RUNNING to STOPPED transition happens under the same lock Start checks, so a trigger
// either re-arms this run or starts a new one.
func (t *Ticker) record(report notification.TickReport, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ticks++
	t.last = &report
	t.lastErr = ""

	if err != nil {
		t.lastErr = err.Error()
		if !errors.Is(err, context.Canceled) {
			t.log.Error("tick failed", slog.String("ticker", t.name), slog.Any("error", err))
		}
		return false
	}

	if report.Exhausted() && !t.rearm {
		t.stopLocked()
		return true
	}
	return false
}

func (t *Ticker) stopLocked() {
	t.state = StateStopped
	t.cancel = nil
	t.stoppedAt = time.Now().UTC()
}

// finish stops the lease keepalive before releasing the lease, so no refresh can
// run against a released lease.
func (t *Ticker) finish(cancel context.CancelFunc, alive <-chan struct{}, token, reason string) {
	cancel()
	<-alive

	if token != "" {
		ctx, release := context.WithTimeout(context.Background(), 5*time.Second)
		if err := t.locker.Release(ctx, t.name, token); err != nil {
			t.log.Warn("release ticker lease", slog.String("ticker", t.name), slog.Any("error", err))
		}
		release()
	}

	metrics.SetTickerRunning(t.variant.String(), false)
	t.log.Info("ticker stopped",
		slog.String("ticker", t.name),
		slog.String("reason", reason),
		slog.Int64("ticks", t.Snapshot().Ticks),
	)
}

func (t *Ticker) keepAlive(ctx context.Context, cancel context.CancelFunc, token string, alive chan<- struct{}) {
	defer close(alive)

	period := t.leaseTTL / 3
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := t.locker.Refresh(ctx, t.name, token, t.leaseTTL)
			switch {
			case err == nil:
			case errors.Is(err, lease.ErrLost):
				t.log.Error("ticker lease lost", slog.String("ticker", t.name))
				cancel()
				return
			case ctx.Err() == nil:
				t.log.Warn("refresh ticker lease", slog.String("ticker", t.name), slog.Any("error", err))
			}
		}
	}
}
