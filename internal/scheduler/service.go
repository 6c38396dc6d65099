package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Proton-105/lesson-notifier/internal/domain"
)

// JobName returns the registry name of a variant's ticker.
func JobName(variant domain.Variant) string {
	return "lesson-notify:" + variant.String()
}

// Options configures a Service.
type Options struct {
	Interval time.Duration
	LeaseTTL time.Duration
	// Locker is optional; without it tickers are exclusive within this process only.
	Locker Locker
	Logger *slog.Logger
}

// Service owns the ticker registry. Tickers are singletons keyed by JobName: a trigger
// for a registered ticker restarts it instead of creating another one.
type Service struct {
	tick TickFunc
	opts Options
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	tickers map[string]*Ticker
	closed  bool
}

func NewService(tick TickFunc, opts Options) *Service {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.LeaseTTL < opts.Interval {
		opts.LeaseTTL = 3 * opts.Interval
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		tick:    tick,
		opts:    opts,
		log:     log.With(slog.String("component", "scheduler")),
		ctx:     ctx,
		cancel:  cancel,
		tickers: make(map[string]*Ticker),
	}
}

// ErrClosed indicates a trigger after Shutdown.
var ErrClosed = errors.New("scheduler is shut down")

// Trigger starts, or keeps running, the ticker of variant. Tickers outlive the caller's
// context; they stop on their own or on Shutdown.
func (s *Service) Trigger(ctx context.Context, variant domain.Variant) (Snapshot, error) {
	t, err := s.register(variant)
	if err != nil {
		return Snapshot{}, err
	}

	if err := ctx.Err(); err != nil {
		return t.Snapshot(), err
	}

	if err := t.Start(s.ctx); err != nil {
		return t.Snapshot(), fmt.Errorf("start %s: %w", t.name, err)
	}

	return t.Snapshot(), nil
}

func (s *Service) register(variant domain.Variant) (*Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	name := JobName(variant)
	if t, ok := s.tickers[name]; ok {
		return t, nil
	}

	t := &Ticker{
		name:     name,
		variant:  variant,
		interval: s.opts.Interval,
		leaseTTL: s.opts.LeaseTTL,
		tick:     s.tick,
		locker:   s.opts.Locker,
		log:      s.log,
		state:    StateStopped,
	}
	s.tickers[name] = t
	s.log.Debug("ticker registered", slog.String("ticker", name))

	return t, nil
}

// Snapshots lists every registered ticker ordered by name.
func (s *Service) Snapshots() []Snapshot {
	s.mu.Lock()
	tickers := make([]*Ticker, 0, len(s.tickers))
	for _, t := range s.tickers {
		tickers = append(tickers, t)
	}
	s.mu.Unlock()

	snaps := make([]Snapshot, 0, len(tickers))
	for _, t := range tickers {
		snaps = append(snaps, t.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// Shutdown stops every ticker and waits for in-flight ticks until ctx expires.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	tickers := make([]*Ticker, 0, len(s.tickers))
	for _, t := range s.tickers {
		tickers = append(tickers, t)
	}
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, t := range tickers {
			t.Stop()
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
