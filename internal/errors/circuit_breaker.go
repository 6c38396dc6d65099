package errors

import (
	"errors"
	"sync"
	"time"
)

// BreakerSettings configures a CircuitBreaker.
type BreakerSettings struct {
	ErrorThreshold      float64
	MinRequests         int
	OpenTimeout         time.Duration
	HalfOpenMaxRequests int
}

// DefaultBreakerSettings trips at a 50% error rate over at least 10 calls.
var DefaultBreakerSettings = BreakerSettings{
	ErrorThreshold:      0.5,
	MinRequests:         10,
	OpenTimeout:         30 * time.Second,
	HalfOpenMaxRequests: 3,
}

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen             = errors.New("circuit breaker is open")
	ErrHalfOpenTooManyRequests = errors.New("too many requests in half-open")
)

type CircuitBreaker struct {
	mu              sync.Mutex
	settings        BreakerSettings
	state           State
	failures        int
	successes       int
	requests        int
	lastFailureTime time.Time
	now             func() time.Time
	onStateChange   func(from, to State)
}

func NewCircuitBreaker(settings BreakerSettings) *CircuitBreaker {
	if settings.MinRequests <= 0 {
		settings.MinRequests = DefaultBreakerSettings.MinRequests
	}
	if settings.ErrorThreshold <= 0 {
		settings.ErrorThreshold = DefaultBreakerSettings.ErrorThreshold
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = DefaultBreakerSettings.OpenTimeout
	}
	if settings.HalfOpenMaxRequests <= 0 {
		settings.HalfOpenMaxRequests = DefaultBreakerSettings.HalfOpenMaxRequests
	}

	return &CircuitBreaker{
		settings: settings,
		state:    StateClosed,
		now:      time.Now,
	}
}

// OnStateChange registers a callback invoked, under the breaker lock, on every transition.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

func (cb *CircuitBreaker) Call(fn func() error) error {
	if fn == nil {
		return nil
	}

	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) >= cb.settings.OpenTimeout {
			cb.transitionLocked(StateHalfOpen)
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen && cb.requests >= cb.settings.HalfOpenMaxRequests {
		cb.mu.Unlock()
		return ErrHalfOpenTooManyRequests
	}
	cb.mu.Unlock()

	callErr := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++
	if callErr != nil {
		cb.failures++

		if cb.state == StateHalfOpen {
			cb.tripLocked()
		} else {
			cb.evaluateLocked()
		}

		return callErr
	}

	cb.successes++

	if cb.state == StateHalfOpen && cb.successes >= cb.settings.HalfOpenMaxRequests {
		cb.transitionLocked(StateClosed)
	}

	return nil
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) evaluateLocked() {
	if cb.requests < cb.settings.MinRequests {
		return
	}

	errorRate := float64(cb.failures) / float64(cb.requests)
	if errorRate >= cb.settings.ErrorThreshold {
		cb.tripLocked()
	}
}

func (cb *CircuitBreaker) tripLocked() {
	cb.lastFailureTime = cb.now()
	cb.transitionLocked(StateOpen)
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	cb.requests = 0

	if from != to && cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}
