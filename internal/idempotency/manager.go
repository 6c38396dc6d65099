// Package idempotency replays the stored outcome of an operation that was already
// executed under the same key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrRequestInProgress is returned while another caller executes the same key.
var ErrRequestInProgress = errors.New("request with this key is already in progress")

// DefaultLockTTL bounds how long a crashed executor can block a key.
const DefaultLockTTL = 5 * time.Minute

type Operation func(ctx context.Context) (any, error)

type Result struct {
	Response  json.RawMessage
	FromCache bool
}

type Manager interface {
	Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error)
}

type manager struct {
	store   Store
	lockTTL time.Duration
	log     *slog.Logger
}

func NewManager(store Store, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		store:   store,
		lockTTL: DefaultLockTTL,
		log:     log,
	}
}

// Execute runs fn once per key within ttl. Failed operations are not recorded, so a
// retry with the same key runs fn again.
func (m *manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	record, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if cached, ok := completed(record); ok {
		return cached, nil
	}

	locked, err := m.store.Lock(ctx, key, m.lockTTL)
	if err != nil {
		return nil, err
	}
	if !locked {
		// The holder may have finished between Get and Lock.
		record, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if cached, ok := completed(record); ok {
			return cached, nil
		}
		return nil, ErrRequestInProgress
	}

	defer func() {
		if err := m.store.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
			m.log.Warn("idempotency lock not released", slog.String("key", key), slog.Any("error", err))
		}
	}()

	result, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	response, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode idempotent response: %w", err)
	}

	if err := m.store.Set(ctx, key, &Record{Status: StatusCompleted, Response: response}, ttl); err != nil {
		return nil, err
	}

	return &Result{Response: response}, nil
}

func completed(record *Record) (*Result, bool) {
	if record == nil || record.Status != StatusCompleted {
		return nil, false
	}
	return &Result{Response: record.Response, FromCache: true}, true
}

// GenerateKey builds a deterministic key using all provided parts.
func GenerateKey(parts ...any) string {
	h := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%v:", part)
	}

	return hex.EncodeToString(h.Sum(nil))
}
