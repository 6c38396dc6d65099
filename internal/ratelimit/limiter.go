// Package ratelimit throttles operator-initiated actions with sliding windows.
package ratelimit

import (
	"context"
	"math"
	"time"

	apperrors "github.com/Proton-105/lesson-notifier/internal/errors"
)

// Result captures the outcome of a rate-limit evaluation.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter describes a rate-limiting strategy. A denied request is reported through
// Result.Allowed, not through the error.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Enforce evaluates rule for key and converts a denial into a rate limit AppError.
func Enforce(ctx context.Context, l Limiter, key string, rule Rule) (*Result, error) {
	result, err := l.Check(ctx, key, rule.Limit, rule.Window)
	if err != nil {
		return nil, err
	}

	if !result.Allowed {
		retryAfter := int(math.Ceil(time.Until(result.ResetAt).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return result, apperrors.NewRateLimitError(retryAfter)
	}

	return result, nil
}
