// Package metadata advances the global academic cursor once per day.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Proton-105/lesson-notifier/internal/domain"
	apperrors "github.com/Proton-105/lesson-notifier/internal/errors"
	"github.com/Proton-105/lesson-notifier/internal/store"
	"github.com/Proton-105/lesson-notifier/pkg/metrics"
)

// ErrorReporter receives invariant violations.
type ErrorReporter interface {
	Handle(ctx context.Context, err error) (string, bool)
}

type branch struct {
	name    string
	applies func(domain.Coordinate) bool
	next    func(domain.Coordinate) domain.Coordinate
}

// The two branches are mutually exclusive for any day in [1,7].
var branches = []branch{
	{
		name: "increment_day",
		applies: func(c domain.Coordinate) bool {
			return c.DayOfWeek >= 1 && c.DayOfWeek < domain.DaysPerWeek
		},
		next: func(c domain.Coordinate) domain.Coordinate {
			c.DayOfWeek++
			return c
		},
	},
	{
		name: "wrap_week",
		applies: func(c domain.Coordinate) bool {
			return c.DayOfWeek == domain.DaysPerWeek
		},
		next: func(c domain.Coordinate) domain.Coordinate {
			c.DayOfWeek = 1
			c.Week++
			return c
		},
	},
}

// Result describes an applied rollover.
type Result struct {
	Previous domain.Coordinate `json:"previous"`
	Current  domain.Coordinate `json:"current"`
	Branch   string            `json:"branch"`
}

// Rollover moves the cursor to the next day.
type Rollover struct {
	store    store.CursorStore
	reporter ErrorReporter
	retry    apperrors.RetryPolicy
	log      *slog.Logger
}

func NewRollover(st store.CursorStore, reporter ErrorReporter, log *slog.Logger) *Rollover {
	if log == nil {
		log = slog.Default()
	}
	return &Rollover{
		store:    st,
		reporter: reporter,
		retry:    apperrors.DefaultRetryPolicy,
		log:      log.With(slog.String("component", "metadata_rollover")),
	}
}

// Run reads the cursor and issues one guarded write per applicable branch. Exactly one
// write must apply; any other count is reported as a critical invariant violation and
// returned.
func (r *Rollover) Run(ctx context.Context) (Result, error) {
	var cursor domain.Cursor
	err := r.retry.Do(ctx, func() error {
		var err error
		cursor, err = r.store.Cursor(ctx)
		if err != nil && !errors.Is(err, store.ErrCursorNotFound) {
			return apperrors.NewDatabaseError(err)
		}
		return err
	})
	if errors.Is(err, store.ErrCursorNotFound) {
		return Result{}, r.violation(ctx, apperrors.NewMetadataInvariantError("cursor row is missing", err))
	}
	if err != nil {
		return Result{}, fmt.Errorf("read cursor: %w", err)
	}

	result := Result{Previous: cursor.Coordinate}
	applied := 0

	for _, b := range branches {
		if !b.applies(cursor.Coordinate) {
			continue
		}

		next := b.next(cursor.Coordinate)
		n, err := r.store.CompareAndSetCursor(ctx, cursor, next)
		if err != nil {
			return result, apperrors.NewDatabaseError(fmt.Errorf("advance cursor (%s): %w", b.name, err))
		}
		if n > 0 {
			result.Current = next
			result.Branch = b.name
			metrics.RecordRollover(b.name)
		}
		applied += n
	}

	if applied != 1 {
		msg := fmt.Sprintf("cursor %s (version %d): %d updates applied, expected exactly 1",
			cursor.Coordinate, cursor.Version, applied)
		return result, r.violation(ctx, apperrors.NewMetadataInvariantError(msg, nil))
	}

	r.log.InfoContext(ctx, "metadata cursor advanced",
		slog.String("previous", result.Previous.String()),
		slog.String("current", result.Current.String()),
		slog.String("branch", result.Branch),
	)

	return result, nil
}

func (r *Rollover) violation(ctx context.Context, err *apperrors.AppError) error {
	metrics.RecordInvariantViolation()
	if r.reporter != nil {
		r.reporter.Handle(ctx, err)
	} else {
		r.log.ErrorContext(ctx, "metadata invariant violated", slog.Any("error", err))
	}
	return err
}
