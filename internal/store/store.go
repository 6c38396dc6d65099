// Package store defines the persistence contracts of the notification engine.
//
// Every write is an optimistic compare-and-patch: the caller states the exact row
// versions it observed, the store counts how many still match, and the patch is
// committed only when the guard accepts that count.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Proton-105/lesson-notifier/internal/domain"
	"github.com/Proton-105/lesson-notifier/internal/state"
)

// ErrCursorNotFound indicates that the metadata cursor row is missing.
var ErrCursorNotFound = errors.New("metadata cursor not found")

// Guard decides whether a compare-and-patch may commit given the matched row count.
type Guard func(matched int) bool

// ExactCount accepts the patch only when every expected row matched.
func ExactCount(n int) Guard {
	return func(matched int) bool {
		return n > 0 && matched == n
	}
}

// Patch is the status every matched row is moved to.
type Patch struct {
	State state.State
	At    time.Time
}

// Calendar answers which users have a lesson at a coordinate.
type Calendar interface {
	Attendees(ctx context.Context, coord domain.Coordinate) ([]domain.Recipient, error)
}

// Preferences exposes the needNotifications flag. Users absent from the result are opted in.
type Preferences interface {
	OptIns(ctx context.Context, userIDs []int64) (map[int64]bool, error)
}

// StatusStore persists per-user notification statuses.
type StatusStore interface {
	// Statuses returns the stored statuses; users without a row are omitted.
	Statuses(ctx context.Context, userIDs []int64) (map[int64]state.Status, error)
	// CompareAndPatch moves every expected status to patch when guard accepts the matched count.
	CompareAndPatch(ctx context.Context, expected []state.Status, patch Patch, guard Guard) (int, error)
	// CountByState returns the number of stored rows per state.
	CountByState(ctx context.Context) (map[state.State]int, error)
}

// CursorStore persists the global metadata cursor.
type CursorStore interface {
	Cursor(ctx context.Context) (domain.Cursor, error)
	// CompareAndSetCursor replaces the cursor when both version and day of week still match expected.
	CompareAndSetCursor(ctx context.Context, expected domain.Cursor, next domain.Coordinate) (int, error)
}

// Store bundles every contract implemented by a backend.
type Store interface {
	Calendar
	Preferences
	StatusStore
	CursorStore
	HealthCheck(ctx context.Context) error
	Close() error
}
