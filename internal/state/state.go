// Package state models the per-user notification status lifecycle.
package state

import "time"

// State represents a notification status state.
type State string

const (
	// StateNew is the implicit state of a user without a status record. It is never persisted.
	StateNew State = "NEW"
	// StatePending marks a user claimed by a batch whose delivery outcome is not recorded yet.
	StatePending State = "PENDING"
	// StateSucceeded marks a user whose last delivery was accepted by the push transport.
	StateSucceeded State = "SUCCEEDED"
	// StateFailed marks a user whose last delivery was rejected or timed out.
	StateFailed State = "FAILED"
)

// Persisted lists the states stored in the status table.
var Persisted = []State{StatePending, StateSucceeded, StateFailed}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateNew, StatePending, StateSucceeded, StateFailed:
		return true
	}
	return false
}

func (s State) String() string {
	return string(s)
}

// Status is the notification status of a single user.
// A zero Since together with StateNew means no record exists.
type Status struct {
	UserID int64     `json:"user_id"`
	State  State     `json:"state"`
	Since  time.Time `json:"last_notified_at"`
}

// NewStatus returns the implicit status of a user that was never attempted.
func NewStatus(userID int64) Status {
	return Status{UserID: userID, State: StateNew}
}

// IsNew reports whether the status has no persisted record.
func (s Status) IsNew() bool {
	return s.State == StateNew
}

// Age returns the time elapsed since the last transition.
func (s Status) Age(now time.Time) time.Duration {
	return now.Sub(s.Since)
}

// Matches reports whether two statuses describe the same persisted row version.
func (s Status) Matches(other Status) bool {
	if s.State != other.State {
		return false
	}
	if s.IsNew() {
		return true
	}
	return s.Since.Equal(other.Since)
}

// Timestamp normalises t to the precision kept by the store.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
