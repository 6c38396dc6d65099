// Package memory provides an in-process implementation of the store contracts.
// It backs the engine tests and the `memory` storage driver.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Proton-105/lesson-notifier/internal/domain"
	"github.com/Proton-105/lesson-notifier/internal/state"
	"github.com/Proton-105/lesson-notifier/internal/store"
)

// Store keeps users, lessons, preferences, statuses and the cursor in maps.
type Store struct {
	mu        sync.Mutex
	users     map[int64]domain.Recipient
	optIns    map[int64]*bool
	lessons   map[domain.Coordinate]map[int64]struct{}
	statuses  map[int64]state.Status
	cursor    *domain.Cursor
	writeHook func()
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:    make(map[int64]domain.Recipient),
		optIns:   make(map[int64]*bool),
		lessons:  make(map[domain.Coordinate]map[int64]struct{}),
		statuses: make(map[int64]state.Status),
	}
}

// AddUser registers a user.
func (s *Store) AddUser(r domain.Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[r.UserID] = r
}

// DeleteUser removes a user together with its lessons, settings and status.
func (s *Store) DeleteUser(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, userID)
	delete(s.optIns, userID)
	delete(s.statuses, userID)
	for _, attendees := range s.lessons {
		delete(attendees, userID)
	}
}

// SetNeedNotifications stores a settings record. A nil value records an unset flag.
func (s *Store) SetNeedNotifications(userID int64, need *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optIns[userID] = need
}

// AddLesson schedules a lesson for userID at coord.
func (s *Store) AddLesson(userID int64, coord domain.Coordinate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attendees, ok := s.lessons[coord]
	if !ok {
		attendees = make(map[int64]struct{})
		s.lessons[coord] = attendees
	}
	attendees[userID] = struct{}{}
}

// PutStatus overwrites the stored status of a user.
func (s *Store) PutStatus(st state.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.IsNew() {
		delete(s.statuses, st.UserID)
		return
	}
	st.Since = state.Timestamp(st.Since)
	s.statuses[st.UserID] = st
}

// Status returns the current status of a user, NEW when no record exists.
func (s *Store) Status(userID int64) state.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(userID)
}

// SetCursor overwrites the cursor.
func (s *Store) SetCursor(c domain.Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = &c
}

// SetWriteHook registers fn to run before every compare-and-patch, outside the lock.
// Tests use it to interleave concurrent writers.
func (s *Store) SetWriteHook(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeHook = fn
}

// Attendees implements store.Calendar.
func (s *Store) Attendees(ctx context.Context, coord domain.Coordinate) ([]domain.Recipient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.Recipient, 0, len(s.lessons[coord]))
	for userID := range s.lessons[coord] {
		if user, ok := s.users[userID]; ok {
			result = append(result, user)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })

	return result, nil
}

// OptIns implements store.Preferences.
func (s *Store) OptIns(ctx context.Context, userIDs []int64) (map[int64]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[int64]bool)
	for _, id := range userIDs {
		need, ok := s.optIns[id]
		if !ok || need == nil {
			continue
		}
		result[id] = *need
	}

	return result, nil
}

// Statuses implements store.StatusStore.
func (s *Store) Statuses(ctx context.Context, userIDs []int64) (map[int64]state.Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[int64]state.Status)
	for _, id := range userIDs {
		if st, ok := s.statuses[id]; ok {
			result[id] = st
		}
	}

	return result, nil
}

// CompareAndPatch implements store.StatusStore.
func (s *Store) CompareAndPatch(ctx context.Context, expected []state.Status, patch store.Patch, guard store.Guard) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	hook := s.writeHook
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]int64, 0, len(expected))
	for _, exp := range expected {
		if _, ok := s.users[exp.UserID]; !ok {
			continue
		}
		current := s.statusLocked(exp.UserID)
		if !current.Matches(exp) || !state.IsTransitionAllowed(current.State, patch.State) {
			continue
		}
		matched = append(matched, exp.UserID)
	}

	if guard != nil && !guard(len(matched)) {
		return len(matched), nil
	}

	at := state.Timestamp(patch.At)
	for _, id := range matched {
		s.statuses[id] = state.Status{UserID: id, State: patch.State, Since: at}
	}

	return len(matched), nil
}

// CountByState implements store.StatusStore.
func (s *Store) CountByState(ctx context.Context) (map[state.State]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[state.State]int, len(state.Persisted))
	for _, st := range s.statuses {
		counts[st.State]++
	}

	return counts, nil
}

// Cursor implements store.CursorStore.
func (s *Store) Cursor(ctx context.Context) (domain.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cursor{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor == nil {
		return domain.Cursor{}, store.ErrCursorNotFound
	}
	return *s.cursor, nil
}

// CompareAndSetCursor implements store.CursorStore.
func (s *Store) CompareAndSetCursor(ctx context.Context, expected domain.Cursor, next domain.Coordinate) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor == nil || s.cursor.Version != expected.Version || s.cursor.DayOfWeek != expected.DayOfWeek {
		return 0, nil
	}

	s.cursor = &domain.Cursor{Coordinate: next, Version: expected.Version + 1}
	return 1, nil
}

// HealthCheck always succeeds.
func (s *Store) HealthCheck(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) statusLocked(userID int64) state.Status {
	if st, ok := s.statuses[userID]; ok {
		return st
	}
	return state.NewStatus(userID)
}
