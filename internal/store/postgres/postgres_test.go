package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/lesson-notifier/internal/database"
	"github.com/Proton-105/lesson-notifier/internal/domain"
	"github.com/Proton-105/lesson-notifier/internal/state"
	"github.com/Proton-105/lesson-notifier/internal/store"
	"github.com/Proton-105/lesson-notifier/migrations"
)

// testDSNEnv names a disposable database; its tables are truncated by every test.
const testDSNEnv = "NOTIFIER_TEST_DATABASE_DSN"

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()

	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s is not set", testDSNEnv)
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, database.NewMigrator(db, nil).ApplyFS(ctx, migrations.FS, "."))

	_, err = db.ExecContext(ctx, `TRUNCATE users, metadata_cursor RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return New(db, nil), db
}

func insertUsers(t *testing.T, db *sql.DB, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, err := db.Exec(`INSERT INTO users (id, push_address) VALUES ($1, $2)`, id, "addr")
		require.NoError(t, err)
	}
}

func insertStatus(t *testing.T, db *sql.DB, id int64, st state.State, at time.Time) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO notification_status (user_id, state, last_notified_at) VALUES ($1, $2, $3)`,
		id, string(st), state.Timestamp(at))
	require.NoError(t, err)
}

func loadStatus(t *testing.T, s *Store, id int64) (state.Status, bool) {
	t.Helper()
	statuses, err := s.Statuses(context.Background(), []int64{id})
	require.NoError(t, err)
	st, ok := statuses[id]
	return st, ok
}

func TestCompareAndPatch_ClaimsNewUsersAndRoundTripsTimestamp(t *testing.T) {
	s, db := newTestStore(t)
	insertUsers(t, db, 1, 2)

	ctx := context.Background()
	at := time.Date(2025, 10, 4, 22, 0, 0, 123456789, time.FixedZone("MSK", 3*60*60))

	matched, err := s.CompareAndPatch(ctx,
		[]state.Status{state.NewStatus(1), state.NewStatus(2)},
		store.Patch{State: state.StatePending, At: at},
		store.ExactCount(2),
	)
	require.NoError(t, err)
	assert.Equal(t, 2, matched)

	claimed, ok := loadStatus(t, s, 1)
	require.True(t, ok)
	assert.Equal(t, state.StatePending, claimed.State)
	assert.True(t, state.Timestamp(at).Equal(claimed.Since), "stored %s", claimed.Since)

	// The value read back must match the stored one exactly for the next CAS.
	matched, err = s.CompareAndPatch(ctx,
		[]state.Status{claimed},
		store.Patch{State: state.StateSucceeded, At: at.Add(time.Second)},
		store.ExactCount(1),
	)
	require.NoError(t, err)
	assert.Equal(t, 1, matched)

	tagged, ok := loadStatus(t, s, 1)
	require.True(t, ok)
	assert.Equal(t, state.StateSucceeded, tagged.State)
}

func TestCompareAndPatch_GuardRejectionRollsBack(t *testing.T) {
	s, db := newTestStore(t)
	insertUsers(t, db, 1, 2)

	ctx := context.Background()
	at := time.Date(2025, 10, 4, 8, 0, 0, 0, time.UTC)

	// User 3 does not exist, so only two of three rows match.
	matched, err := s.CompareAndPatch(ctx,
		[]state.Status{state.NewStatus(1), state.NewStatus(2), state.NewStatus(3)},
		store.Patch{State: state.StatePending, At: at},
		store.ExactCount(3),
	)
	require.NoError(t, err)
	assert.Equal(t, 2, matched)

	for _, id := range []int64{1, 2, 3} {
		_, ok := loadStatus(t, s, id)
		assert.False(t, ok, "user %d must stay NEW", id)
	}
}

func TestCompareAndPatch_MismatchesDoNotMatch(t *testing.T) {
	at := time.Date(2025, 10, 4, 8, 0, 0, 500, time.UTC)

	tests := []struct {
		name     string
		stored   state.State
		expected state.Status
		patch    state.State
	}{
		{
			name:     "transition not allowed",
			stored:   state.StateSucceeded,
			expected: state.Status{UserID: 1, State: state.StateSucceeded, Since: at},
			patch:    state.StateFailed,
		},
		{
			name:     "stale since",
			stored:   state.StatePending,
			expected: state.Status{UserID: 1, State: state.StatePending, Since: at.Add(time.Microsecond)},
			patch:    state.StateSucceeded,
		},
		{
			name:     "stale state",
			stored:   state.StateFailed,
			expected: state.Status{UserID: 1, State: state.StatePending, Since: at},
			patch:    state.StateSucceeded,
		},
		{
			name:     "row already exists for new user",
			stored:   state.StatePending,
			expected: state.NewStatus(1),
			patch:    state.StatePending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, db := newTestStore(t)
			insertUsers(t, db, 1)
			insertStatus(t, db, 1, tt.stored, at)

			matched, err := s.CompareAndPatch(context.Background(),
				[]state.Status{tt.expected},
				store.Patch{State: tt.patch, At: at.Add(time.Minute)},
				nil,
			)
			require.NoError(t, err)
			assert.Equal(t, 0, matched)

			st, ok := loadStatus(t, s, 1)
			require.True(t, ok)
			assert.Equal(t, tt.stored, st.State)
			assert.True(t, state.Timestamp(at).Equal(st.Since))
		})
	}
}

func TestCompareAndSetCursor(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	_, err := s.Cursor(ctx)
	assert.ErrorIs(t, err, store.ErrCursorNotFound)

	_, err = db.Exec(`INSERT INTO metadata_cursor (id, start_year, end_year, semester, week, day_of_week, version)
		VALUES (1, 2025, 2026, 1, 5, 6, 1)`)
	require.NoError(t, err)

	current, err := s.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Cursor{
		Coordinate: domain.Coordinate{StartYear: 2025, EndYear: 2026, Semester: 1, Week: 5, DayOfWeek: 6},
		Version:    1,
	}, current)

	next := current.Coordinate
	next.DayOfWeek = 7

	applied, err := s.CompareAndSetCursor(ctx, current, next)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	// A second rollover from the same snapshot is stale.
	applied, err = s.CompareAndSetCursor(ctx, current, next)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	updated, err := s.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, next, updated.Coordinate)
}
