// Package postgres implements the store contracts on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Proton-105/lesson-notifier/internal/domain"
	"github.com/Proton-105/lesson-notifier/internal/state"
	"github.com/Proton-105/lesson-notifier/internal/store"
)

const cursorID = 1

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an open database handle.
func New(db *sql.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}

	return &Store{db: db, log: log}
}

// Attendees returns every user with a lesson occurrence at coord.
func (s *Store) Attendees(ctx context.Context, coord domain.Coordinate) ([]domain.Recipient, error) {
	const query = `
		SELECT DISTINCT u.id, u.push_address, u.locale, u.created_at
		FROM lesson_occurrences l
		JOIN users u ON u.id = l.user_id
		WHERE l.start_year = $1
		  AND l.end_year = $2
		  AND l.semester = $3
		  AND l.week = $4
		  AND l.day_of_week = $5
	`

	rows, err := s.db.QueryContext(ctx, query, coord.StartYear, coord.EndYear, coord.Semester, coord.Week, coord.DayOfWeek)
	if err != nil {
		s.log.Error("failed to query lesson attendees", slog.String("coordinate", coord.String()), slog.Any("error", err))
		return nil, fmt.Errorf("select attendees: %w", err)
	}
	defer rows.Close()

	var result []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		if err := rows.Scan(&r.UserID, &r.PushAddress, &r.Locale, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attendee: %w", err)
		}
		result = append(result, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendees: %w", err)
	}

	return result, nil
}

// OptIns returns the needNotifications flags that are explicitly set.
func (s *Store) OptIns(ctx context.Context, userIDs []int64) (map[int64]bool, error) {
	const query = `
		SELECT user_id, need_notifications
		FROM notification_settings
		WHERE user_id = ANY($1) AND need_notifications IS NOT NULL
	`

	result := make(map[int64]bool)
	if len(userIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, query, pq.Array(userIDs))
	if err != nil {
		s.log.Error("failed to query notification settings", slog.Int("users", len(userIDs)), slog.Any("error", err))
		return nil, fmt.Errorf("select notification settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			userID int64
			need   bool
		)
		if err := rows.Scan(&userID, &need); err != nil {
			return nil, fmt.Errorf("scan notification settings: %w", err)
		}
		result[userID] = need
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification settings: %w", err)
	}

	return result, nil
}

// Statuses returns stored statuses for userIDs.
func (s *Store) Statuses(ctx context.Context, userIDs []int64) (map[int64]state.Status, error) {
	const query = `
		SELECT user_id, state, last_notified_at
		FROM notification_status
		WHERE user_id = ANY($1)
	`

	result := make(map[int64]state.Status)
	if len(userIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, query, pq.Array(userIDs))
	if err != nil {
		s.log.Error("failed to query notification statuses", slog.Int("users", len(userIDs)), slog.Any("error", err))
		return nil, fmt.Errorf("select notification statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			st    state.Status
			raw   string
			since time.Time
		)
		if err := rows.Scan(&st.UserID, &raw, &since); err != nil {
			return nil, fmt.Errorf("scan notification status: %w", err)
		}
		st.State = state.State(raw)
		st.Since = state.Timestamp(since)
		result[st.UserID] = st
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification statuses: %w", err)
	}

	return result, nil
}

// CompareAndPatch applies patch to every expected row inside one transaction and
// commits only when guard accepts the matched count.
func (s *Store) CompareAndPatch(ctx context.Context, expected []state.Status, patch store.Patch, guard store.Guard) (int, error) {
	const (
		insertQuery = `
			INSERT INTO notification_status (user_id, state, last_notified_at)
			SELECT $1::bigint, $2::text, $3::timestamptz
			WHERE EXISTS (SELECT 1 FROM users WHERE id = $1)
			ON CONFLICT (user_id) DO NOTHING
		`
		updateQuery = `
			UPDATE notification_status
			SET state = $2, last_notified_at = $3
			WHERE user_id = $1 AND state = $4 AND last_notified_at = $5
		`
	)

	if len(expected) == 0 {
		return 0, nil
	}

	at := state.Timestamp(patch.At)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin status patch: %w", err)
	}

	matched := 0
	for _, exp := range expected {
		if !state.IsTransitionAllowed(exp.State, patch.State) {
			continue
		}

		var res sql.Result
		if exp.IsNew() {
			res, err = tx.ExecContext(ctx, insertQuery, exp.UserID, string(patch.State), at)
		} else {
			res, err = tx.ExecContext(ctx, updateQuery, exp.UserID, string(patch.State), at, string(exp.State), state.Timestamp(exp.Since))
		}
		if err != nil {
			s.rollback(tx)
			s.log.Error("failed to patch notification status",
				slog.Int64("user_id", exp.UserID),
				slog.String("to", string(patch.State)),
				slog.Any("error", err),
			)
			return 0, fmt.Errorf("patch notification status: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			s.rollback(tx)
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		matched += int(affected)
	}

	if guard != nil && !guard(matched) {
		s.rollback(tx)
		return matched, nil
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit status patch: %w", err)
	}

	return matched, nil
}

// CountByState aggregates stored statuses.
func (s *Store) CountByState(ctx context.Context) (map[state.State]int, error) {
	const query = `SELECT state, COUNT(*) FROM notification_status GROUP BY state`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count notification statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[state.State]int)
	for rows.Next() {
		var (
			raw   string
			count int
		)
		if err := rows.Scan(&raw, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[state.State(raw)] = count
	}

	return counts, rows.Err()
}

// Cursor reads the metadata cursor.
func (s *Store) Cursor(ctx context.Context) (domain.Cursor, error) {
	const query = `
		SELECT start_year, end_year, semester, week, day_of_week, version
		FROM metadata_cursor
		WHERE id = $1
	`

	var c domain.Cursor
	err := s.db.QueryRowContext(ctx, query, cursorID).Scan(
		&c.StartYear,
		&c.EndYear,
		&c.Semester,
		&c.Week,
		&c.DayOfWeek,
		&c.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cursor{}, store.ErrCursorNotFound
		}
		s.log.Error("failed to read metadata cursor", slog.Any("error", err))
		return domain.Cursor{}, fmt.Errorf("select metadata cursor: %w", err)
	}

	return c, nil
}

// CompareAndSetCursor replaces the cursor guarded by version and day of week.
func (s *Store) CompareAndSetCursor(ctx context.Context, expected domain.Cursor, next domain.Coordinate) (int, error) {
	const query = `
		UPDATE metadata_cursor
		SET start_year = $1, end_year = $2, semester = $3, week = $4, day_of_week = $5,
		    version = version + 1, updated_at = NOW()
		WHERE id = $6 AND version = $7 AND day_of_week = $8
	`

	res, err := s.db.ExecContext(ctx, query,
		next.StartYear,
		next.EndYear,
		next.Semester,
		next.Week,
		next.DayOfWeek,
		cursorID,
		expected.Version,
		expected.DayOfWeek,
	)
	if err != nil {
		s.log.Error("failed to update metadata cursor", slog.Any("error", err))
		return 0, fmt.Errorf("update metadata cursor: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return int(affected), nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.log.Error("rollback error", slog.Any("error", err))
	}
}
