package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/Proton-105/lesson-notifier/internal/domain"
	apperrors "github.com/Proton-105/lesson-notifier/internal/errors"
	"github.com/Proton-105/lesson-notifier/internal/state"
	"github.com/Proton-105/lesson-notifier/internal/store"
	"github.com/Proton-105/lesson-notifier/pkg/metrics"
)

// SelectorStore is the read and claim surface the selector needs.
type SelectorStore interface {
	store.Calendar
	store.Preferences
	store.StatusStore
	store.CursorStore
}

// Claim is the batch reserved for one tick.
type Claim struct {
	Variant    domain.Variant
	Coordinate domain.Coordinate
	ClaimedAt  time.Time
	Recipients []domain.Recipient
	// Eligible counts users that matched a rule before the batch limit was applied.
	Eligible int
	// Conflict is set when the store rejected the claim because a status changed concurrently.
	Conflict bool
}

// Empty reports whether nothing was claimed.
func (c Claim) Empty() bool {
	return len(c.Recipients) == 0
}

type candidate struct {
	recipient domain.Recipient
	status    state.Status
	rule      Rule
}

// Selector computes the eligible set of a variant and claims up to one batch of it.
type Selector struct {
	store  SelectorStore
	policy *PolicyHolder
	now    func() time.Time
	log    *slog.Logger
}

func NewSelector(st SelectorStore, policy *PolicyHolder, now func() time.Time, log *slog.Logger) *Selector {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Selector{store: st, policy: policy, now: now, log: log}
}

// Select resolves the coordinate for variant, evaluates the eligibility rules and marks the
// newest candidates PENDING. The claim is all-or-nothing: when any selected status changed
// after it was read, nothing is written and the returned claim carries no recipients.
func (s *Selector) Select(ctx context.Context, variant domain.Variant) (Claim, error) {
	cursor, err := s.store.Cursor(ctx)
	if err != nil {
		if errors.Is(err, store.ErrCursorNotFound) {
			return Claim{}, apperrors.NewStateError("metadata cursor is not initialised")
		}
		return Claim{}, apperrors.NewDatabaseError(fmt.Errorf("read cursor: %w", err))
	}

	claim := Claim{Variant: variant, Coordinate: variant.Resolve(cursor.Coordinate)}

	attendees, err := s.store.Attendees(ctx, claim.Coordinate)
	if err != nil {
		return claim, apperrors.NewDatabaseError(fmt.Errorf("load attendees: %w", err))
	}
	if len(attendees) == 0 {
		return claim, nil
	}

	optIns, err := s.store.OptIns(ctx, lo.Map(attendees, recipientID))
	if err != nil {
		return claim, apperrors.NewDatabaseError(fmt.Errorf("load preferences: %w", err))
	}
	candidates := lo.Filter(attendees, func(r domain.Recipient, _ int) bool {
		need, ok := optIns[r.UserID]
		return !ok || need
	})
	if len(candidates) == 0 {
		return claim, nil
	}

	statuses, err := s.store.Statuses(ctx, lo.Map(candidates, recipientID))
	if err != nil {
		return claim, apperrors.NewDatabaseError(fmt.Errorf("load statuses: %w", err))
	}

	policy := s.policy.Load()
	now := state.Timestamp(s.now())

	eligible := lo.FilterMap(candidates, func(r domain.Recipient, _ int) (candidate, bool) {
		st, ok := statuses[r.UserID]
		if !ok {
			st = state.NewStatus(r.UserID)
		}
		rule := policy.Classify(st, now)
		return candidate{recipient: r, status: st, rule: rule}, rule != RuleNone
	})
	claim.Eligible = len(eligible)
	if len(eligible) == 0 {
		return claim, nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i].recipient, eligible[j].recipient
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.UserID > b.UserID
	})
	batch := lo.Subset(eligible, 0, uint(policy.BatchSize))

	expected := lo.Map(batch, func(c candidate, _ int) state.Status { return c.status })
	matched, err := s.store.CompareAndPatch(ctx, expected, store.Patch{State: state.StatePending, At: now}, store.ExactCount(len(batch)))
	if err != nil {
		return claim, apperrors.NewDatabaseError(fmt.Errorf("claim batch: %w", err))
	}

	if matched != len(batch) {
		claim.Conflict = true
		metrics.RecordClaimConflict(variant.String())
		s.log.DebugContext(ctx, "batch claim rejected",
			slog.String("variant", variant.String()),
			slog.Int("expected", len(batch)),
			slog.Int("matched", matched),
		)
		return claim, nil
	}

	claim.ClaimedAt = now
	claim.Recipients = lo.Map(batch, func(c candidate, _ int) domain.Recipient { return c.recipient })
	metrics.RecordClaim(variant.String(), len(batch))

	s.log.DebugContext(ctx, "batch claimed",
		slog.String("variant", variant.String()),
		slog.String("coordinate", claim.Coordinate.String()),
		slog.Int("eligible", claim.Eligible),
		slog.Int("claimed", len(batch)),
		slog.Any("rules", lo.CountValuesBy(batch, func(c candidate) Rule { return c.rule })),
	)

	return claim, nil
}

func recipientID(r domain.Recipient, _ int) int64 {
	return r.UserID
}
