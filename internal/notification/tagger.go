package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	apperrors "github.com/Proton-105/lesson-notifier/internal/errors"
	"github.com/Proton-105/lesson-notifier/internal/state"
	"github.com/Proton-105/lesson-notifier/internal/store"
	"github.com/Proton-105/lesson-notifier/pkg/metrics"
)

// ErrorReporter receives errors that must not interrupt a tick.
type ErrorReporter interface {
	Handle(ctx context.Context, err error) (string, bool)
}

// TagResult summarises the two tag-back writes.
type TagResult struct {
	Succeeded        []int64
	Failed           []int64
	SucceededApplied bool
	FailedApplied    bool
}

// Tagger persists delivery outcomes.
type Tagger struct {
	store    store.StatusStore
	reporter ErrorReporter
	now      func() time.Time
	log      *slog.Logger
}

func NewTagger(st store.StatusStore, reporter ErrorReporter, now func() time.Time, log *slog.Logger) *Tagger {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Tagger{store: st, reporter: reporter, now: now, log: log}
}

// Tag moves succeeded recipients to SUCCEEDED and failed ones to FAILED with two
// independent guarded writes. A write whose guard rejects is skipped and its users stay
// PENDING until the stale-pending rule reclaims them. Neither write returns an error to
// the caller.
func (t *Tagger) Tag(ctx context.Context, claim Claim, outcomes []Outcome) TagResult {
	succeeded, failed := lo.FilterReject(outcomes, func(o Outcome, _ int) bool { return o.Succeeded() })

	result := TagResult{
		Succeeded: lo.Map(succeeded, outcomeID),
		Failed:    lo.Map(failed, outcomeID),
	}

	now := state.Timestamp(t.now())
	if now.Before(claim.ClaimedAt) {
		now = claim.ClaimedAt
	}

	result.SucceededApplied = t.apply(ctx, claim, result.Succeeded, state.StateSucceeded, now)
	result.FailedApplied = t.apply(ctx, claim, result.Failed, state.StateFailed, now)

	return result
}

func (t *Tagger) apply(ctx context.Context, claim Claim, ids []int64, target state.State, at time.Time) bool {
	if len(ids) == 0 {
		return false
	}

	expected := lo.Map(ids, func(id int64, _ int) state.Status {
		return state.Status{UserID: id, State: state.StatePending, Since: claim.ClaimedAt}
	})

	matched, err := t.store.CompareAndPatch(ctx, expected, store.Patch{State: target, At: at}, store.ExactCount(len(ids)))
	if err != nil {
		t.report(ctx, apperrors.NewDatabaseError(fmt.Errorf("tag %s: %w", target, err)))
		return false
	}

	if matched != len(ids) {
		metrics.RecordTagConflict(target.String())
		t.report(ctx, apperrors.NewTagConflictError(target.String(), len(ids), matched))
		return false
	}

	return true
}

func (t *Tagger) report(ctx context.Context, err error) {
	if t.reporter != nil {
		t.reporter.Handle(ctx, err)
		return
	}
	t.log.WarnContext(ctx, "tag write skipped", slog.Any("error", err))
}

func outcomeID(o Outcome, _ int) int64 {
	return o.Recipient.UserID
}
