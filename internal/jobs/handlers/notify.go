// Package handlers processes the trigger tasks fired by the job backends.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/lesson-notifier/internal/domain"
	"github.com/Proton-105/lesson-notifier/internal/jobs"
	"github.com/Proton-105/lesson-notifier/internal/lease"
	"github.com/Proton-105/lesson-notifier/internal/scheduler"
)

// Triggerer starts a variant's ticker.
type Triggerer interface {
	Trigger(ctx context.Context, variant domain.Variant) (scheduler.Snapshot, error)
}

type LessonNotifyHandler struct {
	triggerer Triggerer
	log       *slog.Logger
}

func NewLessonNotifyHandler(triggerer Triggerer, log *slog.Logger) *LessonNotifyHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LessonNotifyHandler{triggerer: triggerer, log: log}
}

func (h *LessonNotifyHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := jobs.ParseLessonNotifyPayload(t)
	if err != nil {
		h.log.ErrorContext(ctx, "lesson notify: invalid payload", slog.String("task_type", t.Type()), slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	snap, err := h.triggerer.Trigger(ctx, payload.Variant)
	if errors.Is(err, lease.ErrNotAcquired) {
		h.log.InfoContext(ctx, "lesson notify: ticker runs on another replica", slog.String("variant", payload.Variant.String()))
		return nil
	}
	if err != nil {
		return err
	}

	h.log.InfoContext(ctx, "lesson notify: triggered",
		slog.String("ticker", snap.Name),
		slog.String("state", string(snap.State)),
	)
	return nil
}
