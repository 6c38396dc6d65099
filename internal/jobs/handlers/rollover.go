package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/lesson-notifier/internal/metadata"
)

// RolloverRunner advances the metadata cursor.
type RolloverRunner interface {
	Run(ctx context.Context) (metadata.Result, error)
}

type MetadataRolloverHandler struct {
	runner RolloverRunner
	log    *slog.Logger
}

func NewMetadataRolloverHandler(runner RolloverRunner, log *slog.Logger) *MetadataRolloverHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MetadataRolloverHandler{runner: runner, log: log}
}

// ProcessTask never asks for a retry; the runner already reported the failure.
func (h *MetadataRolloverHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	result, err := h.runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	h.log.DebugContext(ctx, "metadata rollover: done", slog.String("branch", result.Branch))
	return nil
}
