// Package admin serves the operator HTTP API: manual triggers, ticker inspection and probes.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/lesson-notifier/internal/domain"
	apperrors "github.com/Proton-105/lesson-notifier/internal/errors"
	"github.com/Proton-105/lesson-notifier/internal/jobs"
	"github.com/Proton-105/lesson-notifier/internal/lease"
	"github.com/Proton-105/lesson-notifier/internal/lifecycle"
	"github.com/Proton-105/lesson-notifier/internal/metadata"
	"github.com/Proton-105/lesson-notifier/internal/scheduler"
)

// TickerService starts and inspects the per-variant tickers.
type TickerService interface {
	Trigger(ctx context.Context, variant domain.Variant) (scheduler.Snapshot, error)
	Snapshots() []scheduler.Snapshot
}

// RolloverRunner advances the metadata cursor.
type RolloverRunner interface {
	Run(ctx context.Context) (metadata.Result, error)
}

// Enqueuer hands tasks to the distributed queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type handlers struct {
	tickers  TickerService
	rollover RolloverRunner
	queue    Enqueuer
	probes   lifecycle.HealthChecker
	log      *slog.Logger
}

type statusResponse struct {
	Status string `json:"status"`
}

type triggerResponse struct {
	Status string             `json:"status"`
	Ticker scheduler.Snapshot `json:"ticker"`
}

type enqueueResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

type rolloverResponse struct {
	Status string          `json:"status"`
	Result metadata.Result `json:"result"`
}

// variantParam reads ?variant=, defaulting to the evening trigger.
func variantParam(r *http.Request) (domain.Variant, error) {
	raw := r.URL.Query().Get("variant")
	if raw == "" {
		return domain.VariantEvening, nil
	}
	v, err := domain.ParseVariant(raw)
	if err != nil {
		return "", apperrors.NewValidationError(err.Error())
	}
	return v, nil
}

func (h *handlers) trigger(w http.ResponseWriter, r *http.Request) {
	variant, err := variantParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	snap, err := h.tickers.Trigger(r.Context(), variant)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.log.InfoContext(r.Context(), "manual trigger accepted",
		slog.String("variant", variant.String()),
		slog.String("ticker_state", string(snap.State)),
	)
	writeJSON(w, http.StatusOK, triggerResponse{Status: "success", Ticker: snap})
}

func (h *handlers) enqueue(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeError(w, http.StatusNotImplemented, "task queue is not enabled")
		return
	}

	variant, err := variantParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	task, err := jobs.NewLessonNotifyTask(variant)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	info, err := h.queue.Enqueue(r.Context(), task)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, enqueueResponse{Status: "success", TaskID: info.ID, Queue: info.Queue})
}

func (h *handlers) runRollover(w http.ResponseWriter, r *http.Request) {
	result, err := h.rollover.Run(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rolloverResponse{Status: "success", Result: result})
}

func (h *handlers) listTickers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tickers.Snapshots())
}

func (h *handlers) livez(w http.ResponseWriter, r *http.Request) {
	if err := h.probes.Liveness(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	report, err := h.probes.Readiness(r.Context())
	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "admin request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	writeError(w, status, msg)
}

func classify(err error) (int, string) {
	var appErr *apperrors.AppError
	switch {
	case errors.Is(err, lease.ErrNotAcquired):
		return http.StatusConflict, "ticker is running on another replica"
	case errors.Is(err, scheduler.ErrClosed):
		return http.StatusServiceUnavailable, err.Error()
	case errors.As(err, &appErr):
		msg := appErr.UserMessage
		if msg == "" {
			msg = appErr.Message
		}
		switch appErr.Code {
		case apperrors.CodeValidation:
			return http.StatusBadRequest, appErr.Message
		case apperrors.CodeState:
			return http.StatusConflict, msg
		case apperrors.CodeRateLimit:
			return http.StatusTooManyRequests, msg
		case apperrors.CodeDatabase:
			return http.StatusServiceUnavailable, msg
		}
		return http.StatusInternalServerError, msg
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
