package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// WorkerShutdownTimeout bounds how long in-flight trigger tasks may run after Shutdown.
const WorkerShutdownTimeout = 10 * time.Second

// Worker processes trigger tasks pulled from the queues.
type Worker interface {
	RegisterHandler(taskType string, handler asynq.Handler)
	Run() error
	Shutdown()
}

type worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *slog.Logger
}

var _ Worker = (*worker)(nil)

// NewWorker builds an asynq server over Queues. Internal asynq logs go through log.
func NewWorker(redisOpt asynq.RedisConnOpt, concurrency int, log *slog.Logger) Worker {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "jobs_worker"))

	server := asynq.NewServer(redisOpt, asynq.Config{
		Queues:          Queues,
		Concurrency:     concurrency,
		ShutdownTimeout: WorkerShutdownTimeout,
		Logger:          slogAdapter{log: log},
		LogLevel:        asynq.WarnLevel,
		ErrorHandler:    asynq.ErrorHandlerFunc(taskFailed(log)),
	})

	return &worker{
		server: server,
		mux:    asynq.NewServeMux(),
		log:    log,
	}
}

// taskFailed logs failures; the last attempt of a task is logged at error level.
func taskFailed(log *slog.Logger) func(ctx context.Context, task *asynq.Task, err error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		level := slog.LevelWarn
		if retried >= maxRetry {
			level = slog.LevelError
		}

		log.LogAttrs(ctx, level, "trigger task failed",
			slog.String("task_type", task.Type()),
			slog.Int("retried", retried),
			slog.Int("max_retry", maxRetry),
			slog.Any("error", err),
		)
	}
}

func (w *worker) RegisterHandler(taskType string, handler asynq.Handler) {
	w.mux.Handle(taskType, handler)
}

// Run starts processing in the background.
func (w *worker) Run() error {
	w.log.Info("processing trigger tasks", slog.Any("queues", Queues))
	return w.server.Start(w.mux)
}

// Shutdown stops fetching tasks and waits for the running ones.
func (w *worker) Shutdown() {
	w.log.Info("stopping trigger worker")
	w.server.Shutdown()
}

// slogAdapter implements asynq.Logger.
type slogAdapter struct {
	log *slog.Logger
}

func (a slogAdapter) Debug(args ...any) { a.log.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...any)  { a.log.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...any)  { a.log.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...any) { a.log.Error(fmt.Sprint(args...)) }
func (a slogAdapter) Fatal(args ...any) { a.log.Error(fmt.Sprint(args...), slog.Bool("fatal", true)) }
