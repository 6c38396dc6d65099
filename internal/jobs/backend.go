package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"github.com/Proton-105/lesson-notifier/pkg/config"
	"github.com/Proton-105/lesson-notifier/pkg/logger"
)

// Backend fires the daily triggers and runs their handlers.
type Backend interface {
	RegisterHandler(taskType string, handler asynq.Handler)
	RegisterTasks(entries []Entry) error
	Run() error
	Shutdown()
}

type asynqBackend struct {
	Scheduler
	Worker
}

// NewAsynqBackend distributes triggers through Redis: the scheduler enqueues unique tasks
// and the worker of any replica processes them.
func NewAsynqBackend(redisOpt asynq.RedisConnOpt, loc *time.Location, concurrency int, log *slog.Logger) Backend {
	return &asynqBackend{
		Scheduler: NewScheduler(redisOpt, loc, log),
		Worker:    NewWorker(redisOpt, concurrency, log),
	}
}

func (b *asynqBackend) Run() error {
	if err := b.Worker.Run(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	if err := b.Scheduler.Run(); err != nil {
		b.Worker.Shutdown()
		return fmt.Errorf("start scheduler: %w", err)
	}
	return nil
}

func (b *asynqBackend) Shutdown() {
	b.Scheduler.Shutdown()
	b.Worker.Shutdown()
}

type cronBackend struct {
	cron *cron.Cron
	mux  *asynq.ServeMux
	log  *slog.Logger
}

// NewCronBackend fires triggers in process and hands the tasks straight to their handlers.
func NewCronBackend(loc *time.Location, log *slog.Logger) Backend {
	if log == nil {
		log = slog.Default()
	}
	return &cronBackend{
		cron: cron.New(cron.WithParser(config.CronParser), cron.WithLocation(loc)),
		mux:  asynq.NewServeMux(),
		log:  log,
	}
}

func (b *cronBackend) RegisterHandler(taskType string, handler asynq.Handler) {
	b.mux.Handle(taskType, handler)
}

func (b *cronBackend) RegisterTasks(entries []Entry) error {
	for _, entry := range entries {
		entry := entry
		if _, err := b.cron.AddFunc(entry.Spec, func() { b.fire(entry) }); err != nil {
			return fmt.Errorf("register cron entry %q: %w", entry.Spec, err)
		}
	}
	return nil
}

func (b *cronBackend) fire(entry Entry) {
	task, err := entry.Task()
	if err != nil {
		b.log.Error("cron: build task", slog.String("spec", entry.Spec), slog.Any("error", err))
		return
	}

	ctx := logger.WithCorrelationID(context.Background(), "")
	if err := b.mux.ProcessTask(ctx, task); err != nil {
		b.log.ErrorContext(ctx, "cron: task failed",
			slog.String("task_type", task.Type()),
			slog.Any("error", err),
		)
	}
}

func (b *cronBackend) Run() error {
	b.log.Info("cron: starting", slog.Int("entries", len(b.cron.Entries())))
	b.cron.Start()
	return nil
}

func (b *cronBackend) Shutdown() {
	<-b.cron.Stop().Done()
}
