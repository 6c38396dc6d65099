package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/lesson-notifier/internal/domain"
	"github.com/Proton-105/lesson-notifier/pkg/config"
)

// Entry is one daily trigger.
type Entry struct {
	Spec string
	Task func() (*asynq.Task, error)
}

// Entries builds the morning, evening and rollover triggers from the scheduler config.
func Entries(cfg config.SchedulerConfig) []Entry {
	notify := func(v domain.Variant) func() (*asynq.Task, error) {
		return func() (*asynq.Task, error) { return NewLessonNotifyTask(v) }
	}

	return []Entry{
		{Spec: cfg.MorningCron, Task: notify(domain.VariantMorning)},
		{Spec: cfg.EveningCron, Task: notify(domain.VariantEvening)},
		{Spec: cfg.RolloverCron, Task: func() (*asynq.Task, error) { return NewMetadataRolloverTask(), nil }},
	}
}

// Scheduler fires the daily triggers.
type Scheduler interface {
	RegisterTasks(entries []Entry) error
	Run() error
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	uniqueTTL      time.Duration
	log            *slog.Logger
}

// NewScheduler enqueues triggers through Redis so that any number of replicas fire each
// trigger once. Cron specs are evaluated in loc.
func NewScheduler(redisOpt asynq.RedisConnOpt, loc *time.Location, log *slog.Logger) Scheduler {
	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			Location: loc,
			LogLevel: asynq.WarnLevel,
			PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
				if err != nil && log != nil {
					log.Warn("scheduler: enqueue failed", slog.Any("error", err))
				}
			},
		}),
		uniqueTTL: time.Hour,
		log:       log,
	}
}

func (s *scheduler) RegisterTasks(entries []Entry) error {
	for _, entry := range entries {
		task, err := entry.Task()
		if err != nil {
			return err
		}

		if _, err := s.asynqScheduler.Register(entry.Spec, task, asynq.Unique(s.uniqueTTL)); err != nil {
			return fmt.Errorf("register %s at %q: %w", task.Type(), entry.Spec, err)
		}

		if s.log != nil {
			s.log.InfoContext(context.Background(), "scheduler: registered task",
				slog.String("task_type", task.Type()),
				slog.String("spec", entry.Spec),
			)
		}
	}

	return nil
}

func (s *scheduler) Run() error {
	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: starting")
	}

	return s.asynqScheduler.Start()
}

func (s *scheduler) Shutdown() {
	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: shutting down")
	}

	s.asynqScheduler.Shutdown()
}
