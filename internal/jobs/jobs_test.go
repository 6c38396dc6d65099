package jobs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/lesson-notifier/internal/domain"
	"github.com/Proton-105/lesson-notifier/pkg/config"
)

func TestEntries_FromConfig(t *testing.T) {
	entries := Entries(config.SchedulerConfig{
		MorningCron:  "0 8 * * *",
		EveningCron:  "0 22 * * *",
		RolloverCron: "0 0 * * *",
	})
	require.Len(t, entries, 3)

	types := make([]string, 0, len(entries))
	for _, e := range entries {
		task, err := e.Task()
		require.NoError(t, err)
		types = append(types, task.Type())
	}
	assert.Equal(t, []string{TaskTypeLessonNotify, TaskTypeLessonNotify, TaskTypeMetadataRollover}, types)

	evening, err := entries[1].Task()
	require.NoError(t, err)
	payload, err := ParseLessonNotifyPayload(evening)
	require.NoError(t, err)
	assert.Equal(t, domain.VariantEvening, payload.Variant)
}

func TestCronBackend_DispatchesToHandlers(t *testing.T) {
	backend := NewCronBackend(time.UTC, nil).(*cronBackend)

	got := make(chan string, 1)
	backend.RegisterHandler(TaskTypeLessonNotify, asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		payload, err := ParseLessonNotifyPayload(task)
		if err != nil {
			return err
		}
		got <- payload.Variant.String()
		return nil
	}))

	require.NoError(t, backend.RegisterTasks([]Entry{{Spec: "@every 1h", Task: func() (*asynq.Task, error) {
		return NewLessonNotifyTask(domain.VariantMorning)
	}}}))

	backend.fire(Entry{Task: func() (*asynq.Task, error) { return NewLessonNotifyTask(domain.VariantMorning) }})
	assert.Equal(t, "morning", <-got)

	require.NoError(t, backend.Run())
	backend.Shutdown()
}

func TestCronBackend_RejectsBadSpec(t *testing.T) {
	backend := NewCronBackend(time.UTC, nil)
	err := backend.RegisterTasks([]Entry{{Spec: "not a spec", Task: func() (*asynq.Task, error) { return NewMetadataRolloverTask(), nil }}})
	assert.Error(t, err)
}

func TestTaskFailed_LogsLastAttemptAsError(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	taskFailed(log)(context.Background(), NewMetadataRolloverTask(), errors.New("cursor missing"))

	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, TaskTypeMetadataRollover)
	assert.Contains(t, out, "cursor missing")
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	adapter := slogAdapter{log: slog.New(slog.NewTextHandler(&buf, nil))}

	adapter.Warn("queue ", "paused")
	assert.Contains(t, buf.String(), "queue paused")
}
