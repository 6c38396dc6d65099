package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/lesson-notifier/internal/domain"
)

const (
	TaskTypeLessonNotify     = "lesson:notify"
	TaskTypeMetadataRollover = "metadata:rollover"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// Queues maps queue names to asynq priorities.
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
}

type LessonNotifyPayload struct {
	Variant domain.Variant `json:"variant"`
}

func NewLessonNotifyTask(variant domain.Variant) (*asynq.Task, error) {
	payload, err := json.Marshal(LessonNotifyPayload{Variant: variant})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeLessonNotify, payload, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// ParseLessonNotifyPayload decodes and validates a lesson notify payload.
func ParseLessonNotifyPayload(t *asynq.Task) (LessonNotifyPayload, error) {
	var payload LessonNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", t.Type(), err)
	}

	variant, err := domain.ParseVariant(string(payload.Variant))
	if err != nil {
		return payload, err
	}
	payload.Variant = variant

	return payload, nil
}

// NewMetadataRolloverTask never retries: a retried rollover could advance the cursor twice.
func NewMetadataRolloverTask() *asynq.Task {
	return asynq.NewTask(TaskTypeMetadataRollover, nil, asynq.Queue(QueueCritical), asynq.MaxRetry(0))
}
