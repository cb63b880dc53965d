package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	SubmitQueue     = "task_submit_queue"
	CancelQueue     = "task_cancel_queue"
	FeedbackQueue   = "task_feedback_queue"
	EventsQueue     = "task_events_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// SubmitTaskPayload references a task row created by the API; the scheduler
// loads the full record from the database when it picks the message up.
type SubmitTaskPayload struct {
	TaskId uuid.UUID
}

type CancelTaskPayload struct {
	TaskId uuid.UUID
}

type FeedbackPayload struct {
	TaskId   uuid.UUID
	Category string
	Rating   float64
}

const (
	EventTaskCompleted = "TASK_COMPLETED"
	EventTaskFailed    = "TASK_FAILED"
	EventTaskDegraded  = "TASK_DEGRADED"
	EventTaskCancelled = "TASK_CANCELLED"
)

type TaskEventPayload struct {
	TaskId    uuid.UUID
	Event     string
	Cause     string
	Timestamp time.Time
}

type Publisher interface {
	PublishSubmitTask(ctx context.Context, payload SubmitTaskPayload) error

	PublishCancelTask(ctx context.Context, payload CancelTaskPayload) error

	PublishFeedback(ctx context.Context, payload FeedbackPayload) error

	PublishTaskEvent(ctx context.Context, payload TaskEventPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
