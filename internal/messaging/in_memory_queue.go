package messaging

import (
	"context"
	"encoding/json"
)

type inMemoryTask struct {
	queue   string
	payload []byte
}

func (t *inMemoryTask) Type() string {
	return t.queue
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Ack() error {
	return nil
}

func (t *inMemoryTask) Nack() error {
	return nil
}

func (t *inMemoryTask) Reject() error {
	return nil
}

// InMemoryQueue wires the API and the scheduler together in single process
// mode. It implements both Publisher and Receiver.
type InMemoryQueue struct {
	tasks chan Task
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		tasks: make(chan Task, 100),
	}
}

func (q *InMemoryQueue) publishInternal(queue string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q.tasks <- &inMemoryTask{queue: queue, payload: data}

	return nil
}

func (q *InMemoryQueue) PublishSubmitTask(ctx context.Context, payload SubmitTaskPayload) error {
	return q.publishInternal(SubmitQueue, payload)
}

func (q *InMemoryQueue) PublishCancelTask(ctx context.Context, payload CancelTaskPayload) error {
	return q.publishInternal(CancelQueue, payload)
}

func (q *InMemoryQueue) PublishFeedback(ctx context.Context, payload FeedbackPayload) error {
	return q.publishInternal(FeedbackQueue, payload)
}

func (q *InMemoryQueue) PublishTaskEvent(ctx context.Context, payload TaskEventPayload) error {
	// Events have no in-process consumer; drop them rather than fill the
	// channel with messages nothing will read.
	return nil
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

func (q *InMemoryQueue) Close() {
	if q.tasks != nil {
		close(q.tasks)
		q.tasks = nil
	}
}
