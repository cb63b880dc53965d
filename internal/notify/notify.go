package notify

import (
	"context"
	"log/slog"
	"time"

	"gpusched-backend/internal/messaging"

	"github.com/go-resty/resty/v2"
)

// Notifier delivers task lifecycle events. Delivery is fire-and-forget: the
// scheduler never blocks on, or learns about, delivery failures.
type Notifier interface {
	Notify(event messaging.TaskEventPayload)
}

type NoopNotifier struct{}

func (NoopNotifier) Notify(messaging.TaskEventPayload) {}

// QueueNotifier publishes events to the events queue for external consumers.
type QueueNotifier struct {
	publisher messaging.Publisher
}

func NewQueueNotifier(publisher messaging.Publisher) *QueueNotifier {
	return &QueueNotifier{publisher: publisher}
}

func (n *QueueNotifier) Notify(event messaging.TaskEventPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := n.publisher.PublishTaskEvent(ctx, event); err != nil {
		slog.Warn("failed to publish task event", "task_id", event.TaskId, "event", event.Event, "error", err)
	}
}

// WebhookNotifier POSTs events to a configured URL.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		client: resty.New().SetTimeout(10 * time.Second),
		url:    url,
	}
}

func (n *WebhookNotifier) Notify(event messaging.TaskEventPayload) {
	// Deliveries run in their own goroutine so a slow webhook cannot stall
	// the scheduling loop.
	go func() {
		res, err := n.client.R().
			SetHeader("Content-Type", "application/json").
			SetBody(event).
			Post(n.url)

		if err != nil {
			slog.Warn("webhook delivery failed", "task_id", event.TaskId, "event", event.Event, "error", err)
			return
		}
		if res.IsError() {
			slog.Warn("webhook returned error status", "task_id", event.TaskId, "event", event.Event, "status", res.StatusCode())
		}
	}()
}

// MultiNotifier fans an event out to several sinks.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(event messaging.TaskEventPayload) {
	for _, n := range m {
		n.Notify(event)
	}
}
