package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/armonia-contable/armonia/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries fire-and-forget ledger events.
	QueueNotifications = "notifications"
	// TaskTypeNotify delivers a ledger notification.
	TaskTypeNotify = "ledger:notify"
)

// NewNotifyTask constructs an Asynq task carrying the event.
func NewNotifyTask(event notify.Event) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotify, data, asynq.MaxRetry(5)), nil
}

// NotifyHandler hands queued events to the downstream notifier.
func NotifyHandler(sink notify.Notifier) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var event notify.Event
		if err := json.Unmarshal(t.Payload(), &event); err != nil {
			return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
		}
		if event.Kind == "" {
			return fmt.Errorf("notification without kind: %w", asynq.SkipRetry)
		}
		return sink.Notify(ctx, event)
	}
}

// LogNotifier writes events to the log. It is the delivery sink until a
// downstream collaborator subscribes to the queue.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements notify.Notifier.
func (n LogNotifier) Notify(_ context.Context, event notify.Event) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("ledger notification",
		slog.String("kind", string(event.Kind)),
		slog.Int64("entity_id", event.EntityID),
		slog.Int("year", event.Year),
		slog.Int("period", event.Period),
		slog.Int64("voucher_id", event.VoucherID),
		slog.Int64("actor_id", event.ActorID),
		slog.String("reason", event.Reason))
	return nil
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier publishes events to the notifications queue.
type QueueNotifier struct {
	queue Enqueuer
}

// NewQueueNotifier wraps an enqueuer as a notify.Notifier.
func NewQueueNotifier(queue Enqueuer) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

// Notify implements notify.Notifier.
func (n *QueueNotifier) Notify(ctx context.Context, event notify.Event) error {
	task, err := NewNotifyTask(event)
	if err != nil {
		return err
	}
	_, err = n.queue.EnqueueContext(ctx, task, asynq.Queue(QueueNotifications))
	return err
}
