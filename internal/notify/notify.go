// ABOUTME: Notification port plus adapters for the external push collaborator
// ABOUTME: Asynq/Redis enqueue in production, slog fallback when unconfigured

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// TaskTypePush is the asynq task type the external push renderer consumes.
const TaskTypePush = "notification:push"

// Notification is the templated payload handed to the external collaborator.
// Rendering (localization, truncation, badge math) happens downstream.
type Notification struct {
	RecipientID string            `json:"recipient_id"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Payload     map[string]string `json:"payload,omitempty"`
}

// Notifier is the port the dispatcher talks to.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// AsynqNotifier enqueues push notifications on Redis via asynq.
type AsynqNotifier struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewAsynqNotifier builds a notifier from a Redis URI
// (redis://host:port/db). The connection is lazy; enqueue errors surface per
// call.
func NewAsynqNotifier(redisURI string, logger *slog.Logger) (*AsynqNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opt, err := asynq.ParseRedisURI(redisURI)
	if err != nil {
		return nil, fmt.Errorf("parsing redis uri: %w", err)
	}
	return &AsynqNotifier{
		client: asynq.NewClient(opt),
		logger: logger.With("component", "notifier"),
	}, nil
}

// Notify enqueues one push task.
func (a *AsynqNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	info, err := a.client.EnqueueContext(ctx, asynq.NewTask(TaskTypePush, payload))
	if err != nil {
		return fmt.Errorf("enqueueing notification: %w", err)
	}

	a.logger.Debug("notification enqueued",
		"task_id", info.ID,
		"recipient_id", n.RecipientID)
	return nil
}

// Close releases the underlying Redis client.
func (a *AsynqNotifier) Close() error {
	return a.client.Close()
}

// LogNotifier is the fallback adapter for deployments without Redis: it only
// records that a notification would have been sent.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates the logging adapter. Pass nil logger for default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

// Notify logs the notification and succeeds.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.Info("notification (log sink)",
		"recipient_id", n.RecipientID,
		"title", n.Title)
	return nil
}

var _ Notifier = (*AsynqNotifier)(nil)
var _ Notifier = (*LogNotifier)(nil)
