// ABOUTME: DeliveryDispatcher pushes persisted messages to live recipients
// ABOUTME: Owns no state; orchestrates the registry and the notification port

package dispatch

import (
	"context"
	"log/slog"

	"github.com/plazared/dm-gateway/internal/events"
	"github.com/plazared/dm-gateway/internal/metrics"
	"github.com/plazared/dm-gateway/internal/notify"
	"github.com/plazared/dm-gateway/internal/registry"
	"github.com/plazared/dm-gateway/internal/store"
)

// Dispatcher delivers a just-persisted message to its recipient. Callers must
// only invoke Dispatch after the triggering write has committed; a message is
// never broadcast before it is durable.
type Dispatcher struct {
	registry *registry.Registry
	notifier notify.Notifier
	logger   *slog.Logger
}

// New creates a dispatcher. Pass nil logger for default.
func New(reg *registry.Registry, notifier notify.Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: reg,
		notifier: notifier,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch pushes msg to the recipient's live channel if one exists, then
// always hands a notification to the external collaborator. Live delivery is
// best effort: a missing or dead channel only delays the message, which stays
// retrievable from the store and is pulled on reconnect. Notifier failures
// are logged, never propagated — they must not fail an already-committed send.
func (d *Dispatcher) Dispatch(ctx context.Context, recipientID string, msg *store.Message) {
	frame, err := events.Marshal(events.TypeMessage, events.FromStoreMessage(msg))
	if err != nil {
		d.logger.Error("encoding message event", "error", err, "message_id", msg.ID)
		return
	}

	if conn, ok := d.registry.Lookup(recipientID); ok {
		if err := conn.Send(frame); err != nil {
			// Dead or saturated channel; the recipient's reconnect pull
			// recovers the message.
			d.logger.Debug("live push failed",
				"error", err,
				"recipient_id", recipientID,
				"message_id", msg.ID)
			metrics.LiveDeliveries.WithLabelValues("offline").Inc()
		} else {
			d.logger.Debug("message pushed",
				"recipient_id", recipientID,
				"message_id", msg.ID)
			metrics.LiveDeliveries.WithLabelValues("pushed").Inc()
		}
	} else {
		metrics.LiveDeliveries.WithLabelValues("offline").Inc()
	}

	d.notifyRecipient(ctx, recipientID, msg)
}

func (d *Dispatcher) notifyRecipient(ctx context.Context, recipientID string, msg *store.Message) {
	n := notify.Notification{
		RecipientID: recipientID,
		Title:       "Nuevo mensaje",
		Body:        messagePreview(msg),
		Payload: map[string]string{
			"conversation_id": msg.ConversationID,
			"message_id":      msg.ID,
			"sender_id":       msg.SenderID,
		},
	}

	if err := d.notifier.Notify(ctx, n); err != nil {
		d.logger.Error("notification handoff failed",
			"error", err,
			"recipient_id", recipientID,
			"message_id", msg.ID)
		metrics.NotificationsQueued.WithLabelValues("error").Inc()
		return
	}
	metrics.NotificationsQueued.WithLabelValues("ok").Inc()
}

// messagePreview trims the content for the notification body. Rendering
// belongs to the push collaborator; this only keeps the payload small.
func messagePreview(msg *store.Message) string {
	const maxPreview = 140
	if len(msg.Content) <= maxPreview {
		return msg.Content
	}
	return msg.Content[:maxPreview]
}
