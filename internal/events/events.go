// ABOUTME: Wire event envelope and payloads shared by the gateway, dispatcher, and client
// ABOUTME: Everything on the live channel is a typed {type, data} JSON frame

package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/plazared/dm-gateway/internal/store"
)

// Event types carried on the live channel.
const (
	// TypeConnected is emitted by the server exactly once per session,
	// immediately after registration, with the current unread count.
	TypeConnected = "connected"
	// TypeMessage carries one fully-hydrated message per delivery.
	TypeMessage = "message"
	// TypeMarkRead is the single client-to-server command: bulk mark-read
	// for one conversation. Fire-and-forget; the server operation is
	// idempotent so no acknowledgement is sent.
	TypeMarkRead = "mark_read"
)

// Envelope is the frame every live-channel payload travels in.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ConnectedData is the payload of a TypeConnected event.
type ConnectedData struct {
	UnreadCount int `json:"unread_count"`
}

// MarkReadData is the payload of a TypeMarkRead command.
type MarkReadData struct {
	ConversationID string `json:"conversation_id"`
}

// Sender is the profile projection embedded in delivered messages.
type Sender struct {
	ID       string `json:"id"`
	Nombre   string `json:"nombre"`
	Apellido string `json:"apellido"`
	Avatar   string `json:"avatar,omitempty"`
}

// Message is the hydrated message shape on the wire.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
	Sender         *Sender   `json:"sender,omitempty"`
}

// FromStoreMessage converts a persisted message into its wire shape.
func FromStoreMessage(m *store.Message) Message {
	out := Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Read:           m.Read,
		CreatedAt:      m.CreatedAt,
	}
	if m.Sender != nil {
		out.Sender = &Sender{
			ID:       m.Sender.ID,
			Nombre:   m.Sender.Nombre,
			Apellido: m.Sender.Apellido,
			Avatar:   m.Sender.Avatar,
		}
	}
	return out
}

// Marshal wraps a payload in an Envelope and encodes the whole frame.
func Marshal(eventType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", eventType, err)
	}
	frame, err := json.Marshal(Envelope{Type: eventType, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", eventType, err)
	}
	return frame, nil
}
