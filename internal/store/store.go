// ABOUTME: Store interface and data types for dm-gateway persistence
// ABOUTME: Defines Conversation, Message, Profile structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist, or when the
// requester is not allowed to see it. The two cases are deliberately collapsed
// so callers cannot probe for the existence of other people's conversations.
var ErrNotFound = errors.New("not found")

// ErrNotParticipant is returned when a sender tries to post into a
// conversation they don't belong to.
var ErrNotParticipant = errors.New("not a participant")

// ErrDuplicateConversation is returned when an insert hits the canonical-pair
// uniqueness constraint. GetOrCreateConversation resolves it internally by
// re-reading the row the concurrent writer created.
var ErrDuplicateConversation = errors.New("conversation already exists")

// Profile is the read-side projection of the external user-profile service.
// Only the fields embedded in messaging responses are kept.
type Profile struct {
	ID        string
	Nombre    string
	Apellido  string
	Avatar    string
	UpdatedAt time.Time
}

// Conversation is a durable pairwise thread between exactly two users.
// Participants are stored in canonical order: ParticipantA < ParticipantB.
type Conversation struct {
	ID            string
	ParticipantA  string
	ParticipantB  string
	CreatedAt     time.Time
	LastMessageAt *time.Time
}

// Includes reports whether userID is one of the two participants.
func (c *Conversation) Includes(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Other returns the participant that is not userID. Callers must have
// checked Includes first.
func (c *Conversation) Other(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// Message is a single direct message. Read transitions only from false to
// true, never back. Sender carries the sender's profile projection when the
// message is hydrated for delivery or listing.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Read           bool
	CreatedAt      time.Time
	Sender         *Profile
}

// ConversationSummary is one row of a conversation listing: the conversation
// itself, the other participant's profile, the most recent message, and the
// count of unread incoming messages.
type ConversationSummary struct {
	Conversation *Conversation
	Other        *Profile
	LastMessage  *Message
	UnreadCount  int
}

// MessagePage is one page of a newest-first message listing. HasMore is
// derived by fetching limit+1 rows, not by a second count query.
type MessagePage struct {
	Messages []*Message
	HasMore  bool
}

// CanonicalPair orders two user ids deterministically so a conversation's
// identity is independent of which participant initiated it.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Store defines the persistence interface for conversations and messages.
type Store interface {
	// Profile projection
	UpsertProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, id string) (*Profile, error)

	// Conversations
	GetOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string, page, limit int) ([]*ConversationSummary, error)

	// Messages
	AppendMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error)
	ListMessages(ctx context.Context, conversationID, userID string, page, limit int) (*MessagePage, error)
	MarkMessageRead(ctx context.Context, userID, messageID string) error
	MarkConversationRead(ctx context.Context, userID, conversationID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)

	// Close releases any resources held by the store
	Close() error
}
