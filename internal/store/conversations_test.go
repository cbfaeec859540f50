// ABOUTME: Tests for conversation get-or-create and listing
// ABOUTME: Covers canonical pairing, legacy orientation lookup, and summary rows

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateConversation_DirectionIndependent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedUsers(t, s, "user-a", "user-b")

	first, err := s.GetOrCreateConversation(ctx, "user-b", "user-a")
	require.NoError(t, err)
	assert.Equal(t, "user-a", first.ParticipantA)
	assert.Equal(t, "user-b", first.ParticipantB)
	assert.Nil(t, first.LastMessageAt)

	second, err := s.GetOrCreateConversation(ctx, "user-a", "user-b")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "both call directions must resolve to the same conversation")
}

func TestGetOrCreateConversation_SameUser(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetOrCreateConversation(context.Background(), "user-a", "user-a")
	require.Error(t, err)
}

func TestGetOrCreateConversation_FindsLegacyNonCanonicalRow(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Simulate a row written before canonical ordering was enforced.
	legacyID := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_a, participant_b, created_at)
		VALUES (?, 'user-z', 'user-a', ?)
	`, legacyID, formatTime(time.Now()))
	require.NoError(t, err)

	conv, err := s.GetOrCreateConversation(ctx, "user-a", "user-z")
	require.NoError(t, err)
	assert.Equal(t, legacyID, conv.ID, "legacy orientation must be found, not duplicated")
}

func TestGetConversation_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetConversation(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversations_OrderingAndProjection(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedUsers(t, s, "u1", "u2", "u3", "u4")

	// u1<->u2 has traffic, u1<->u3 is fresh (no messages), u1<->u4 has newer traffic.
	active, err := s.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	fresh, err := s.GetOrCreateConversation(ctx, "u1", "u3")
	require.NoError(t, err)
	newest, err := s.GetOrCreateConversation(ctx, "u1", "u4")
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, active.ID, "u2", "older traffic")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, newest.ID, "u4", "newer traffic")
	require.NoError(t, err)

	rows, err := s.ListConversations(ctx, "u1", 1, 30)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Active conversations first by last_message_at desc, fresh ones last.
	assert.Equal(t, newest.ID, rows[0].Conversation.ID)
	assert.Equal(t, active.ID, rows[1].Conversation.ID)
	assert.Equal(t, fresh.ID, rows[2].Conversation.ID)

	// Other-participant projection and last message hydration.
	require.NotNil(t, rows[0].Other)
	assert.Equal(t, "u4", rows[0].Other.ID)
	assert.Equal(t, "Nombre-u4", rows[0].Other.Nombre)
	require.NotNil(t, rows[0].LastMessage)
	assert.Equal(t, "newer traffic", rows[0].LastMessage.Content)
	assert.Nil(t, rows[2].LastMessage)

	// Unread counts: each incoming message is unread.
	assert.Equal(t, 1, rows[0].UnreadCount)
	assert.Equal(t, 1, rows[1].UnreadCount)
	assert.Equal(t, 0, rows[2].UnreadCount)
}

func TestListConversations_CountsOnlyIncomingUnread(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedUsers(t, s, "u1", "u2")

	conv, err := s.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	// Outgoing messages never count toward the caller's unread.
	_, err = s.AppendMessage(ctx, conv.ID, "u1", "sent by me")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, conv.ID, "u2", "sent to me")
	require.NoError(t, err)

	rows, err := s.ListConversations(ctx, "u1", 1, 30)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].UnreadCount)

	rows, err = s.ListConversations(ctx, "u2", 1, 30)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].UnreadCount)
}

func TestListConversations_Pagination(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, other := range []string{"p1", "p2", "p3", "p4", "p5"} {
		_, err := s.GetOrCreateConversation(ctx, "u1", other)
		require.NoError(t, err)
	}

	page1, err := s.ListConversations(ctx, "u1", 1, 2)
	require.NoError(t, err)
	page2, err := s.ListConversations(ctx, "u1", 2, 2)
	require.NoError(t, err)
	page3, err := s.ListConversations(ctx, "u1", 3, 2)
	require.NoError(t, err)

	assert.Len(t, page1, 2)
	assert.Len(t, page2, 2)
	assert.Len(t, page3, 1)

	seen := map[string]bool{}
	for _, rows := range [][]*ConversationSummary{page1, page2, page3} {
		for _, row := range rows {
			assert.False(t, seen[row.Conversation.ID], "no conversation may repeat across pages")
			seen[row.Conversation.ID] = true
		}
	}
	assert.Len(t, seen, 5)
}

func TestUpsertProfile_Refreshes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProfile(ctx, &Profile{ID: "u1", Nombre: "Ana"}))
	require.NoError(t, s.UpsertProfile(ctx, &Profile{ID: "u1", Nombre: "Ana", Apellido: "García", Avatar: "a.png"}))

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "García", p.Apellido)
	assert.Equal(t, "a.png", p.Avatar)
}

func TestGetProfile_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetProfile(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}
