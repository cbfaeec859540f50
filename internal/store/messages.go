// ABOUTME: Message operations for the SQLite store
// ABOUTME: Transactional append, newest-first pagination, and read-state transitions

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// messageSelect is the shared projection for hydrated messages: the message
// row joined with the sender's profile projection.
const messageSelect = `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.read, m.created_at,
		       u.nombre, u.apellido, u.avatar
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
`

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var createdAtStr string
	var read int
	var nombre, apellido, avatar sql.NullString

	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &read, &createdAtStr,
		&nombre, &apellido, &avatar)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	msg.Read = read != 0
	msg.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}

	if nombre.Valid || apellido.Valid || avatar.Valid {
		msg.Sender = &Profile{
			ID:       msg.SenderID,
			Nombre:   nombre.String,
			Apellido: apellido.String,
			Avatar:   avatar.String,
		}
	}

	return &msg, nil
}

// AppendMessage persists a message and bumps the conversation's
// last_message_at in one transaction, so a crash cannot leave the two out of
// step. Returns ErrNotParticipant if the sender does not belong to the
// conversation, ErrNotFound if the conversation does not exist.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Includes(senderID) {
		return nil, ErrNotParticipant
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, read, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, formatTime(msg.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = ? WHERE id = ?
	`, formatTime(msg.CreatedAt), conversationID)
	if err != nil {
		return nil, fmt.Errorf("updating last_message_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("message appended",
		"message_id", msg.ID,
		"conversation_id", conversationID,
		"sender_id", senderID)

	// Hydrate the sender projection for delivery.
	if profile, err := s.GetProfile(ctx, senderID); err == nil {
		msg.Sender = profile
	}

	return msg, nil
}

// ListMessages returns one newest-first page of a conversation's messages.
// A requester who is not a participant gets ErrNotFound, the same error as a
// nonexistent conversation, so existence never leaks. limit+1 rows are
// fetched to derive HasMore without a count query.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID, userID string, page, limit int) (*MessagePage, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Includes(userID) {
		return nil, ErrNotFound
	}

	page, limit = normalizePage(page, limit)
	offset := (page - 1) * limit

	query := messageSelect + `
		WHERE m.conversation_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit+1, offset)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	pageResult := &MessagePage{Messages: messages}
	if len(messages) > limit {
		pageResult.Messages = messages[:limit]
		pageResult.HasMore = true
	}

	return pageResult, nil
}

// MarkMessageRead flips a single message to read. A sender cannot mark their
// own outgoing message read; that call is a silent no-op, as is re-marking an
// already-read message. Returns ErrNotFound for a nonexistent message or one
// in a conversation the user doesn't belong to.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, userID, messageID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read = 1
		WHERE id = ?
		  AND sender_id != ?
		  AND read = 0
		  AND conversation_id IN (
			SELECT id FROM conversations WHERE participant_a = ? OR participant_b = ?
		  )
	`, messageID, userID, userID, userID)
	if err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// Nothing flipped: distinguish a legitimate no-op (own or already-read
	// message in a conversation the user can see) from a message that, for
	// this user, does not exist.
	var exists int
	err = s.db.QueryRowContext(ctx, `
		SELECT 1 FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.id = ? AND (c.participant_a = ? OR c.participant_b = ?)
	`, messageID, userID, userID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking message: %w", err)
	}
	return nil
}

// MarkConversationRead flips every unread incoming message of the
// conversation in one statement. Idempotent: the second call affects zero
// rows. Returns the number of messages flipped.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, userID, conversationID string) (int64, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.Includes(userID) {
		return 0, ErrNotFound
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read = 1
		WHERE conversation_id = ? AND sender_id != ? AND read = 0
	`, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("marking conversation read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Debug("conversation marked read",
			"conversation_id", conversationID,
			"user_id", userID,
			"count", rowsAffected)
	}
	return rowsAffected, nil
}

// UnreadCount returns the total number of unread incoming messages across
// every conversation the user participates in.
func (s *SQLiteStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.read = 0
		  AND m.sender_id != ?
		  AND (c.participant_a = ? OR c.participant_b = ?)
	`, userID, userID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}
