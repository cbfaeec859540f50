// ABOUTME: Conversation and profile-projection operations for the SQLite store
// ABOUTME: Canonical-pair get-or-create plus the joined conversation listing

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertProfile inserts or refreshes one row of the user-profile projection.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *Profile) error {
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
		INSERT INTO users (id, nombre, apellido, avatar, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			nombre = excluded.nombre,
			apellido = excluded.apellido,
			avatar = excluded.avatar,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, p.ID, p.Nombre, p.Apellido, p.Avatar, formatTime(updatedAt))
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}

	s.logger.Debug("profile upserted", "user_id", p.ID)
	return nil
}

// GetProfile retrieves one projected profile.
// Returns ErrNotFound if the user has never been projected.
func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	query := `SELECT id, nombre, apellido, avatar, updated_at FROM users WHERE id = ?`

	var p Profile
	var updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Nombre, &p.Apellido, &p.Avatar, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}

	p.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &p, nil
}

// GetOrCreateConversation returns the conversation between the two users,
// creating it on first contact. The pair is canonicalized before lookup so
// the result is independent of call direction. A concurrent create for the
// same pair resolves through the uniqueness constraint: insert, and on a
// duplicate re-read the row the other writer won with.
func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	if userA == userB {
		return nil, fmt.Errorf("conversation requires two distinct users")
	}

	a, b := CanonicalPair(userA, userB)

	conv, err := s.findConversationByPair(ctx, a, b)
	if err == nil {
		return conv, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	conv = &Conversation{
		ID:           uuid.New().String(),
		ParticipantA: a,
		ParticipantB: b,
		CreatedAt:    time.Now(),
	}

	query := `
		INSERT INTO conversations (id, participant_a, participant_b, created_at, last_message_at)
		VALUES (?, ?, ?, ?, NULL)
	`
	_, err = s.db.ExecContext(ctx, query, conv.ID, conv.ParticipantA, conv.ParticipantB, formatTime(conv.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			// Lost the race: another request created the pair between our
			// lookup and insert. The winner's row is authoritative.
			existing, lookupErr := s.findConversationByPair(ctx, a, b)
			if lookupErr == nil {
				s.logger.Debug("found existing conversation after race", "conversation_id", existing.ID)
				return existing, nil
			}
			return nil, ErrDuplicateConversation
		}
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("conversation created",
		"conversation_id", conv.ID,
		"participant_a", conv.ParticipantA,
		"participant_b", conv.ParticipantB)
	return conv, nil
}

// findConversationByPair matches either orientation so rows written before
// canonical ordering was enforced are still found.
func (s *SQLiteStore) findConversationByPair(ctx context.Context, a, b string) (*Conversation, error) {
	query := `
		SELECT id, participant_a, participant_b, created_at, last_message_at
		FROM conversations
		WHERE (participant_a = ? AND participant_b = ?)
		   OR (participant_a = ? AND participant_b = ?)
	`
	row := s.db.QueryRowContext(ctx, query, a, b, b, a)
	return scanConversation(row)
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, participant_a, participant_b, created_at, last_message_at
		FROM conversations
		WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)
	return scanConversation(row)
}

// rowScanner lets scanConversation work on both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAtStr string
	var lastMessageAtStr sql.NullString

	err := row.Scan(&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &createdAtStr, &lastMessageAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if lastMessageAtStr.Valid {
		t, err := parseTime(lastMessageAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		conv.LastMessageAt = &t
	}

	return &conv, nil
}

// ListConversations returns the user's conversations ordered by most recent
// activity, fresh message-less conversations last. Each row carries the other
// participant's profile projection, the latest message, and the count of
// unread incoming messages.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, page, limit int) ([]*ConversationSummary, error) {
	page, limit = normalizePage(page, limit)
	offset := (page - 1) * limit

	query := `
		SELECT c.id, c.participant_a, c.participant_b, c.created_at, c.last_message_at,
		       u.id, u.nombre, u.apellido, u.avatar,
		       (SELECT COUNT(*) FROM messages m
		         WHERE m.conversation_id = c.id AND m.sender_id != ? AND m.read = 0) AS unread
		FROM conversations c
		LEFT JOIN users u
		  ON u.id = CASE WHEN c.participant_a = ? THEN c.participant_b ELSE c.participant_a END
		WHERE c.participant_a = ? OR c.participant_b = ?
		ORDER BY c.last_message_at IS NULL, c.last_message_at DESC, c.created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*ConversationSummary
	for rows.Next() {
		var conv Conversation
		var createdAtStr string
		var lastMessageAtStr sql.NullString
		var otherID, nombre, apellido, avatar sql.NullString
		var unread int

		if err := rows.Scan(
			&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &createdAtStr, &lastMessageAtStr,
			&otherID, &nombre, &apellido, &avatar,
			&unread,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}

		conv.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if lastMessageAtStr.Valid {
			t, err := parseTime(lastMessageAtStr.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last_message_at: %w", err)
			}
			conv.LastMessageAt = &t
		}

		summary := &ConversationSummary{
			Conversation: &conv,
			UnreadCount:  unread,
		}
		if otherID.Valid {
			summary.Other = &Profile{
				ID:       otherID.String,
				Nombre:   nombre.String,
				Apellido: apellido.String,
				Avatar:   avatar.String,
			}
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	// Attach the latest message per row. One extra query per conversation is
	// fine at listing page sizes.
	for _, summary := range summaries {
		msg, err := s.latestMessage(ctx, summary.Conversation.ID)
		if err != nil && err != ErrNotFound {
			return nil, err
		}
		summary.LastMessage = msg
	}

	return summaries, nil
}

// latestMessage returns the newest message of a conversation, or ErrNotFound
// for a conversation with no messages yet.
func (s *SQLiteStore) latestMessage(ctx context.Context, conversationID string) (*Message, error) {
	query := messageSelect + `
		WHERE m.conversation_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, query, conversationID)
	return scanMessage(row)
}

// normalizePage clamps paging parameters to sane bounds.
func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
