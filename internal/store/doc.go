// Package store provides persistent storage for conversations and messages
// using SQLite.
//
// # Data Models
//
//   - Conversation: Durable pairwise thread between exactly two users.
//     Participants are stored in canonical order (lexicographically smaller id
//     first) so the unordered pair has exactly one row, enforced by a unique
//     index. Rows are created on first contact, mutated only to update
//     last_message_at, never deleted.
//   - Message: One direct message. Read state transitions only from unread to
//     read, never back.
//   - Profile: Read-side projection of the external user-profile service; only
//     the fields embedded in messaging responses are kept.
//
// # Concurrency
//
// GetOrCreateConversation resolves the two-writers race without locks: both
// writers insert against the canonical unique index, the loser detects the
// constraint violation and re-reads the row the winner created. AppendMessage
// wraps the message insert and the last_message_at update in one transaction
// so a crash between them cannot leave a stale timestamp.
//
// # Pagination
//
// Message listings are newest-first, ordered by a fixed-width timestamp text
// column (lexicographic order equals chronological order) with the row id as
// tiebreak. HasMore is derived by fetching limit+1 rows, not a second count
// query.
//
// # Error Handling
//
//   - ErrNotFound: entity missing, or the requester may not see it. The two
//     cases are deliberately collapsed so callers cannot probe for other
//     people's conversations.
//   - ErrNotParticipant: sender posting into a conversation they don't belong to.
//
// All methods accept context.Context for cancellation support.
//
// # SQLite Configuration
//
// The store uses WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore with a temp path for integration tests.
package store
