// ABOUTME: REST handlers for conversations, messages, and read state
// ABOUTME: Request decoding, validation, store calls, and error-to-status mapping

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/plazared/dm-gateway/internal/auth"
	"github.com/plazared/dm-gateway/internal/events"
	"github.com/plazared/dm-gateway/internal/metrics"
	"github.com/plazared/dm-gateway/internal/store"
)

// CreateConversationRequest opens (or returns) the thread with another user.
type CreateConversationRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
}

// SendMessageRequest posts one message into a conversation.
type SendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

// ConversationResponse is one conversation as the API returns it.
type ConversationResponse struct {
	ID            string          `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	LastMessageAt *time.Time      `json:"last_message_at,omitempty"`
	Other         *events.Sender  `json:"other,omitempty"`
	LastMessage   *events.Message `json:"last_message,omitempty"`
	UnreadCount   int             `json:"unread_count"`
}

// MessagesResponse is one newest-first page of a conversation's log.
type MessagesResponse struct {
	Messages []events.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// MarkReadResponse reports how many messages a bulk mark-read flipped.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

// UnreadCountResponse carries the user's total unread count.
type UnreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())

	var req CreateConversationRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}
	if req.ParticipantID == userID {
		writeError(w, http.StatusBadRequest, "cannot start a conversation with yourself")
		return
	}

	conv, err := g.store.GetOrCreateConversation(r.Context(), userID, req.ParticipantID)
	if err != nil {
		g.storeError(w, r, err, "creating conversation")
		return
	}

	resp := ConversationResponse{
		ID:            conv.ID,
		CreatedAt:     conv.CreatedAt,
		LastMessageAt: conv.LastMessageAt,
	}
	if other, err := g.store.GetProfile(r.Context(), conv.Other(userID)); err == nil {
		resp.Other = senderFromProfile(other)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	page, limit := pageParams(r)

	summaries, err := g.store.ListConversations(r.Context(), userID, page, limit)
	if err != nil {
		g.storeError(w, r, err, "listing conversations")
		return
	}

	resp := lo.Map(summaries, func(s *store.ConversationSummary, _ int) ConversationResponse {
		row := ConversationResponse{
			ID:            s.Conversation.ID,
			CreatedAt:     s.Conversation.CreatedAt,
			LastMessageAt: s.Conversation.LastMessageAt,
			Other:         senderFromProfile(s.Other),
			UnreadCount:   s.UnreadCount,
		}
		if s.LastMessage != nil {
			last := events.FromStoreMessage(s.LastMessage)
			row.LastMessage = &last
		}
		return row
	})
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationID")
	page, limit := pageParams(r)

	msgs, err := g.store.ListMessages(r.Context(), conversationID, userID, page, limit)
	if err != nil {
		g.storeError(w, r, err, "listing messages")
		return
	}

	writeJSON(w, http.StatusOK, MessagesResponse{
		Messages: lo.Map(msgs.Messages, func(m *store.Message, _ int) events.Message {
			return events.FromStoreMessage(m)
		}),
		HasMore: msgs.HasMore,
	})
}

func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationID")

	var req SendMessageRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}

	msg, err := g.store.AppendMessage(r.Context(), conversationID, userID, req.Content)
	if err != nil {
		g.storeError(w, r, err, "appending message")
		return
	}
	metrics.MessagesSent.Inc()

	// The message is durable at this point; delivery is best effort.
	conv, err := g.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		g.logger.Error("loading conversation for dispatch", "error", err, "conversation_id", conversationID)
	} else {
		g.dispatcher.Dispatch(r.Context(), conv.Other(userID), msg)
	}

	writeJSON(w, http.StatusCreated, events.FromStoreMessage(msg))
}

func (g *Gateway) handleMarkMessageRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	messageID := chi.URLParam(r, "messageID")

	if err := g.store.MarkMessageRead(r.Context(), userID, messageID); err != nil {
		g.storeError(w, r, err, "marking message read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleMarkConversationRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationID")

	updated, err := g.store.MarkConversationRead(r.Context(), userID, conversationID)
	if err != nil {
		g.storeError(w, r, err, "marking conversation read")
		return
	}
	writeJSON(w, http.StatusOK, MarkReadResponse{Updated: updated})
}

func (g *Gateway) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())

	count, err := g.store.UnreadCount(r.Context(), userID)
	if err != nil {
		g.storeError(w, r, err, "counting unread")
		return
	}
	writeJSON(w, http.StatusOK, UnreadCountResponse{UnreadCount: count})
}

// decodeRequest decodes and validates a JSON body, writing the error response
// itself. Returns false when the handler should stop.
func (g *Gateway) decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := g.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return false
	}
	return true
}

// storeError maps store sentinel errors to HTTP statuses.
func (g *Gateway) storeError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "not a participant")
	default:
		g.logger.Error(op, "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}

func senderFromProfile(p *store.Profile) *events.Sender {
	if p == nil {
		return nil
	}
	return &events.Sender{
		ID:       p.ID,
		Nombre:   p.Nombre,
		Apellido: p.Apellido,
		Avatar:   p.Avatar,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
