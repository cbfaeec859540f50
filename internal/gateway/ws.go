// ABOUTME: Websocket endpoint: authenticates, registers the live connection
// ABOUTME: Emits the connected event, then reads client frames until disconnect

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/plazared/dm-gateway/internal/events"
	"github.com/plazared/dm-gateway/internal/registry"
)

const (
	pongWait       = 60 * time.Second
	maxFrameSize   = 4096
	connectTimeout = 5 * time.Second
)

// handleWebsocket upgrades GET /ws?token=… into the user's live channel.
// Authentication failures are rejected before the upgrade so the client sees
// a plain 401 instead of a dropped socket.
func (g *Gateway) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	userID, err := g.verifier.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err, "user_id", userID)
		return
	}

	conn := registry.NewConn(userID, ws, g.logger)
	conn.Start()
	g.registry.Register(userID, conn)
	defer g.registry.Unregister(userID, conn)

	if err := g.sendConnected(r.Context(), userID, conn); err != nil {
		g.logger.Warn("connected event failed", "error", err, "user_id", userID)
		return
	}

	g.readLoop(r.Context(), userID, ws, conn)
}

// sendConnected emits the one-per-session connected event with the user's
// current unread total.
func (g *Gateway) sendConnected(ctx context.Context, userID string, conn *registry.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	count, err := g.store.UnreadCount(ctx, userID)
	if err != nil {
		return err
	}
	frame, err := events.Marshal(events.TypeConnected, events.ConnectedData{UnreadCount: count})
	if err != nil {
		return err
	}
	return conn.Send(frame)
}

// readLoop consumes inbound frames until the peer goes away or the registry
// replaces this connection. The only accepted client command is mark_read.
func (g *Gateway) readLoop(ctx context.Context, userID string, ws *websocket.Conn, conn *registry.Conn) {
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-conn.Closed():
			return
		default:
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("websocket read failed", "error", err, "user_id", userID)
			}
			return
		}
		g.handleClientFrame(ctx, userID, data)
	}
}

// handleClientFrame processes one inbound frame. Client commands are
// fire-and-forget: malformed or failing frames are logged and dropped, never
// answered, because the underlying operations are idempotent.
func (g *Gateway) handleClientFrame(ctx context.Context, userID string, data []byte) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.logger.Debug("unparseable client frame", "error", err, "user_id", userID)
		return
	}

	switch env.Type {
	case events.TypeMarkRead:
		var payload events.MarkReadData
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.ConversationID == "" {
			g.logger.Debug("bad mark_read payload", "user_id", userID)
			return
		}
		if _, err := g.store.MarkConversationRead(ctx, userID, payload.ConversationID); err != nil {
			g.logger.Debug("mark_read failed",
				"error", err,
				"user_id", userID,
				"conversation_id", payload.ConversationID)
		}
	default:
		g.logger.Debug("unknown client frame type", "type", env.Type, "user_id", userID)
	}
}
