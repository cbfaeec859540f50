// ABOUTME: Websocket endpoint tests against a real httptest server
// ABOUTME: Covers the connected event, live push, mark_read frames, latest-wins

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plazared/dm-gateway/internal/events"
)

func (tg *testGateway) dialWS(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(tg.srv.URL, "http") + "/ws?token=" + tg.token(t, userID)
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) events.Envelope {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var env events.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestWebsocket_RejectsBadToken(t *testing.T) {
	tg := setupGateway(t)

	url := "ws" + strings.TrimPrefix(tg.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebsocket_ConnectedEventCarriesUnread(t *testing.T) {
	tg := setupGateway(t)
	tg.seedUsers(t, "user-1", "user-2")
	conv := tg.createConversation(t, tg.token(t, "user-1"), "user-2")
	tg.sendMessage(t, tg.token(t, "user-1"), conv.ID, "uno")
	tg.sendMessage(t, tg.token(t, "user-1"), conv.ID, "dos")

	ws := tg.dialWS(t, "user-2")
	env := readEvent(t, ws)
	require.Equal(t, events.TypeConnected, env.Type)

	var payload events.ConnectedData
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, 2, payload.UnreadCount)
}

func TestWebsocket_LivePush(t *testing.T) {
	tg := setupGateway(t)
	tg.seedUsers(t, "user-1", "user-2")
	conv := tg.createConversation(t, tg.token(t, "user-1"), "user-2")

	ws := tg.dialWS(t, "user-2")
	require.Equal(t, events.TypeConnected, readEvent(t, ws).Type)

	tg.sendMessage(t, tg.token(t, "user-1"), conv.ID, "hola en vivo")

	env := readEvent(t, ws)
	require.Equal(t, events.TypeMessage, env.Type)

	var msg events.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "hola en vivo", msg.Content)
	assert.Equal(t, conv.ID, msg.ConversationID)
	assert.Equal(t, "user-1", msg.SenderID)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "Nombre-user-1", msg.Sender.Nombre)
}

func TestWebsocket_MarkReadFrame(t *testing.T) {
	tg := setupGateway(t)
	tg.seedUsers(t, "user-1", "user-2")
	conv := tg.createConversation(t, tg.token(t, "user-1"), "user-2")
	tg.sendMessage(t, tg.token(t, "user-1"), conv.ID, "hola")

	ws := tg.dialWS(t, "user-2")
	require.Equal(t, events.TypeConnected, readEvent(t, ws).Type)

	frame, err := events.Marshal(events.TypeMarkRead, events.MarkReadData{ConversationID: conv.ID})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))

	require.Eventually(t, func() bool {
		count, err := tg.store.UnreadCount(context.Background(), "user-2")
		return err == nil && count == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWebsocket_LatestConnectionWins(t *testing.T) {
	tg := setupGateway(t)
	tg.seedUsers(t, "user-1", "user-2")
	conv := tg.createConversation(t, tg.token(t, "user-1"), "user-2")

	first := tg.dialWS(t, "user-2")
	require.Equal(t, events.TypeConnected, readEvent(t, first).Type)

	second := tg.dialWS(t, "user-2")
	require.Equal(t, events.TypeConnected, readEvent(t, second).Type)

	// The replaced connection is closed by the server.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	tg.sendMessage(t, tg.token(t, "user-1"), conv.ID, "para la nueva")

	env := readEvent(t, second)
	require.Equal(t, events.TypeMessage, env.Type)

	var msg events.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "para la nueva", msg.Content)
}
