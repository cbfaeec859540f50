// ABOUTME: Transport and Dialer abstractions over the live channel
// ABOUTME: Production dials gorilla websockets; tests substitute a fake

package client

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// Transport is one established live channel. ReadMessage blocks until a frame
// arrives or the channel dies.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer establishes a Transport to the gateway's websocket endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebsocketDialer is the production Dialer.
type WebsocketDialer struct{}

// Dial opens a websocket to url.
func (WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return &wsTransport{ws: ws}, nil
}

type wsTransport struct {
	ws *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.ws.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.ws.Close()
}

var _ Dialer = WebsocketDialer{}
var _ Transport = (*wsTransport)(nil)
