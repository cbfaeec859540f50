// ABOUTME: Conn wraps one user's live websocket and serializes outbound writes
// ABOUTME: Buffered send channel, single-shot close, periodic pings

package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// sendBufferSize bounds the per-connection outbound queue.
	sendBufferSize = 64

	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// ErrConnClosed is returned by Send after the connection has been closed.
var ErrConnClosed = errors.New("connection closed")

// ErrSendBufferFull is returned when the peer is too slow to keep up; the
// connection is closed so backpressure stays bounded.
var ErrSendBufferFull = errors.New("send buffer full")

// Socket is the subset of *websocket.Conn the Conn needs. Tests substitute a
// fake; production code passes a gorilla connection.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one user's live channel. All outbound traffic goes through a
// buffered channel drained by a single write loop, so Send is safe from any
// goroutine. A Conn belongs to exactly one Registry entry; its generation is
// assigned at Register time and identifies it against stale disconnects.
type Conn struct {
	userID     string
	generation uint64

	ws     Socket
	send   chan []byte
	once   sync.Once
	closed chan struct{}
	logger *slog.Logger
}

// NewConn wraps a websocket for the given user. Start must be called once to
// launch the write loop.
func NewConn(userID string, ws Socket, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
		logger: logger.With("component", "conn", "user_id", userID),
	}
}

// UserID returns the connection's owner.
func (c *Conn) UserID() string { return c.userID }

// Generation returns the registration generation, 0 before Register.
func (c *Conn) Generation() uint64 { return c.generation }

// Start launches the write loop. Call exactly once per connection.
func (c *Conn) Start() {
	go c.writeLoop()
}

// Send enqueues a frame for delivery. Non-blocking: a full buffer closes the
// connection rather than stalling the dispatcher.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		return ErrConnClosed
	default:
		c.logger.Warn("send buffer full, closing connection")
		c.Close()
		return ErrSendBufferFull
	}
}

// Close terminates the connection and stops the write loop. Safe to call more
// than once.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(writeWait)
		_ = c.ws.SetWriteDeadline(deadline)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.ws.Close()
	})
}

// Closed reports, as a channel, whether the connection has been closed.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			if err := c.writeMessage(payload); err != nil {
				c.logger.Debug("write failed, closing", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				c.logger.Debug("ping failed, closing", "error", err)
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) writeMessage(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Conn) writePing() error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}
