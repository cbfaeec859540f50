// ABOUTME: Client-side sync agent owning one logical live connection
// ABOUTME: Reconnect state machine, listener fan-out, optimistic unread state

package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/plazared/dm-gateway/internal/events"
)

// State is the agent's connection state.
type State int

// Connection states. There is no terminal state: as long as the session token
// exists, an involuntary drop always leads back through Connecting.
const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Listener receives every inbound event envelope.
type Listener func(events.Envelope)

// Options tunes the agent's timing. Zero values get defaults.
type Options struct {
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
}

// pendingOp records the exact state a failed optimistic update restores. The
// rollback re-applies the stored prior value rather than reversing the delta,
// so concurrent corruption cannot compound.
type pendingOp struct {
	conversationID string
	priorUnread    int
}

// Agent owns at most one logical live connection per session. Connect is
// idempotent while a connection attempt or session is active. An involuntary
// drop schedules exactly one reconnect after a fixed delay; a deliberate
// Disconnect never reconnects.
type Agent struct {
	baseURL string
	dialer  Dialer
	opts    Options
	logger  *slog.Logger

	mu             sync.Mutex
	state          State
	token          string
	transport      Transport
	session        uint64
	reconnectTimer *time.Timer

	listeners    map[uint64]Listener
	nextListener uint64

	unread int
}

// New creates an agent pointed at the gateway's base URL
// (e.g. "ws://localhost:8080"). Pass nil logger for default.
func New(baseURL string, dialer Dialer, opts Options, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return &Agent{
		baseURL:   baseURL,
		dialer:    dialer,
		opts:      opts,
		logger:    logger.With("component", "sync-agent"),
		state:     StateDisconnected,
		listeners: make(map[uint64]Listener),
	}
}

// State returns the current connection state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Unread returns the locally-tracked total unread count. Authoritative on
// every connected event, optimistic between them.
func (a *Agent) Unread() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unread
}

// Subscribe registers a listener for inbound events. The returned unsubscribe
// func is safe to call more than once.
func (a *Agent) Subscribe(fn Listener) (unsubscribe func()) {
	a.mu.Lock()
	a.nextListener++
	id := a.nextListener
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// Connect starts a session with the given token. Idempotent: calling it while
// Connecting or Open is a no-op.
func (a *Agent) Connect(token string) {
	a.mu.Lock()
	if a.state == StateConnecting || a.state == StateOpen {
		a.mu.Unlock()
		return
	}
	a.state = StateConnecting
	a.token = token
	a.session++
	session := a.session
	a.mu.Unlock()

	go a.dial(session, token)
}

// Disconnect deliberately closes the session. The close that follows goes
// through Closing, which suppresses the reconnect.
func (a *Agent) Disconnect() {
	a.mu.Lock()
	a.cancelReconnectLocked()

	if a.state != StateOpen && a.state != StateConnecting {
		a.mu.Unlock()
		return
	}
	a.state = StateClosing
	transport := a.transport
	a.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
}

// MarkRead asks the server to flip every unread message in the conversation.
// Fire-and-forget: the server operation is idempotent, so no ack is awaited.
// The local unread count drops by countInConversation immediately; if the
// frame cannot be sent, the exact prior value is restored.
func (a *Agent) MarkRead(conversationID string, countInConversation int) {
	a.mu.Lock()
	op := pendingOp{conversationID: conversationID, priorUnread: a.unread}
	a.unread -= countInConversation
	if a.unread < 0 {
		a.unread = 0
	}
	transport := a.transport
	open := a.state == StateOpen
	a.mu.Unlock()

	if !open || transport == nil {
		a.rollback(op)
		return
	}

	frame, err := events.Marshal(events.TypeMarkRead, events.MarkReadData{ConversationID: conversationID})
	if err != nil {
		a.rollback(op)
		return
	}
	if err := transport.WriteMessage(frame); err != nil {
		a.logger.Debug("mark_read send failed",
			"error", err,
			"conversation_id", conversationID)
		a.rollback(op)
	}
}

func (a *Agent) rollback(op pendingOp) {
	a.mu.Lock()
	a.unread = op.priorUnread
	a.mu.Unlock()
	a.logger.Debug("optimistic update rolled back",
		"conversation_id", op.conversationID,
		"unread", op.priorUnread)
}

func (a *Agent) dial(session uint64, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.DialTimeout)
	defer cancel()

	transport, err := a.dialer.Dial(ctx, a.baseURL+"/ws?token="+url.QueryEscape(token))

	a.mu.Lock()
	if a.session != session || a.state != StateConnecting {
		// Disconnect (or a newer Connect) overtook this attempt.
		if a.state == StateClosing {
			a.state = StateDisconnected
		}
		a.mu.Unlock()
		if err == nil {
			_ = transport.Close()
		}
		return
	}
	if err != nil {
		a.state = StateDisconnected
		a.mu.Unlock()
		a.logger.Warn("dial failed", "error", err)
		a.scheduleReconnect(token)
		return
	}
	a.transport = transport
	a.state = StateOpen
	a.mu.Unlock()

	a.logger.Info("connected")
	go a.readLoop(session, transport, token)
}

func (a *Agent) readLoop(session uint64, transport Transport, token string) {
	for {
		data, err := transport.ReadMessage()
		if err != nil {
			a.handleClose(session, token, err)
			return
		}
		a.handleFrame(session, data)
	}
}

// handleClose transitions to Disconnected. Only an involuntary close — one
// that did not pass through Closing — schedules the reconnect, and only one
// is ever pending.
func (a *Agent) handleClose(session uint64, token string, cause error) {
	a.mu.Lock()
	if a.session != session {
		a.mu.Unlock()
		return
	}
	voluntary := a.state == StateClosing
	a.state = StateDisconnected
	a.transport = nil
	a.mu.Unlock()

	if voluntary {
		a.logger.Info("disconnected")
		return
	}
	a.logger.Warn("connection lost", "error", cause)
	a.scheduleReconnect(token)
}

func (a *Agent) scheduleReconnect(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.reconnectTimer != nil {
		return
	}
	a.reconnectTimer = time.AfterFunc(a.opts.ReconnectDelay, func() {
		a.mu.Lock()
		a.reconnectTimer = nil
		a.mu.Unlock()
		a.Connect(token)
	})
	a.logger.Info("reconnect scheduled", "delay", a.opts.ReconnectDelay)
}

func (a *Agent) cancelReconnectLocked() {
	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
		a.reconnectTimer = nil
	}
}

func (a *Agent) handleFrame(session uint64, data []byte) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		a.logger.Debug("unparseable frame", "error", err)
		return
	}

	a.mu.Lock()
	if a.session != session {
		a.mu.Unlock()
		return
	}
	switch env.Type {
	case events.TypeConnected:
		var payload events.ConnectedData
		if err := json.Unmarshal(env.Data, &payload); err == nil {
			// Authoritative reset: the server count supersedes whatever
			// optimistic state survived the reconnect.
			a.unread = payload.UnreadCount
		}
	case events.TypeMessage:
		a.unread++
	}
	listeners := make([]Listener, 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(env)
	}
}
