// ABOUTME: Agent state machine tests driven by an in-process fake dialer
// ABOUTME: Reconnect-once semantics, listener fan-out, optimistic rollback

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plazared/dm-gateway/internal/events"
)

type fakeTransport struct {
	mu        sync.Mutex
	inbound   chan []byte
	written   [][]byte
	closed    bool
	failWrite bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan []byte, 16)}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	data, ok := <-t.inbound
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWrite {
		return errors.New("write failed")
	}
	t.written = append(t.written, data)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.inbound)
	}
	return nil
}

// serverClose simulates the peer dropping the connection.
func (t *fakeTransport) serverClose() { t.Close() }

func (t *fakeTransport) push(frame []byte) { t.inbound <- frame }

func (t *fakeTransport) setFailWrite(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failWrite = fail
}

func (t *fakeTransport) writtenFrames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.written))
	copy(out, t.written)
	return out
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	failures   int
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return nil, fs.ErrClosed
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func setupAgent(t *testing.T) (*Agent, *fakeDialer) {
	t.Helper()
	dialer := &fakeDialer{}
	agent := New("ws://gateway.test", dialer, Options{
		ReconnectDelay: 20 * time.Millisecond,
		DialTimeout:    time.Second,
	}, nil)
	t.Cleanup(agent.Disconnect)
	return agent, dialer
}

func connectedFrame(t *testing.T, unread int) []byte {
	t.Helper()
	frame, err := events.Marshal(events.TypeConnected, events.ConnectedData{UnreadCount: unread})
	require.NoError(t, err)
	return frame
}

func messageFrame(t *testing.T, content string) []byte {
	t.Helper()
	frame, err := events.Marshal(events.TypeMessage, events.Message{ID: "m1", Content: content})
	require.NoError(t, err)
	return frame
}

func waitForState(t *testing.T, agent *Agent, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return agent.State() == want
	}, time.Second, 5*time.Millisecond)
}

func TestAgent_ConnectOpensAndSyncsUnread(t *testing.T) {
	agent, dialer := setupAgent(t)
	assert.Equal(t, StateDisconnected, agent.State())

	agent.Connect("token-1")
	waitForState(t, agent, StateOpen)

	dialer.last().push(connectedFrame(t, 3))
	require.Eventually(t, func() bool {
		return agent.Unread() == 3
	}, time.Second, 5*time.Millisecond)
}

func TestAgent_ConnectIsIdempotent(t *testing.T) {
	agent, dialer := setupAgent(t)

	agent.Connect("token-1")
	waitForState(t, agent, StateOpen)
	agent.Connect("token-1")
	agent.Connect("token-1")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestAgent_InvoluntaryCloseReconnectsOnce(t *testing.T) {
	agent, dialer := setupAgent(t)

	agent.Connect("token-1")
	waitForState(t, agent, StateOpen)

	dialer.last().serverClose()
	require.Eventually(t, func() bool {
		return dialer.dialCount() == 2 && agent.State() == StateOpen
	}, time.Second, 5*time.Millisecond)

	// The new session stays up; no further dials happen.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestAgent_DeliberateDisconnectNeverReconnects(t *testing.T) {
	agent, dialer := setupAgent(t)

	agent.Connect("token-1")
	waitForState(t, agent, StateOpen)

	agent.Disconnect()
	waitForState(t, agent, StateDisconnected)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, StateDisconnected, agent.State())
}

func TestAgent_DialFailureRetriesAfterDelay(t *testing.T) {
	agent, dialer := setupAgent(t)
	dialer.failures = 1

	agent.Connect("token-1")
	require.Eventually(t, func() bool {
		return agent.State() == StateOpen && dialer.dialCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAgent_ListenerFanOutAndUnsubscribe(t *testing.T) {
	agent, dialer := setupAgent(t)

	var mu sync.Mutex
	var first, second []string
	record := func(dst *[]string) Listener {
		return func(env events.Envelope) {
			mu.Lock()
			*dst = append(*dst, env.Type)
			mu.Unlock()
		}
	}
	unsubFirst := agent.Subscribe(record(&first))
	agent.Subscribe(record(&second))

	agent.Connect("token-1")
	waitForState(t, agent, StateOpen)

	dialer.last().push(messageFrame(t, "hola"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) == 1 && len(second) == 1
	}, time.Second, 5*time.Millisecond)

	unsubFirst()
	unsubFirst() // safe to call again

	dialer.last().push(messageFrame(t, "otra"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(second) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Len(t, first, 1)
	mu.Unlock()
}

func TestAgent_MessageEventIncrementsUnread(t *testing.T) {
	agent, dialer := setupAgent(t)

	agent.Connect("token-1")
	waitForState(t, agent, StateOpen)

	dialer.last().push(connectedFrame(t, 1))
	dialer.last().push(messageFrame(t, "hola"))
	require.Eventually(t, func() bool {
		return agent.Unread() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestAgent_MarkReadOptimisticAndRollback(t *testing.T) {
	agent, dialer := setupAgent(t)

	agent.Connect("token-1")
	waitForState(t, agent, StateOpen)
	dialer.last().push(connectedFrame(t, 5))
	require.Eventually(t, func() bool {
		return agent.Unread() == 5
	}, time.Second, 5*time.Millisecond)

	agent.MarkRead("conv-1", 2)
	assert.Equal(t, 3, agent.Unread())

	frames := dialer.last().writtenFrames()
	require.Len(t, frames, 1)
	var env events.Envelope
	require.NoError(t, json.Unmarshal(frames[0], &env))
	assert.Equal(t, events.TypeMarkRead, env.Type)
	var payload events.MarkReadData
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "conv-1", payload.ConversationID)

	// A failed send restores the exact prior value.
	dialer.last().setFailWrite(true)
	agent.MarkRead("conv-1", 1)
	assert.Equal(t, 3, agent.Unread())
}

func TestAgent_MarkReadWhileDisconnectedRollsBack(t *testing.T) {
	agent, dialer := setupAgent(t)

	agent.Connect("token-1")
	waitForState(t, agent, StateOpen)
	dialer.last().push(connectedFrame(t, 4))
	require.Eventually(t, func() bool {
		return agent.Unread() == 4
	}, time.Second, 5*time.Millisecond)

	agent.Disconnect()
	waitForState(t, agent, StateDisconnected)

	agent.MarkRead("conv-1", 2)
	assert.Equal(t, 4, agent.Unread())
}

func TestAgent_ReconnectResyncsFromConnectedEvent(t *testing.T) {
	agent, dialer := setupAgent(t)

	agent.Connect("token-1")
	waitForState(t, agent, StateOpen)
	dialer.last().push(connectedFrame(t, 7))
	require.Eventually(t, func() bool {
		return agent.Unread() == 7
	}, time.Second, 5*time.Millisecond)

	dialer.last().serverClose()
	require.Eventually(t, func() bool {
		return dialer.dialCount() == 2 && agent.State() == StateOpen
	}, time.Second, 5*time.Millisecond)

	// The server count wins over anything tracked locally.
	dialer.last().push(connectedFrame(t, 2))
	require.Eventually(t, func() bool {
		return agent.Unread() == 2
	}, time.Second, 5*time.Millisecond)
}
