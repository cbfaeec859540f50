// Package client implements the consumer-side sync agent: one logical live
// connection per session with automatic recovery.
//
// # State Machine
//
// Disconnected, Connecting, Open, Closing. Connect is idempotent while
// Connecting or Open. An involuntary drop from Open schedules exactly one
// reconnect after a fixed delay; a deliberate Disconnect passes through
// Closing and never reconnects. There is no terminal state while a session
// token exists.
//
// # Local State
//
// The unread count is authoritative on every connected event and optimistic
// between them: MarkRead applies the decrement immediately and records the
// exact prior value, which is restored if the frame cannot be sent. Rollback
// re-applies the stored value rather than reversing the delta.
//
// The transport sits behind the Dialer interface; production uses gorilla
// websockets, tests substitute an in-process fake.
package client
