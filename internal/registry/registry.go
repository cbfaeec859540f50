// ABOUTME: Process-wide map from user id to its single live connection
// ABOUTME: Latest registration wins; stale unregisters are generation-guarded

package registry

import (
	"log/slog"
	"sync"

	"github.com/plazared/dm-gateway/internal/metrics"
)

// Registry holds at most one live connection per user. It is owned by the
// server process's lifecycle: created at startup, drained on shutdown. Only
// Register and Unregister mutate the map.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Conn
	nextGen uint64
	logger  *slog.Logger
}

// New creates an empty registry. Pass nil logger for default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]*Conn),
		logger: logger.With("component", "registry"),
	}
}

// Register installs conn as the user's live channel. An existing connection
// is closed before being replaced: latest wins, at most one connection per
// user at any instant. The replaced peer's own reconnect logic is expected to
// re-register.
func (r *Registry) Register(userID string, conn *Conn) {
	r.mu.Lock()
	prev := r.conns[userID]
	r.nextGen++
	conn.generation = r.nextGen
	r.conns[userID] = conn
	total := len(r.conns)
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
		metrics.ConnectionReplacements.Inc()
		r.logger.Info("replaced live connection",
			"user_id", userID,
			"old_generation", prev.generation,
			"new_generation", conn.generation)
	} else {
		r.logger.Info("user connected",
			"user_id", userID,
			"generation", conn.generation,
			"total_connections", total)
	}
	metrics.LiveConnections.Set(float64(total))
}

// Unregister removes the mapping, but only if it still points to conn. A
// disconnect event for a connection that has already been replaced must not
// evict the newer one, so the generation is compared before deleting.
func (r *Registry) Unregister(userID string, conn *Conn) {
	r.mu.Lock()
	current, ok := r.conns[userID]
	if !ok || current.generation != conn.generation {
		r.mu.Unlock()
		r.logger.Debug("ignoring stale unregister",
			"user_id", userID,
			"generation", conn.generation)
		return
	}
	delete(r.conns, userID)
	total := len(r.conns)
	r.mu.Unlock()

	conn.Close()
	metrics.LiveConnections.Set(float64(total))
	r.logger.Info("user disconnected",
		"user_id", userID,
		"generation", conn.generation,
		"total_connections", total)
}

// Lookup returns the user's current live connection, if any.
func (r *Registry) Lookup(userID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[userID]
	return conn, ok
}

// Online reports whether the user currently holds a live connection.
func (r *Registry) Online(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Drain closes every connection and empties the registry. Called on shutdown.
func (r *Registry) Drain() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for userID, conn := range r.conns {
		conns = append(conns, conn)
		delete(r.conns, userID)
	}
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	metrics.LiveConnections.Set(0)
	r.logger.Info("registry drained", "closed", len(conns))
}
