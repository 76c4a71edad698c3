package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/shelter/internal/logger"
	"github.com/shelter/internal/metrics"
)

type connState struct {
	userID   string
	lastSeen time.Time
}

// Registry tracks every live gateway connection and the number of
// connections per user. Presence transitions are derived from the user
// counts: online fires only on 0 -> 1, offline only on 1 -> 0, so a user
// with several devices stays online until the last one goes away.
type Registry struct {
	mu    sync.Mutex
	conns map[*Conn]*connState
	users map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[*Conn]*connState),
		users: make(map[string]int),
	}
}

// Add registers a connection and broadcasts presence-online if it is the
// user's first.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	r.conns[c] = &connState{userID: c.userID, lastSeen: time.Now()}
	r.users[c.userID]++
	first := r.users[c.userID] == 1
	total := len(r.conns)
	r.mu.Unlock()

	metrics.GatewayConnections.Set(float64(total))
	logger.Infof("ws: connected user=%s, total=%d", c.userID, total)
	if first {
		r.Broadcast(OpPresenceUpdate, PresencePayload{UserID: c.userID, Status: StatusOnline})
	}
}

// Remove drops a connection and broadcasts presence-offline if it was the
// user's last. Idempotent: a connection already removed is a no-op, so the
// read pump and the heartbeat supervisor can both call it.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	st, ok := r.conns[c]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, c)
	r.users[st.userID]--
	last := r.users[st.userID] == 0
	if last {
		delete(r.users, st.userID)
	}
	total := len(r.conns)
	r.mu.Unlock()

	c.Close()
	metrics.GatewayConnections.Set(float64(total))
	logger.Infof("ws: disconnected user=%s, total=%d", st.userID, total)
	if last {
		r.Broadcast(OpPresenceUpdate, PresencePayload{UserID: st.userID, Status: StatusOffline})
	}
}

// MarkAlive records a heartbeat acknowledgment.
func (r *Registry) MarkAlive(c *Conn) {
	r.mu.Lock()
	if st, ok := r.conns[c]; ok {
		st.lastSeen = time.Now()
	}
	r.mu.Unlock()
}

// UserID returns the owner of a registered connection.
func (r *Registry) UserID(c *Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.conns[c]
	if !ok {
		return "", false
	}
	return st.userID, true
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[userID] > 0
}

// Broadcast fans an event out to every live connection. Slow clients are
// closed by enqueue instead of blocking the caller.
func (r *Registry) Broadcast(op OpCode, payload any) {
	frame, err := json.Marshal(Event{Op: op, D: payload})
	if err != nil {
		logger.Errorf("ws: marshal broadcast op=%d: %v", op, err)
		return
	}

	r.mu.Lock()
	targets := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
	metrics.BroadcastsTotal.Inc()
}

// SendToUser delivers an event to every connection of one user.
func (r *Registry) SendToUser(userID string, op OpCode, payload any) {
	frame, err := json.Marshal(Event{Op: op, D: payload})
	if err != nil {
		logger.Errorf("ws: marshal event op=%d: %v", op, err)
		return
	}

	r.mu.Lock()
	targets := make([]*Conn, 0, 2)
	for c, st := range r.conns {
		if st.userID == userID {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

type connSnapshot struct {
	conn     *Conn
	userID   string
	lastSeen time.Time
}

// snapshot copies the live set for the supervisor sweep.
func (r *Registry) snapshot() []connSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]connSnapshot, 0, len(r.conns))
	for c, st := range r.conns {
		out = append(out, connSnapshot{conn: c, userID: st.userID, lastSeen: st.lastSeen})
	}
	return out
}

// Shutdown closes every connection and waits for their pumps to exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	targets := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		c.Close()
	}
	for _, c := range targets {
		c.Wait()
	}
}
