package chathub

import (
	"sort"
	"sync"
	"time"

	"carelink/backend/internal/models"
)

// Connection is the registry entry of one identity.
type Connection struct {
	Client      Client
	UserID      string
	Role        models.Role
	ConnectedAt time.Time
	Status      models.PresenceStatus
}

// Registry maps an identity to its single current channel.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Admit makes c the current channel of its identity and returns the channel
// it replaced, if any. The replaced channel is not closed.
func (r *Registry) Admit(c Client) Client {
	conn := &Connection{
		Client:      c,
		UserID:      c.GetUserID(),
		Role:        c.GetRole(),
		ConnectedAt: time.Now(),
		Status:      models.PresenceOnline,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var prev Client
	if old, ok := r.conns[conn.UserID]; ok && old.Client != c {
		prev = old.Client
	}
	r.conns[conn.UserID] = conn
	return prev
}

// Remove deletes the entry of c's identity only while c is still its
// current channel. It reports whether an entry was removed.
func (r *Registry) Remove(c Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := c.GetUserID()
	if cur, ok := r.conns[id]; ok && cur.Client == c {
		delete(r.conns, id)
		return true
	}
	return false
}

func (r *Registry) Lookup(userID string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if conn, ok := r.conns[userID]; ok {
		return conn.Client, true
	}
	return nil, false
}

// IsCurrent reports whether c is still the registered channel of its identity.
func (r *Registry) IsCurrent(c Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[c.GetUserID()]
	return ok && conn.Client == c
}

// All returns a copy of every entry ordered by identity.
func (r *Registry) All() []Connection {
	r.mu.RLock()
	out := make([]Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, *conn)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// SetStatus updates the presence status of c's identity while c is current.
func (r *Registry) SetStatus(c Client, status models.PresenceStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[c.GetUserID()]
	if !ok || conn.Client != c {
		return false
	}
	conn.Status = status
	return true
}

// Status returns the presence status of c's identity while c is current.
func (r *Registry) Status(c Client) (models.PresenceStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[c.GetUserID()]
	if !ok || conn.Client != c {
		return "", false
	}
	return conn.Status, true
}

func (r *Registry) IsUserOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
