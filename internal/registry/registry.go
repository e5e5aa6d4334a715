// Package registry maps logical user identities to their live websocket
// connections. It is the single piece of shared mutable state on the hot
// path: every connect, disconnect, and broadcast goes through it.
package registry

import "sync"

// Conn is the minimal surface the registry (and everything that fans out
// through it) needs from a transport connection. The ws package's
// Connection satisfies it; tests inject fakes.
type Conn interface {
	// ID returns the connection's unique identifier.
	ID() string
	// Send writes one outbound frame to the connection.
	Send(data []byte) error
}

// Registry is a goroutine-safe mapping from user IDs to their live
// connections. A user may own any number of concurrent connections
// (multi-tab, multi-device); a connection belongs to at most one user.
// Nothing is persisted; the registry is wiped on process restart.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]Conn // userID -> connID -> Conn
	owner  map[string]string          // connID -> userID
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]Conn),
		owner:  make(map[string]string),
	}
}

// Register files conn under userID. first is true if this is the user's
// first live connection (the 0→1 occupancy transition that should trigger
// an online presence change). Re-registering the same connection under a
// new user re-files it; if the re-filing removed the previous user's last
// connection (their 1→0 transition), displaced carries that user's ID so
// the caller can drive the offline presence change, otherwise it is empty.
func (r *Registry) Register(userID string, conn Conn) (first bool, displaced string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID := conn.ID()
	if prev, ok := r.owner[connID]; ok && prev != userID {
		delete(r.byUser[prev], connID)
		if len(r.byUser[prev]) == 0 {
			delete(r.byUser, prev)
			displaced = prev
		}
	}

	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]Conn)
		r.byUser[userID] = conns
	}
	first = len(conns) == 0
	conns[connID] = conn
	r.owner[connID] = userID
	return first, displaced
}

// Unregister removes the connection with the given ID from whatever user it
// was filed under. It returns the user ID it was bound to and whether this
// was the user's last live connection (the 1→0 transition that should
// trigger an offline presence change). Unknown IDs are a no-op and return
// ("", false).
func (r *Registry) Unregister(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owner[connID]
	if !ok {
		return "", false
	}
	delete(r.owner, connID)

	conns := r.byUser[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return userID, true
	}
	return userID, false
}

// ConnectionsFor returns a snapshot of the user's live connections, possibly
// empty. The slice is safe to iterate without holding the registry lock.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// UserFor returns the user ID a connection is registered under, or "" if the
// connection is not registered.
func (r *Registry) UserFor(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner[connID]
}

// Users returns a snapshot of all user IDs that currently have at least one
// live connection.
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	return users
}

// CountFor returns the number of live connections owned by userID.
func (r *Registry) CountFor(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Count returns the total number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owner)
}
