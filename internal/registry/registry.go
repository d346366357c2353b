package registry

import (
	"sort"
	"strings"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Connection is a read-only snapshot of one live client connection.
// The Groups slice is a copy; callers can safely retain or modify it.
type Connection struct {
	ConnectionID string
	UserID       string
	Groups       []string
}

// connection is the internal mutable record for a live connection.
type connection struct {
	userID string
	groups map[string]struct{}
}

// Registry provides in-memory bookkeeping of live client connections.
//
// One user may have many connections; each connection belongs to exactly
// one user. All public methods are thread-safe, return snapshots, and
// never fail: racing a lookup against a disconnect yields stale or missing
// data, never an error.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*connection          // by connection ID
	byUser map[string]map[string]struct{}  // user ID -> set of connection IDs
	logger Logger
}

// New creates an empty connection registry.
func New() *Registry {
	return &Registry{
		conns:  make(map[string]*connection),
		byUser: make(map[string]map[string]struct{}),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RegisterClient records a live connection for a user.
// Registering an already known connection ID is idempotent; if the user
// differs the connection is reassigned to the new user.
func (r *Registry) RegisterClient(userID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[connectionID]; ok {
		if existing.userID == userID {
			return
		}
		// Reassignment: detach from the previous user first.
		r.detachLocked(existing.userID, connectionID)
		existing.userID = userID
	} else {
		r.conns[connectionID] = &connection{
			userID: userID,
			groups: make(map[string]struct{}),
		}
	}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[connectionID] = struct{}{}

	r.logger.Debug("client registered", "user_id", userID, "connection_id", connectionID)
}

// UnregisterClient removes a connection. Unknown IDs are a silent no-op.
func (r *Registry) UnregisterClient(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connectionID]
	if !ok {
		return
	}
	delete(r.conns, connectionID)
	r.detachLocked(conn.userID, connectionID)

	r.logger.Debug("client unregistered", "user_id", conn.userID, "connection_id", connectionID)
}

// ClearUser removes all connections belonging to a user.
// Used on forced sign-out. Unknown users are a silent no-op.
func (r *Registry) ClearUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.byUser[userID]
	if !ok {
		return
	}
	for connectionID := range set {
		delete(r.conns, connectionID)
	}
	delete(r.byUser, userID)

	r.logger.Info("user connections cleared", "user_id", userID, "count", len(set))
}

// Subscribe adds groups to a connection's subscription set.
// Unknown connection IDs are a silent no-op: subscribe calls may race
// with a disconnect in flight.
func (r *Registry) Subscribe(connectionID string, groups ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connectionID]
	if !ok {
		return
	}
	for _, g := range groups {
		conn.groups[g] = struct{}{}
	}
}

// Unsubscribe removes groups from a connection's subscription set.
// Unknown connection IDs and unsubscribed groups are silent no-ops.
func (r *Registry) Unsubscribe(connectionID string, groups ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connectionID]
	if !ok {
		return
	}
	for _, g := range groups {
		delete(conn.groups, g)
	}
}

// FindByConnection returns a snapshot of the connection with the given ID.
// The second return value reports whether the connection is live.
func (r *Registry) FindByConnection(connectionID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connectionID]
	if !ok {
		return Connection{}, false
	}
	return snapshot(connectionID, conn), true
}

// FindByUser returns snapshots of all live connections for a user.
func (r *Registry) FindByUser(userID string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	out := make([]Connection, 0, len(set))
	for connectionID := range set {
		if conn, live := r.conns[connectionID]; live {
			out = append(out, snapshot(connectionID, conn))
		}
	}
	return out
}

// FindByGroup returns snapshots of all connections subscribed to a group.
func (r *Registry) FindByGroup(group string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Connection
	for connectionID, conn := range r.conns {
		if _, subscribed := conn.groups[group]; subscribed {
			out = append(out, snapshot(connectionID, conn))
		}
	}
	return out
}

// FindByAnyGroupContaining returns snapshots of all connections subscribed to
// at least one group containing any of the given substrings. Used for
// wildcard-ish fan-out such as "every connection watching any sensor".
func (r *Registry) FindByAnyGroupContaining(substrings ...string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Connection
	for connectionID, conn := range r.conns {
		if matchesAny(conn.groups, substrings) {
			out = append(out, snapshot(connectionID, conn))
		}
	}
	return out
}

// OnlineUserIDs returns the distinct IDs of users with at least one live
// connection, sorted for deterministic output.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byUser))
	for userID, set := range r.byUser {
		if len(set) > 0 {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out
}

// ConnectionCount returns the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// detachLocked removes a connection ID from a user's set.
// Caller must hold the write lock.
func (r *Registry) detachLocked(userID, connectionID string) {
	set, ok := r.byUser[userID]
	if !ok {
		return
	}
	delete(set, connectionID)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
}

// snapshot copies an internal record into a caller-owned Connection.
func snapshot(connectionID string, conn *connection) Connection {
	groups := make([]string, 0, len(conn.groups))
	for g := range conn.groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return Connection{
		ConnectionID: connectionID,
		UserID:       conn.userID,
		Groups:       groups,
	}
}

// matchesAny reports whether any group contains any of the substrings.
func matchesAny(groups map[string]struct{}, substrings []string) bool {
	for g := range groups {
		for _, sub := range substrings {
			if sub != "" && strings.Contains(g, sub) {
				return true
			}
		}
	}
	return false
}
