// ABOUTME: Session registry tracking live session IDs per user identity
// ABOUTME: Reports online/offline transitions and serves the current online set

package presence

import (
	"log/slog"
	"sync"
)

// Registry maps each user identity to the set of its active session IDs.
// A user is online iff it has at least one active session. The registry
// is an injected instance owned by the gateway, mutated only on session
// connect/disconnect, and safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]struct{} // userID -> sessionID set
	logger   *slog.Logger
}

// NewRegistry creates a registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]map[string]struct{}),
		logger:   logger.With("component", "presence"),
	}
}

// Register adds a session for the user. Returns true when this is the
// user's first active session, i.e. the user transitioned to online.
func (r *Registry) Register(userID, sessionID string) (cameOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[string]struct{})
		r.sessions[userID] = set
		cameOnline = true
	}
	set[sessionID] = struct{}{}

	r.logger.Debug("session registered",
		"user_id", userID,
		"session_id", sessionID,
		"sessions", len(set),
		"came_online", cameOnline)
	return cameOnline
}

// Unregister removes a session for the user. Returns true when the
// user's active set became empty, i.e. the user transitioned to offline.
// Unknown sessions are ignored.
func (r *Registry) Unregister(userID, sessionID string) (wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		return false
	}

	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.sessions, userID)
		wentOffline = true
	}

	r.logger.Debug("session unregistered",
		"user_id", userID,
		"session_id", sessionID,
		"went_offline", wentOffline)
	return wentOffline
}

// Online returns the identities with at least one active session.
// The result is a set snapshot with no guaranteed order.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.sessions))
	for userID := range r.sessions {
		users = append(users, userID)
	}
	return users
}

// IsOnline reports whether the user has at least one active session.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sessions[userID]
	return ok
}

// SessionCount returns the number of active sessions for the user.
func (r *Registry) SessionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions[userID])
}
