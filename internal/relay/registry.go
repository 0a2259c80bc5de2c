package relay

import (
	"log/slog"
	"sort"
	"sync"
)

// Handle identifies one transport-layer connection. The relay never touches
// the connection itself; the transport adapter maps handles back to sockets.
type Handle string

// Profile is opaque display data registered by a user and passed through to
// peers in call and roster events. The relay does not interpret it.
type Profile struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// UserConnection is one user's live relay presence.
type UserConnection struct {
	UserID  string
	Handle  Handle
	Profile Profile
}

// Registry tracks which users are currently reachable and through which
// connection handle. At most one entry exists per user id; re-registration
// replaces the handle in place so a reconnect supersedes the old transport.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[string]UserConnection
	byHandle map[Handle]string
	logger   *slog.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		byUser:   make(map[string]UserConnection),
		byHandle: make(map[Handle]string),
		logger:   logger.With("subsystem", "registry"),
	}
}

// Register inserts or replaces the entry for userID. It always succeeds.
// A previous handle for the same user is considered superseded; closing it
// is left to the transport layer.
func (r *Registry) Register(userID string, h Handle, profile Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byUser[userID]; ok {
		delete(r.byHandle, prev.Handle)
		r.logger.Debug("connection superseded",
			"user_id", userID,
			"old_handle", string(prev.Handle),
			"new_handle", string(h),
		)
	}

	r.byUser[userID] = UserConnection{UserID: userID, Handle: h, Profile: profile}
	r.byHandle[h] = userID

	r.logger.Info("user registered",
		"user_id", userID,
		"handle", string(h),
		"online", len(r.byUser),
	)
}

// Lookup returns the live connection for userID. A miss means the user is
// offline, which is a normal outcome rather than an error.
func (r *Registry) Lookup(userID string) (UserConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uc, ok := r.byUser[userID]
	return uc, ok
}

// Remove deletes the entry whose current handle matches h exactly and returns
// it. If the handle was already superseded by a newer Register (a stale
// disconnect event arriving late), Remove is a no-op: the registry is
// last-write-wins on the handle, not on event arrival order.
func (r *Registry) Remove(h Handle) (UserConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byHandle[h]
	if !ok {
		return UserConnection{}, false
	}

	uc := r.byUser[userID]
	delete(r.byUser, userID)
	delete(r.byHandle, h)

	r.logger.Info("user removed",
		"user_id", userID,
		"handle", string(h),
		"online", len(r.byUser),
	)
	return uc, true
}

// Snapshot returns the current presence list ordered by user id.
func (r *Registry) Snapshot() []UserConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]UserConnection, 0, len(r.byUser))
	for _, uc := range r.byUser {
		out = append(out, uc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Count returns the number of registered users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
