// Package presence tracks which users currently hold a live connection.
//
// The table is process-local and rebuilt empty on restart; every user is
// implicitly offline until their next connect. Presence is not authorization:
// an entry only says where to push, never what the holder may read.
package presence

import "sync"

// Table maps user identity to the handle of their active connection.
// Exactly one entry exists per connected user; a reconnect overwrites the
// previous handle (last-connect-wins).
type Table struct {
	mu       sync.RWMutex
	byUser   map[string]string // userID -> handle
	byHandle map[string]string // handle -> userID
}

// NewTable creates an empty presence table.
func NewTable() *Table {
	return &Table{
		byUser:   make(map[string]string),
		byHandle: make(map[string]string),
	}
}

// Register records handle as userID's live connection, superseding any
// previous handle for the same user.
func (t *Table) Register(userID, handle string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.byUser[userID]; ok {
		delete(t.byHandle, old)
	}
	t.byUser[userID] = handle
	t.byHandle[handle] = userID
}

// Unregister removes userID's entry, but only if handle is still the one
// recorded. A stale disconnect from a superseded connection is a no-op, so a
// disconnect racing a reconnect can never evict the newer entry.
func (t *Table) Unregister(userID, handle string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.byUser[userID]; !ok || current != handle {
		return
	}
	delete(t.byUser, userID)
	delete(t.byHandle, handle)
}

// Lookup returns the live connection handle for userID, if any.
func (t *Table) Lookup(userID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	handle, ok := t.byUser[userID]
	return handle, ok
}

// ResolveHandle returns the user currently bound to handle, if any. Used by
// disconnect events, which only know the connection that went away.
func (t *Table) ResolveHandle(handle string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	userID, ok := t.byHandle[handle]
	return userID, ok
}

// Snapshot returns the IDs of all currently connected users.
func (t *Table) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := make([]string, 0, len(t.byUser))
	for userID := range t.byUser {
		users = append(users, userID)
	}
	return users
}

// Len returns the number of connected users.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byUser)
}
