// Package roster caches the membership collaborator's peer display
// names. Location samples may reference a peer before the roster has
// seen it; lookups fall back to the raw identifier in that case.
package roster

import "sync"

// Roster is a thread-safe peerID -> nickname map.
type Roster struct {
	mu    sync.RWMutex
	names map[string]string
}

// New constructs an empty roster.
func New() *Roster {
	return &Roster{names: make(map[string]string)}
}

// Update records or replaces a peer's nickname. Empty nicknames
// remove the entry so lookups fall back to the raw ID.
func (r *Roster) Update(peerID, nickname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if nickname == "" {
		delete(r.names, peerID)
		return
	}
	r.names[peerID] = nickname
}

// Remove drops a peer from the roster.
func (r *Roster) Remove(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.names, peerID)
}

// Nickname returns the stored nickname and whether one is known.
func (r *Roster) Nickname(peerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[peerID]
	return name, ok
}

// DisplayName returns the nickname when known, otherwise the raw ID.
func (r *Roster) DisplayName(peerID string) string {
	if name, ok := r.Nickname(peerID); ok {
		return name
	}
	return peerID
}

// Snapshot returns a copy of the current roster.
func (r *Roster) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make(map[string]string, len(r.names))
	for id, name := range r.names {
		res[id] = name
	}
	return res
}
