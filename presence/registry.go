// Package presence keeps the in-memory mapping of online identities to their
// current connection. It is a cache of "who is reachable now", never a source
// of truth for identity or history: entries vanish on process restart.
package presence

import (
	"sync"

	"chat-relay/contract"
	"chat-relay/domain"
)

type Registry struct {
	mu      sync.RWMutex
	entries map[domain.Identity]contract.Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[domain.Identity]contract.Entry)}
}

// Register unconditionally upserts the entry for an identity.
// A later connect for the same identity overwrites the earlier mapping;
// the superseded connection is then protected against by Unregister.
func (r *Registry) Register(id domain.Identity, entry contract.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = entry
}

// Unregister removes the entry only if it still belongs to the given handle
// (compare-and-delete). A stale disconnect from a superseded connection is a
// silent no-op. Returns whether an entry was actually removed, so the caller
// knows whether an offline broadcast is warranted.
func (r *Registry) Unregister(id domain.Identity, handle domain.ConnectionHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok || entry.Handle != handle {
		return false
	}
	delete(r.entries, id)
	return true
}

func (r *Registry) Lookup(id domain.Identity) (contract.Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry, ok
}

// ExistsBulk resolves a batch of identities to their current online state.
// Never-seen identities map to false; the result always covers every input.
func (r *Registry) ExistsBulk(ids []domain.Identity) map[domain.Identity]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make(map[domain.Identity]bool, len(ids))
	for _, id := range ids {
		_, ok := r.entries[id]
		statuses[id] = ok
	}
	return statuses
}

// Snapshot returns the sinks of all live connections for presence broadcasts.
// The copy is taken under the read lock; delivery happens outside it.
func (r *Registry) Snapshot() []contract.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]contract.Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		snapshot = append(snapshot, entry)
	}
	return snapshot
}

// Size is the only presence figure exposed externally (admin status query).
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
