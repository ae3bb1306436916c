package directory

import (
	"net/netip"
	"sync"

	"github.com/google/uuid"
)

// Registry maps node identifiers to socket addresses. Entries live until
// removed; there is no expiry.
type Registry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]netip.AddrPort
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[uuid.UUID]netip.AddrPort)}
}

// Insert adds or overwrites the entry for id.
func (r *Registry) Insert(id uuid.UUID, addr netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = addr
}

// Remove deletes the entry for id and reports whether one existed.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	return ok
}

func (r *Registry) Lookup(id uuid.UUID) (netip.AddrPort, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.entries[id]
	return addr, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Entries returns a copy of the registry contents.
func (r *Registry) Entries() map[uuid.UUID]netip.AddrPort {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]netip.AddrPort, len(r.entries))
	for id, addr := range r.entries {
		out[id] = addr
	}
	return out
}
