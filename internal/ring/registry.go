package ring

import (
	"sort"
	"strings"
	"sync"
)

// Registry records registered participants by id. Register is an atomic
// insert-if-absent.
type Registry interface {
	Register(id string, p *Participant) error
	Lookup(id string) (*Participant, bool)
	Deregister(id string)
	Snapshot() []*Participant
}

// MemoryRegistry is a process-local Registry.
type MemoryRegistry struct {
	mu    sync.RWMutex
	items map[string]*Participant
}

var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{items: make(map[string]*Participant)}
}

func (r *MemoryRegistry) Register(id string, p *Participant) error {
	key := strings.TrimSpace(id)
	if key == "" || p == nil {
		return ErrInvalidID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[key]; ok {
		return ErrAlreadyRegistered
	}
	r.items[key] = p
	return nil
}

func (r *MemoryRegistry) Lookup(id string) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[strings.TrimSpace(id)]
	return p, ok
}

func (r *MemoryRegistry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, strings.TrimSpace(id))
}

// Snapshot returns registered participants in accept order.
func (r *MemoryRegistry) Snapshot() []*Participant {
	r.mu.RLock()
	out := make([]*Participant, 0, len(r.items))
	for _, p := range r.items {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Seq() < out[j].Seq()
	})
	return out
}

func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
