package worksheet

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultMaxSessions bounds the registry when no limit is configured.
const DefaultMaxSessions = 64

// Registry holds every open worksheet keyed by session id. When full,
// opening another session evicts the least recently accessed one; the
// evicted session is simply dropped, its entered values with it, which
// is why clients persist durable edits through the notes domain.
type Registry struct {
	mu    sync.Mutex
	max   int
	items map[uuid.UUID]*Worksheet
	order []uuid.UUID // least recently accessed first
}

// NewRegistry builds a registry holding at most max open sessions. A max
// of zero or less falls back to DefaultMaxSessions.
func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	return &Registry{
		max:   max,
		items: make(map[uuid.UUID]*Worksheet),
	}
}

// Put registers a worksheet, evicting and returning the least recently
// accessed session when the registry is full. The returned worksheet is
// nil when nothing was evicted.
func (r *Registry) Put(ws *Worksheet) *Worksheet {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted *Worksheet
	if _, exists := r.items[ws.ID]; !exists && len(r.items) >= r.max {
		oldest := r.order[0]
		r.order = r.order[1:]
		evicted = r.items[oldest]
		delete(r.items, oldest)
	}

	if _, exists := r.items[ws.ID]; exists {
		r.moveToBack(ws.ID)
	} else {
		r.order = append(r.order, ws.ID)
	}
	r.items[ws.ID] = ws
	ws.touch()
	return evicted
}

// Get returns the worksheet for id and marks it as most recently
// accessed.
func (r *Registry) Get(id uuid.UUID) (*Worksheet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, ok := r.items[id]
	if !ok {
		return nil, false
	}
	r.moveToBack(id)
	ws.touch()
	return ws, true
}

// Remove drops a worksheet from the registry.
func (r *Registry) Remove(id uuid.UUID) (*Worksheet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, ok := r.items[id]
	if !ok {
		return nil, false
	}
	delete(r.items, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return ws, true
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// All returns the open sessions, least recently accessed first.
func (r *Registry) All() []*Worksheet {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Worksheet, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	return out
}

func (r *Registry) moveToBack(id uuid.UUID) {
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			r.order = append(r.order, id)
			return
		}
	}
}
