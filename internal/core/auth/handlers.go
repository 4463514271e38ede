package auth

import (
	"slices"
	"sync"
)

// Handlers is a registry of ChangeHandlers that providers embed to implement
// OnAuthStateChange.
type Handlers struct {
	mu     sync.RWMutex
	nextID int
	byID   map[int]ChangeHandler
}

// Add registers h and returns its removal function. Removal is idempotent.
func (r *Handlers) Add(h ChangeHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byID == nil {
		r.byID = make(map[int]ChangeHandler)
	}
	id := r.nextID
	r.nextID++
	r.byID[id] = h

	return func() {
		r.mu.Lock()
		delete(r.byID, id)
		r.mu.Unlock()
	}
}

// Emit delivers c to every registered handler in registration order.
func (r *Handlers) Emit(c Change) {
	r.mu.RLock()
	ids := make([]int, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)

	for _, id := range ids {
		r.mu.RLock()
		h, ok := r.byID[id]
		r.mu.RUnlock()
		if ok {
			h(c)
		}
	}
}

// Len returns the number of registered handlers.
func (r *Handlers) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
