package tracking

import "sync"

// handlers is an ordered set of callbacks. Emit calls a snapshot of the set
// so a callback may cancel itself or others while running.
type handlers[E any] struct {
	mu   sync.Mutex
	next uint64
	fns  []handler[E]
}

type handler[E any] struct {
	id uint64
	fn func(E)
}

func (h *handlers[E]) add(fn func(E)) (cancel func()) {
	h.mu.Lock()
	h.next++
	id := h.next
	h.fns = append(h.fns, handler[E]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *handlers[E]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.fns {
		if e.id == id {
			h.fns = append(h.fns[:i:i], h.fns[i+1:]...)
			return
		}
	}
}

func (h *handlers[E]) emit(ev E) {
	h.mu.Lock()
	fns := h.fns
	h.mu.Unlock()
	for _, e := range fns {
		e.fn(ev)
	}
}

func (h *handlers[E]) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fns)
}

func (h *handlers[E]) clear() {
	h.mu.Lock()
	h.fns = nil
	h.mu.Unlock()
}
