package synchronize

import (
	"sort"
	"sync"
)

// Registry holds one Context per channel kind for the life of the process.
// Build it once at startup, pass it to whatever needs a Context, and Close
// it on shutdown.
type Registry struct {
	transport Transport

	mu       sync.Mutex
	contexts map[string]*Context
}

func NewRegistry(t Transport) *Registry {
	return &Registry{
		transport: t,
		contexts:  make(map[string]*Context),
	}
}

// Context returns the Context for kind, creating it on first use.
func (r *Registry) Context(kind string) *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[kind]
	if !ok {
		c = newContext(kind, r.transport)
		r.contexts[kind] = c
	}
	return c
}

// Lookup returns the Context for kind without creating it.
func (r *Registry) Lookup(kind string) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[kind]
	return c, ok
}

// Stats reports the number of live Objects per channel kind.
func (r *Registry) Stats() map[string]int {
	r.mu.Lock()
	contexts := make([]*Context, 0, len(r.contexts))
	for _, c := range r.contexts {
		contexts = append(contexts, c)
	}
	r.mu.Unlock()

	out := make(map[string]int, len(contexts))
	for _, c := range contexts {
		out[c.name] = c.Len()
	}
	return out
}

// Kinds returns the channel kinds created so far, sorted.
func (r *Registry) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.contexts))
	for k := range r.contexts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Close closes every Object of every Context.
func (r *Registry) Close() {
	r.mu.Lock()
	contexts := make([]*Context, 0, len(r.contexts))
	for _, c := range r.contexts {
		contexts = append(contexts, c)
	}
	r.mu.Unlock()

	for _, c := range contexts {
		c.closeAll()
	}
}
