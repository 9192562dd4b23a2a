package synchronize

import (
	"fmt"
	"sort"
	"sync"
)

// Subscriptions is one connection's view: which Objects it sees, under
// which local keys. It shares the Objects; their Contexts own them.
type Subscriptions struct {
	conn ConnID

	mu      sync.Mutex
	entries map[string]*Object
	closed  bool
}

func NewSubscriptions(conn ConnID) *Subscriptions {
	return &Subscriptions{conn: conn, entries: make(map[string]*Object)}
}

func (s *Subscriptions) Conn() ConnID { return s.conn }

// Add exposes obj to the connection under key. A key still pointing at an
// Object that has since been closed counts as free.
func (s *Subscriptions) Add(key string, obj *Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("subscriptions of %s: %w", s.conn, ErrClosed)
	}
	if old, ok := s.entries[key]; ok {
		if !old.Closed() {
			return fmt.Errorf("subscription %q: %w", key, ErrKeyInUse)
		}
		// Its Context removed the object; the key is free again.
		delete(s.entries, key)
	}
	added, err := obj.AddConnection(s.conn, key)
	if err != nil {
		return err
	}
	if !added {
		bound, _ := obj.Bound(s.conn)
		return fmt.Errorf("%s already exposed as %q: %w", obj.key, bound, ErrAlreadyBound)
	}
	s.entries[key] = obj
	return nil
}

// Remove withdraws key from the connection. When the Object is left with no
// connections its Context disposes of it.
func (s *Subscriptions) Remove(key string) bool {
	s.mu.Lock()
	obj, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	obj.RemoveConnection(s.conn)
	if obj.owner != nil {
		obj.owner.release(obj)
	}
	return true
}

// Set exposes obj under key, removing whatever key pointed to before.
func (s *Subscriptions) Set(key string, obj *Object) error {
	s.Remove(key)
	return s.Add(key, obj)
}

// Get returns the Object exposed under key.
func (s *Subscriptions) Get(key string) (*Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.entries[key]
	return obj, ok
}

// Keys returns the exposed keys, sorted.
func (s *Subscriptions) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear removes every key.
func (s *Subscriptions) Clear() {
	for _, key := range s.Keys() {
		s.Remove(key)
	}
}

// Close clears the set and refuses further additions. It runs when the
// connection goes away.
func (s *Subscriptions) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Clear()
}
