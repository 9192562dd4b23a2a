package synchronize

import (
	"sync"

	"github.com/golang/glog"
)

// Connections maps live connections to their Subscriptions and is the
// entry point transports use for subscribe, unsubscribe and disconnect.
type Connections struct {
	registry *Registry

	mu   sync.Mutex
	subs map[ConnID]*Subscriptions
}

func NewConnections(r *Registry) *Connections {
	return &Connections{registry: r, subs: make(map[ConnID]*Subscriptions)}
}

// Open returns the Subscriptions of conn, creating them on first use.
func (c *Connections) Open(conn ConnID) *Subscriptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.subs[conn]
	if !ok {
		s = NewSubscriptions(conn)
		c.subs[conn] = s
	}
	return s
}

// Subscribe exposes obj to conn under key.
func (c *Connections) Subscribe(conn ConnID, key string, obj *Object) error {
	return c.Open(conn).Add(key, obj)
}

// SubscribeTo exposes the Object registered under objectKey in the Context
// for kind, loading it first if it is not live.
func (c *Connections) SubscribeTo(conn ConnID, key, kind, objectKey string, load func() (any, error)) (*Object, error) {
	return c.registry.Context(kind).Subscribe(c.Open(conn), key, objectKey, load)
}

// Unsubscribe withdraws key from conn.
func (c *Connections) Unsubscribe(conn ConnID, key string) bool {
	c.mu.Lock()
	s, ok := c.subs[conn]
	c.mu.Unlock()
	if !ok {
		return false
	}
	return s.Remove(key)
}

// Closed releases every binding held by conn and forgets it.
func (c *Connections) Closed(conn ConnID) {
	c.mu.Lock()
	s, ok := c.subs[conn]
	delete(c.subs, conn)
	c.mu.Unlock()
	if !ok {
		return
	}
	keys := s.Keys()
	s.Close()
	glog.V(1).Infof("[sync] %s closed, released %d subscriptions", conn, len(keys))
}

// Count returns the number of connections with a subscription set.
func (c *Connections) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
