// Package synchronize replicates tracked object graphs to remote
// connections. An Object fans one tracker's events out to every connection
// bound to it, a Context owns the Objects of one channel kind, and a
// connection's Subscriptions decide which Objects it currently sees.
package synchronize

import (
	"encoding/json"
	"errors"

	"github.com/schedule-sync/backend/internal/tracking"
)

// ConnID identifies one remote connection.
type ConnID string

// Transport is the outbound contract towards connections. Every method is
// called with a lock held, so implementations must not block: they encode
// the message before returning and queue it for delivery. Values reachable
// from an event must not be retained past the call. Delivery failures are
// the transport's to log; they are never reported back.
type Transport interface {
	InitializeObject(conn ConnID, key string, snapshot json.RawMessage)
	RemoveObject(conn ConnID, key string)
	PropertyChanged(conn ConnID, key string, ev tracking.PropertyChangeEvent)
	CollectionChanged(conn ConnID, key string, ev tracking.CollectionChangeEvent)
}

var (
	ErrKeyInUse     = errors.New("key already in use")
	ErrClosed       = errors.New("closed")
	ErrAlreadyBound = errors.New("connection already bound to object")
)
