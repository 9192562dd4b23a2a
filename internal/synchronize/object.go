package synchronize

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/schedule-sync/backend/internal/tracking"
)

// Object binds the tracker of one root value to the connections that
// subscribe to it. Binding changes and event fan-out share one mutex, so a
// connection never sees an event before its snapshot and never receives
// anything after its removal.
type Object struct {
	key       string
	owner     *Context
	tracker   *tracking.Tracker
	transport Transport

	// mutating serializes writers of the tracked graph and readers that need
	// a consistent view of it. It is always taken before mu.
	mutating sync.Mutex

	mu       sync.Mutex
	bindings map[ConnID]string
	cancels  []func()
	onClose  []func()
	closed   bool
}

// NewObject tracks v and forwards its changes through t. Objects created
// this way have no owning Context; Close them explicitly.
func NewObject(key string, v any, t Transport) (*Object, error) {
	return newObject(key, v, t, nil)
}

func newObject(key string, v any, t Transport, owner *Context) (*Object, error) {
	tr, err := tracking.NewTracker(v)
	if err != nil {
		return nil, fmt.Errorf("tracking %s: %w", key, err)
	}
	o := &Object{
		key:       key,
		owner:     owner,
		tracker:   tr,
		transport: t,
		bindings:  make(map[ConnID]string),
	}
	o.cancels = append(o.cancels,
		tr.OnPropertyChanged(o.forwardProperty),
		tr.OnCollectionChanged(o.forwardCollection),
	)
	return o, nil
}

// Key is the key the object is registered under in its Context.
func (o *Object) Key() string { return o.key }

// Value returns the tracked root.
func (o *Object) Value() any { return o.tracker.Object() }

// Tracker exposes the underlying tracker for additional listeners such as
// write-behind persistence.
func (o *Object) Tracker() *tracking.Tracker { return o.tracker }

// AddConnection binds conn under key and sends it a snapshot of the current
// state. It reports false when conn is already bound.
func (o *Object) AddConnection(conn ConnID, key string) (bool, error) {
	o.mutating.Lock()
	defer o.mutating.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false, ErrClosed
	}
	if _, ok := o.bindings[conn]; ok {
		return false, nil
	}
	snapshot, err := json.Marshal(o.tracker.Object())
	if err != nil {
		return false, fmt.Errorf("snapshot of %s: %w", o.key, err)
	}
	o.bindings[conn] = key
	o.transport.InitializeObject(conn, key, snapshot)
	glog.V(1).Infof("[sync] %s bound to %s as %q", conn, o.key, key)
	return true, nil
}

// RemoveConnection tells conn to drop the object and unbinds it. It reports
// false when conn was not bound.
func (o *Object) RemoveConnection(conn ConnID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	key, ok := o.bindings[conn]
	if !ok {
		return false
	}
	o.transport.RemoveObject(conn, key)
	delete(o.bindings, conn)
	glog.V(1).Infof("[sync] %s unbound from %s", conn, o.key)
	return true
}

// Connections returns the number of bound connections.
func (o *Object) Connections() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.bindings)
}

// Bound reports whether conn is bound and under which key.
func (o *Object) Bound(conn ConnID) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key, ok := o.bindings[conn]
	return key, ok
}

// Mutate runs fn with exclusive access to the tracked graph. Events raised
// by fn are fanned out before Mutate returns. A tracking.ConfigError raised
// while observing the mutation is returned instead of panicking.
func (o *Object) Mutate(fn func()) (err error) {
	o.mutating.Lock()
	defer o.mutating.Unlock()
	if o.Closed() {
		return ErrClosed
	}
	defer func() {
		if r := recover(); r != nil {
			cfg, ok := r.(*tracking.ConfigError)
			if !ok {
				panic(r)
			}
			err = cfg
		}
	}()
	fn()
	return nil
}

// View runs fn with a consistent view of the tracked graph. fn must not
// mutate it.
func (o *Object) View(fn func()) {
	o.mutating.Lock()
	defer o.mutating.Unlock()
	fn()
}

// OnClose registers fn to run once the object has been closed and its locks
// released. fn runs immediately if the object is already closed.
func (o *Object) OnClose(fn func()) {
	o.mu.Lock()
	if !o.closed {
		o.onClose = append(o.onClose, fn)
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	fn()
}

// Snapshot encodes the current state under the mutation lock.
func (o *Object) Snapshot() (json.RawMessage, error) {
	o.mutating.Lock()
	defer o.mutating.Unlock()
	return json.Marshal(o.tracker.Object())
}

func (o *Object) forwardProperty(ev tracking.PropertyChangeEvent) {
	// Clients track collection lengths themselves.
	if ev.OnCollection && tracking.LastSegment(ev.Path) == tracking.CountProperty {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for conn, key := range o.bindings {
		o.transport.PropertyChanged(conn, key, ev)
	}
	glog.V(2).Infof("[sync] %s property %s -> %d", o.key, ev.Path, len(o.bindings))
}

func (o *Object) forwardCollection(ev tracking.CollectionChangeEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for conn, key := range o.bindings {
		o.transport.CollectionChanged(conn, key, ev)
	}
	glog.V(2).Infof("[sync] %s collection %s %s -> %d", o.key, ev.Action, ev.Path, len(o.bindings))
}

// Close unbinds every connection, telling each to drop the object, then
// stops tracking and runs the OnClose hooks. It is safe to call more than
// once.
func (o *Object) Close() {
	hooks, ok := o.close()
	if !ok {
		return
	}
	for _, fn := range hooks {
		fn()
	}
	glog.V(1).Infof("[sync] %s closed", o.key)
}

func (o *Object) close() ([]func(), bool) {
	o.mutating.Lock()
	defer o.mutating.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, false
	}
	o.closed = true
	for conn, key := range o.bindings {
		o.transport.RemoveObject(conn, key)
		delete(o.bindings, conn)
	}
	for _, cancel := range o.cancels {
		cancel()
	}
	hooks := o.onClose
	o.onClose = nil
	o.mu.Unlock()

	o.tracker.Close()
	return hooks, true
}

// Closed reports whether Close has run.
func (o *Object) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
