package tracking

import (
	"errors"
	"reflect"
	"sync/atomic"
)

var ErrNilObject = errors.New("cannot track a nil object")

// Tracker owns the observers attached to one object and republishes their
// events unchanged. Nested values are tracked by their own Trackers, owned
// through tokens held by this Tracker's observers; the tokens prefix paths.
type Tracker struct {
	object  any
	lineage *lineage

	props *propertyObserver
	coll  *collectionObserver

	propertyChanged   handlers[PropertyChangeEvent]
	collectionChanged handlers[CollectionChangeEvent]

	closed atomic.Bool
}

// NewTracker starts observing v and everything observable reachable from
// its tracked properties and elements. Attaching is silent: no events are
// raised for the state v already has.
func NewTracker(v any) (*Tracker, error) {
	return newTracker(v, nil)
}

func newTracker(v any, parent *lineage) (*Tracker, error) {
	if isNil(v) {
		return nil, &ConfigError{Type: reflect.TypeOf(v), Err: ErrNilObject}
	}
	if parent.contains(v) {
		return nil, &ConfigError{Type: reflect.TypeOf(v), Err: ErrCycle}
	}
	t := &Tracker{object: v, lineage: &lineage{obj: v, parent: parent}}

	if pn, ok := v.(PropertyNotifier); ok {
		props, err := newPropertyObserver(t, pn)
		if err != nil {
			return nil, err
		}
		t.props = props
	}
	if cn, ok := v.(CollectionNotifier); ok {
		coll, err := newCollectionObserver(t, cn)
		if err != nil {
			if t.props != nil {
				t.props.detach()
			}
			return nil, err
		}
		t.coll = coll
	}
	return t, nil
}

// Object returns the tracked value.
func (t *Tracker) Object() any { return t.object }

func (t *Tracker) OnPropertyChanged(fn func(PropertyChangeEvent)) (cancel func()) {
	return t.propertyChanged.add(fn)
}

func (t *Tracker) OnCollectionChanged(fn func(CollectionChangeEvent)) (cancel func()) {
	return t.collectionChanged.add(fn)
}

func (t *Tracker) emitProperty(ev PropertyChangeEvent) {
	if t.closed.Load() {
		return
	}
	t.propertyChanged.emit(ev)
}

func (t *Tracker) emitCollection(ev CollectionChangeEvent) {
	if t.closed.Load() {
		return
	}
	t.collectionChanged.emit(ev)
}

// Close detaches every observer and, through their tokens, every nested
// Tracker. A closed Tracker raises no further events.
func (t *Tracker) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	if t.props != nil {
		t.props.detach()
	}
	if t.coll != nil {
		t.coll.detach()
	}
	t.propertyChanged.clear()
	t.collectionChanged.clear()
}

// Closed reports whether Close has been called.
func (t *Tracker) Closed() bool { return t.closed.Load() }

// lineage is the chain of objects from a tracker up to its root, used to
// refuse attaching a value that is already one of its own ancestors.
type lineage struct {
	obj    any
	parent *lineage
}

func (l *lineage) contains(v any) bool {
	for ; l != nil; l = l.parent {
		if sameValue(l.obj, v) {
			return true
		}
	}
	return false
}
