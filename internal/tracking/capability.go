package tracking

import (
	"errors"
	"fmt"
	"reflect"
)

// PropertyNotifier is implemented by values that announce assignments to
// their own properties. Only the names returned by TrackedProperties are
// observed; PropertyValue reports false for a name the value does not have.
type PropertyNotifier interface {
	TrackedProperties() []string
	PropertyValue(name string) (any, bool)
	SubscribePropertyChanged(fn func(name string)) (cancel func())
}

// CollectionNotifier is implemented by ordered, mutable sequences that
// announce their own mutations.
type CollectionNotifier interface {
	SubscribeCollectionChanged(fn func(CollectionChange)) (cancel func())
}

// Iterable exposes the current elements of a sequence in order.
type Iterable interface {
	Elements() []any
}

// ChangeKind is the native mutation vocabulary a CollectionNotifier
// reports. Observers translate it into Add, Remove and Reset.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeRemove
	ChangeReplace
	ChangeMove
	ChangeReset
)

// CollectionChange is a native collection notification. NewIndex is -1 for
// an append whose position is unknown.
type CollectionChange struct {
	Kind     ChangeKind
	NewItems []any
	OldItems []any
	NewIndex int
	OldIndex int
}

var (
	ErrNotIterable = errors.New("collection is not iterable")
	ErrCycle       = errors.New("object graph contains a cycle")
)

// ConfigError reports a programming error in how a graph is built. It is
// returned from constructors and raised as a panic when it is discovered
// while handling a mutation.
type ConfigError struct {
	Type reflect.Type
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("tracking %v: %v", e.Type, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Observable reports whether v exposes at least one notification
// capability and therefore gets a tracker of its own.
func Observable(v any) bool {
	if isNil(v) {
		return false
	}
	switch v.(type) {
	case PropertyNotifier, CollectionNotifier:
		return true
	}
	return false
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// sameValue compares by identity for pointers and by value for other
// comparable types. Incomparable values never match.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

func isComparable(v any) bool {
	return v == nil || reflect.TypeOf(v).Comparable()
}
