package tracking

import (
	"encoding/json"
	"fmt"
)

const (
	// CountProperty is the synthetic size property every List exposes.
	CountProperty = "Count"

	// indexerProperty is announced on every element change. It never
	// resolves through PropertyValue, so observers skip it.
	indexerProperty = "Item[]"
)

// List is an ordered observable collection. It is a CollectionNotifier and
// an Iterable, and also a PropertyNotifier for its Count.
//
// A List is not safe for concurrent use. Mutations of a synchronized graph
// are serialized by synchronize.Object.Mutate.
type List[T any] struct {
	Notifier
	items   []T
	changed handlers[CollectionChange]
}

func NewList[T any](items ...T) *List[T] {
	l := &List[T]{}
	l.items = append(l.items, items...)
	return l
}

func (l *List[T]) Len() int { return len(l.items) }

func (l *List[T]) At(i int) T { return l.items[i] }

// Items returns a copy of the current elements.
func (l *List[T]) Items() []T {
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List[T]) Elements() []any {
	return boxed(l.items)
}

// IndexOf returns the position of the first element identical to v, or -1.
func (l *List[T]) IndexOf(v T) int {
	for i, item := range l.items {
		if sameValue(any(item), any(v)) {
			return i
		}
	}
	return -1
}

func (l *List[T]) Append(items ...T) {
	if len(items) == 0 {
		return
	}
	at := len(l.items)
	l.items = append(l.items, items...)
	l.afterResize()
	l.changed.emit(CollectionChange{Kind: ChangeAdd, NewItems: boxed(items), NewIndex: at, OldIndex: -1})
}

func (l *List[T]) Insert(i int, items ...T) {
	if i < 0 || i > len(l.items) {
		panic(fmt.Sprintf("tracking: insert index %d out of range [0:%d]", i, len(l.items)))
	}
	if len(items) == 0 {
		return
	}
	next := make([]T, 0, len(l.items)+len(items))
	next = append(next, l.items[:i]...)
	next = append(next, items...)
	next = append(next, l.items[i:]...)
	l.items = next
	l.afterResize()
	l.changed.emit(CollectionChange{Kind: ChangeAdd, NewItems: boxed(items), NewIndex: i, OldIndex: -1})
}

func (l *List[T]) RemoveAt(i int) T {
	old := l.items[i]
	l.items = append(l.items[:i:i], l.items[i+1:]...)
	l.afterResize()
	l.changed.emit(CollectionChange{Kind: ChangeRemove, OldItems: []any{old}, OldIndex: i, NewIndex: -1})
	return old
}

// Remove deletes the first element identical to v.
func (l *List[T]) Remove(v T) bool {
	i := l.IndexOf(v)
	if i < 0 {
		return false
	}
	l.RemoveAt(i)
	return true
}

// Set replaces the element at i.
func (l *List[T]) Set(i int, v T) {
	old := l.items[i]
	l.items[i] = v
	l.Notify(indexerProperty)
	l.changed.emit(CollectionChange{Kind: ChangeReplace, OldItems: []any{old}, NewItems: []any{v}, OldIndex: i, NewIndex: i})
}

// Move relocates the element at from so that it ends up at index to.
func (l *List[T]) Move(from, to int) {
	if from == to {
		return
	}
	item := l.items[from]
	rest := append(l.items[:from:from], l.items[from+1:]...)
	next := make([]T, 0, len(l.items))
	next = append(next, rest[:to]...)
	next = append(next, item)
	next = append(next, rest[to:]...)
	l.items = next
	l.Notify(indexerProperty)
	l.changed.emit(CollectionChange{Kind: ChangeMove, OldItems: []any{item}, NewItems: []any{item}, OldIndex: from, NewIndex: to})
}

// Clear empties the list and reports a reset.
func (l *List[T]) Clear() {
	l.items = nil
	l.afterResize()
	l.changed.emit(CollectionChange{Kind: ChangeReset, NewIndex: -1, OldIndex: -1})
}

func (l *List[T]) afterResize() {
	l.Notify(CountProperty)
	l.Notify(indexerProperty)
}

func (l *List[T]) SubscribeCollectionChanged(fn func(CollectionChange)) (cancel func()) {
	return l.changed.add(fn)
}

func (l *List[T]) TrackedProperties() []string {
	return []string{CountProperty}
}

func (l *List[T]) PropertyValue(name string) (any, bool) {
	if name == CountProperty {
		return len(l.items), true
	}
	return nil, false
}

func (l *List[T]) MarshalJSON() ([]byte, error) {
	if l == nil || l.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.items)
}

// UnmarshalJSON replaces the contents without raising notifications. It is
// meant for hydrating a list before it is tracked.
func (l *List[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	l.items = items
	return nil
}

func boxed[T any](items []T) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
