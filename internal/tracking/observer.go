package tracking

import (
	"reflect"
	"strconv"
)

// propertyObserver watches the tracked properties of one PropertyNotifier
// and keeps a token for every current value that is itself observable.
type propertyObserver struct {
	owner        *Tracker
	source       PropertyNotifier
	onCollection bool

	tracked map[string]bool
	values  map[string]any
	tokens  map[string]*token
	cancel  func()
}

func newPropertyObserver(owner *Tracker, source PropertyNotifier) (*propertyObserver, error) {
	_, isCollection := source.(CollectionNotifier)
	o := &propertyObserver{
		owner:        owner,
		source:       source,
		onCollection: isCollection,
		tracked:      make(map[string]bool),
		values:       make(map[string]any),
		tokens:       make(map[string]*token),
	}
	for _, name := range source.TrackedProperties() {
		o.tracked[name] = true
		if err := o.refresh(name, true); err != nil {
			o.detach()
			return nil, err
		}
	}
	o.cancel = source.SubscribePropertyChanged(o.changed)
	return o, nil
}

func (o *propertyObserver) changed(name string) {
	if !o.tracked[name] {
		return
	}
	if err := o.refresh(name, false); err != nil {
		panic(err)
	}
}

// refresh re-resolves name, swaps the token for its value and, unless this
// is the silent baseline, reports the assignment.
func (o *propertyObserver) refresh(name string, baseline bool) error {
	value, ok := o.source.PropertyValue(name)
	if !ok {
		return nil
	}
	old := o.values[name]
	if tok, ok := o.tokens[name]; ok {
		tok.dispose()
		delete(o.tokens, name)
	}
	o.values[name] = value
	if Observable(value) {
		tok, err := newToken(o.owner, name, value)
		if err != nil {
			return err
		}
		o.tokens[name] = tok
	}
	if !baseline {
		o.owner.emitProperty(PropertyChangeEvent{
			Path:         name,
			OldValue:     old,
			NewValue:     value,
			OnCollection: o.onCollection,
		})
	}
	return nil
}

func (o *propertyObserver) detach() {
	if o.cancel != nil {
		o.cancel()
	}
	for name, tok := range o.tokens {
		tok.dispose()
		delete(o.tokens, name)
	}
}

// collectionObserver keeps one slot per element, by position. Slots of
// observable elements hold a token whose segment is the element's index.
type collectionObserver struct {
	owner  *Tracker
	source Iterable
	slots  []slot
	cancel func()
}

type slot struct {
	value any
	tok   *token
}

func newCollectionObserver(owner *Tracker, source CollectionNotifier) (*collectionObserver, error) {
	it, ok := source.(Iterable)
	if !ok {
		return nil, &ConfigError{Type: reflect.TypeOf(source), Err: ErrNotIterable}
	}
	o := &collectionObserver{owner: owner, source: it}
	if err := o.baseline(); err != nil {
		o.disposeAll()
		return nil, err
	}
	o.cancel = source.SubscribeCollectionChanged(o.changed)
	return o, nil
}

// baseline rebuilds the slots from the current elements. On error the
// slots are still in place and must be disposed by the caller.
func (o *collectionObserver) baseline() error {
	slots, err := o.makeSlots(o.source.Elements())
	o.slots = slots
	o.renumber()
	return err
}

func (o *collectionObserver) changed(ch CollectionChange) {
	switch ch.Kind {
	case ChangeReset:
		o.disposeAll()
		if err := o.baseline(); err != nil {
			panic(err)
		}
		o.owner.emitCollection(CollectionChangeEvent{Action: Reset, StartingIndex: -1})
	case ChangeAdd:
		o.insert(ch.NewItems, ch.NewIndex)
		o.owner.emitCollection(CollectionChangeEvent{Action: Add, Items: ch.NewItems, StartingIndex: ch.NewIndex})
	case ChangeRemove:
		o.remove(ch.OldItems, ch.OldIndex)
		o.owner.emitCollection(CollectionChangeEvent{Action: Remove, Items: ch.OldItems, StartingIndex: ch.OldIndex})
	case ChangeReplace, ChangeMove:
		o.remove(ch.OldItems, ch.OldIndex)
		o.owner.emitCollection(CollectionChangeEvent{Action: Remove, Items: ch.OldItems, StartingIndex: ch.OldIndex})
		o.insert(ch.NewItems, ch.NewIndex)
		o.owner.emitCollection(CollectionChangeEvent{Action: Add, Items: ch.NewItems, StartingIndex: ch.NewIndex})
	}
}

// makeSlots builds one slot per item. An item whose tracker cannot be
// built keeps its slot without a token so positions stay aligned with the
// source; the first such error is returned.
func (o *collectionObserver) makeSlots(items []any) ([]slot, error) {
	slots := make([]slot, len(items))
	var first error
	for i, item := range items {
		slots[i].value = item
		if !Observable(item) {
			continue
		}
		tok, err := newToken(o.owner, "", item)
		if err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		slots[i].tok = tok
	}
	return slots, first
}

// insert places slots for items at index, or at the end when index is
// negative or past the end. A rejected item is inserted before the error
// is raised.
func (o *collectionObserver) insert(items []any, index int) {
	added, err := o.makeSlots(items)
	if index < 0 || index > len(o.slots) {
		index = len(o.slots)
	}
	next := make([]slot, 0, len(o.slots)+len(added))
	next = append(next, o.slots[:index]...)
	next = append(next, added...)
	next = append(next, o.slots[index:]...)
	o.slots = next
	o.renumber()
	if err != nil {
		panic(err)
	}
}

// remove drops the slots holding items. Each item is matched by identity,
// preferring the reported position, so a stale index cannot dispose the
// wrong element's tracker. Items that cannot be compared fall back to the
// reported position.
func (o *collectionObserver) remove(items []any, index int) {
	for _, item := range items {
		at := -1
		if index >= 0 && index < len(o.slots) && sameValue(o.slots[index].value, item) {
			at = index
		} else {
			for i, s := range o.slots {
				if sameValue(s.value, item) {
					at = i
					break
				}
			}
		}
		if at < 0 && !isComparable(item) && index >= 0 && index < len(o.slots) {
			at = index
		}
		if at < 0 {
			continue
		}
		o.slots[at].tok.dispose()
		o.slots = append(o.slots[:at:at], o.slots[at+1:]...)
	}
	o.renumber()
}

func (o *collectionObserver) renumber() {
	for i, s := range o.slots {
		if s.tok != nil {
			s.tok.segment = strconv.Itoa(i)
		}
	}
}

func (o *collectionObserver) disposeAll() {
	for _, s := range o.slots {
		s.tok.dispose()
	}
	o.slots = nil
}

func (o *collectionObserver) detach() {
	if o.cancel != nil {
		o.cancel()
	}
	o.disposeAll()
}
