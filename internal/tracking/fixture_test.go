package tracking

import (
	"fmt"
	"testing"
)

// node is a small view model used throughout the tracking tests.
type node struct {
	Notifier
	name  string
	child *node
	items *List[*node]
}

var nodeSchema = NewSchema[*node]().
	Property("Name", func(n *node) any { return n.name }).
	Property("Child", func(n *node) any { return n.child }).
	Property("Items", func(n *node) any { return n.items }).
	Untracked("Kind", func(*node) any { return "node" })

func newNode(name string, items ...*node) *node {
	return &node{name: name, items: NewList(items...)}
}

func (n *node) TrackedProperties() []string           { return nodeSchema.Tracked() }
func (n *node) PropertyValue(name string) (any, bool) { return nodeSchema.Value(n, name) }
func (n *node) MarshalJSON() ([]byte, error)          { return nodeSchema.Marshal(n) }

func (n *node) SetName(v string) {
	n.name = v
	n.Notify("Name")
}

func (n *node) SetChild(c *node) {
	n.child = c
	n.Notify("Child")
}

func (n *node) SetItems(l *List[*node]) {
	n.items = l
	n.Notify("Items")
}

// recorder captures everything a tracker raises, in order.
type recorder struct {
	log   []string
	props []PropertyChangeEvent
	colls []CollectionChangeEvent
}

func record(t *testing.T, tr *Tracker) *recorder {
	t.Helper()
	r := &recorder{}
	cancelP := tr.OnPropertyChanged(func(ev PropertyChangeEvent) {
		r.props = append(r.props, ev)
		r.log = append(r.log, "prop "+ev.Path)
	})
	cancelC := tr.OnCollectionChanged(func(ev CollectionChangeEvent) {
		r.colls = append(r.colls, ev)
		r.log = append(r.log, fmt.Sprintf("coll %s %s %d", ev.Action, ev.Path, ev.StartingIndex))
	})
	t.Cleanup(func() {
		cancelP()
		cancelC()
	})
	return r
}

func (r *recorder) reset() {
	r.log = nil
	r.props = nil
	r.colls = nil
}

func mustTrack(t *testing.T, v any) *Tracker {
	t.Helper()
	tr, err := NewTracker(v)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	t.Cleanup(tr.Close)
	return tr
}
