package synchronize

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/schedule-sync/backend/internal/tracking"
)

type room struct {
	tracking.Notifier
	title   string
	members *tracking.List[*member]
}

type member struct {
	tracking.Notifier
	name string
}

var roomSchema = tracking.NewSchema[*room]().
	Property("Title", func(r *room) any { return r.title }).
	Property("Members", func(r *room) any { return r.members })

var memberSchema = tracking.NewSchema[*member]().
	Property("Name", func(m *member) any { return m.name })

func newRoom(title string, names ...string) *room {
	r := &room{title: title, members: tracking.NewList[*member]()}
	for _, n := range names {
		r.members.Append(&member{name: n})
	}
	return r
}

func (r *room) TrackedProperties() []string           { return roomSchema.Tracked() }
func (r *room) PropertyValue(name string) (any, bool) { return roomSchema.Value(r, name) }
func (r *room) MarshalJSON() ([]byte, error)          { return roomSchema.Marshal(r) }

func (r *room) SetTitle(v string) {
	r.title = v
	r.Notify("Title")
}

func (m *member) TrackedProperties() []string           { return memberSchema.Tracked() }
func (m *member) PropertyValue(name string) (any, bool) { return memberSchema.Value(m, name) }
func (m *member) MarshalJSON() ([]byte, error)          { return memberSchema.Marshal(m) }

func (m *member) SetName(v string) {
	m.name = v
	m.Notify("Name")
}

// recordingTransport logs every outbound call as one line per call.
type recordingTransport struct {
	mu  sync.Mutex
	log []string
}

func (t *recordingTransport) add(line string) {
	t.mu.Lock()
	t.log = append(t.log, line)
	t.mu.Unlock()
}

func (t *recordingTransport) InitializeObject(conn ConnID, key string, snapshot json.RawMessage) {
	t.add(fmt.Sprintf("%s init %s %s", conn, key, snapshot))
}

func (t *recordingTransport) RemoveObject(conn ConnID, key string) {
	t.add(fmt.Sprintf("%s remove %s", conn, key))
}

func (t *recordingTransport) PropertyChanged(conn ConnID, key string, ev tracking.PropertyChangeEvent) {
	t.add(fmt.Sprintf("%s prop %s %s=%v", conn, key, ev.Path, ev.NewValue))
}

func (t *recordingTransport) CollectionChanged(conn ConnID, key string, ev tracking.CollectionChangeEvent) {
	t.add(fmt.Sprintf("%s coll %s %s %s %d", conn, key, ev.Action, ev.Path, ev.StartingIndex))
}

// take returns and clears the log.
func (t *recordingTransport) take() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.log
	t.log = nil
	return out
}

func mustObject(t *testing.T, key string, v any, tr Transport) *Object {
	t.Helper()
	obj, err := NewObject(key, v, tr)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	t.Cleanup(obj.Close)
	return obj
}

func mustBind(t *testing.T, obj *Object, conn ConnID, key string) {
	t.Helper()
	ok, err := obj.AddConnection(conn, key)
	if err != nil {
		t.Fatalf("AddConnection(%s, %s): %v", conn, key, err)
	}
	if !ok {
		t.Fatalf("AddConnection(%s, %s) = false", conn, key)
	}
}
