package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/schedule-sync/backend/internal/catalog"
	"github.com/schedule-sync/backend/internal/synchronize"
	"github.com/schedule-sync/backend/internal/tracking"
)

var testCourses = []catalog.Course{
	{
		ID: "cs101-a", Code: "CS 101", Title: "Introduction to Programming", Credits: 4, Section: "A",
		Meetings: []catalog.Meeting{{Days: []string{"Mon", "Wed"}, Start: "09:00", End: "10:15"}},
	},
	{
		ID: "cs201-a", Code: "CS 201", Title: "Data Structures", Credits: 4, Section: "A",
		Meetings: []catalog.Meeting{{Days: []string{"Mon", "Wed"}, Start: "10:00", End: "11:15"}},
	},
	{
		ID: "math220-a", Code: "MATH 220", Title: "Linear Algebra", Credits: 3, Section: "A",
		Meetings: []catalog.Meeting{{Days: []string{"Tue", "Thu"}, Start: "09:30", End: "10:45"}},
	},
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(testCourses)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "schedules.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	return store
}

// wire records what a subscriber would be sent.
type wire struct {
	mu  sync.Mutex
	log []string
}

func (w *wire) add(format string, args ...any) {
	w.mu.Lock()
	w.log = append(w.log, fmt.Sprintf(format, args...))
	w.mu.Unlock()
}

func (w *wire) take() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.log
	w.log = nil
	return out
}

func (w *wire) InitializeObject(conn synchronize.ConnID, key string, _ json.RawMessage) {
	w.add("%s init %s", conn, key)
}

func (w *wire) RemoveObject(conn synchronize.ConnID, key string) {
	w.add("%s remove %s", conn, key)
}

func (w *wire) PropertyChanged(conn synchronize.ConnID, key string, ev tracking.PropertyChangeEvent) {
	w.add("%s prop %s %s=%v", conn, key, ev.Path, ev.NewValue)
}

func (w *wire) CollectionChanged(conn synchronize.ConnID, key string, ev tracking.CollectionChangeEvent) {
	w.add("%s coll %s %s %s %d", conn, key, ev.Action, ev.Path, ev.StartingIndex)
}

type fixture struct {
	store *Store
	reg   *synchronize.Registry
	conns *synchronize.Connections
	svc   *Service
	wire  *wire
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testStore(t)
	w := &wire{}
	reg := synchronize.NewRegistry(w)
	t.Cleanup(reg.Close)
	f := &fixture{
		store: store,
		reg:   reg,
		conns: synchronize.NewConnections(reg),
		wire:  w,
	}
	f.svc = NewService(f.store, testCatalog(t), reg, time.Hour)
	return f
}

func (f *fixture) create(t *testing.T, name string) string {
	t.Helper()
	sch, err := f.svc.Create(context.Background(), name, "Fall")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return sch.ID()
}

func TestScheduleJSONDropsParticipants(t *testing.T) {
	sch := New("s1", "Plan A", "Fall")
	sch.Entries().Append(NewEntry(testCourses[0], "#4e79a7"))
	sch.Entries().At(0).SetHidden(true)
	sch.Participants().Append(Participant{ConnectionID: "c1", DisplayName: "ann"})

	data, err := json.Marshal(sch)
	if err != nil {
		t.Fatal(err)
	}
	var back Schedule
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.ID() != "s1" || back.Name() != "Plan A" || back.Term() != "Fall" {
		t.Errorf("header = %s/%s/%s", back.ID(), back.Name(), back.Term())
	}
	if back.Participants().Len() != 0 {
		t.Errorf("participants restored: %v", back.Participants().Items())
	}
	e := back.Entries().At(0)
	if e.CourseID != "cs101-a" || e.Color() != "#4e79a7" || !e.Hidden() || len(e.Meetings) != 1 {
		t.Errorf("entry = %+v color=%s hidden=%v", e, e.Color(), e.Hidden())
	}
}

func TestCreditsAndConflicts(t *testing.T) {
	sch := New("s1", "Plan", "")
	for _, c := range testCourses {
		sch.Entries().Append(NewEntry(c, ""))
	}

	if got := sch.Credits(); got != 11 {
		t.Errorf("Credits = %d, want 11", got)
	}
	want := []Conflict{{A: "cs101-a", B: "cs201-a"}}
	if diff := cmp.Diff(want, sch.Conflicts()); diff != "" {
		t.Errorf("Conflicts (-want +got):\n%s", diff)
	}

	sch.Entries().At(1).SetHidden(true)
	if got := sch.Credits(); got != 7 {
		t.Errorf("Credits with hidden entry = %d, want 7", got)
	}
	if got := sch.Conflicts(); len(got) != 0 {
		t.Errorf("hidden entries still conflict: %v", got)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	sch := New("s1", "Plan A", "Fall")
	sch.Entries().Append(NewEntry(testCourses[2], "#59a14f"))
	body, _ := json.Marshal(sch)
	if err := store.Save(ctx, body); err != nil {
		t.Fatalf("Save: %v", err)
	}
	sch.SetName("Plan B")
	body, _ = json.Marshal(sch)
	if err := store.Save(ctx, body); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	loaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Name() != "Plan B" || loaded.Entries().Len() != 1 {
		t.Errorf("loaded %s with %d entries", loaded.Name(), loaded.Entries().Len())
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "s1" || list[0].Name != "Plan B" {
		t.Errorf("List = %+v", list)
	}

	if ok, err := store.Delete(ctx, "s1"); err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	if ok, _ := store.Delete(ctx, "s1"); ok {
		t.Error("second Delete = true")
	}
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete = %v, want ErrNotFound", err)
	}
}

func TestStoreRejectsDocumentWithoutID(t *testing.T) {
	store := testStore(t)
	if err := store.Save(context.Background(), json.RawMessage(`{"Name":"x"}`)); err == nil {
		t.Fatal("Save accepted a schedule without id")
	}
}

func TestEditWithoutSubscribersIsSaved(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "Plan")

	if _, err := f.svc.AddCourse(id, "cs101-a"); err != nil {
		t.Fatalf("AddCourse: %v", err)
	}
	if err := f.svc.SetColor(id, "cs101-a", "#000000"); err != nil {
		t.Fatalf("SetColor: %v", err)
	}

	if n := f.reg.Context(Channel).Len(); n != 0 {
		t.Errorf("%d schedules left live without subscribers", n)
	}
	loaded, err := f.store.Load(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Entries().Len() != 1 || loaded.Entries().At(0).Color() != "#000000" {
		t.Errorf("stored entries = %+v", loaded.Entries().Items())
	}
}

func TestSubscribersSeeEdits(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "Plan")

	if _, err := f.conns.SubscribeTo("c1", "mine", Channel, id, f.svc.Loader(id)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := f.svc.Join(id, "c1", "ann"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.AddCourse(id, "math220-a"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.SetHidden(id, "math220-a", true); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Rename(id, "Renamed"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.RemoveCourse(id, "math220-a"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Leave(id, "c1"); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"c1 init mine",
		"c1 coll mine add Participants 0",
		"c1 coll mine add Entries 0",
		"c1 prop mine Entries.0.Hidden=true",
		"c1 prop mine Name=Renamed",
		"c1 coll mine remove Entries 0",
		"c1 coll mine remove Participants 0",
	}
	if diff := cmp.Diff(want, f.wire.take()); diff != "" {
		t.Errorf("wire (-want +got):\n%s", diff)
	}
	if _, ok := f.reg.Context(Channel).Get(id); !ok {
		t.Error("subscribed schedule was released by an edit")
	}
}

func TestPersisterFlushesOnRelease(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "Plan")

	if _, err := f.conns.SubscribeTo("c1", "mine", Channel, id, f.svc.Loader(id)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.AddCourse(id, "cs201-a"); err != nil {
		t.Fatal(err)
	}

	// The debounce is an hour, so nothing is written until release.
	stored, _ := f.store.Load(context.Background(), id)
	if stored.Entries().Len() != 0 {
		t.Fatal("saved before the debounce elapsed")
	}

	f.conns.Closed("c1")

	stored, _ = f.store.Load(context.Background(), id)
	if stored.Entries().Len() != 1 {
		t.Errorf("release did not flush: %d entries stored", stored.Entries().Len())
	}
}

func TestPersisterDebounce(t *testing.T) {
	store := testStore(t)
	sch := New("s1", "Plan", "")
	body, _ := json.Marshal(sch)
	if err := store.Save(context.Background(), body); err != nil {
		t.Fatal(err)
	}
	obj, err := synchronize.NewObject("s1", sch, &wire{})
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Close()
	NewPersister(store, obj, 20*time.Millisecond)

	_ = obj.Mutate(func() { sch.SetName("Debounced") })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		loaded, err := store.Load(context.Background(), "s1")
		if err == nil && loaded.Name() == "Debounced" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("debounced save never happened")
}

func TestServiceErrors(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "Plan")

	if _, err := f.svc.AddCourse(id, "nope"); !errors.Is(err, catalog.ErrUnknownCourse) {
		t.Errorf("unknown course = %v", err)
	}
	if _, err := f.svc.AddCourse(id, "cs101-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.AddCourse(id, "cs101-a"); !errors.Is(err, ErrDuplicateEntry) {
		t.Errorf("duplicate course = %v", err)
	}
	if err := f.svc.RemoveCourse(id, "math220-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("remove missing entry = %v", err)
	}
	if err := f.svc.SetColor(id, "cs101-a", "red"); !errors.Is(err, ErrInvalid) {
		t.Errorf("bad color = %v", err)
	}
	if err := f.svc.Rename(id, "  "); !errors.Is(err, ErrInvalid) {
		t.Errorf("blank name = %v", err)
	}
	if _, err := f.svc.AddCourse("missing", "cs101-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing schedule = %v", err)
	}
	if _, err := f.svc.Create(context.Background(), "", ""); !errors.Is(err, ErrInvalid) {
		t.Errorf("blank create = %v", err)
	}
}

func TestGetAndDelete(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "Plan")
	f.svc.AddCourse(id, "cs101-a")
	f.svc.AddCourse(id, "cs201-a")

	v, err := f.svc.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if v.Credits != 8 || len(v.Conflicts) != 1 || v.Live {
		t.Errorf("view = %+v", v)
	}

	if _, err := f.conns.SubscribeTo("c1", "mine", Channel, id, f.svc.Loader(id)); err != nil {
		t.Fatal(err)
	}
	f.wire.take()
	if ok, err := f.svc.Delete(context.Background(), id); err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	if diff := cmp.Diff([]string{"c1 remove mine"}, f.wire.take()); diff != "" {
		t.Errorf("wire (-want +got):\n%s", diff)
	}
	if _, err := f.svc.Get(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}

func TestAddCourseReturnsDetachedEntry(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "Plan")
	if _, err := f.conns.SubscribeTo("c1", "mine", Channel, id, f.svc.Loader(id)); err != nil {
		t.Fatal(err)
	}

	body, err := f.svc.AddCourse(id, "cs101-a")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 200 {
			if err := f.svc.SetColor(id, "cs101-a", fmt.Sprintf("#%06x", i)); err != nil {
				t.Errorf("SetColor: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for range 200 {
			var e entryDoc
			if err := json.Unmarshal(body, &e); err != nil {
				t.Errorf("decode entry: %v", err)
				return
			}
			if e.CourseID != "cs101-a" || e.Color != palette[0] {
				t.Errorf("entry = %+v", e)
				return
			}
		}
	}()
	wg.Wait()
}

func TestDeleteWinsOverConcurrentEdits(t *testing.T) {
	for range 20 {
		f := newFixture(t)
		id := f.create(t, "Plan")
		if _, err := f.svc.AddCourse(id, "cs101-a"); err != nil {
			t.Fatal(err)
		}
		if _, err := f.conns.SubscribeTo("c1", "mine", Channel, id, f.svc.Loader(id)); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		for i := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := range 25 {
					err := f.svc.SetHidden(id, "cs101-a", n%2 == 0)
					if i%2 == 1 {
						err = f.svc.Rename(id, fmt.Sprintf("Plan %d", n))
					}
					if err != nil && !errors.Is(err, ErrNotFound) {
						t.Errorf("edit: %v", err)
						return
					}
				}
			}()
		}
		if ok, err := f.svc.Delete(context.Background(), id); err != nil || !ok {
			t.Fatalf("Delete = %v, %v", ok, err)
		}
		wg.Wait()

		if _, err := f.store.Load(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("deleted schedule came back: %v", err)
		}
		if _, ok := f.reg.Context(Channel).Get(id); ok {
			t.Fatal("deleted schedule is live again")
		}
	}
}

func TestPersisterCloseWaitsForTimedSave(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "Plan")
	obj, err := f.reg.Context(Channel).GetOrAdd(id, f.svc.Loader(id))
	if err != nil {
		t.Fatal(err)
	}
	p := &Persister{store: f.store, obj: obj, delay: time.Hour}

	p.saving.Lock()
	p.dirty = true
	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Close returned while a save was in progress")
	case <-time.After(50 * time.Millisecond):
	}
	p.saving.Unlock()
	<-done

	if !p.closed || p.dirty {
		t.Errorf("after Close: closed=%v dirty=%v", p.closed, p.dirty)
	}
}
