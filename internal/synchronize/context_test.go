package synchronize

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func loadRoom(title string) func() (any, error) {
	return func() (any, error) { return newRoom(title), nil }
}

func TestContextAddRejectsDuplicateKey(t *testing.T) {
	reg := NewRegistry(&recordingTransport{})
	t.Cleanup(reg.Close)
	ctx := reg.Context("rooms")

	if _, err := ctx.Add("a", newRoom("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.Add("a", newRoom("again")); !errors.Is(err, ErrKeyInUse) {
		t.Fatalf("duplicate Add = %v, want ErrKeyInUse", err)
	}
	if ctx.Remove("missing") {
		t.Error("Remove of unknown key = true")
	}
	if !ctx.Remove("a") {
		t.Error("Remove(a) = false")
	}
	if _, ok := ctx.Get("a"); ok {
		t.Error("a still registered after Remove")
	}
}

func TestRegistryReturnsOneContextPerKind(t *testing.T) {
	reg := NewRegistry(&recordingTransport{})
	if reg.Context("rooms") != reg.Context("rooms") {
		t.Fatal("two contexts for the same kind")
	}
	if reg.Context("rooms") == reg.Context("lobbies") {
		t.Fatal("kinds share a context")
	}
	if diff := cmp.Diff([]string{"lobbies", "rooms"}, reg.Kinds()); diff != "" {
		t.Errorf("kinds (-want +got):\n%s", diff)
	}
}

func TestLastUnsubscribeReleasesObject(t *testing.T) {
	tr := &recordingTransport{}
	reg := NewRegistry(tr)
	t.Cleanup(reg.Close)
	conns := NewConnections(reg)

	loads := 0
	load := func() (any, error) {
		loads++
		return newRoom("lobby"), nil
	}
	obj, err := conns.SubscribeTo("c1", "room", "rooms", "r1", load)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conns.SubscribeTo("c2", "here", "rooms", "r1", load); err != nil {
		t.Fatal(err)
	}
	if loads != 1 {
		t.Fatalf("loaded %d times, want 1", loads)
	}
	ctx := reg.Context("rooms")

	conns.Unsubscribe("c1", "room")
	if _, ok := ctx.Get("r1"); !ok {
		t.Fatal("object released while c2 still bound")
	}
	conns.Unsubscribe("c2", "here")
	if _, ok := ctx.Get("r1"); ok {
		t.Fatal("object still registered after last unsubscribe")
	}
	if !obj.Closed() {
		t.Error("released object not closed")
	}

	want := []string{
		`c1 init room {"Title":"lobby","Members":[]}`,
		`c2 init here {"Title":"lobby","Members":[]}`,
		"c1 remove room",
		"c2 remove here",
	}
	if diff := cmp.Diff(want, tr.take()); diff != "" {
		t.Errorf("transport (-want +got):\n%s", diff)
	}
}

func TestUnsubscribeTwiceSendsOneRemove(t *testing.T) {
	tr := &recordingTransport{}
	reg := NewRegistry(tr)
	t.Cleanup(reg.Close)
	conns := NewConnections(reg)

	if _, err := conns.SubscribeTo("c1", "room", "rooms", "r1", loadRoom("lobby")); err != nil {
		t.Fatal(err)
	}
	tr.take()

	if !conns.Unsubscribe("c1", "room") {
		t.Fatal("first Unsubscribe = false")
	}
	if conns.Unsubscribe("c1", "room") {
		t.Error("second Unsubscribe = true")
	}
	if conns.Unsubscribe("nobody", "room") {
		t.Error("Unsubscribe for unknown connection = true")
	}
	if diff := cmp.Diff([]string{"c1 remove room"}, tr.take()); diff != "" {
		t.Errorf("transport (-want +got):\n%s", diff)
	}
}

func TestDisconnectReleasesEverything(t *testing.T) {
	tr := &recordingTransport{}
	reg := NewRegistry(tr)
	t.Cleanup(reg.Close)
	conns := NewConnections(reg)

	a, err := conns.SubscribeTo("c1", "a", "rooms", "r1", loadRoom("one"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := conns.SubscribeTo("c1", "b", "rooms", "r2", loadRoom("two"))
	if err != nil {
		t.Fatal(err)
	}
	subs := conns.Open("c1")

	conns.Closed("c1")
	conns.Closed("c1")

	if n := reg.Context("rooms").Len(); n != 0 {
		t.Errorf("%d objects left after disconnect", n)
	}
	if a.Connections() != 0 || b.Connections() != 0 {
		t.Error("binding to a dead connection survived")
	}
	if conns.Count() != 0 {
		t.Errorf("Count = %d after disconnect", conns.Count())
	}
	if err := subs.Add("late", a); !errors.Is(err, ErrClosed) {
		t.Errorf("Add after close = %v, want ErrClosed", err)
	}
}

func TestSubscriptionKeyInUse(t *testing.T) {
	tr := &recordingTransport{}
	reg := NewRegistry(tr)
	t.Cleanup(reg.Close)
	ctx := reg.Context("rooms")
	r1, _ := ctx.Add("r1", newRoom("one"))
	r2, _ := ctx.Add("r2", newRoom("two"))

	subs := NewSubscriptions("c1")
	if err := subs.Add("room", r1); err != nil {
		t.Fatal(err)
	}
	if err := subs.Add("room", r2); !errors.Is(err, ErrKeyInUse) {
		t.Fatalf("reused key = %v, want ErrKeyInUse", err)
	}
	if err := subs.Add("again", r1); !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("second key for same object = %v, want ErrAlreadyBound", err)
	}
	if r2.Connections() != 0 {
		t.Error("rejected Add left a binding behind")
	}
}

func TestSetIsRemoveThenAdd(t *testing.T) {
	tr := &recordingTransport{}
	reg := NewRegistry(tr)
	t.Cleanup(reg.Close)
	ctx := reg.Context("rooms")
	r1, _ := ctx.Add("r1", newRoom("one"))
	r2, _ := ctx.Add("r2", newRoom("two"))

	subs := NewSubscriptions("c1")
	if err := subs.Set("room", r1); err != nil {
		t.Fatal(err)
	}
	tr.take()
	if err := subs.Set("room", r2); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"c1 remove room",
		`c1 init room {"Title":"two","Members":[]}`,
	}
	if diff := cmp.Diff(want, tr.take()); diff != "" {
		t.Errorf("transport (-want +got):\n%s", diff)
	}
	if _, ok := ctx.Get("r1"); ok {
		t.Error("r1 not released after its only binding moved")
	}
}

func TestFailedLoadRegistersNothing(t *testing.T) {
	reg := NewRegistry(&recordingTransport{})
	conns := NewConnections(reg)
	boom := errors.New("boom")

	_, err := conns.SubscribeTo("c1", "room", "rooms", "r1", func() (any, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("SubscribeTo = %v, want boom", err)
	}
	if reg.Context("rooms").Len() != 0 {
		t.Error("failed load left an object registered")
	}
}

func TestReleaseKeepsBoundObjects(t *testing.T) {
	tr := &recordingTransport{}
	reg := NewRegistry(tr)
	t.Cleanup(reg.Close)
	ctx := reg.Context("rooms")

	var created []string
	ctx.OnCreate(func(o *Object) { created = append(created, o.Key()) })

	idle, _ := ctx.GetOrAdd("idle", loadRoom("idle"))
	closedHook := 0
	idle.OnClose(func() { closedHook++ })
	busy, err := ctx.Subscribe(NewSubscriptions("c1"), "room", "busy", loadRoom("busy"))
	if err != nil {
		t.Fatal(err)
	}

	if ctx.Release("busy") {
		t.Error("Release closed an object with a bound connection")
	}
	if !ctx.Release("idle") {
		t.Error("Release kept an idle object")
	}
	if ctx.Release("idle") {
		t.Error("second Release = true")
	}
	if closedHook != 1 {
		t.Errorf("OnClose ran %d times, want 1", closedHook)
	}
	if busy.Closed() {
		t.Error("busy object closed")
	}
	if diff := cmp.Diff([]string{"idle", "busy"}, created); diff != "" {
		t.Errorf("OnCreate (-want +got):\n%s", diff)
	}
	if err := idle.Mutate(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Mutate on released object = %v, want ErrClosed", err)
	}
}

func TestKeyOfRemovedObjectCanBeReused(t *testing.T) {
	tr := &recordingTransport{}
	reg := NewRegistry(tr)
	t.Cleanup(reg.Close)
	ctx := reg.Context("rooms")
	subs := NewSubscriptions("c1")

	if _, err := ctx.Subscribe(subs, "room", "r1", loadRoom("one")); err != nil {
		t.Fatal(err)
	}
	ctx.Remove("r1")
	tr.take()

	obj, err := ctx.Subscribe(subs, "room", "r1", loadRoom("reloaded"))
	if err != nil {
		t.Fatalf("Subscribe after Remove = %v", err)
	}
	if got, _ := subs.Get("room"); got != obj {
		t.Error("key still points at the removed object")
	}
	want := []string{`c1 init room {"Title":"reloaded","Members":[]}`}
	if diff := cmp.Diff(want, tr.take()); diff != "" {
		t.Errorf("transport (-want +got):\n%s", diff)
	}
}

func TestRemoveWithHoldsTheKey(t *testing.T) {
	tr := &recordingTransport{}
	reg := NewRegistry(tr)
	t.Cleanup(reg.Close)
	ctx := reg.Context("rooms")

	obj, _ := ctx.GetOrAdd("r1", loadRoom("one"))
	gone := false
	loaded := make(chan error, 1)
	err := ctx.RemoveWith("r1", func() error {
		if !obj.Closed() {
			t.Error("object still open while fn runs")
		}
		go func() {
			_, err := ctx.GetOrAdd("r1", func() (any, error) {
				if !gone {
					return nil, errors.New("reloaded before fn returned")
				}
				return nil, errors.New("gone")
			})
			loaded <- err
		}()
		gone = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := <-loaded; err == nil || err.Error() != "gone" {
		t.Errorf("concurrent load = %v", err)
	}
	if ctx.Len() != 0 {
		t.Error("failed reload registered an object")
	}

	boom := errors.New("boom")
	if err := ctx.RemoveWith("missing", func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("RemoveWith = %v, want boom", err)
	}
}
