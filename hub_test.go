package confdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andreyvit/confdb/value"
)

func nextEvent(t testing.TB, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription closed: %v", sub.Err())
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for an event on %s", sub.Dir())
		panic("unreachable")
	}
}

func noEvent(t testing.TB, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event on %s: %v", sub.Dir(), ev)
	default:
	}
}

func TestWatchInsideAndOutside(t *testing.T) {
	e := setup(t, "", nil)
	ctx := context.Background()
	app := must(e.hub.Subscribe("/app/"))
	key := must(e.hub.Subscribe("/app/a"))
	deep := must(e.hub.Subscribe("/app/sub/deeper/"))

	e.write("/other/x", "1")
	e.write("/application", "1")
	noEvent(t, app)
	noEvent(t, key)

	e.write("/app/a", "1")
	e.write("/app/b", "2")

	ev := nextEvent(t, app)
	deepEqual(t, ev.FullPaths(), []string{"/app/a"})
	deepEqual(t, ev.Value.String(), "1")
	ev2 := nextEvent(t, app)
	deepEqual(t, ev2.FullPaths(), []string{"/app/b"})
	deepEqual(t, ev2.Seq > ev.Seq, true)

	deepEqual(t, nextEvent(t, key).FullPaths(), []string{"/app/a"})
	noEvent(t, key)
	noEvent(t, deep)

	// no-op writes publish nothing
	e.write("/app/a", "1")
	noEvent(t, app)

	must(e.w.ResetDir(ctx, "/app/", true))
	ev = nextEvent(t, app)
	deepEqual(t, ev.Prefix, "/app/")
	deepEqual(t, ev.Value.IsValid(), false)
	deepEqual(t, nextEvent(t, key).Prefix, "/app/")
	deepEqual(t, nextEvent(t, deep).Prefix, "/app/")
}

func TestWatchLoadOrder(t *testing.T) {
	e := setup(t, "", nil)
	sub := must(e.hub.Subscribe("/"))

	must(e.w.Load(context.Background(), "/cfg/", "[/]\nz=1\na=2\n[m]\nk=3\n", false))
	ev := nextEvent(t, sub)
	deepEqual(t, ev.Prefix, "/cfg/")
	deepEqual(t, ev.Paths, []string{"z", "a", "m/k"})
	deepEqual(t, ev.Value.IsValid(), false)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := NewHub(HubOptions{Buffer: 1})
	slow := must(h.Subscribe("/"))
	other := must(h.Subscribe("/elsewhere/"))

	h.Publish(Event{Prefix: "/a", Paths: []string{""}})
	h.Publish(Event{Prefix: "/b", Paths: []string{""}})

	ev, ok := <-slow.Events()
	deepEqual(t, ok, true)
	deepEqual(t, ev.Prefix, "/a")
	_, ok = <-slow.Events()
	deepEqual(t, ok, false)
	if !errors.Is(slow.Err(), ErrSubscriptionDropped) {
		t.Fatalf("Err() = %v, wanted ErrSubscriptionDropped", slow.Err())
	}

	deepEqual(t, other.Err(), error(nil))
	deepEqual(t, h.Stats().Dropped, uint64(1))
	deepEqual(t, h.Stats().Subscribers, 1)

	again := must(h.Subscribe("/"))
	h.Publish(Event{Prefix: "/c", Paths: []string{""}})
	deepEqual(t, nextEvent(t, again).Prefix, "/c")
}

func TestHubClose(t *testing.T) {
	h := NewHub(HubOptions{})
	sub := must(h.Subscribe("/"))
	sub.Close()
	_, ok := <-sub.Events()
	deepEqual(t, ok, false)
	deepEqual(t, sub.Err(), ErrClosed)

	sub2 := must(h.Subscribe("/"))
	h.Close()
	_, ok = <-sub2.Events()
	deepEqual(t, ok, false)
	if _, err := h.Subscribe("/"); err != ErrClosed {
		t.Fatalf("Subscribe after Close = %v", err)
	}
	deepEqual(t, h.Publish(Event{Prefix: "/x", Paths: []string{""}}), uint64(0))
}

func TestInterested(t *testing.T) {
	tests := []struct {
		dir   string
		paths []string
		want  bool
	}{
		{"/", []string{"/a"}, true},
		{"/a/", []string{"/a/b"}, true},
		{"/a/", []string{"/ab"}, false},
		{"/a/b", []string{"/a/b"}, true},
		{"/a/b", []string{"/a/bc"}, false},
		{"/a/b/", []string{"/a/"}, true},
		{"/a/b/", []string{"/a"}, false},
		{"/a/b", []string{"/"}, true},
		{"/x/", []string{"/a/b", "/x/y"}, true},
	}
	for _, tt := range tests {
		if _, got := interested(tt.dir, Event{Paths: tt.paths}); got != tt.want {
			t.Errorf("interested(%q, %q) = %v, wanted %v", tt.dir, tt.paths, got, tt.want)
		}
	}
}

func TestEventPathsFilteredPerSubscriber(t *testing.T) {
	h := NewHub(HubOptions{})
	all := must(h.Subscribe("/"))
	a := must(h.Subscribe("/a/"))
	b := must(h.Subscribe("/b/x"))

	h.Publish(Event{Prefix: "/", Paths: []string{"a/1", "b/x", "a/2", "c"}})
	deepEqual(t, nextEvent(t, all).Paths, []string{"a/1", "b/x", "a/2", "c"})
	deepEqual(t, nextEvent(t, a).FullPaths(), []string{"/a/1", "/a/2"})
	deepEqual(t, nextEvent(t, b).FullPaths(), []string{"/b/x"})

	// a directory reset reaches watchers inside it
	h.Publish(Event{Prefix: "/", Paths: []string{"b/", "z"}})
	deepEqual(t, nextEvent(t, b).FullPaths(), []string{"/b/"})
	deepEqual(t, nextEvent(t, all).Paths, []string{"b/", "z"})
	noEvent(t, a)
}

func TestEventString(t *testing.T) {
	ev := Event{Prefix: "/a/", Paths: []string{"b", "c/d"}}
	deepEqual(t, ev.String(), "/a/b /a/c/d")
	ev = Event{Prefix: "/a/b", Paths: []string{""}, Value: value.NewInt(3)}
	deepEqual(t, ev.String(), "/a/b=3")
}
