package confdb

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andreyvit/confdb/keypath"
	"github.com/andreyvit/confdb/value"
)

const DefaultSubscriptionBuffer = 64

// Event describes one committed transaction. Paths are relative to Prefix
// and listed in the order they were applied. Value is set only when the
// transaction wrote a single key.
type Event struct {
	Seq    uint64
	Source string
	Prefix string
	Paths  []string
	Value  value.Value
	Time   time.Time
}

// FullPaths returns the changed paths with the prefix prepended.
func (ev Event) FullPaths() []string {
	result := make([]string, len(ev.Paths))
	for i, p := range ev.Paths {
		result[i] = ev.Prefix + p
	}
	return result
}

func (ev Event) String() string {
	var buf strings.Builder
	for i, p := range ev.FullPaths() {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(p)
	}
	if ev.Value.IsValid() {
		buf.WriteByte('=')
		buf.WriteString(ev.Value.String())
	}
	return buf.String()
}

// interested returns the part of ev that a subscriber watching dir should
// see: the changed paths that equal dir, lie under it, or are directory
// resets containing it. It reports false if no path matches.
func interested(dir string, ev Event) (Event, bool) {
	var keep []string
	for i, p := range ev.Paths {
		if keypath.Overlaps(dir, ev.Prefix+p) {
			if keep != nil {
				keep = append(keep, p)
			}
			continue
		}
		if keep == nil {
			keep = append(make([]string, 0, len(ev.Paths)), ev.Paths[:i]...)
		}
	}
	switch {
	case keep == nil:
		return ev, len(ev.Paths) > 0
	case len(keep) == 0:
		return ev, false
	}
	ev.Paths = keep
	return ev, true
}

type HubOptions struct {
	// Buffer is the number of events a subscriber may fall behind before
	// it is dropped.
	Buffer int
	Logger *slog.Logger
	Now    func() time.Time
}

// Hub fans committed transactions out to subscribers in commit order.
// Publishing never blocks: a subscriber whose buffer is full is dropped,
// its channel is closed, and Err reports ErrSubscriptionDropped; it is
// expected to re-read what it cares about and subscribe again.
type Hub struct {
	buffer int
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	seq    uint64
	subs   map[*Subscription]struct{}
	closed bool

	PublishCount atomic.Uint64
	DeliverCount atomic.Uint64
	DropCount    atomic.Uint64
}

func NewHub(opt HubOptions) *Hub {
	if opt.Buffer <= 0 {
		opt.Buffer = DefaultSubscriptionBuffer
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Hub{
		buffer: opt.Buffer,
		logger: opt.Logger,
		now:    opt.Now,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Subscription delivers events for one watched directory.
type Subscription struct {
	hub *Hub
	dir string
	ch  chan Event

	err error // guarded by hub.mu
}

// Subscribe starts watching dir. A key path watches just that key.
func (h *Hub) Subscribe(dir string) (*Subscription, error) {
	if err := keypath.CheckPath(dir); err != nil {
		return nil, &PathError{"watch", dir, err}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	sub := &Subscription{
		hub: h,
		dir: dir,
		ch:  make(chan Event, h.buffer),
	}
	h.subs[sub] = struct{}{}
	return sub, nil
}

func (sub *Subscription) Dir() string {
	return sub.dir
}

// Events is closed when the subscription ends.
func (sub *Subscription) Events() <-chan Event {
	return sub.ch
}

// Err returns ErrSubscriptionDropped if the subscriber fell behind, or
// ErrClosed if the subscription or the hub was closed.
func (sub *Subscription) Err() error {
	sub.hub.mu.Lock()
	defer sub.hub.mu.Unlock()
	return sub.err
}

func (sub *Subscription) Close() {
	sub.hub.mu.Lock()
	defer sub.hub.mu.Unlock()
	sub.hub.remove_locked(sub, ErrClosed)
}

func (h *Hub) remove_locked(sub *Subscription, err error) {
	if _, found := h.subs[sub]; !found {
		return
	}
	delete(h.subs, sub)
	sub.err = err
	close(sub.ch)
}

// Publish assigns the next sequence number to ev and queues it for every
// interested subscriber.
func (h *Hub) Publish(ev Event) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0
	}
	h.seq++
	ev.Seq = h.seq
	if ev.Time.IsZero() {
		ev.Time = h.now()
	}
	h.PublishCount.Add(1)

	for sub := range h.subs {
		subEv, ok := interested(sub.dir, ev)
		if !ok {
			continue
		}
		select {
		case sub.ch <- subEv:
			h.DeliverCount.Add(1)
		default:
			h.DropCount.Add(1)
			h.logger.LogAttrs(context.Background(), slog.LevelWarn, "confdb: dropping slow subscriber", slog.String("dir", sub.dir), slog.Uint64("seq", ev.Seq))
			h.remove_locked(sub, ErrSubscriptionDropped)
		}
	}
	return ev.Seq
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		h.remove_locked(sub, ErrClosed)
	}
}
