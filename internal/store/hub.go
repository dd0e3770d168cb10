package store

import (
	"log"
	"sort"
	"sync"
)

// Hub fans snapshots out to subscribers. Each subscriber has its own
// delivery goroutine and a one-slot mailbox, so a slow callback only delays
// itself and always receives the newest snapshot next.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	latest map[string]Snapshot
	closed bool

	// onIdle is called (outside the lock) when a collection loses its last subscriber.
	onIdle func(collection string)

	logger *log.Logger
}

// NewHub creates an empty hub. onIdle may be nil.
func NewHub(logger *log.Logger, onIdle func(collection string)) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		latest: make(map[string]Snapshot),
		onIdle: onIdle,
		logger: logger,
	}
}

// Subscribe registers fn for collection. If a snapshot for the collection
// has already been published it is delivered right away. first reports
// whether this is the only subscriber of the collection.
func (h *Hub) Subscribe(collection string, fn SnapshotFunc) (unsub Unsubscribe, first bool) {
	sub := newSubscriber(collection, fn)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}, false
	}
	set, ok := h.subs[collection]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[collection] = set
	}
	set[sub] = struct{}{}
	first = len(set) == 1
	if snap, ok := h.latest[collection]; ok {
		sub.offer(snap)
	}
	h.mu.Unlock()

	go sub.run()

	return func() { h.remove(sub) }, first
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	set := h.subs[sub.collection]
	_, present := set[sub]
	idle := false
	if present {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.collection)
			delete(h.latest, sub.collection)
			idle = true
		}
	}
	h.mu.Unlock()

	sub.stop()

	if idle && h.onIdle != nil {
		h.onIdle(sub.collection)
	}
}

// Publish records snap as the newest snapshot of its collection and offers
// it to every subscriber. Snapshots for collections nobody watches are dropped.
func (h *Hub) Publish(snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[snap.Collection]
	if len(set) == 0 {
		return
	}
	h.latest[snap.Collection] = snap
	for sub := range set {
		sub.offer(snap)
	}
}

// Latest returns the last published snapshot of collection.
func (h *Hub) Latest(collection string) (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap, ok := h.latest[collection]
	return snap, ok
}

// Watched returns the collections with at least one subscriber, sorted.
func (h *Hub) Watched() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.subs))
	for c := range h.subs {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of subscribers of collection.
func (h *Hub) Count(collection string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[collection])
}

// Close stops every subscription. Later Subscribe calls return no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*subscriber
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.subs = make(map[string]map[*subscriber]struct{})
	h.latest = make(map[string]Snapshot)
	h.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
}

type subscriber struct {
	collection string
	fn         SnapshotFunc

	mu      sync.Mutex
	pending *Snapshot

	wake chan struct{}
	quit chan struct{}
	once sync.Once

	// callMu is held for the duration of each callback; stop takes it to
	// wait out a callback in flight.
	callMu  sync.Mutex
	stopped bool
}

func newSubscriber(collection string, fn SnapshotFunc) *subscriber {
	return &subscriber{
		collection: collection,
		fn:         fn,
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
	}
}

func (s *subscriber) offer(snap Snapshot) {
	s.mu.Lock()
	s.pending = &snap
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		snap := s.pending
		s.pending = nil
		s.mu.Unlock()
		if snap == nil {
			continue
		}

		s.callMu.Lock()
		if s.stopped {
			s.callMu.Unlock()
			return
		}
		s.fn(*snap)
		s.callMu.Unlock()
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() {
		close(s.quit)
		s.callMu.Lock()
		s.stopped = true
		s.callMu.Unlock()
	})
}
