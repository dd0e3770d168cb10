// Package outbox queues client writes to the live store and reconciles them
// with incoming snapshots.
//
// Local state changes first; the matching write is then queued here and
// applied by a single worker in FIFO order. A write that fails transiently
// is retried with backoff. A write that fails permanently, or runs out of
// attempts, moves to the failed list where the user can retry or discard it.
// Nothing is rolled back silently.
//
// Until the store confirms a write, Overlay re-applies it on top of every
// snapshot, so a snapshot racing the write never flips local state back.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/retry"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
)

var (
	// ErrUnknownWrite is returned by Retry and Discard for ids not in the failed list.
	ErrUnknownWrite = errors.New("unknown write")

	// ErrSuperseded is returned by Retry when a newer write for the same
	// document was queued after the failed one. The failed write is dropped.
	ErrSuperseded = errors.New("superseded by a newer write")
)

// Op is the kind of a pending write.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
	OpPatch  Op = "patch"
)

// Write is one queued store write.
type Write struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	DocID      string `json:"docId"`
	Op         Op     `json:"op"`

	// Data is the whole document for OpUpsert.
	Data json.RawMessage `json:"data,omitempty"`

	// Fields and ExpectVersion describe an OpPatch.
	Fields        map[string]json.RawMessage `json:"fields,omitempty"`
	ExpectVersion int64                      `json:"expectVersion,omitempty"`

	Attempts    int       `json:"attempts"`
	LastError   string    `json:"lastError,omitempty"`
	QueuedAt    time.Time `json:"queuedAt"`
	NextAttempt time.Time `json:"nextAttempt"`

	// seq orders writes by when they were queued
	seq uint64
}

// Key returns "collection/docID".
func (w Write) Key() string {
	return w.Collection + "/" + w.DocID
}

// Config holds configuration for the queue.
type Config struct {
	// PollInterval is how often the worker looks for due retries
	PollInterval time.Duration

	// WriteTimeout bounds a single store call
	WriteTimeout time.Duration

	// Retry decides the delay before each retry; returning false gives up
	Retry retry.Policy

	// AckTTL is how long a confirmed write keeps overlaying snapshots that
	// have not caught up with it yet
	AckTTL time.Duration

	// OnFailure is called when a write moves to the failed list
	OnFailure func(w Write, err error)

	// Logger for queue activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 250 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Retry: &retry.Backoff{
			Initial:      200 * time.Millisecond,
			Max:          10 * time.Second,
			Multiplier:   2,
			MaxAttempts:  5,
			JitterFactor: 0.2,
		},
		AckTTL: 10 * time.Second,
		Logger: log.New(os.Stderr, "[outbox] ", log.LstdFlags),
	}
}

type acked struct {
	write   Write
	version int64
	at      time.Time
}

// Queue is the pending-write queue.
type Queue struct {
	store  store.Store
	config *Config

	mu       sync.Mutex
	pending  []*Write // FIFO; pending[0] may be in flight
	inflight *Write
	failed   []*Write
	acks     map[string]acked
	seq      uint64
	changed  chan struct{}

	kick chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a queue writing to s. Call Start to begin draining.
func New(s store.Store, config *Config) *Queue {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.Retry == nil {
		config.Retry = defaults.Retry
	}
	if config.AckTTL <= 0 {
		config.AckTTL = defaults.AckTTL
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		store:   s,
		config:  config,
		acks:    make(map[string]acked),
		changed: make(chan struct{}),
		kick:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	q.wg.Add(1)
	go q.worker()
}

// Stop halts the worker. Queued writes stay queued; use Flush first to
// drain them.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
}

// Enqueue queues w and returns its id. A queued write for the same
// document that is not yet in flight is superseded by w. A failed write
// for the same document is dropped.
func (q *Queue) Enqueue(w Write) string {
	now := time.Now()
	w.ID = uuid.NewString()
	w.Attempts = 0
	w.LastError = ""
	w.QueuedAt = now
	w.NextAttempt = now

	q.mu.Lock()
	q.seq++
	w.seq = q.seq
	q.failed = removeKey(q.failed, w.Key())
	delete(q.acks, w.Key())

	replaced := false
	for i, p := range q.pending {
		if p == q.inflight || p.Key() != w.Key() {
			continue
		}
		if w.Op == OpPatch && p.Op == OpPatch {
			// Two patches collapse into one with the union of fields
			merged := make(map[string]json.RawMessage, len(p.Fields)+len(w.Fields))
			for k, v := range p.Fields {
				merged[k] = v
			}
			for k, v := range w.Fields {
				merged[k] = v
			}
			w.Fields = merged
		} else if w.Op == OpPatch {
			// A patch never replaces a whole-document write
			continue
		}
		cp := w
		q.pending[i] = &cp
		replaced = true
		if w.Op != OpPatch {
			// Later patches for the document are already part of w
			rest := q.pending[:i+1]
			for _, later := range q.pending[i+1:] {
				if later == q.inflight || later.Key() != w.Key() {
					rest = append(rest, later)
				}
			}
			q.pending = rest
		}
		break
	}
	if !replaced {
		cp := w
		q.pending = append(q.pending, &cp)
	}
	q.notifyLocked()
	q.mu.Unlock()

	q.wake()
	return w.ID
}

// Upsert queues a whole-document write.
func (q *Queue) Upsert(collection, id string, data json.RawMessage) string {
	return q.Enqueue(Write{Collection: collection, DocID: id, Op: OpUpsert, Data: data})
}

// Delete queues a delete.
func (q *Queue) Delete(collection, id string) string {
	return q.Enqueue(Write{Collection: collection, DocID: id, Op: OpDelete})
}

// Patch queues a field-level update.
func (q *Queue) Patch(collection, id string, fields map[string]json.RawMessage) string {
	return q.Enqueue(Write{Collection: collection, DocID: id, Op: OpPatch, Fields: fields})
}

// Pending returns a copy of the queued writes in order.
func (q *Queue) Pending() []Write {
	q.mu.Lock()
	defer q.mu.Unlock()
	return copyWrites(q.pending)
}

// Failed returns a copy of the writes awaiting user action.
func (q *Queue) Failed() []Write {
	q.mu.Lock()
	defer q.mu.Unlock()
	return copyWrites(q.failed)
}

// Retry moves a failed write back to the end of the queue.
func (q *Queue) Retry(id string) error {
	q.mu.Lock()
	idx := indexOf(q.failed, id)
	if idx < 0 {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownWrite, id)
	}
	w := q.failed[idx]
	q.failed = append(q.failed[:idx:idx], q.failed[idx+1:]...)
	if q.supersededLocked(*w) {
		q.notifyLocked()
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSuperseded, w.Key())
	}
	w.Attempts = 0
	w.NextAttempt = time.Now()
	q.pending = append(q.pending, w)
	q.notifyLocked()
	q.mu.Unlock()

	q.wake()
	return nil
}

// Discard drops a failed write. The next snapshot then shows the store's state.
func (q *Queue) Discard(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := indexOf(q.failed, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownWrite, id)
	}
	q.failed = append(q.failed[:idx:idx], q.failed[idx+1:]...)
	q.notifyLocked()
	return nil
}

// Flush waits until no write is queued or in flight. Failed writes do not
// block it.
func (q *Queue) Flush(ctx context.Context) error {
	q.wake()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return nil
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (q *Queue) wake() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// notifyLocked wakes Flush waiters. Caller holds q.mu.
func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) worker() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.kick:
		case <-ticker.C:
		}
		q.drain()
	}
}

// drain applies due writes in order until the head is not due.
func (q *Queue) drain() {
	for q.ctx.Err() == nil {
		w, ok := q.claim(time.Now())
		if !ok {
			return
		}
		version, err := q.apply(w)
		q.finish(w, version, err)
	}
}

// claim marks the head of the queue in flight if it is due.
func (q *Queue) claim(now time.Time) (Write, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 || q.inflight != nil {
		return Write{}, false
	}
	head := q.pending[0]
	if head.NextAttempt.After(now) {
		return Write{}, false
	}
	q.inflight = head
	return *head, true
}

func (q *Queue) apply(w Write) (int64, error) {
	ctx, cancel := context.WithTimeout(q.ctx, q.config.WriteTimeout)
	defer cancel()

	switch w.Op {
	case OpUpsert:
		return q.store.Upsert(ctx, w.Collection, w.DocID, w.Data)
	case OpDelete:
		return 0, q.store.Delete(ctx, w.Collection, w.DocID)
	case OpPatch:
		return q.store.UpdateFields(ctx, w.Collection, w.DocID, w.Fields, w.ExpectVersion)
	default:
		return 0, fmt.Errorf("%w: unknown op %q", store.ErrInvalid, w.Op)
	}
}

func (q *Queue) finish(w Write, version int64, err error) {
	q.mu.Lock()
	head := q.inflight
	q.inflight = nil

	if err == nil {
		q.pending = removeID(q.pending, w.ID)
		q.failed = removeOlder(q.failed, w)
		q.acks[w.Key()] = acked{write: w, version: version, at: time.Now()}
		q.notifyLocked()
		q.mu.Unlock()
		return
	}

	if q.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		// Shutting down: leave the write queued
		q.mu.Unlock()
		return
	}

	head.Attempts++
	head.LastError = err.Error()

	delay, again := q.config.Retry.Delay(head.Attempts-1, err)
	if !store.Permanent(err) && again {
		head.NextAttempt = time.Now().Add(delay)
		q.config.Logger.Printf("Write %s %s failed (attempt %d), retrying in %v: %v",
			w.Op, w.Key(), head.Attempts, delay.Round(time.Millisecond), err)
		q.notifyLocked()
		q.mu.Unlock()
		return
	}

	q.pending = removeID(q.pending, w.ID)
	if q.supersededLocked(*head) {
		// The user already changed the document again; that write decides
		q.notifyLocked()
		q.mu.Unlock()
		q.config.Logger.Printf("Write %s %s failed but was superseded: %v", w.Op, w.Key(), err)
		return
	}
	q.failed = append(q.failed, head)
	failed := *head
	q.notifyLocked()
	q.mu.Unlock()

	q.config.Logger.Printf("Write %s %s failed after %d attempts: %v", w.Op, w.Key(), failed.Attempts, err)
	if q.config.OnFailure != nil {
		q.config.OnFailure(failed, err)
	}
}

// supersededLocked reports whether a write for w's document was queued
// after w and is still queued or recently confirmed. Caller holds q.mu.
func (q *Queue) supersededLocked(w Write) bool {
	for _, p := range q.pending {
		if p.ID != w.ID && p.Key() == w.Key() && p.seq > w.seq {
			return true
		}
	}
	a, ok := q.acks[w.Key()]
	return ok && a.write.ID != w.ID && a.write.seq > w.seq
}

// Overlay applies every unconfirmed write for collection on top of docs
// and returns the result ordered by id. docs is not modified.
//
// Queued, in-flight and failed writes always apply. A confirmed write
// applies until a snapshot shows a version at least as new, or AckTTL passes.
// Writes apply in the order they were queued, so the newest write for a
// document always ends up on top.
func (q *Queue) Overlay(collection string, docs []store.Document) []store.Document {
	byID := make(map[string]store.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	q.mu.Lock()
	now := time.Now()
	var writes []Write
	for key, a := range q.acks {
		if a.write.Collection != collection {
			continue
		}
		doc, present := byID[a.write.DocID]
		caughtUp := false
		switch a.write.Op {
		case OpDelete:
			caughtUp = !present
		default:
			caughtUp = present && a.version > 0 && doc.Version >= a.version
		}
		if caughtUp || now.Sub(a.at) > q.config.AckTTL {
			delete(q.acks, key)
			continue
		}
		writes = append(writes, a.write)
	}
	for _, list := range [][]*Write{q.failed, q.pending} {
		for _, w := range list {
			if w.Collection == collection {
				writes = append(writes, *w)
			}
		}
	}
	q.mu.Unlock()
	sort.Slice(writes, func(i, j int) bool { return writes[i].seq < writes[j].seq })

	for _, w := range writes {
		switch w.Op {
		case OpUpsert:
			doc := byID[w.DocID]
			doc.ID = w.DocID
			doc.Data = w.Data
			byID[w.DocID] = doc
		case OpDelete:
			delete(byID, w.DocID)
		case OpPatch:
			doc, ok := byID[w.DocID]
			if !ok {
				continue
			}
			merged, err := mergeFields(doc.Data, w.Fields)
			if err != nil {
				q.config.Logger.Printf("Cannot overlay patch on %s: %v", w.Key(), err)
				continue
			}
			doc.Data = merged
			byID[w.DocID] = doc
		}
	}

	out := make([]store.Document, 0, len(byID))
	for _, d := range byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func mergeFields(data json.RawMessage, fields map[string]json.RawMessage) (json.RawMessage, error) {
	obj := make(map[string]json.RawMessage)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
	}
	for k, v := range fields {
		obj[k] = v
	}
	return json.Marshal(obj)
}

func copyWrites(list []*Write) []Write {
	out := make([]Write, len(list))
	for i, w := range list {
		out[i] = *w
	}
	return out
}

func indexOf(list []*Write, id string) int {
	for i, w := range list {
		if w.ID == id {
			return i
		}
	}
	return -1
}

func removeID(list []*Write, id string) []*Write {
	out := list[:0:0]
	for _, w := range list {
		if w.ID != id {
			out = append(out, w)
		}
	}
	return out
}

// removeOlder drops writes for w's document queued before w.
func removeOlder(list []*Write, w Write) []*Write {
	out := list[:0:0]
	for _, f := range list {
		if f.Key() != w.Key() || f.seq > w.seq {
			out = append(out, f)
		}
	}
	return out
}

func removeKey(list []*Write, key string) []*Write {
	out := list[:0:0]
	for _, w := range list {
		if w.Key() != key {
			out = append(out, w)
		}
	}
	return out
}
