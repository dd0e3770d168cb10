package workspace

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/session"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
)

// Record is the pointer side of an entity type.
type Record[T any] interface {
	*T
	Key() string
	Validate() error
	SetDefaults()
}

type entry struct {
	data    json.RawMessage
	version int64
}

// Collection is the typed local state of one store collection. Values
// returned by List and Get are independent copies.
type Collection[T any, P Record[T]] struct {
	name     string
	resource session.Resource
	ws       *Workspace

	mu     sync.RWMutex
	items  map[string]entry
	loaded bool
}

func newCollection[T any, P Record[T]](ws *Workspace, name string) *Collection[T, P] {
	return &Collection[T, P]{
		name:     name,
		resource: session.ResourceFor(name),
		ws:       ws,
		items:    make(map[string]entry),
	}
}

// Name returns the store collection name.
func (c *Collection[T, P]) Name() string { return c.name }

// Loaded reports whether at least one snapshot has been applied.
func (c *Collection[T, P]) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Len returns the number of items.
func (c *Collection[T, P]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Get returns the item with the given id.
func (c *Collection[T, P]) Get(id string) (T, bool) {
	c.mu.RLock()
	e, ok := c.items[id]
	c.mu.RUnlock()
	var item T
	if !ok {
		return item, false
	}
	if err := json.Unmarshal(e.data, &item); err != nil {
		return item, false
	}
	return item, true
}

// Version returns the store version the item was last seen at, or 0 for
// items that only exist locally so far.
func (c *Collection[T, P]) Version(id string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items[id].version
}

// List returns every item ordered by id.
func (c *Collection[T, P]) List() []T {
	c.mu.RLock()
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	raw := make([]json.RawMessage, len(ids))
	for i, id := range ids {
		raw[i] = c.items[id].data
	}
	c.mu.RUnlock()

	out := make([]T, 0, len(raw))
	for _, data := range raw {
		var item T
		if err := json.Unmarshal(data, &item); err == nil {
			out = append(out, item)
		}
	}
	return out
}

// Save validates item, updates local state and queues the write.
func (c *Collection[T, P]) Save(item T) error {
	return c.put(item, session.ActionEdit)
}

// Update applies fn to a copy of the item and saves the result.
func (c *Collection[T, P]) Update(id string, fn func(P) error) (T, error) {
	return c.update(id, session.ActionEdit, fn)
}

// Delete removes the item locally and queues the delete.
func (c *Collection[T, P]) Delete(id string) error {
	if err := c.require(session.ActionDelete, id); err != nil {
		return err
	}
	if _, ok := c.Get(id); !ok && c.Loaded() {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, c.name, id)
	}
	c.ws.outbox.Delete(c.name, id)
	c.ws.refresh(c.name)
	return nil
}

func (c *Collection[T, P]) update(id string, action session.Action, fn func(P) error) (T, error) {
	item, ok := c.Get(id)
	if !ok {
		return item, fmt.Errorf("%w: %s/%s", store.ErrNotFound, c.name, id)
	}
	if err := fn(P(&item)); err != nil {
		return item, err
	}
	if err := c.put(item, action); err != nil {
		return item, err
	}
	return item, nil
}

func (c *Collection[T, P]) put(item T, action session.Action) error {
	p := P(&item)
	if err := c.require(action, p.Key()); err != nil {
		return err
	}
	p.SetDefaults()
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", store.ErrInvalid, c.name, err)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", c.name, p.Key(), err)
	}
	c.ws.outbox.Upsert(c.name, p.Key(), data)
	c.ws.refresh(c.name)
	return nil
}

// require checks the session may perform action on item id. Project
// items are checked one by one so invited sessions stay in their project.
func (c *Collection[T, P]) require(action session.Action, id string) error {
	if c.resource == session.ResourceProject {
		return c.ws.session.RequireProject(action, id)
	}
	return c.ws.session.Require(action, c.resource)
}

// apply replaces the local state with docs. Documents that do not decode
// are logged and skipped. loaded is false until a snapshot has arrived.
func (c *Collection[T, P]) apply(docs []store.Document, loaded bool) {
	items := make(map[string]entry, len(docs))
	for _, doc := range docs {
		var item T
		if err := json.Unmarshal(doc.Data, &item); err != nil {
			c.ws.logger.Printf("Skipping undecodable %s/%s: %v", c.name, doc.ID, err)
			continue
		}
		items[doc.ID] = entry{data: doc.Data, version: doc.Version}
	}

	c.mu.Lock()
	c.items = items
	c.loaded = loaded
	c.mu.Unlock()
}
