package workspace

import (
	"fmt"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
)

// Mount subscribes to each collection, or to every collection when none
// are given. Mounting a collection again replaces its earlier
// subscription. Mounting succeeds on a disconnected store; the local state
// then stays empty apart from this session's own writes.
func (w *Workspace) Mount(collections ...string) error {
	if len(collections) == 0 {
		collections = schema.Collections
	}
	for _, c := range collections {
		if _, ok := w.collections[c]; !ok && c != schema.CollectionSettings {
			return fmt.Errorf("unknown collection %q", c)
		}
	}

	for _, c := range collections {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return fmt.Errorf("workspace is closed")
		}
		previous := w.subs[c]
		delete(w.subs, c)
		w.mu.Unlock()

		// Unsubscribe waits for a running callback, which takes w.mu
		if previous != nil {
			previous()
		}

		unsub := w.store.Subscribe(c, w.handleSnapshot)

		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			unsub()
			return fmt.Errorf("workspace is closed")
		}
		raced := w.subs[c]
		w.subs[c] = unsub
		w.mu.Unlock()

		if raced != nil {
			raced()
		}
	}

	if !w.store.Connected() {
		w.logger.Printf("Store not connected; working from local state only")
	}
	return nil
}

// Unmount stops the subscription of collection. Its local state is kept.
func (w *Workspace) Unmount(collection string) {
	w.mu.Lock()
	unsub := w.subs[collection]
	delete(w.subs, collection)
	w.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Mounted reports whether collection has a live subscription.
func (w *Workspace) Mounted(collection string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.subs[collection]
	return ok
}
