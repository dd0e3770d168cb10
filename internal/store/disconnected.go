package store

import (
	"context"
	"encoding/json"
	"log"
)

// Disconnected is the store used when no database or server is configured.
// Subscriptions never fire, reads find nothing and writes fail with
// ErrDisconnected. Callers show a disconnected state instead of failing.
type Disconnected struct {
	Reason string
	Logger *log.Logger
}

// NewDisconnected returns a Disconnected store that logs reason once per write.
func NewDisconnected(reason string, logger *log.Logger) *Disconnected {
	return &Disconnected{Reason: reason, Logger: logger}
}

func (d *Disconnected) logf(format string, args ...any) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}

// Subscribe implements Store. The returned Unsubscribe is a no-op.
func (d *Disconnected) Subscribe(collection string, fn SnapshotFunc) Unsubscribe {
	d.logf("Not subscribing to %s: %s", collection, d.Reason)
	return func() {}
}

// Get implements Store.
func (d *Disconnected) Get(ctx context.Context, collection, id string) (*Document, error) {
	return nil, ErrDisconnected
}

// Upsert implements Store.
func (d *Disconnected) Upsert(ctx context.Context, collection, id string, data json.RawMessage) (int64, error) {
	d.logf("Dropping write to %s/%s: %s", collection, id, d.Reason)
	return 0, ErrDisconnected
}

// Create implements Store.
func (d *Disconnected) Create(ctx context.Context, collection, id string, data json.RawMessage) error {
	return ErrDisconnected
}

// UpdateFields implements Store.
func (d *Disconnected) UpdateFields(ctx context.Context, collection, id string, fields map[string]json.RawMessage, expectVersion int64) (int64, error) {
	return 0, ErrDisconnected
}

// Delete implements Store.
func (d *Disconnected) Delete(ctx context.Context, collection, id string) error {
	return ErrDisconnected
}

// Connected implements Store.
func (d *Disconnected) Connected() bool { return false }

// Close implements Store.
func (d *Disconnected) Close() error { return nil }
