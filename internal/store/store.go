// Package store provides the live collection store: documents grouped into
// named collections, point reads and writes, and per-collection live
// subscriptions that deliver the full document set on every change.
//
// Three implementations exist:
//
//   - DB: embedded SQLite (WAL mode), used by `nexus serve` and in tests
//   - Remote: HTTP + WebSocket client for a running `nexus serve`
//   - Disconnected: used when nothing is configured; reads report nothing,
//     writes fail with ErrDisconnected
//
// Snapshots are full sets, not diffs. A subscriber that falls behind only
// ever sees the newest snapshot; intermediate ones are dropped.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrExists is returned by Create when the document is already present.
	ErrExists = errors.New("document already exists")

	// ErrConflict is returned by UpdateFields when expectVersion does not match.
	ErrConflict = errors.New("document version conflict")

	// ErrDisconnected is returned by every write on an unconfigured or closed store.
	ErrDisconnected = errors.New("store is not connected")

	// ErrInvalid is returned for malformed collection names, ids, fields or payloads.
	ErrInvalid = errors.New("invalid request")
)

// Document is one stored record.
type Document struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Snapshot is the full current set of documents of a collection, ordered by id.
type Snapshot struct {
	Collection string     `json:"collection"`
	Documents  []Document `json:"documents"`
	At         time.Time  `json:"at"`
}

// Find returns the document with the given id.
func (s Snapshot) Find(id string) (Document, bool) {
	for _, d := range s.Documents {
		if d.ID == id {
			return d, true
		}
	}
	return Document{}, false
}

// SnapshotFunc receives snapshots. Calls for one subscription never overlap.
type SnapshotFunc func(Snapshot)

// Unsubscribe stops a subscription. It is safe to call more than once and
// no callback begins after it returns. It must not be called from inside
// the subscription's own callback.
type Unsubscribe func()

// Store is the live collection store.
type Store interface {
	// Subscribe delivers the current snapshot of collection and then a new
	// one after every committed change.
	Subscribe(collection string, fn SnapshotFunc) Unsubscribe

	Get(ctx context.Context, collection, id string) (*Document, error)

	// Upsert replaces the whole document and returns its new version.
	Upsert(ctx context.Context, collection, id string, data json.RawMessage) (int64, error)

	// Create inserts the document only if it does not exist yet.
	Create(ctx context.Context, collection, id string, data json.RawMessage) error

	// UpdateFields atomically sets top-level fields of an existing document.
	// When expectVersion is positive the update only applies if the stored
	// version matches, otherwise ErrConflict is returned.
	UpdateFields(ctx context.Context, collection, id string, fields map[string]json.RawMessage, expectVersion int64) (int64, error)

	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	Connected() bool
	Close() error
}

// Lister is implemented by stores that can return a point-in-time collection.
type Lister interface {
	List(ctx context.Context, collection string) ([]Document, error)
}

var (
	collectionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)
	fieldPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)
)

// ValidateCollection checks that name is a usable collection name.
func ValidateCollection(name string) error {
	if !collectionPattern.MatchString(name) {
		return fmt.Errorf("%w: bad collection name %q", ErrInvalid, name)
	}
	return nil
}

// ValidateKey checks a collection name and document id.
func ValidateKey(collection, id string) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	if id == "" || len(id) > 128 {
		return fmt.Errorf("%w: bad document id %q", ErrInvalid, id)
	}
	for _, r := range id {
		if r == '/' || r == '?' || r == '#' || r < 0x20 {
			return fmt.Errorf("%w: bad document id %q", ErrInvalid, id)
		}
	}
	return nil
}

// ValidateField checks that a top-level field name is a plain identifier.
func ValidateField(name string) error {
	if !fieldPattern.MatchString(name) {
		return fmt.Errorf("%w: bad field name %q", ErrInvalid, name)
	}
	return nil
}

// ValidateData checks that data is a JSON object.
func ValidateData(data json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: document must be a JSON object: %v", ErrInvalid, err)
	}
	return nil
}

// Decode unmarshals a document's data into v.
func Decode(doc Document, v any) error {
	if err := json.Unmarshal(doc.Data, v); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", doc.ID, err)
	}
	return nil
}

// Encode marshals v for use as document data.
func Encode(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}

// Permanent reports whether err will fail again if the same write is retried.
func Permanent(err error) bool {
	return errors.Is(err, ErrInvalid) || errors.Is(err, ErrConflict) || errors.Is(err, ErrExists)
}
