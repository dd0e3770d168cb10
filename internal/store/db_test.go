package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// testDB opens a fresh database with the schema applied.
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// collect subscribes and forwards every snapshot to a channel.
func collect(t *testing.T, s Store, collection string) (<-chan Snapshot, Unsubscribe) {
	t.Helper()
	ch := make(chan Snapshot, 64)
	unsub := s.Subscribe(collection, func(snap Snapshot) { ch <- snap })
	t.Cleanup(unsub)
	return ch, unsub
}

// waitFor reads snapshots until match returns true.
func waitFor(t *testing.T, ch <-chan Snapshot, match func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case snap := <-ch:
			if match(snap) {
				return snap
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func TestOpen_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if !db.Connected() {
		t.Error("Connected() = false after Open")
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := testDB(t)
	if err := db.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestUpsert_IncrementsVersion(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	v1, err := db.Upsert(ctx, "ideas", "i1", json.RawMessage(`{"id":"i1","title":"first"}`))
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	v2, err := db.Upsert(ctx, "ideas", "i1", json.RawMessage(`{"id":"i1","title":"second"}`))
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if v1 != 1 || v2 != 2 {
		t.Errorf("versions = %d, %d, want 1, 2", v1, v2)
	}

	doc, err := db.Get(ctx, "ideas", "i1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(doc.Data, &got); err != nil {
		t.Fatalf("bad stored json: %v", err)
	}
	if got["title"] != "second" {
		t.Errorf("title = %q, want second", got["title"])
	}
	if doc.Version != 2 {
		t.Errorf("Version = %d, want 2", doc.Version)
	}
	if doc.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestUpsert_RejectsInvalid(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		collection string
		id         string
		data       string
	}{
		{"not an object", "ideas", "i1", `[1,2]`},
		{"malformed", "ideas", "i1", `{"a":`},
		{"bad collection", "Ideas!", "i1", `{}`},
		{"bad id", "ideas", "a/b", `{}`},
		{"empty id", "ideas", "", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Upsert(ctx, tt.collection, tt.id, json.RawMessage(tt.data))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Upsert() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestCreate_Exists(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.Create(ctx, "settings", "global_config", json.RawMessage(`{"adminCode":"a"}`)); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	err := db.Create(ctx, "settings", "global_config", json.RawMessage(`{"adminCode":"b"}`))
	if !errors.Is(err, ErrExists) {
		t.Fatalf("second Create() error = %v, want ErrExists", err)
	}

	doc, err := db.Get(ctx, "settings", "global_config")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(doc.Data) != `{"adminCode":"a"}` {
		t.Errorf("Create overwrote existing document: %s", doc.Data)
	}
}

func TestGet_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.Get(context.Background(), "projects", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateFields(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.Upsert(ctx, "settings", "global_config",
		json.RawMessage(`{"id":"global_config","adminCode":"1234","ownerProfile":{"name":"A"}}`)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	t.Run("sets only named fields", func(t *testing.T) {
		v, err := db.UpdateFields(ctx, "settings", "global_config",
			map[string]json.RawMessage{"adminCode": json.RawMessage(`""`)}, 0)
		if err != nil {
			t.Fatalf("UpdateFields() failed: %v", err)
		}
		if v != 2 {
			t.Errorf("version = %d, want 2", v)
		}

		doc, _ := db.Get(ctx, "settings", "global_config")
		var got struct {
			AdminCode    *string           `json:"adminCode"`
			OwnerProfile map[string]string `json:"ownerProfile"`
		}
		if err := json.Unmarshal(doc.Data, &got); err != nil {
			t.Fatalf("bad stored json: %v", err)
		}
		if got.AdminCode == nil || *got.AdminCode != "" {
			t.Errorf("adminCode = %v, want empty string", got.AdminCode)
		}
		if got.OwnerProfile["name"] != "A" {
			t.Errorf("ownerProfile clobbered: %v", got.OwnerProfile)
		}
	})

	t.Run("nested object value", func(t *testing.T) {
		_, err := db.UpdateFields(ctx, "settings", "global_config",
			map[string]json.RawMessage{"ownerProfile": json.RawMessage(`{"name":"B","role":"Owner"}`)}, 0)
		if err != nil {
			t.Fatalf("UpdateFields() failed: %v", err)
		}
		doc, _ := db.Get(ctx, "settings", "global_config")
		var got struct {
			OwnerProfile map[string]string `json:"ownerProfile"`
		}
		_ = json.Unmarshal(doc.Data, &got)
		if got.OwnerProfile["role"] != "Owner" {
			t.Errorf("ownerProfile stored as %s", doc.Data)
		}
	})

	t.Run("compare and swap", func(t *testing.T) {
		doc, _ := db.Get(ctx, "settings", "global_config")
		fields := map[string]json.RawMessage{"adminCode": json.RawMessage(`"9"`)}

		if _, err := db.UpdateFields(ctx, "settings", "global_config", fields, doc.Version); err != nil {
			t.Fatalf("UpdateFields() at current version failed: %v", err)
		}
		_, err := db.UpdateFields(ctx, "settings", "global_config", fields, doc.Version)
		if !errors.Is(err, ErrConflict) {
			t.Errorf("stale UpdateFields() error = %v, want ErrConflict", err)
		}
	})

	t.Run("missing document", func(t *testing.T) {
		_, err := db.UpdateFields(ctx, "settings", "nope",
			map[string]json.RawMessage{"a": json.RawMessage(`1`)}, 0)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("rejects bad fields", func(t *testing.T) {
		for _, name := range []string{"a.b", "$", "id", "x') --"} {
			_, err := db.UpdateFields(ctx, "settings", "global_config",
				map[string]json.RawMessage{name: json.RawMessage(`1`)}, 0)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("field %q: error = %v, want ErrInvalid", name, err)
			}
		}
	})
}

func TestDelete_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.Upsert(ctx, "reminders", "r1", json.RawMessage(`{"id":"r1"}`)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if err := db.Delete(ctx, "reminders", "r1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := db.Delete(ctx, "reminders", "r1"); err != nil {
		t.Errorf("second Delete() failed: %v", err)
	}
	if _, err := db.Get(ctx, "reminders", "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestSubscribe_InitialSnapshotAndUpdates(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.Upsert(ctx, "projects", "b", json.RawMessage(`{"id":"b"}`)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	ch, _ := collect(t, db, "projects")

	first := waitFor(t, ch, func(Snapshot) bool { return true })
	if len(first.Documents) != 1 || first.Documents[0].ID != "b" {
		t.Fatalf("initial snapshot = %+v", first.Documents)
	}

	if _, err := db.Upsert(ctx, "projects", "a", json.RawMessage(`{"id":"a"}`)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	snap := waitFor(t, ch, func(s Snapshot) bool { return len(s.Documents) == 2 })
	if snap.Documents[0].ID != "a" || snap.Documents[1].ID != "b" {
		t.Errorf("snapshot not ordered by id: %s, %s", snap.Documents[0].ID, snap.Documents[1].ID)
	}

	// Writes to other collections don't wake this subscriber
	if _, err := db.Upsert(ctx, "ideas", "x", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if err := db.Delete(ctx, "projects", "b"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	snap = waitFor(t, ch, func(s Snapshot) bool { return len(s.Documents) == 1 })
	if snap.Collection != "projects" || snap.Documents[0].ID != "a" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestSubscribe_EmptyCollection(t *testing.T) {
	db := testDB(t)
	ch, _ := collect(t, db, "habits")

	snap := waitFor(t, ch, func(Snapshot) bool { return true })
	if snap.Documents == nil || len(snap.Documents) != 0 {
		t.Errorf("empty collection snapshot = %#v, want empty non-nil slice", snap.Documents)
	}
}

func TestSubscribe_SecondSubscriberGetsCurrentState(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	ch1, _ := collect(t, db, "ideas")
	waitFor(t, ch1, func(Snapshot) bool { return true })
	if _, err := db.Upsert(ctx, "ideas", "i1", json.RawMessage(`{"id":"i1"}`)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	waitFor(t, ch1, func(s Snapshot) bool { return len(s.Documents) == 1 })

	ch2, _ := collect(t, db, "ideas")
	snap := waitFor(t, ch2, func(Snapshot) bool { return true })
	if len(snap.Documents) != 1 {
		t.Errorf("second subscriber initial snapshot has %d docs, want 1", len(snap.Documents))
	}
	if n := db.Subscribers("ideas"); n != 2 {
		t.Errorf("Subscribers() = %d, want 2", n)
	}
}

func TestSubscribe_SlowSubscriberSeesLatest(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	release := make(chan struct{})
	ch := make(chan Snapshot, 64)
	unsub := db.Subscribe("reminders", func(s Snapshot) {
		<-release
		ch <- s
	})
	defer unsub()

	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		if _, err := db.Upsert(ctx, "reminders", id, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Upsert() failed: %v", err)
		}
	}
	close(release)

	last := waitFor(t, ch, func(s Snapshot) bool { return len(s.Documents) == 20 })
	if len(last.Documents) != 20 {
		t.Fatalf("final snapshot has %d docs", len(last.Documents))
	}
	// The subscriber was blocked while 20 writes landed; it must have
	// skipped the intermediate snapshots.
	if n := len(ch); n > 0 {
		t.Errorf("%d extra snapshots queued after the latest", n)
	}
}

func TestUnsubscribe_StopsCallbacks(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var calls atomic.Int32
	unsub := db.Subscribe("ideas", func(Snapshot) { calls.Add(1) })

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Fatal("no initial snapshot delivered")
	}

	unsub()
	unsub() // idempotent
	after := calls.Load()

	for i := 0; i < 5; i++ {
		if _, err := db.Upsert(ctx, "ideas", "i", json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Upsert() failed: %v", err)
		}
	}
	time.Sleep(100 * time.Millisecond)

	if got := calls.Load(); got != after {
		t.Errorf("callback ran %d times after Unsubscribe returned", got-after)
	}
	if n := db.Subscribers("ideas"); n != 0 {
		t.Errorf("Subscribers() = %d after unsubscribe", n)
	}
}

func TestClose_WritesFail(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}

	if db.Connected() {
		t.Error("Connected() = true after Close")
	}
	if _, err := db.Upsert(context.Background(), "ideas", "i", json.RawMessage(`{}`)); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Upsert() after Close error = %v, want ErrDisconnected", err)
	}
	// Subscribing to a closed store must not panic
	db.Subscribe("ideas", func(Snapshot) {})()
}

func TestCounts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := db.Upsert(ctx, "projects", id, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Upsert() failed: %v", err)
		}
	}
	if _, err := db.Upsert(ctx, "ideas", "a", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	counts, err := db.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() failed: %v", err)
	}
	if counts["projects"] != 2 || counts["ideas"] != 1 {
		t.Errorf("Counts() = %v", counts)
	}
}

func TestDisconnected(t *testing.T) {
	var s Store = NewDisconnected("no server configured", nil)
	ctx := context.Background()

	called := false
	unsub := s.Subscribe("projects", func(Snapshot) { called = true })
	unsub()
	unsub()

	if s.Connected() {
		t.Error("Connected() = true")
	}
	if _, err := s.Upsert(ctx, "projects", "p", json.RawMessage(`{}`)); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Upsert() error = %v", err)
	}
	if err := s.Create(ctx, "projects", "p", json.RawMessage(`{}`)); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Create() error = %v", err)
	}
	if err := s.Delete(ctx, "projects", "p"); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "projects", "p"); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Get() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if called {
		t.Error("Disconnected store delivered a snapshot")
	}
}
