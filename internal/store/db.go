package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB is the SQLite-backed store. Documents live in a single table keyed by
// (collection, id); every write bumps the document version and publishes a
// fresh snapshot of the collection to its subscribers.
type DB struct {
	conn   *sql.DB
	path   string
	hub    *Hub
	logger *log.Logger
	closed atomic.Bool

	// pubMu orders "read snapshot, publish" so subscribers never receive an
	// older snapshot after a newer one.
	pubMu sync.Mutex
}

// Open creates a database connection at the specified path.
//
// The database is opened in WAL mode with a 5s busy timeout. If the file
// doesn't exist it is created; call InitSchema before use.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := store.Open(".nexus/nexus.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger := log.New(os.Stderr, "[store] ", log.LstdFlags)
	return &DB{
		conn:   conn,
		path:   path,
		hub:    NewHub(logger, nil),
		logger: logger,
	}, nil
}

// SetLogger replaces the logger used for subscription diagnostics.
func (db *DB) SetLogger(logger *log.Logger) {
	if logger != nil {
		db.logger = logger
		db.hub.logger = logger
	}
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close stops all subscriptions and closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}

	db.hub.Close()

	db.pubMu.Lock()
	defer db.pubMu.Unlock()

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Connected reports whether the database is open.
func (db *DB) Connected() bool {
	return !db.closed.Load()
}

// InitSchema creates the documents table if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,  -- JSON object
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_updated
	    ON documents(collection, updated_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Subscribe implements Store.
func (db *DB) Subscribe(collection string, fn SnapshotFunc) Unsubscribe {
	if err := ValidateCollection(collection); err != nil {
		db.logger.Printf("Subscribe rejected: %v", err)
		return func() {}
	}

	db.pubMu.Lock()
	defer db.pubMu.Unlock()

	if db.closed.Load() {
		return func() {}
	}

	unsub, _ := db.hub.Subscribe(collection, fn)
	if _, ok := db.hub.Latest(collection); !ok {
		snap, err := db.snapshot(context.Background(), collection)
		if err != nil {
			db.logger.Printf("Failed to load %s snapshot: %v", collection, err)
			return unsub
		}
		db.hub.Publish(snap)
	}
	return unsub
}

// Subscribers returns the number of live subscriptions on collection.
func (db *DB) Subscribers(collection string) int {
	return db.hub.Count(collection)
}

// publish reloads collection and pushes it to subscribers, if any.
func (db *DB) publish(collection string) {
	db.pubMu.Lock()
	defer db.pubMu.Unlock()

	if db.closed.Load() || db.hub.Count(collection) == 0 {
		return
	}
	snap, err := db.snapshot(context.Background(), collection)
	if err != nil {
		db.logger.Printf("Failed to load %s snapshot: %v", collection, err)
		return
	}
	db.hub.Publish(snap)
}

func (db *DB) snapshot(ctx context.Context, collection string) (Snapshot, error) {
	docs, err := db.list(ctx, collection)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Collection: collection, Documents: docs, At: time.Now()}, nil
}

// List returns every document of collection ordered by id.
func (db *DB) List(ctx context.Context, collection string) ([]Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	if !db.Connected() {
		return nil, ErrDisconnected
	}
	return db.list(ctx, collection)
}

func (db *DB) list(ctx context.Context, collection string) ([]Document, error) {
	query := `SELECT id, data, version, updated_at FROM documents WHERE collection = ? ORDER BY id`
	rows, err := db.conn.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", collection, err)
	}
	return docs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var (
		doc       Document
		data      string
		updatedAt string
	)
	if err := row.Scan(&doc.ID, &data, &doc.Version, &updatedAt); err != nil {
		return Document{}, err
	}
	doc.Data = json.RawMessage(data)
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		doc.UpdatedAt = t
	}
	return doc, nil
}

// Get implements Store.
func (db *DB) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ValidateKey(collection, id); err != nil {
		return nil, err
	}
	if !db.Connected() {
		return nil, ErrDisconnected
	}

	query := `SELECT id, data, version, updated_at FROM documents WHERE collection = ? AND id = ?`
	doc, err := scanDocument(db.conn.QueryRowContext(ctx, query, collection, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return &doc, nil
}

// Upsert implements Store.
func (db *DB) Upsert(ctx context.Context, collection, id string, data json.RawMessage) (int64, error) {
	if err := db.checkWrite(collection, id, data); err != nil {
		return 0, err
	}

	query := `
	INSERT INTO documents (collection, id, data, version, updated_at)
	VALUES (?, ?, json(?), 1, ?)
	ON CONFLICT(collection, id) DO UPDATE SET
		data = excluded.data,
		version = documents.version + 1,
		updated_at = excluded.updated_at
	RETURNING version
	`

	var version int64
	err := db.conn.QueryRowContext(ctx, query, collection, id, string(data), now()).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert %s/%s: %w", collection, id, err)
	}

	db.publish(collection)
	return version, nil
}

// Create implements Store.
func (db *DB) Create(ctx context.Context, collection, id string, data json.RawMessage) error {
	if err := db.checkWrite(collection, id, data); err != nil {
		return err
	}

	query := `
	INSERT INTO documents (collection, id, data, version, updated_at)
	VALUES (?, ?, json(?), 1, ?)
	ON CONFLICT(collection, id) DO NOTHING
	`

	res, err := db.conn.ExecContext(ctx, query, collection, id, string(data), now())
	if err != nil {
		return fmt.Errorf("failed to create %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrExists, collection, id)
	}

	db.publish(collection)
	return nil
}

// UpdateFields implements Store. The update is a single statement, so two
// clients setting different fields never lose each other's change.
func (db *DB) UpdateFields(ctx context.Context, collection, id string, fields map[string]json.RawMessage, expectVersion int64) (int64, error) {
	if err := ValidateKey(collection, id); err != nil {
		return 0, err
	}
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: no fields to update", ErrInvalid)
	}
	if !db.Connected() {
		return 0, ErrDisconnected
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		if err := ValidateField(name); err != nil {
			return 0, err
		}
		if name == "id" {
			return 0, fmt.Errorf("%w: id cannot be updated", ErrInvalid)
		}
		if !json.Valid(fields[name]) {
			return 0, fmt.Errorf("%w: field %s is not valid JSON", ErrInvalid, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	// json_set(data, '$.a', json(?), '$.b', json(?), ...)
	var set strings.Builder
	set.WriteString("json_set(data")
	args := make([]any, 0, 2*len(names)+4)
	for _, name := range names {
		set.WriteString(", ?, json(?)")
		args = append(args, "$."+name, string(fields[name]))
	}
	set.WriteString(")")

	query := fmt.Sprintf(`
	UPDATE documents SET
		data = %s,
		version = version + 1,
		updated_at = ?
	WHERE collection = ? AND id = ?`, set.String())
	args = append(args, now(), collection, id)
	if expectVersion > 0 {
		query += ` AND version = ?`
		args = append(args, expectVersion)
	}
	query += ` RETURNING version`

	var version int64
	err := db.conn.QueryRowContext(ctx, query, args...).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing document from a stale version
		if _, getErr := db.Get(ctx, collection, id); errors.Is(getErr, ErrNotFound) {
			return 0, getErr
		}
		return 0, fmt.Errorf("%w: %s/%s is not at version %d", ErrConflict, collection, id, expectVersion)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}

	db.publish(collection)
	return version, nil
}

// Delete implements Store.
func (db *DB) Delete(ctx context.Context, collection, id string) error {
	if err := ValidateKey(collection, id); err != nil {
		return err
	}
	if !db.Connected() {
		return ErrDisconnected
	}

	res, err := db.conn.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		db.publish(collection)
	}
	return nil
}

// Counts returns the number of documents per collection.
func (db *DB) Counts(ctx context.Context) (map[string]int, error) {
	if !db.Connected() {
		return nil, ErrDisconnected
	}
	rows, err := db.conn.QueryContext(ctx, `SELECT collection, COUNT(*) FROM documents GROUP BY collection`)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			name  string
			count int
		)
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[name] = count
	}
	return counts, rows.Err()
}

func (db *DB) checkWrite(collection, id string, data json.RawMessage) error {
	if err := ValidateKey(collection, id); err != nil {
		return err
	}
	if err := ValidateData(data); err != nil {
		return err
	}
	if !db.Connected() {
		return ErrDisconnected
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
