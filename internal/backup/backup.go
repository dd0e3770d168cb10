// Package backup exports collections to JSON Lines and imports them back.
//
// Each line is one document:
//
//	{"collection":"projects","id":"8b1d...","data":{...}}
//
// Import overwrites every document it carries. With Replace it also deletes
// documents of the imported collections that the backup does not contain,
// so the collections end up exactly as exported. Subscribers receive new
// snapshots as the writes land, which reloads every client.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
)

// Record is one line of a backup file.
type Record struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
}

// Target is what Import writes to.
type Target interface {
	store.Lister
	Upsert(ctx context.Context, collection, id string, data json.RawMessage) (int64, error)
	Delete(ctx context.Context, collection, id string) error
}

// ImportOptions contains configuration for an import.
type ImportOptions struct {
	Replace    bool   // Delete documents absent from the backup
	DryRun     bool   // Count without writing
	BackupPath string // Export the current state here before writing
}

// Result contains statistics about an export or import.
type Result struct {
	Exported      int
	Imported      int
	Deleted       int
	Skipped       int
	PerCollection map[string]int
	BackupCreated string
	Errors        []string
}

func newResult() *Result {
	return &Result{PerCollection: make(map[string]int)}
}

// Export writes every document of collections to w, one per line, in
// collection order and then id order. No collections means the default
// backup set.
func Export(ctx context.Context, src store.Lister, w io.Writer, collections []string) (*Result, error) {
	if len(collections) == 0 {
		collections = schema.BackupCollections
	}
	result := newResult()
	encoder := json.NewEncoder(w)

	for _, c := range collections {
		if err := store.ValidateCollection(c); err != nil {
			return nil, err
		}
		docs, err := src.List(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", c, err)
		}
		for _, doc := range docs {
			if err := encoder.Encode(Record{Collection: c, ID: doc.ID, Data: doc.Data}); err != nil {
				return nil, fmt.Errorf("failed to write %s/%s: %w", c, doc.ID, err)
			}
			result.Exported++
			result.PerCollection[c]++
		}
	}
	return result, nil
}

// ExportFile writes an export to path atomically.
func ExportFile(ctx context.Context, src store.Lister, path string, collections []string) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	result, err := Export(ctx, src, file, collections)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return result, nil
}

// Read parses a backup stream.
func Read(r io.Reader) ([]Record, error) {
	decoder := json.NewDecoder(r)
	var records []Record
	for line := 1; ; line++ {
		var rec Record
		if err := decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at record %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadFile parses a backup file.
func ReadFile(path string) ([]Record, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer file.Close()
	return Read(file)
}

// Import writes records to dst. Invalid records are skipped and reported
// in Result.Errors; the rest are still imported.
func Import(ctx context.Context, dst Target, records []Record, opts ImportOptions) (*Result, error) {
	result := newResult()

	valid := make([]Record, 0, len(records))
	keep := make(map[string]map[string]bool)
	for i, rec := range records {
		if err := checkRecord(rec); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i+1, err))
			continue
		}
		if keep[rec.Collection] == nil {
			keep[rec.Collection] = make(map[string]bool)
		}
		keep[rec.Collection][rec.ID] = true
		valid = append(valid, rec)
	}

	collections := make([]string, 0, len(keep))
	for c := range keep {
		collections = append(collections, c)
	}
	sort.Strings(collections)

	if opts.BackupPath != "" && !opts.DryRun {
		if _, err := ExportFile(ctx, dst, opts.BackupPath, collections); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = opts.BackupPath
	}

	for _, rec := range valid {
		if !opts.DryRun {
			if _, err := dst.Upsert(ctx, rec.Collection, rec.ID, rec.Data); err != nil {
				if errors.Is(err, store.ErrDisconnected) || ctx.Err() != nil {
					return result, fmt.Errorf("failed to import %s/%s: %w", rec.Collection, rec.ID, err)
				}
				result.Errors = append(result.Errors, fmt.Sprintf("failed to import %s/%s: %v", rec.Collection, rec.ID, err))
				continue
			}
		}
		result.Imported++
		result.PerCollection[rec.Collection]++
	}

	if !opts.Replace {
		return result, nil
	}
	for _, c := range collections {
		docs, err := dst.List(ctx, c)
		if err != nil {
			return result, fmt.Errorf("failed to list %s: %w", c, err)
		}
		for _, doc := range docs {
			if keep[c][doc.ID] {
				continue
			}
			if !opts.DryRun {
				if err := dst.Delete(ctx, c, doc.ID); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("failed to delete %s/%s: %v", c, doc.ID, err))
					continue
				}
			}
			result.Deleted++
		}
	}
	return result, nil
}

func checkRecord(rec Record) error {
	if !schema.IsKnownCollection(rec.Collection) {
		return fmt.Errorf("unknown collection %q", rec.Collection)
	}
	if err := store.ValidateKey(rec.Collection, rec.ID); err != nil {
		return err
	}
	return store.ValidateData(rec.Data)
}

// DefaultPath returns a timestamped backup file name in dir.
func DefaultPath(dir string) string {
	return filepath.Join(dir, "nexus-backup-"+time.Now().Format("20060102-150405")+".jsonl")
}
