package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Record is what a Cache stores between runs.
type Record struct {
	Identity Identity  `yaml:"identity"`
	Unlocked bool      `yaml:"unlocked"`
	SavedAt  time.Time `yaml:"saved_at"`
}

// Cache persists the authenticated identity. Load returns nil, nil when
// nothing is cached.
type Cache interface {
	Load() (*Record, error)
	Save(r *Record) error
	Clear() error
}

// FileCache keeps the record in a YAML file.
type FileCache struct {
	Path string
}

// NewFileCache returns a cache stored at path.
func NewFileCache(path string) *FileCache {
	return &FileCache{Path: path}
}

// Load reads the cached record.
func (c *FileCache) Load() (*Record, error) {
	data, err := os.ReadFile(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session cache: %w", err)
	}
	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse session cache %s: %w", c.Path, err)
	}
	return &r, nil
}

// Save writes the record atomically.
func (c *FileCache) Save(r *Record) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode session cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create session cache directory: %w", err)
	}
	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session cache: %w", err)
	}
	if err := os.Rename(tmp, c.Path); err != nil {
		return fmt.Errorf("failed to replace session cache: %w", err)
	}
	return nil
}

// Clear removes the cache file. A missing file is not an error.
func (c *FileCache) Clear() error {
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session cache: %w", err)
	}
	return nil
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu     sync.Mutex
	record *Record
}

func (c *MemoryCache) Load() (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return nil, nil
	}
	r := *c.record
	return &r, nil
}

func (c *MemoryCache) Save(r *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *r
	c.record = &cp
	return nil
}

func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record = nil
	return nil
}
