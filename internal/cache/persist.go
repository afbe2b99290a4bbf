package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// Persister mirrors cache entries to durable storage so a restart does not
// start from a cold cache. Implementations must be safe for concurrent use.
type Persister interface {
	// Save writes or overwrites an entry.
	Save(ctx context.Context, entry *Entry) error

	// Load returns all persisted entries. Expired entries may be included;
	// the store filters them on load.
	Load(ctx context.Context) ([]*Entry, error)

	// Delete removes an entry by fingerprint.
	Delete(ctx context.Context, fingerprint string) error

	// Clear removes all persisted entries.
	Clear(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error
}

// DiskPersister stores each entry as a JSON file named by its fingerprint.
type DiskPersister struct {
	dir string
}

// NewDiskPersister creates the directory if needed and returns the backend.
func NewDiskPersister(dir string) (*DiskPersister, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &DiskPersister{dir: dir}, nil
}

// Save writes the entry as <dir>/<fingerprint>.json.
func (d *DiskPersister) Save(_ context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return os.WriteFile(d.path(entry.Fingerprint), data, 0o640)
}

// Load reads every .json file in the cache directory.
// Unreadable or corrupt files are skipped, not fatal.
func (d *DiskPersister) Load(_ context.Context) ([]*Entry, error) {
	files, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	var entries []*Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.dir, f.Name()))
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		if entry.Fingerprint == "" {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Delete removes the entry file. A missing file is not an error.
func (d *DiskPersister) Delete(_ context.Context, fingerprint string) error {
	err := os.Remove(d.path(fingerprint))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Clear removes all entry files.
func (d *DiskPersister) Clear(_ context.Context) error {
	files, err := os.ReadDir(d.dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, f.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op for the disk backend.
func (d *DiskPersister) Close() error {
	return nil
}

func (d *DiskPersister) path(fingerprint string) string {
	// Fingerprints are hex (plus an optional prefix); strip separators
	// so the filename stays flat.
	name := strings.ReplaceAll(fingerprint, ":", "_")
	return filepath.Join(d.dir, name+".json")
}
