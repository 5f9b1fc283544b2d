// Package cache implements the on-disk bytecode cache index backing
// the compiler. The cache blobs themselves live as
// plain files under <project>/.tach/cache/, one per source; this
// package stores only the metadata needed to validate a cache hit
// without re-reading and re-parsing the blob's header — an absolute
// source path, its on-disk mtime, the interpreter version-magic the
// blob was compiled against, and the blob's file name.
package cache

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketEntries = []byte("entries")

// Entry is the cache-validity record for a single compiled source file.
// Worker processes never read this index: they resolve module loads
// against the registry's exported gob snapshot, and the blobs
// themselves are re-read by the compiler on the next run.
type Entry struct {
	SourcePath    string
	SourceModTime int64 // unix nanoseconds
	VersionMagic  uint32
	BlobName      string // file name under <project>/.tach/cache/
}

// Index is a BoltDB-backed index of cache entries keyed by absolute
// source path. It is safe to delete the underlying file at any time:
// a missing index degrades every lookup to a cache miss, never to an
// incorrect hit, because Valid re-checks mtime and version-magic
// against the caller's current observations.
type Index struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the cache index at
// <dataDir>/index.bbolt.
func Open(dataDir string) (*Index, error) {
	path := filepath.Join(dataDir, "index.bbolt")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}

	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Get returns the cache entry recorded for sourcePath, if any.
func (idx *Index) Get(sourcePath string) (Entry, bool, error) {
	var entry Entry
	var found bool

	err := idx.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		data := b.Get([]byte(sourcePath))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("read cache entry for %s: %w", sourcePath, err)
	}
	return entry, found, nil
}

// Put records (or overwrites) the cache entry for sourcePath.
func (idx *Index) Put(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	return idx.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		return b.Put([]byte(entry.SourcePath), data)
	})
}

// Valid reports whether a recorded entry is still usable: its mtime
// matches currentModTime exactly and its version-magic matches the
// running interpreter's.
func (e Entry) Valid(currentModTime int64, versionMagic uint32) bool {
	return e.SourceModTime == currentModTime && e.VersionMagic == versionMagic
}
