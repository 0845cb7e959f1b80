package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Store owns the Pebble database shared by every bucket and index.
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at the given path
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// NewInMemoryStore opens a Pebble database backed by an in-memory filesystem.
func NewInMemoryStore() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Bucket returns a keyspace rooted at prefix.
func (s *Store) Bucket(prefix string) *Bucket {
	return &Bucket{db: s.db, prefix: []byte(prefix)}
}

// Bucket is a prefixed keyspace whose writes also maintain its secondary indexes.
type Bucket struct {
	db      *pebble.DB
	prefix  []byte
	indexes []*Index
}

func (b *Bucket) key(k string) []byte {
	out := make([]byte, 0, len(b.prefix)+len(k))
	out = append(out, b.prefix...)
	return append(out, k...)
}

// Get returns the value stored under key.
// Returns nil if the key doesn't exist
func (b *Bucket) Get(key string) ([]byte, error) {
	data, closer, err := b.db.Get(b.key(key))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Put writes value under key together with every index entry derived from
// it, in a single synced batch.
func (b *Bucket) Put(key string, value []byte) error {
	if key == "" {
		return errors.New("storage: empty key")
	}

	var previous []byte
	if len(b.indexes) > 0 {
		var err error
		if previous, err = b.Get(key); err != nil {
			return err
		}
	}

	batch := b.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(b.key(key), value, nil); err != nil {
		return fmt.Errorf("failed to stage %s: %w", key, err)
	}
	for _, idx := range b.indexes {
		if err := idx.stage(batch, key, previous, value); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// Delete removes key and its index entries.
func (b *Bucket) Delete(key string) error {
	previous, err := b.Get(key)
	if err != nil {
		return err
	}

	batch := b.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(b.key(key), nil); err != nil {
		return fmt.Errorf("failed to stage delete of %s: %w", key, err)
	}
	for _, idx := range b.indexes {
		if err := idx.stage(batch, key, previous, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Range calls fn for every record whose key starts with prefix, in key order.
// An empty prefix scans the whole bucket.
func (b *Bucket) Range(prefix string, fn func(key string, value []byte) error) error {
	lower := b.key(prefix)
	return scan(b.db, lower, func(k, v []byte) error {
		return fn(string(k[len(b.prefix):]), v)
	})
}

// AddIndex registers a secondary index maintained on every Put and Delete.
func (b *Bucket) AddIndex(name string, derive IndexFunc) *Index {
	idx := &Index{db: b.db, bucket: b, name: name, derive: derive}
	b.indexes = append(b.indexes, idx)
	return idx
}

func scan(db *pebble.DB, lower []byte, fn func(k, v []byte) error) error {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: keyUpperBound(lower),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		v := make([]byte, len(iter.Value()))
		copy(v, iter.Value())
		if err := fn(iter.Key(), v); err != nil {
			return err
		}
	}
	return iter.Error()
}
