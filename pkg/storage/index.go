package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"
)

// IndexFunc derives the index value for a record. ok is false when the
// record should not appear in the index.
type IndexFunc func(key string, value []byte) (indexKey string, ok bool)

// Index is a secondary index over a bucket. Each entry stores a copy of the
// record so lookups need no second read.
type Index struct {
	db     *pebble.DB
	bucket *Bucket
	name   string
	derive IndexFunc
}

func (i *Index) stage(batch *pebble.Batch, key string, previous, next []byte) error {
	var oldKey, newKey string
	var hadOld, hasNew bool
	if previous != nil {
		oldKey, hadOld = i.derive(key, previous)
	}
	if next != nil {
		newKey, hasNew = i.derive(key, next)
	}

	if hadOld && (!hasNew || oldKey != newKey) {
		if err := batch.Delete(indexEntryKey(i.name, oldKey, key), nil); err != nil {
			return fmt.Errorf("failed to stage %s index delete: %w", i.name, err)
		}
	}
	if hasNew {
		if err := batch.Set(indexEntryKey(i.name, newKey, key), next, nil); err != nil {
			return fmt.Errorf("failed to stage %s index entry: %w", i.name, err)
		}
	}
	return nil
}

// Range calls fn for every record indexed under indexKey.
func (i *Index) Range(indexKey string, fn func(key string, value []byte) error) error {
	lower := indexRangePrefix(i.name, indexKey)
	return scan(i.db, lower, func(k, v []byte) error {
		return fn(string(k[len(lower):]), v)
	})
}

// Rebuild drops every entry of the index and re-derives them from the bucket.
func (i *Index) Rebuild() error {
	prefix := indexPrefix(i.name)
	if err := i.db.DeleteRange(prefix, keyUpperBound(prefix), pebble.Sync); err != nil {
		return fmt.Errorf("failed to clear %s index: %w", i.name, err)
	}

	bw := newBatchWrite(i.db)
	defer bw.Close()

	err := i.bucket.Range("", func(key string, value []byte) error {
		if indexKey, ok := i.derive(key, value); ok {
			return bw.batch.Set(indexEntryKey(i.name, indexKey, key), value, nil)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild %s index: %w", i.name, err)
	}
	return bw.Commit()
}

// BatchWrite provides atomic batch writes for multiple operations
type BatchWrite struct {
	batch *pebble.Batch
}

func newBatchWrite(db *pebble.DB) *BatchWrite {
	return &BatchWrite{batch: db.NewBatch()}
}

// Commit writes the batch to Pebble atomically
func (bw *BatchWrite) Commit() error {
	return bw.batch.Commit(pebble.Sync)
}

// Close closes the batch without committing
func (bw *BatchWrite) Close() error {
	return bw.batch.Close()
}
