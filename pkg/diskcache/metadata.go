package diskcache

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// entryRecordSize is the fixed-width encoding of an entry's metadata: size
// (8), createdAt unix-nano (8), accessedAt unix-nano (8), accessCount (4),
// priority (4), clockBit (1).
const entryRecordSize = 8 + 8 + 8 + 4 + 4 + 1

func encodeEntry(e *entry) []byte {
	buf := make([]byte, entryRecordSize)
	binary.BigEndian.PutUint64(buf[0:8], e.size)
	binary.BigEndian.PutUint64(buf[8:16], uint64(e.createdAt.UnixNano()))
	binary.BigEndian.PutUint64(buf[16:24], uint64(e.accessedAt.UnixNano()))
	binary.BigEndian.PutUint32(buf[24:28], e.accessCount)
	binary.BigEndian.PutUint32(buf[28:32], uint32(int32(e.priority)))
	if e.clockBit {
		buf[32] = 1
	}
	return buf
}

func decodeEntry(key string, buf []byte) (*entry, error) {
	if len(buf) != entryRecordSize {
		return nil, fmt.Errorf("diskcache: malformed metadata record for %q (got %d bytes)", key, len(buf))
	}
	return &entry{
		key:         key,
		size:        binary.BigEndian.Uint64(buf[0:8]),
		createdAt:   time.Unix(0, int64(binary.BigEndian.Uint64(buf[8:16]))),
		accessedAt:  time.Unix(0, int64(binary.BigEndian.Uint64(buf[16:24]))),
		accessCount: binary.BigEndian.Uint32(buf[24:28]),
		priority:    int(int32(binary.BigEndian.Uint32(buf[28:32]))),
		clockBit:    buf[32] != 0,
	}, nil
}

// persistEntry writes e's metadata to the badger table, called after every
// mutation (put, touch-on-hit) so a crash loses at most the latest access
// bookkeeping, not the entry itself.
func (c *Cache) persistEntry(e *entry) error {
	return c.meta.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(e.key), encodeEntry(e))
	})
}

// loadMetadata populates the in-memory index and Bloom filter from the
// badger metadata table, verifying that each entry's content file still
// exists (spec §4.8: a metadata row without a backing file is dropped, not
// trusted). Returns the number of entries loaded.
func (c *Cache) loadMetadata() (int, error) {
	var loaded int
	err := c.meta.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			err := item.Value(func(val []byte) error {
				e, err := decodeEntry(key, val)
				if err != nil {
					return err
				}
				if _, statErr := os.Stat(c.contentPath(key)); statErr != nil {
					return nil
				}
				c.entries[key] = e
				c.clockOrder = append(c.clockOrder, key)
				c.currentSize += e.size
				c.bloom.Add([]byte(key))
				loaded++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return loaded, err
}
