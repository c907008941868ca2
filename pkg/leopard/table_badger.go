package leopard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/nexuslabs/nexus/pkg/entity"
)

// BadgerTable is the durable Table backing, grounded on dittofs's
// local-disk-cache metadata persistence (a single embedded KV store
// rather than a relational schema, since closure rows are looked up only
// by member or by zone, never queried ad-hoc).
//
// Key layout: "{zoneID}\x00{memberType}:{memberID}\x00{groupType}:{groupID}"
// -> depth as a decimal string. The double-null-delimited prefix lets
// Get/DeleteMember/AllInZone all work as prefix scans.
type BadgerTable struct {
	db *badger.DB
}

// OpenBadgerTable opens (creating if absent) a badger database at dir for
// Leopard closure persistence.
func OpenBadgerTable(dir string) (*BadgerTable, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("leopard: open badger table: %w", err)
	}
	return &BadgerTable{db: db}, nil
}

func (t *BadgerTable) Close() error { return t.db.Close() }

func memberPrefix(zoneID string, member entity.Entity) []byte {
	return []byte(fmt.Sprintf("%s\x00%s:%s\x00", zoneID, member.Type, member.ID))
}

func zonePrefix(zoneID string) []byte {
	return []byte(zoneID + "\x00")
}

func entryKey(e Entry) []byte {
	return []byte(fmt.Sprintf("%s\x00%s:%s\x00%s:%s", e.ZoneID, e.MemberType, e.MemberID, e.GroupType, e.GroupID))
}

func parseEntry(key, val []byte) (Entry, error) {
	parts := strings.SplitN(string(key), "\x00", 3)
	if len(parts) != 3 {
		return Entry{}, fmt.Errorf("leopard: malformed key %q", key)
	}
	memberParts := strings.SplitN(parts[1], ":", 2)
	groupParts := strings.SplitN(parts[2], ":", 2)
	if len(memberParts) != 2 || len(groupParts) != 2 {
		return Entry{}, fmt.Errorf("leopard: malformed key %q", key)
	}
	depth, err := strconv.Atoi(string(val))
	if err != nil {
		return Entry{}, fmt.Errorf("leopard: malformed depth in %q: %w", key, err)
	}
	return Entry{
		ZoneID:     parts[0],
		MemberType: entity.Type(memberParts[0]),
		MemberID:   memberParts[1],
		GroupType:  entity.Type(groupParts[0]),
		GroupID:    groupParts[1],
		Depth:      depth,
	}, nil
}

func (t *BadgerTable) scan(prefix []byte) ([]Entry, error) {
	var out []Entry
	err := t.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			err := item.Value(func(val []byte) error {
				e, err := parseEntry(key, val)
				if err != nil {
					return err
				}
				out = append(out, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (t *BadgerTable) Get(zoneID string, member entity.Entity) ([]Entry, bool) {
	entries, err := t.scan(memberPrefix(zoneID, member))
	if err != nil || len(entries) == 0 {
		return nil, false
	}
	return entries, true
}

func (t *BadgerTable) Put(entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	_ = t.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			if err := txn.Set(entryKey(e), []byte(strconv.Itoa(e.Depth))); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *BadgerTable) DeleteMember(zoneID string, member entity.Entity) {
	_ = t.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := memberPrefix(zoneID, member)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *BadgerTable) AllInZone(zoneID string) []Entry {
	entries, _ := t.scan(zonePrefix(zoneID))
	return entries
}

func (t *BadgerTable) ReplaceZone(zoneID string, entries []Entry) {
	prefix := zonePrefix(zoneID)
	_ = t.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for _, e := range entries {
			if err := txn.Set(entryKey(e), []byte(strconv.Itoa(e.Depth))); err != nil {
				return err
			}
		}
		return nil
	})
}
