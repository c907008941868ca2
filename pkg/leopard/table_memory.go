package leopard

import (
	"sync"

	"github.com/nexuslabs/nexus/pkg/entity"
)

// MemoryTable is an in-memory Table, used by tests and by deployments
// small enough not to need badger persistence.
type MemoryTable struct {
	mu   sync.RWMutex
	rows map[string][]Entry // zoneID -> entries
}

// NewMemoryTable builds an empty MemoryTable.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{rows: make(map[string][]Entry)}
}

func (t *MemoryTable) Get(zoneID string, member entity.Entity) ([]Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Entry
	for _, e := range t.rows[zoneID] {
		if e.MemberType == member.Type && e.MemberID == member.ID {
			out = append(out, e)
		}
	}
	return out, len(out) > 0
}

func (t *MemoryTable) Put(entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		zoneRows := t.rows[e.ZoneID]
		replaced := false
		for i, existing := range zoneRows {
			if existing.MemberType == e.MemberType && existing.MemberID == e.MemberID &&
				existing.GroupType == e.GroupType && existing.GroupID == e.GroupID {
				if e.Depth < existing.Depth {
					zoneRows[i] = e
				}
				replaced = true
				break
			}
		}
		if !replaced {
			zoneRows = append(zoneRows, e)
		}
		t.rows[e.ZoneID] = zoneRows
	}
}

func (t *MemoryTable) DeleteMember(zoneID string, member entity.Entity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rows := t.rows[zoneID]
	out := rows[:0]
	for _, e := range rows {
		if e.MemberType == member.Type && e.MemberID == member.ID {
			continue
		}
		out = append(out, e)
	}
	t.rows[zoneID] = out
}

func (t *MemoryTable) AllInZone(zoneID string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.rows[zoneID]))
	copy(out, t.rows[zoneID])
	return out
}

func (t *MemoryTable) ReplaceZone(zoneID string, entries []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	t.rows[zoneID] = cp
}
