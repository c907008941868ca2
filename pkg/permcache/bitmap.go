package permcache

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// ReverseIndex is the optional roaring-bitmap fast path for directory
// visibility (spec §4.7): a per-subject bitmap of resource IDs visible to
// that subject, and a per-directory bitmap of every resource ID beneath it.
// A directory is visible to a subject iff the two bitmaps intersect.
//
// Resource paths are interned to uint32 IDs on first sight; the mapping
// only grows for the process lifetime, matching the teacher's cache-table
// registries that never shrink mid-run.
type ReverseIndex struct {
	mu sync.RWMutex

	nextID    uint32
	resourceIDs map[string]uint32

	// directoryBitmaps[dirPath] holds every resource ID nested under dirPath,
	// populated lazily as resources are registered.
	directoryBitmaps map[string]*roaring.Bitmap

	// subjectBitmaps["zone|type|id"] holds every resource ID currently
	// visible to that subject.
	subjectBitmaps map[string]*roaring.Bitmap
}

// NewReverseIndex builds an empty ReverseIndex.
func NewReverseIndex() *ReverseIndex {
	return &ReverseIndex{
		resourceIDs:      make(map[string]uint32),
		directoryBitmaps: make(map[string]*roaring.Bitmap),
		subjectBitmaps:   make(map[string]*roaring.Bitmap),
	}
}

func subjectBitmapKey(zoneID, subjectType, subjectID string) string {
	return zoneID + "|" + subjectType + "|" + subjectID
}

// RegisterResource interns resourcePath, assigning it a bitmap ID on first
// sight, and adds that ID to every ancestor directory's bitmap so future
// grants against any ancestor find it.
func (r *ReverseIndex) RegisterResource(resourcePath string) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(resourcePath)
}

func (r *ReverseIndex) registerLocked(resourcePath string) uint32 {
	if id, ok := r.resourceIDs[resourcePath]; ok {
		return id
	}
	id := r.nextID
	r.nextID++
	r.resourceIDs[resourcePath] = id

	for _, dir := range AncestorChain(resourcePath) {
		bm, ok := r.directoryBitmaps[dir]
		if !ok {
			bm = roaring.New()
			r.directoryBitmaps[dir] = bm
		}
		bm.Add(id)
	}
	return id
}

// GrantVisibility marks resourcePath visible to the given subject.
func (r *ReverseIndex) GrantVisibility(zoneID, subjectType, subjectID, resourcePath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.registerLocked(resourcePath)

	key := subjectBitmapKey(zoneID, subjectType, subjectID)
	bm, ok := r.subjectBitmaps[key]
	if !ok {
		bm = roaring.New()
		r.subjectBitmaps[key] = bm
	}
	bm.Add(id)
}

// RevokeVisibility removes resourcePath's visibility grant for the subject,
// if both are known; a no-op otherwise.
func (r *ReverseIndex) RevokeVisibility(zoneID, subjectType, subjectID, resourcePath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.resourceIDs[resourcePath]
	if !ok {
		return
	}
	if bm, ok := r.subjectBitmaps[subjectBitmapKey(zoneID, subjectType, subjectID)]; ok {
		bm.Remove(id)
	}
}

// DirectoryVisible reports whether any resource under dirPath is visible to
// the subject: the bitmap intersection spec §4.7 describes as the
// directory-visibility fast path.
func (r *ReverseIndex) DirectoryVisible(zoneID, subjectType, subjectID, dirPath string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dirBM, ok := r.directoryBitmaps[dirPath]
	if !ok {
		return false
	}
	subjBM, ok := r.subjectBitmaps[subjectBitmapKey(zoneID, subjectType, subjectID)]
	if !ok {
		return false
	}
	return dirBM.Intersects(subjBM)
}
