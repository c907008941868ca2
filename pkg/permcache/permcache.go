// Package permcache implements the Permission Cache: a TTL result cache
// keyed by (subject, permission, object, zone), plus a directory
// visibility cache used by listing operations (spec §4.7).
package permcache

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Config tunes the two sub-caches' TTLs and ristretto sizing, modeled on
// dittofs/pkg/cache's Config.ApplyDefaults() shape.
type Config struct {
	ResultTTL          time.Duration
	DirectoryTTL       time.Duration
	NumCounters        int64
	MaxCost            int64
	BufferItems        int64
}

// ApplyDefaults fills unset fields: 5 minute result TTL (spec §4.7
// default), a 1 minute directory-visibility TTL, and a modest ristretto
// sizing suitable for a single-node deployment.
func (c *Config) ApplyDefaults() {
	if c.ResultTTL <= 0 {
		c.ResultTTL = 5 * time.Minute
	}
	if c.DirectoryTTL <= 0 {
		c.DirectoryTTL = time.Minute
	}
	if c.NumCounters == 0 {
		c.NumCounters = 1e7
	}
	if c.MaxCost == 0 {
		c.MaxCost = 1 << 28 // 256 MiB
	}
	if c.BufferItems == 0 {
		c.BufferItems = 64
	}
}

// ResultKey identifies one cached permission-check answer.
type ResultKey struct {
	Subject    string
	Permission string
	Object     string
	Zone       string
}

func (k ResultKey) cacheKey() string {
	return fmt.Sprintf("result:%s:%s:%s:%s", k.Zone, k.Subject, k.Permission, k.Object)
}

// DirectoryKey identifies one cached directory-visibility answer.
type DirectoryKey struct {
	Zone        string
	SubjectType string
	SubjectID   string
	DirPath     string
}

func (k DirectoryKey) cacheKey() string {
	return fmt.Sprintf("dir:%s:%s:%s:%s", k.Zone, k.SubjectType, k.SubjectID, k.DirPath)
}

// DirectoryVisibility is the cached answer for a directory listing
// decision: whether dirPath should be shown to the subject, and why
// (e.g. "direct", "descendant-permission", "bitmap").
type DirectoryVisibility struct {
	Visible bool
	Reason  string
}

// Cache is the Permission Cache: a ristretto-backed result cache and
// directory-visibility cache, each with secondary indices (by zone, by
// object, by subject) enabling the targeted invalidation spec §4.7
// requires without scanning every entry.
type Cache struct {
	cfg Config

	results   *ristretto.Cache[string, bool]
	dirCache  *ristretto.Cache[string, DirectoryVisibility]

	mu sync.Mutex
	// Secondary indices for result cache invalidation.
	byZone   map[string]map[string]struct{} // zoneID -> cacheKey set
	byObject map[string]map[string]struct{} // "zone|objectType:objectID" -> cacheKey set
	bySubj   map[string]map[string]struct{} // "zone|subjectID" -> cacheKey set (member-id invalidation)

	// Secondary index for directory cache invalidation, keyed by
	// "zone|dirPath" so a single path's invalidation drops every subject's
	// cached answer for it.
	byDir map[string]map[string]struct{}

	bitmap *ReverseIndex
}

// New builds a Cache. bitmap may be nil to skip the optional reverse-bitmap
// fast path.
func New(cfg Config, bitmap *ReverseIndex) (*Cache, error) {
	cfg.ApplyDefaults()

	results, err := ristretto.NewCache(&ristretto.Config[string, bool]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("permcache: new result cache: %w", err)
	}
	dirCache, err := ristretto.NewCache(&ristretto.Config[string, DirectoryVisibility]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("permcache: new directory cache: %w", err)
	}

	return &Cache{
		cfg:      cfg,
		results:  results,
		dirCache: dirCache,
		byZone:   make(map[string]map[string]struct{}),
		byObject: make(map[string]map[string]struct{}),
		bySubj:   make(map[string]map[string]struct{}),
		byDir:    make(map[string]map[string]struct{}),
		bitmap:   bitmap,
	}, nil
}

// GetResult returns a cached permission-check answer, if present.
func (c *Cache) GetResult(key ResultKey) (bool, bool) {
	return c.results.Get(key.cacheKey())
}

// SetResult caches a permission-check answer with the configured TTL.
func (c *Cache) SetResult(key ResultKey, allowed bool) {
	ck := key.cacheKey()
	c.results.SetWithTTL(ck, allowed, 1, c.cfg.ResultTTL)

	c.mu.Lock()
	defer c.mu.Unlock()
	index(c.byZone, key.Zone, ck)
	index(c.byObject, objectIndexKey(key.Zone, key.Object), ck)
	index(c.bySubj, subjectIndexKey(key.Zone, key.Subject), ck)
}

// InvalidateZone drops every cached result for zoneID — the coarse
// invalidation spec §4.7 runs on any tuple write/delete.
func (c *Cache) InvalidateZone(zoneID string) {
	c.mu.Lock()
	keys := c.byZone[zoneID]
	delete(c.byZone, zoneID)
	c.mu.Unlock()
	for ck := range keys {
		c.results.Del(ck)
	}
}

// InvalidateObject drops every cached result referencing objectType:objectID
// in zoneID — the precise invalidation spec §4.7 runs alongside
// InvalidateZone on every tuple write/delete.
func (c *Cache) InvalidateObject(objectType, objectID, zoneID string) {
	c.invalidateObjectKey(objectIndexKey(zoneID, objectType+":"+objectID))
}

func (c *Cache) invalidateObjectKey(idxKey string) {
	c.mu.Lock()
	keys := c.byObject[idxKey]
	delete(c.byObject, idxKey)
	c.mu.Unlock()
	for ck := range keys {
		c.results.Del(ck)
	}
}

// InvalidateMembership drops cached results for memberID (every check
// that memberID was the subject of) whenever Leopard's closure changes
// for that member, per spec §4.7's "Leopard membership change" trigger.
func (c *Cache) InvalidateMembership(zoneID, memberID, groupID string) {
	c.mu.Lock()
	subjKeys := c.bySubj[subjectIndexKey(zoneID, memberID)]
	delete(c.bySubj, subjectIndexKey(zoneID, memberID))
	c.mu.Unlock()
	for ck := range subjKeys {
		c.results.Del(ck)
	}
	// groupID may itself be the object of cached checks (e.g. "is alice a
	// member of group eng"), so invalidate those too.
	c.invalidateObjectKey(objectIndexKey(zoneID, groupID))
}

func objectIndexKey(zoneID, objectID string) string {
	return zoneID + "|" + objectID
}

func subjectIndexKey(zoneID, subjectID string) string {
	return zoneID + "|" + subjectID
}

func index(idx map[string]map[string]struct{}, bucket, ck string) {
	if idx[bucket] == nil {
		idx[bucket] = make(map[string]struct{})
	}
	idx[bucket][ck] = struct{}{}
}

// GetDirectoryVisibility returns the cached listing decision for dirPath,
// if present.
func (c *Cache) GetDirectoryVisibility(key DirectoryKey) (DirectoryVisibility, bool) {
	if v, ok := c.dirCache.Get(key.cacheKey()); ok {
		return v, true
	}
	if c.bitmap != nil {
		if c.bitmap.DirectoryVisible(key.Zone, key.SubjectType, key.SubjectID, key.DirPath) {
			return DirectoryVisibility{Visible: true, Reason: "bitmap"}, true
		}
	}
	return DirectoryVisibility{}, false
}

// SetDirectoryVisibility caches a listing decision.
func (c *Cache) SetDirectoryVisibility(key DirectoryKey, v DirectoryVisibility) {
	ck := key.cacheKey()
	c.dirCache.SetWithTTL(ck, v, 1, c.cfg.DirectoryTTL)

	c.mu.Lock()
	defer c.mu.Unlock()
	index(c.byDir, dirIndexKey(key.Zone, key.DirPath), ck)
}

// InvalidatePath walks the ancestor chain of resourcePath (e.g.
// "/a/b/c/file" -> "/a/b/c", "/a/b", "/a", "/") and invalidates every
// subject's cached directory-visibility answer for each ancestor within
// zoneID, per spec §4.7.
func (c *Cache) InvalidatePath(zoneID, resourcePath string) {
	for _, dir := range AncestorChain(resourcePath) {
		c.invalidateDir(zoneID, dir)
	}
}

func (c *Cache) invalidateDir(zoneID, dirPath string) {
	c.mu.Lock()
	idxKey := dirIndexKey(zoneID, dirPath)
	keys := c.byDir[idxKey]
	delete(c.byDir, idxKey)
	c.mu.Unlock()
	for ck := range keys {
		c.dirCache.Del(ck)
	}
}

func dirIndexKey(zoneID, dirPath string) string {
	return zoneID + "|" + dirPath
}

// AncestorChain returns every ancestor directory of resourcePath, from
// nearest to root, per spec §4.7 ("/a/b/c", "/a/b", "/a", "/").
func AncestorChain(resourcePath string) []string {
	if resourcePath == "" || resourcePath == "/" {
		return []string{"/"}
	}
	trimmed := resourcePath
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == '/' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	var chain []string
	for {
		idx := lastSlash(trimmed)
		if idx <= 0 {
			chain = append(chain, "/")
			return chain
		}
		trimmed = trimmed[:idx]
		chain = append(chain, trimmed)
	}
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
