package queryexpansion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// cache is a ristretto-backed content-hash cache for expansion results,
// the same TTL-cache shape permcache.Cache uses for permission results:
// content-hash keyed, admission-policy sized, no invalidation path since
// entries expire on TTL alone.
type cache struct {
	entries *ristretto.Cache[string, []Expansion]
}

func newCache() (*cache, error) {
	entries, err := ristretto.NewCache(&ristretto.Config[string, []Expansion]{
		NumCounters: 1e6,
		MaxCost:     1 << 26, // 64 MiB
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("queryexpansion: new cache: %w", err)
	}
	return &cache{entries: entries}, nil
}

func cacheKey(query, collectionContext string) string {
	h := sha256.Sum256([]byte(query + ":" + collectionContext))
	return "qexp:" + hex.EncodeToString(h[:])[:16]
}

func (c *cache) get(query, collectionContext string) ([]Expansion, bool) {
	return c.entries.Get(cacheKey(query, collectionContext))
}

func (c *cache) set(query, collectionContext string, expansions []Expansion, ttl time.Duration) {
	c.entries.SetWithTTL(cacheKey(query, collectionContext), expansions, int64(len(expansions)), ttl)
}
