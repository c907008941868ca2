package diskcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(Config{Dir: t.TempDir(), MaxSizeBytes: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutGet_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	hash := HashContent([]byte("hello world"))

	ok, err := c.Put(ctx, hash, []byte("hello world"), "", 0, false)
	require.NoError(t, err)
	assert.True(t, ok)

	data, found, err := c.Get(ctx, hash, "")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hello world", string(data))
}

func TestGet_MissOnUncachedHash(t *testing.T) {
	c := newTestCache(t)
	_, found, err := c.Get(context.Background(), "nonexistent", "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPut_TenantIsolation(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	hash := HashContent([]byte("shared-hash-content"))

	ok, err := c.Put(ctx, hash, []byte("tenant-a-secret"), "tenant-a", 0, false)
	require.NoError(t, err)
	require.True(t, ok)

	_, found, err := c.Get(ctx, hash, "tenant-b")
	require.NoError(t, err)
	assert.False(t, found, "identical content hash must not be visible across tenants")

	data, found, err := c.Get(ctx, hash, "tenant-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "tenant-a-secret", string(data))
}

func TestPut_RejectsOversizedContent(t *testing.T) {
	c := newTestCache(t)
	big := make([]byte, 2<<20)
	ok, err := c.Put(context.Background(), HashContent(big), big, "", 0, false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPut_StoresAndReadsBlocks(t *testing.T) {
	c, err := Open(Config{Dir: t.TempDir(), MaxSizeBytes: 1 << 20, BlockSize: 16})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	content := []byte("0123456789ABCDEF0123456789ABCDEF01") // > 2 blocks of 16 bytes
	hash := HashContent(content)
	ok, err := c.Put(ctx, hash, content, "", 0, true)
	require.NoError(t, err)
	require.True(t, ok)

	block0, found, err := c.GetBlock(ctx, hash, 0, "")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, content[:16], block0)
}

func TestRemove_DeletesEntry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	hash := HashContent([]byte("removable"))
	_, err := c.Put(ctx, hash, []byte("removable"), "", 0, false)
	require.NoError(t, err)

	removed, err := c.Remove(ctx, hash, "")
	require.NoError(t, err)
	assert.True(t, removed)

	_, found, err := c.Get(ctx, hash, "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEvictClock_FreesSpaceUnderPressure(t *testing.T) {
	c, err := Open(Config{Dir: t.TempDir(), MaxSizeBytes: 64})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	first := make([]byte, 40)
	copy(first, "first-entry-forty-bytes-padded-out-here")
	second := make([]byte, 40)
	copy(second, "second-entry-forty-bytes-padded-out-xyz")

	h1 := HashContent(first)
	ok, err := c.Put(ctx, h1, first, "", 0, false)
	require.NoError(t, err)
	require.True(t, ok)

	h2 := HashContent(second)
	ok, err = c.Put(ctx, h2, second, "", 0, false)
	require.NoError(t, err)
	require.True(t, ok, "put must evict the first entry to make room for the second")

	_, found, err := c.Get(ctx, h1, "")
	require.NoError(t, err)
	assert.False(t, found, "first entry should have been CLOCK-evicted")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
}

func TestEvictClock_SkipsHighPriorityOnFirstPass(t *testing.T) {
	// The priority skip only has room to apply when the clock order holds
	// more entries than have been scanned so far, so this needs three
	// entries (one priority, two fillers) rather than a bare pair.
	c, err := Open(Config{Dir: t.TempDir(), MaxSizeBytes: 60})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	important := make([]byte, 21)
	copy(important, "important-entry-bbbb")
	filler1 := make([]byte, 21)
	copy(filler1, "filler-one-entry-ccc")
	filler2 := make([]byte, 21)
	copy(filler2, "filler-two-entry-ddd")

	hImportant := HashContent(important)
	_, err = c.Put(ctx, hImportant, important, "", 1, false)
	require.NoError(t, err)

	hFiller1 := HashContent(filler1)
	_, err = c.Put(ctx, hFiller1, filler1, "", 0, false)
	require.NoError(t, err)

	hFiller2 := HashContent(filler2)
	_, err = c.Put(ctx, hFiller2, filler2, "", 0, false)
	require.NoError(t, err)

	_, found, err := c.Get(ctx, hImportant, "")
	require.NoError(t, err)
	assert.True(t, found, "priority>0 entry must survive the first eviction pass")

	_, found, err = c.Get(ctx, hFiller1, "")
	require.NoError(t, err)
	assert.False(t, found, "a normal-priority entry should be evicted instead")
}

func TestClear_RemovesAllEntries(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	hash := HashContent([]byte("to-be-cleared"))
	_, err := c.Put(ctx, hash, []byte("to-be-cleared"), "", 0, false)
	require.NoError(t, err)

	count, err := c.Clear()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, found, err := c.Get(ctx, hash, "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOpen_RebuildsFromExistingMetadata(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	hash := HashContent([]byte("durable"))

	c1, err := Open(Config{Dir: dir, MaxSizeBytes: 1 << 20})
	require.NoError(t, err)
	_, err = c1.Put(ctx, hash, []byte("durable"), "", 0, false)
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	c2, err := Open(Config{Dir: dir, MaxSizeBytes: 1 << 20})
	require.NoError(t, err)
	defer c2.Close()

	data, found, err := c2.Get(ctx, hash, "")
	require.NoError(t, err)
	require.True(t, found, "reopening the cache must reload metadata persisted by the previous instance")
	assert.Equal(t, "durable", string(data))
}
