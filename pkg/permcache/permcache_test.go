package permcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, bitmap *ReverseIndex) *Cache {
	t.Helper()
	c, err := New(Config{ResultTTL: time.Minute, DirectoryTTL: time.Minute}, bitmap)
	require.NoError(t, err)
	return c
}

func TestResultCache_SetAndGet(t *testing.T) {
	c := newTestCache(t, nil)
	key := ResultKey{Subject: "user:alice", Permission: "read", Object: "file:/a", Zone: "z1"}

	_, ok := c.GetResult(key)
	assert.False(t, ok)

	c.SetResult(key, true)
	c.results.Wait()

	v, ok := c.GetResult(key)
	require.True(t, ok)
	assert.True(t, v)
}

func TestResultCache_InvalidateZone(t *testing.T) {
	c := newTestCache(t, nil)
	key := ResultKey{Subject: "user:alice", Permission: "read", Object: "file:/a", Zone: "z1"}
	c.SetResult(key, true)
	c.results.Wait()

	c.InvalidateZone("z1")
	_, ok := c.GetResult(key)
	assert.False(t, ok, "invalidating the zone must drop every cached result in it")
}

func TestResultCache_InvalidateObject(t *testing.T) {
	c := newTestCache(t, nil)
	k1 := ResultKey{Subject: "user:alice", Permission: "read", Object: "file:/a", Zone: "z1"}
	k2 := ResultKey{Subject: "user:bob", Permission: "read", Object: "file:/a", Zone: "z1"}
	other := ResultKey{Subject: "user:alice", Permission: "read", Object: "file:/b", Zone: "z1"}
	c.SetResult(k1, true)
	c.SetResult(k2, true)
	c.SetResult(other, true)
	c.results.Wait()

	c.InvalidateObject("file", "/a", "z1")

	_, ok := c.GetResult(k1)
	assert.False(t, ok)
	_, ok = c.GetResult(k2)
	assert.False(t, ok)
	v, ok := c.GetResult(other)
	require.True(t, ok, "a different object's cached result must survive")
	assert.True(t, v)
}

func TestResultCache_InvalidateMembership(t *testing.T) {
	c := newTestCache(t, nil)
	subjKey := ResultKey{Subject: "alice", Permission: "read", Object: "file:/a", Zone: "z1"}
	groupAsObjectKey := ResultKey{Subject: "user:carol", Permission: "member", Object: "eng", Zone: "z1"}
	c.SetResult(subjKey, true)
	c.SetResult(groupAsObjectKey, true)
	c.results.Wait()

	c.InvalidateMembership("z1", "alice", "eng")

	_, ok := c.GetResult(subjKey)
	assert.False(t, ok, "a membership change for alice must drop every result keyed on alice as subject")
	_, ok = c.GetResult(groupAsObjectKey)
	assert.False(t, ok, "a membership change touching group eng must drop results keyed on eng as object")
}

func TestDirectoryCache_SetAndInvalidatePath(t *testing.T) {
	c := newTestCache(t, nil)
	key := DirectoryKey{Zone: "z1", SubjectType: "user", SubjectID: "alice", DirPath: "/a/b"}
	c.SetDirectoryVisibility(key, DirectoryVisibility{Visible: true, Reason: "direct"})
	c.dirCache.Wait()

	v, ok := c.GetDirectoryVisibility(key)
	require.True(t, ok)
	assert.True(t, v.Visible)

	c.InvalidatePath("z1", "/a/b/c/file.txt")
	_, ok = c.GetDirectoryVisibility(key)
	assert.False(t, ok, "invalidating a descendant path must drop the ancestor directory's cached answer")
}

func TestDirectoryCache_FallsBackToBitmap(t *testing.T) {
	bm := NewReverseIndex()
	bm.GrantVisibility("z1", "user", "alice", "/a/b/secret.txt")

	c := newTestCache(t, bm)
	key := DirectoryKey{Zone: "z1", SubjectType: "user", SubjectID: "alice", DirPath: "/a/b"}

	v, ok := c.GetDirectoryVisibility(key)
	require.True(t, ok, "an uncached directory must still resolve via the bitmap fast path")
	assert.True(t, v.Visible)
	assert.Equal(t, "bitmap", v.Reason)
}

func TestAncestorChain(t *testing.T) {
	assert.Equal(t, []string{"/a/b/c", "/a/b", "/a", "/"}, AncestorChain("/a/b/c/file.txt"))
	assert.Equal(t, []string{"/"}, AncestorChain("/file.txt"))
	assert.Equal(t, []string{"/"}, AncestorChain("/"))
}
