package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuslabs/nexus/pkg/backend"
)

func TestManifestEncodeDecode_RoundTrip(t *testing.T) {
	m := newManifest([]FileEntry{
		{RelativePath: "b.txt", ContentHash: "hash-b", Size: 2},
		{RelativePath: "a.txt", ContentHash: "hash-a", Size: 1},
	})

	compressed, hash, err := m.encode()
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	decoded, err := decodeManifest(compressed)
	require.NoError(t, err)
	require.Len(t, decoded.Entries, 2)
	assert.Equal(t, "a.txt", decoded.Entries[0].RelativePath, "entries must be sorted")
	assert.Equal(t, "b.txt", decoded.Entries[1].RelativePath)
}

func TestManifestEncode_IsDeterministicForSameFileSet(t *testing.T) {
	entries := []FileEntry{
		{RelativePath: "a.txt", ContentHash: "hash-a", Size: 1},
		{RelativePath: "b.txt", ContentHash: "hash-b", Size: 2},
	}
	_, hash1, err := newManifest(entries).encode()
	require.NoError(t, err)
	_, hash2, err := newManifest(entries).encode()
	require.NoError(t, err)
	assert.Equal(t, hash1, hash2)
}

func TestWriteReadManifest_RoundTripsThroughBackend(t *testing.T) {
	back := backend.NewMemoryBackend()
	m := newManifest([]FileEntry{{RelativePath: "a.txt", ContentHash: "hash-a", Size: 1}})

	hash, err := writeManifest(context.Background(), back, m)
	require.NoError(t, err)

	loaded, err := readManifest(context.Background(), back, hash)
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 1)
	assert.Equal(t, "a.txt", loaded.Entries[0].RelativePath)
}

func TestDiffManifests_DetectsAddedRemovedModifiedUnchanged(t *testing.T) {
	a := newManifest([]FileEntry{
		{RelativePath: "same.txt", ContentHash: "h1", Size: 1},
		{RelativePath: "changed.txt", ContentHash: "h2", Size: 2},
		{RelativePath: "removed.txt", ContentHash: "h3", Size: 3},
	})
	b := newManifest([]FileEntry{
		{RelativePath: "same.txt", ContentHash: "h1", Size: 1},
		{RelativePath: "changed.txt", ContentHash: "h2-new", Size: 20},
		{RelativePath: "added.txt", ContentHash: "h4", Size: 4},
	})

	diff := diffManifests(a, b)
	assert.Equal(t, []string{"added.txt"}, diff.Added)
	assert.Equal(t, []string{"removed.txt"}, diff.Removed)
	assert.Equal(t, []string{"changed.txt"}, diff.Modified)
	assert.Equal(t, 1, diff.UnchangedCount)
}
