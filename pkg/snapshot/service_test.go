package snapshot

import (
	"context"
	"fmt"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuslabs/nexus/pkg/backend"
)

type fakeFilesystem struct {
	files map[string]FileEntry // keyed by full path
}

func newFakeFilesystem() *fakeFilesystem {
	return &fakeFilesystem{files: make(map[string]FileEntry)}
}

func (f *fakeFilesystem) put(workspacePath, relPath, hash string, size int64) {
	f.files[path.Join(workspacePath, relPath)] = FileEntry{RelativePath: relPath, ContentHash: hash, Size: size}
}

func (f *fakeFilesystem) List(_ context.Context, workspacePath string) ([]FileEntry, error) {
	var entries []FileEntry
	prefix := workspacePath + "/"
	for full, e := range f.files {
		if len(full) > len(prefix) && full[:len(prefix)] == prefix {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (f *fakeFilesystem) SetContentHash(_ context.Context, fullPath, contentHash string, size int64) error {
	rel := fullPath[len(path.Dir(fullPath))+1:]
	f.files[fullPath] = FileEntry{RelativePath: rel, ContentHash: contentHash, Size: size}
	return nil
}

func (f *fakeFilesystem) Delete(_ context.Context, fullPath string) error {
	if _, ok := f.files[fullPath]; !ok {
		return fmt.Errorf("not found: %s", fullPath)
	}
	delete(f.files, fullPath)
	return nil
}

func newTestService() (*Service, *Store, *fakeFilesystem) {
	store, _ := OpenStore(StoreConfig{SQLite: struct{ Path string }{Path: ":memory:"}})
	fs := newFakeFilesystem()
	svc := NewService(store, backend.NewMemoryBackend(), fs)
	return svc, store, fs
}

func TestCreate_CapturesCurrentFilesAndIncrementsSnapshotNumber(t *testing.T) {
	svc, _, fs := newTestService()
	fs.put("/ws", "a.txt", "hash-a", 10)
	fs.put("/ws", "b.txt", "hash-b", 20)

	snap1, err := svc.Create(context.Background(), "/ws", "first", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, snap1.SnapshotNumber)
	assert.Equal(t, 2, snap1.FileCount)
	assert.Equal(t, int64(30), snap1.TotalSize)

	snap2, err := svc.Create(context.Background(), "/ws", "second", []string{"v2"})
	require.NoError(t, err)
	assert.Equal(t, 2, snap2.SnapshotNumber)
}

func TestRestoreByID_DeletesFilesNotInManifestAndRestoresHashes(t *testing.T) {
	svc, _, fs := newTestService()
	fs.put("/ws", "keep.txt", "hash-keep", 5)
	snap, err := svc.Create(context.Background(), "/ws", "", nil)
	require.NoError(t, err)

	fs.put("/ws", "new.txt", "hash-new", 7)
	fs.files[path.Join("/ws", "keep.txt")] = FileEntry{RelativePath: "keep.txt", ContentHash: "hash-keep-modified", Size: 99}

	require.NoError(t, svc.RestoreByID(context.Background(), snap.SnapshotID))

	assert.NotContains(t, fs.files, path.Join("/ws", "new.txt"), "file absent from manifest must be deleted")
	restored := fs.files[path.Join("/ws", "keep.txt")]
	assert.Equal(t, "hash-keep", restored.ContentHash, "file content hash must be restored from manifest")
}

func TestRestoreByNumber_ResolvesWorkspaceAndNumber(t *testing.T) {
	svc, _, fs := newTestService()
	fs.put("/ws", "a.txt", "hash-a", 1)
	_, err := svc.Create(context.Background(), "/ws", "", nil)
	require.NoError(t, err)

	require.NoError(t, svc.RestoreByNumber(context.Background(), "/ws", 1))
	assert.Contains(t, fs.files, path.Join("/ws", "a.txt"))
}

func TestList_ReturnsNewestFirst(t *testing.T) {
	svc, _, fs := newTestService()
	fs.put("/ws", "a.txt", "hash-a", 1)
	_, err := svc.Create(context.Background(), "/ws", "first", nil)
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), "/ws", "second", nil)
	require.NoError(t, err)

	snaps, err := svc.List(context.Background(), "/ws", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 2, snaps[0].SnapshotNumber)
}

func TestDiff_ComparesTwoSnapshotsByManifest(t *testing.T) {
	svc, _, fs := newTestService()
	fs.put("/ws", "a.txt", "hash-a", 1)
	snapA, err := svc.Create(context.Background(), "/ws", "", nil)
	require.NoError(t, err)

	fs.put("/ws", "b.txt", "hash-b", 2)
	snapB, err := svc.Create(context.Background(), "/ws", "", nil)
	require.NoError(t, err)

	diff, err := svc.Diff(context.Background(), snapA.SnapshotID, snapB.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, diff.Added)
	assert.Equal(t, 1, diff.UnchangedCount)
}
