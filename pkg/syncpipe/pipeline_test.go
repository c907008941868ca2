package syncpipe

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuslabs/nexus/pkg/backend"
	"github.com/nexuslabs/nexus/pkg/diskcache"
)

type fakeConnector struct {
	mu      sync.Mutex
	files   []RemoteFile
	content map[string][]byte
	version map[string]string
	readErr map[string]error
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		content: make(map[string][]byte),
		version: make(map[string]string),
		readErr: make(map[string]error),
	}
}

func (f *fakeConnector) add(relPath, key string, content []byte, version string) {
	f.files = append(f.files, RemoteFile{Key: key, RelPath: relPath, Size: int64(len(content))})
	f.content[key] = content
	f.version[key] = version
}

func (f *fakeConnector) List(_ context.Context, _ string) ([]RemoteFile, error) {
	return f.files, nil
}

func (f *fakeConnector) Read(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.readErr[key]; ok {
		return nil, err
	}
	return f.content[key], nil
}

func (f *fakeConnector) BatchStat(_ context.Context, keys []string) (map[string]backend.ObjectInfo, error) {
	result := make(map[string]backend.ObjectInfo, len(keys))
	for _, k := range keys {
		if v, ok := f.version[k]; ok {
			result[k] = backend.ObjectInfo{Key: k, Version: v, Size: int64(len(f.content[k]))}
		}
	}
	return result, nil
}

type fakeParser struct{}

func (fakeParser) Parse(_ context.Context, virtualPath string, content []byte) (string, error) {
	return fmt.Sprintf("text:%s:%d", virtualPath, len(content)), nil
}

type fakeEmbedder struct {
	mu      sync.Mutex
	embedded []string
}

func (e *fakeEmbedder) Embed(_ context.Context, virtualPath, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.embedded = append(e.embedded, virtualPath)
	return nil
}

func newTestDiskCache(t *testing.T) *diskcache.Cache {
	t.Helper()
	cache, err := diskcache.Open(diskcache.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(StoreConfig{SQLite: struct{ Path string }{Path: dir + "/syncpipe.db"}})
	require.NoError(t, err)
	return store
}

func TestRun_SyncsNewFiles(t *testing.T) {
	connector := newFakeConnector()
	connector.add("a.txt", "key-a", []byte("hello"), "v1")
	connector.add("b.txt", "key-b", []byte("world"), "v1")
	store := newTestStore(t)

	pipeline := NewPipeline(connector, store, nil, nil, Config{MountPoint: "/mnt"})
	result, err := pipeline.Run(context.Background(), "/")
	require.NoError(t, err)

	assert.Equal(t, 2, result.FilesScanned)
	assert.Equal(t, 2, result.FilesSynced)
	assert.Equal(t, int64(10), result.BytesSynced)
	assert.Empty(t, result.Errors)
}

func TestRun_SkipsUnchangedBackendVersion(t *testing.T) {
	connector := newFakeConnector()
	connector.add("a.txt", "key-a", []byte("hello"), "v1")
	store := newTestStore(t)

	pipeline := NewPipeline(connector, store, nil, nil, Config{MountPoint: "/mnt"})
	_, err := pipeline.Run(context.Background(), "/")
	require.NoError(t, err)

	result, err := pipeline.Run(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, 0, result.FilesSynced)
	assert.Equal(t, 1, result.FilesSkipped)
}

func TestRun_ResyncsOnVersionChange(t *testing.T) {
	connector := newFakeConnector()
	connector.add("a.txt", "key-a", []byte("hello"), "v1")
	store := newTestStore(t)

	pipeline := NewPipeline(connector, store, nil, nil, Config{MountPoint: "/mnt"})
	_, err := pipeline.Run(context.Background(), "/")
	require.NoError(t, err)

	connector.content["key-a"] = []byte("hello2")
	connector.version["key-a"] = "v2"

	result, err := pipeline.Run(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesSynced)
}

func TestRun_SkipsImmutableEntries(t *testing.T) {
	connector := newFakeConnector()
	connector.add("a.txt", "key-a", []byte("hello"), "v1")
	store := newTestStore(t)

	pipeline := NewPipeline(connector, store, nil, nil, Config{MountPoint: "/mnt"})
	_, err := pipeline.Run(context.Background(), "/")
	require.NoError(t, err)
	require.NoError(t, store.MarkImmutable("/mnt/a.txt"))

	connector.content["key-a"] = []byte("changed")
	connector.version["key-a"] = "v2"

	result, err := pipeline.Run(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, 0, result.FilesSynced)
	assert.Equal(t, 1, result.FilesSkipped)
}

func TestRun_AppliesIncludeExcludeGlobs(t *testing.T) {
	connector := newFakeConnector()
	connector.add("docs/a.md", "key-a", []byte("doc"), "v1")
	connector.add("images/b.png", "key-b", []byte("img"), "v1")
	store := newTestStore(t)

	pipeline := NewPipeline(connector, store, nil, nil, Config{
		MountPoint: "/mnt",
		Include:    []string{"mnt/docs/**"},
	})
	result, err := pipeline.Run(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesSynced)
	assert.Equal(t, 1, result.FilesSkipped)
}

func TestRun_EnforcesMaxSize(t *testing.T) {
	connector := newFakeConnector()
	connector.add("big.bin", "key-big", make([]byte, 100), "v1")
	store := newTestStore(t)

	pipeline := NewPipeline(connector, store, nil, nil, Config{MountPoint: "/mnt", MaxSize: 10})
	result, err := pipeline.Run(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, 0, result.FilesSynced)
	assert.NotEmpty(t, result.Errors)
}

func TestRun_RecordsPerFileReadErrorsWithoutAbortingOthers(t *testing.T) {
	connector := newFakeConnector()
	connector.add("good.txt", "key-good", []byte("ok"), "v1")
	connector.add("bad.txt", "key-bad", []byte("unused"), "v1")
	connector.readErr["key-bad"] = assertErr{"read failed"}
	store := newTestStore(t)

	pipeline := NewPipeline(connector, store, nil, nil, Config{MountPoint: "/mnt"})
	result, err := pipeline.Run(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesSynced)
	assert.Len(t, result.Errors, 1)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func TestRun_InvokesParserAndEmbedderForChangedRecords(t *testing.T) {
	connector := newFakeConnector()
	connector.add("a.txt", "key-a", []byte("hello"), "v1")
	store := newTestStore(t)
	embedder := &fakeEmbedder{}

	pipeline := NewPipeline(connector, store, fakeParser{}, embedder, Config{MountPoint: "/mnt"})
	result, err := pipeline.Run(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, 1, result.EmbeddingsGenerated)
	assert.Equal(t, []string{"/mnt/a.txt"}, embedder.embedded)
}

func TestRun_SkipsEmbeddingNoOpRewrites(t *testing.T) {
	connector := newFakeConnector()
	connector.add("a.txt", "key-a", []byte("hello"), "v1")
	store := newTestStore(t)
	embedder := &fakeEmbedder{}

	pipeline := NewPipeline(connector, store, fakeParser{}, embedder, Config{MountPoint: "/mnt"})
	_, err := pipeline.Run(context.Background(), "/")
	require.NoError(t, err)

	// Same content, different backend_version: a no-op rewrite.
	connector.version["key-a"] = "v2"
	result, err := pipeline.Run(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesSynced, "content must still be re-synced since backend_version moved")
	assert.Equal(t, 0, result.EmbeddingsGenerated, "unchanged content must not regenerate embeddings")
}

func TestRun_WithDiskCacheServesNoOpRewriteWithoutBackendRead(t *testing.T) {
	connector := newFakeConnector()
	connector.add("a.txt", "key-a", []byte("hello"), "v1")
	store := newTestStore(t)
	cache := newTestDiskCache(t)

	pipeline := NewPipeline(connector, store, nil, nil, Config{MountPoint: "/mnt"}, WithDiskCache(cache))
	_, err := pipeline.Run(context.Background(), "/")
	require.NoError(t, err)

	// Backend version moves but content doesn't; the connector is made to
	// fail any further Read so the only way this succeeds is if the
	// content comes back from the disk cache.
	connector.version["key-a"] = "v2"
	connector.readErr["key-a"] = assertErr{"backend should not be read for cached content"}

	result, err := pipeline.Run(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesSynced)
	assert.Empty(t, result.Errors)
}

func TestNewPipeline_AcceptsDiskCacheAndMetricsOptions(t *testing.T) {
	connector := newFakeConnector()
	store := newTestStore(t)
	cache := newTestDiskCache(t)

	pipeline := NewPipeline(connector, store, nil, nil, Config{MountPoint: "/mnt"}, WithDiskCache(cache), WithMetrics(nil))
	assert.NotNil(t, pipeline)
}
