package upload

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuslabs/nexus/pkg/backend"
	"github.com/nexuslabs/nexus/pkg/boundary"
)

// casOnlyBackend implements backend.Backend but deliberately not
// backend.MultipartBackend, to exercise the CAS-fallback assembly path.
// It cannot embed backend.MemoryBackend: embedding would promote its
// multipart methods and satisfy backend.MultipartBackend anyway.
type casOnlyBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newCASOnlyBackend() *casOnlyBackend {
	return &casOnlyBackend{objects: make(map[string][]byte)}
}

func (c *casOnlyBackend) Read(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[key]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (c *casOnlyBackend) Write(_ context.Context, key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[key] = append([]byte(nil), data...)
	return nil
}

func (c *casOnlyBackend) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, key)
	return nil
}

func (c *casOnlyBackend) Stat(_ context.Context, key string) (backend.ObjectInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[key]
	if !ok {
		return backend.ObjectInfo{}, backend.ErrNotFound
	}
	return backend.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (c *casOnlyBackend) BatchStat(ctx context.Context, keys []string) (map[string]backend.ObjectInfo, error) {
	result := make(map[string]backend.ObjectInfo, len(keys))
	for _, key := range keys {
		info, err := c.Stat(ctx, key)
		if err == nil {
			result[key] = info
		}
	}
	return result, nil
}

var _ backend.Backend = (*casOnlyBackend)(nil)

func newTestService(t *testing.T, back backend.Backend, cfg Config) *Service {
	t.Helper()
	store, err := OpenStore(StoreConfig{SQLite: struct{ Path string }{Path: filepath.Join(t.TempDir(), "uploads.db")}})
	require.NoError(t, err)
	return NewService(store, back, cfg)
}

func testConfig() Config {
	return Config{
		MaxConcurrentUploads: 2,
		SessionTTL:           time.Hour,
		CleanupInterval:      time.Hour,
		MinChunkSize:         4,
		MaxChunkSize:         1024,
		MaxUploadSize:        1 << 20,
	}
}

func TestCreate_RejectsNegativeUploadLength(t *testing.T) {
	svc := newTestService(t, newCASOnlyBackend(), testConfig())
	_, err := svc.Create(context.Background(), "/a.txt", -1, nil, "z", "u", "")
	berr, ok := err.(*boundary.Error)
	require.True(t, ok)
	assert.Equal(t, boundary.CodeValidationError, berr.Code)
}

func TestCreate_RejectsOversizedUploadLength(t *testing.T) {
	cfg := testConfig()
	svc := newTestService(t, newCASOnlyBackend(), cfg)
	_, err := svc.Create(context.Background(), "/a.txt", cfg.MaxUploadSize+1, nil, "z", "u", "")
	berr, ok := err.(*boundary.Error)
	require.True(t, ok)
	assert.Equal(t, boundary.CodeValidationError, berr.Code)
}

func TestCreate_EnforcesConcurrencySemaphore(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentUploads = 1
	svc := newTestService(t, newCASOnlyBackend(), cfg)

	_, err := svc.Create(context.Background(), "/a.txt", 10, nil, "z", "u", "")
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), "/b.txt", 10, nil, "z", "u", "")
	berr, ok := err.(*boundary.Error)
	require.True(t, ok)
	assert.Equal(t, boundary.CodeTooManyConcurrentUploads, berr.Code)
}

func TestReceiveChunk_RejectsOffsetMismatch(t *testing.T) {
	svc := newTestService(t, newCASOnlyBackend(), testConfig())
	session, err := svc.Create(context.Background(), "/a.txt", 10, nil, "z", "u", "")
	require.NoError(t, err)

	_, err = svc.ReceiveChunk(context.Background(), session.UploadID, 5, []byte("hello"), "")
	berr, ok := err.(*boundary.Error)
	require.True(t, ok)
	assert.Equal(t, boundary.CodeUploadOffsetMismatch, berr.Code)
}

func TestReceiveChunk_RejectsChunkBelowMinimumUnlessLast(t *testing.T) {
	cfg := testConfig()
	cfg.MinChunkSize = 10
	svc := newTestService(t, newCASOnlyBackend(), cfg)
	session, err := svc.Create(context.Background(), "/a.txt", 20, nil, "z", "u", "")
	require.NoError(t, err)

	_, err = svc.ReceiveChunk(context.Background(), session.UploadID, 0, []byte("short"), "")
	berr, ok := err.(*boundary.Error)
	require.True(t, ok)
	assert.Equal(t, boundary.CodeValidationError, berr.Code)
}

func TestReceiveChunk_LastChunkExemptFromMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.MinChunkSize = 1000
	back := newCASOnlyBackend()
	svc := newTestService(t, back, cfg)
	session, err := svc.Create(context.Background(), "/a.txt", 5, nil, "z", "u", "")
	require.NoError(t, err)

	updated, err := svc.ReceiveChunk(context.Background(), session.UploadID, 0, []byte("hello"), "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
}

func TestReceiveChunk_RejectsChunkExceedingRemaining(t *testing.T) {
	svc := newTestService(t, newCASOnlyBackend(), testConfig())
	session, err := svc.Create(context.Background(), "/a.txt", 3, nil, "z", "u", "")
	require.NoError(t, err)

	_, err = svc.ReceiveChunk(context.Background(), session.UploadID, 0, []byte("toolong"), "")
	berr, ok := err.(*boundary.Error)
	require.True(t, ok)
	assert.Equal(t, boundary.CodeValidationError, berr.Code)
}

func TestReceiveChunk_VerifiesSHA256Checksum(t *testing.T) {
	svc := newTestService(t, newCASOnlyBackend(), testConfig())
	session, err := svc.Create(context.Background(), "/a.txt", 5, nil, "z", "u", "sha256")
	require.NoError(t, err)

	data := []byte("hello")
	sum := sha256.Sum256(data)
	header := "sha256 " + base64.StdEncoding.EncodeToString(sum[:])

	updated, err := svc.ReceiveChunk(context.Background(), session.UploadID, 0, data, header)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
}

func TestReceiveChunk_RejectsWrongChecksum(t *testing.T) {
	svc := newTestService(t, newCASOnlyBackend(), testConfig())
	session, err := svc.Create(context.Background(), "/a.txt", 5, nil, "z", "u", "")
	require.NoError(t, err)

	_, err = svc.ReceiveChunk(context.Background(), session.UploadID, 0, []byte("hello"), "sha256 bm90dGhlcmlnaHRoYXNo")
	berr, ok := err.(*boundary.Error)
	require.True(t, ok)
	assert.Equal(t, boundary.CodeUploadChecksumMismatch, berr.Code)
}

func TestReceiveChunk_AssemblesMultipleChunksInOrderViaCASFallback(t *testing.T) {
	back := newCASOnlyBackend()
	svc := newTestService(t, back, testConfig())
	session, err := svc.Create(context.Background(), "/a.txt", 11, nil, "z", "u", "")
	require.NoError(t, err)

	mid, err := svc.ReceiveChunk(context.Background(), session.UploadID, 0, []byte("hello "), "")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, mid.Status)

	final, err := svc.ReceiveChunk(context.Background(), mid.UploadID, 6, []byte("world"), "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)

	content, err := back.Read(context.Background(), final.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))
}

func TestReceiveChunk_UsesBackendMultipartWhenAvailable(t *testing.T) {
	back := backend.NewMemoryBackend()
	svc := newTestService(t, back, testConfig())
	session, err := svc.Create(context.Background(), "/big.bin", 11, nil, "z", "u", "")
	require.NoError(t, err)
	require.NotEmpty(t, session.BackendUploadID, "multipart-capable backend must record a backend upload id")

	mid, err := svc.ReceiveChunk(context.Background(), session.UploadID, 0, []byte("hello "), "")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, mid.Status)

	final, err := svc.ReceiveChunk(context.Background(), mid.UploadID, 6, []byte("world"), "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)

	content, err := back.Read(context.Background(), "/big.bin")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))
}

func TestReceiveChunk_RejectsTerminalSession(t *testing.T) {
	svc := newTestService(t, newCASOnlyBackend(), testConfig())
	session, err := svc.Create(context.Background(), "/a.txt", 5, nil, "z", "u", "")
	require.NoError(t, err)
	require.NoError(t, svc.Terminate(context.Background(), session.UploadID))

	_, err = svc.ReceiveChunk(context.Background(), session.UploadID, 0, []byte("hello"), "")
	assert.Error(t, err)
}

func TestGetStatus_AutoExpiresStaleSession(t *testing.T) {
	realNow := now
	defer func() { now = realNow }()

	start := time.Now()
	now = func() time.Time { return start }

	cfg := testConfig()
	cfg.SessionTTL = time.Minute
	svc := newTestService(t, newCASOnlyBackend(), cfg)
	session, err := svc.Create(context.Background(), "/a.txt", 5, nil, "z", "u", "")
	require.NoError(t, err)

	now = func() time.Time { return start.Add(2 * time.Minute) }

	_, err = svc.GetStatus(context.Background(), session.UploadID)
	berr, ok := err.(*boundary.Error)
	require.True(t, ok)
	assert.Equal(t, boundary.CodeUploadExpired, berr.Code)

	stored, err := svc.store.Get(session.UploadID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, stored.Status)
}

func TestTerminate_ReleasesSemaphorePermit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentUploads = 1
	svc := newTestService(t, newCASOnlyBackend(), cfg)

	session, err := svc.Create(context.Background(), "/a.txt", 5, nil, "z", "u", "")
	require.NoError(t, err)
	require.NoError(t, svc.Terminate(context.Background(), session.UploadID))

	_, err = svc.Create(context.Background(), "/b.txt", 5, nil, "z", "u", "")
	assert.NoError(t, err, "terminating a session must free its semaphore permit for the next create")
}

func TestCapabilities_AdvertisesTusHeaders(t *testing.T) {
	cfg := testConfig()
	svc := newTestService(t, newCASOnlyBackend(), cfg)
	caps := svc.Capabilities()
	assert.Equal(t, "1.0.0", caps["Tus-Resumable"])
	assert.Contains(t, caps["Tus-Extension"], "checksum")
	assert.Equal(t, "sha256,md5,crc32", caps["Tus-Checksum-Algorithm"])
}

func TestCleanupExpired_SweepsNonTerminalSessionsPastTTL(t *testing.T) {
	realNow := now
	defer func() { now = realNow }()

	start := time.Now()
	now = func() time.Time { return start }

	cfg := testConfig()
	cfg.SessionTTL = time.Minute
	svc := newTestService(t, newCASOnlyBackend(), cfg)
	_, err := svc.Create(context.Background(), "/a.txt", 5, nil, "z", "u", "")
	require.NoError(t, err)

	now = func() time.Time { return start.Add(2 * time.Minute) }

	cleaned, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)
}
