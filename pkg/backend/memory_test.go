package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_WriteReadRoundTrip(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, "a.txt", []byte("hello")))
	data, err := b.Read(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestMemoryBackend_ReadMissingKeyReturnsNotFound(t *testing.T) {
	b := NewMemoryBackend()
	_, err := b.Read(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryBackend_DeleteRemovesObject(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, b.Write(ctx, "a.txt", []byte("hello")))
	require.NoError(t, b.Delete(ctx, "a.txt"))

	_, err := b.Read(ctx, "a.txt")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryBackend_StatReportsSizeAndAdvancingVersion(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, b.Write(ctx, "a.txt", []byte("hello")))

	info, err := b.Stat(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	firstVersion := info.Version

	require.NoError(t, b.Write(ctx, "a.txt", []byte("hello world")))
	info2, err := b.Stat(ctx, "a.txt")
	require.NoError(t, err)
	assert.NotEqual(t, firstVersion, info2.Version, "overwriting an object must advance its version")
}

func TestMemoryBackend_BatchStatSkipsMissingKeys(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, b.Write(ctx, "a.txt", []byte("hello")))

	results, err := b.BatchStat(ctx, []string{"a.txt", "missing.txt"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	_, found := results["a.txt"]
	assert.True(t, found)
}

func TestMemoryBackend_MultipartUploadAssemblesPartsInOrder(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	uploadID, err := b.BeginMultipartUpload(ctx, "big.bin")
	require.NoError(t, err)

	require.NoError(t, b.UploadPart(ctx, "big.bin", uploadID, 2, []byte("world")))
	require.NoError(t, b.UploadPart(ctx, "big.bin", uploadID, 1, []byte("hello ")))

	require.NoError(t, b.CompleteMultipartUpload(ctx, "big.bin", uploadID, []int{1, 2}))

	data, err := b.Read(ctx, "big.bin")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestMemoryBackend_AbortMultipartUploadDiscardsParts(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	uploadID, err := b.BeginMultipartUpload(ctx, "big.bin")
	require.NoError(t, err)
	require.NoError(t, b.UploadPart(ctx, "big.bin", uploadID, 1, []byte("partial")))
	require.NoError(t, b.AbortMultipartUpload(ctx, "big.bin", uploadID))

	err = b.CompleteMultipartUpload(ctx, "big.bin", uploadID, []int{1})
	assert.Error(t, err, "completing an aborted session must fail")
}

func TestMemoryBackend_CompleteMultipartUploadFailsOnMissingPart(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	uploadID, err := b.BeginMultipartUpload(ctx, "big.bin")
	require.NoError(t, err)
	require.NoError(t, b.UploadPart(ctx, "big.bin", uploadID, 1, []byte("only-part")))

	err = b.CompleteMultipartUpload(ctx, "big.bin", uploadID, []int{1, 2})
	assert.Error(t, err)
}
