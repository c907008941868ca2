// Package backend defines the pluggable storage capability Nexus reads
// through and writes behind: a uniform Backend interface plus the
// optional MultipartBackend capability the Chunked Upload Service and
// Sync Pipeline target when available (spec §4.9, §4.10).
package backend

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Read/Stat when key has no object.
var ErrNotFound = errors.New("backend: object not found")

// ObjectInfo is the version/size metadata the Sync Pipeline's "Check
// Versions" stage compares against a cached entry's backend_version.
type ObjectInfo struct {
	Key     string
	Version string
	Size    int64
	ModTime time.Time
}

// Backend is the minimal capability every storage adapter implements:
// whole-object read/write/delete plus a batch stat used by the Sync
// Pipeline to avoid one round-trip per candidate file.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// BatchStat returns ObjectInfo for every key that exists; a missing
	// key is simply absent from the result map, not an error.
	BatchStat(ctx context.Context, keys []string) (map[string]ObjectInfo, error)
}

// MultipartBackend is the optional capability a Backend may also
// implement. The Chunked Upload Service type-asserts for it and falls
// back to CAS-buffered part assembly when a backend doesn't support it
// (spec §4.10: "Store chunk via backend multipart upload_part or, as
// fallback, write to CAS and track part metadata").
type MultipartBackend interface {
	BeginMultipartUpload(ctx context.Context, key string) (uploadID string, err error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) error
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, partNumbers []int) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}
