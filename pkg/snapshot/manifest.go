// Package snapshot implements Workspace Snapshots (spec §4.12):
// CAS-backed point-in-time manifests for a named subtree, with
// create/restore/list/diff operations.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/nexuslabs/nexus/pkg/backend"
	"github.com/nexuslabs/nexus/pkg/diskcache"
)

// FileEntry is one file's state captured in a snapshot manifest.
type FileEntry struct {
	RelativePath string `json:"relative_path"`
	ContentHash  string `json:"content_hash"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mime_type"`
}

// Filesystem is the capability the snapshot service needs from whatever
// stores the live workspace tree: listing its current files, restoring a
// path to point at a CAS hash without copying bytes (the manifest
// entries are already backed by content that exists), and deleting a
// path no longer present in a restored manifest.
type Filesystem interface {
	List(ctx context.Context, workspacePath string) ([]FileEntry, error)
	SetContentHash(ctx context.Context, path, contentHash string, size int64) error
	Delete(ctx context.Context, path string) error
}

// manifest is the sorted, serializable form of a snapshot's file list.
// Sorting makes the serialized form byte-stable for identical file sets,
// which in turn makes its content hash a meaningful CAS key.
type manifest struct {
	Entries []FileEntry `json:"entries"`
}

func newManifest(entries []FileEntry) manifest {
	sorted := make([]FileEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelativePath < sorted[j].RelativePath })
	return manifest{Entries: sorted}
}

// encode serializes and zstd-compresses a manifest, returning the
// compressed bytes and the content hash of the uncompressed canonical
// form (the hash a given file set always produces, independent of
// compression level).
func (m manifest) encode() (compressed []byte, hash string, err error) {
	canonical, err := json.Marshal(m)
	if err != nil {
		return nil, "", fmt.Errorf("snapshot: marshal manifest: %w", err)
	}
	hash = diskcache.HashContent(canonical)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, "", fmt.Errorf("snapshot: new zstd encoder: %w", err)
	}
	defer enc.Close()
	compressed = enc.EncodeAll(canonical, nil)
	return compressed, hash, nil
}

// decodeManifest reverses encode.
func decodeManifest(compressed []byte) (manifest, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return manifest{}, fmt.Errorf("snapshot: new zstd decoder: %w", err)
	}
	defer dec.Close()

	canonical, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return manifest{}, fmt.Errorf("snapshot: decode manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(canonical, &m); err != nil {
		return manifest{}, fmt.Errorf("snapshot: unmarshal manifest: %w", err)
	}
	return m, nil
}

func manifestKey(hash string) string { return "snapshot-manifest:" + hash }

// writeManifest compresses and writes a manifest to the CAS backend,
// returning its content hash for the caller to persist alongside the
// snapshot's metadata row.
func writeManifest(ctx context.Context, back backend.Backend, m manifest) (hash string, err error) {
	compressed, hash, err := m.encode()
	if err != nil {
		return "", err
	}
	if err := back.Write(ctx, manifestKey(hash), compressed); err != nil {
		return "", fmt.Errorf("snapshot: write manifest to backend: %w", err)
	}
	return hash, nil
}

// readManifest reads and decompresses a manifest by its content hash.
func readManifest(ctx context.Context, back backend.Backend, hash string) (manifest, error) {
	compressed, err := back.Read(ctx, manifestKey(hash))
	if err != nil {
		return manifest{}, fmt.Errorf("snapshot: read manifest from backend: %w", err)
	}
	return decodeManifest(compressed)
}

// diffManifests compares two manifests by relative path, reporting
// additions, removals, content changes, and the count left unchanged.
func diffManifests(a, b manifest) Diff {
	byPath := func(m manifest) map[string]FileEntry {
		out := make(map[string]FileEntry, len(m.Entries))
		for _, e := range m.Entries {
			out[e.RelativePath] = e
		}
		return out
	}
	aByPath, bByPath := byPath(a), byPath(b)

	var d Diff
	for path, entryB := range bByPath {
		entryA, existed := aByPath[path]
		switch {
		case !existed:
			d.Added = append(d.Added, entryB.RelativePath)
		case entryA.ContentHash != entryB.ContentHash:
			d.Modified = append(d.Modified, entryB.RelativePath)
		default:
			d.UnchangedCount++
		}
	}
	for path := range aByPath {
		if _, stillExists := bByPath[path]; !stillExists {
			d.Removed = append(d.Removed, path)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Modified)
	return d
}

// Diff is the result of comparing two snapshots' manifests.
type Diff struct {
	Added          []string
	Removed        []string
	Modified       []string
	UnchangedCount int
}
