package snapshot

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/nexuslabs/nexus/pkg/backend"
	"github.com/nexuslabs/nexus/pkg/boundary"
)

// now is overridden in tests for deterministic CreatedAt values.
var now = time.Now

// SnapshotStore is the persistence capability Service needs.
type SnapshotStore interface {
	Create(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, snapshotID string) (Snapshot, error)
	GetByNumber(ctx context.Context, workspacePath string, number int) (Snapshot, error)
	MaxSnapshotNumber(ctx context.Context, workspacePath string) (int, error)
	ListByWorkspace(ctx context.Context, workspacePath string, limit int) ([]Snapshot, error)
}

// Service implements create/restore/list/diff for workspace snapshots
// (spec §4.12).
type Service struct {
	store SnapshotStore
	back  backend.Backend
	fs    Filesystem
}

// NewService wires a Service. back is the CAS backend manifests are
// written to and read from; fs is the live workspace tree the service
// lists and restores against.
func NewService(store SnapshotStore, back backend.Backend, fs Filesystem) *Service {
	return &Service{store: store, back: back, fs: fs}
}

// Create lists every file currently under workspacePath, captures a
// manifest, writes it to CAS, and records a new snapshot row numbered
// one past the workspace's current maximum.
func (s *Service) Create(ctx context.Context, workspacePath, description string, tags []string) (Snapshot, error) {
	entries, err := s.fs.List(ctx, workspacePath)
	if err != nil {
		return Snapshot{}, boundary.NewBackend("list workspace files", err)
	}

	m := newManifest(entries)
	hash, err := writeManifest(ctx, s.back, m)
	if err != nil {
		return Snapshot{}, boundary.NewBackend("write snapshot manifest", err)
	}

	maxNumber, err := s.store.MaxSnapshotNumber(ctx, workspacePath)
	if err != nil {
		return Snapshot{}, boundary.NewBackend("read max snapshot number", err)
	}

	var totalSize int64
	for _, e := range m.Entries {
		totalSize += e.Size
	}

	snap := Snapshot{
		SnapshotID:     uuid.NewString(),
		WorkspacePath:  workspacePath,
		SnapshotNumber: maxNumber + 1,
		Description:    description,
		Tags:           tags,
		ManifestHash:   hash,
		FileCount:      len(m.Entries),
		TotalSize:      totalSize,
		CreatedAt:      now(),
	}

	if err := s.store.Create(ctx, snap); err != nil {
		return Snapshot{}, boundary.NewBackend("create snapshot record", err)
	}
	return snap, nil
}

// RestoreByID restores a workspace to the state captured by one
// snapshot, identified by its ID.
func (s *Service) RestoreByID(ctx context.Context, snapshotID string) error {
	snap, err := s.store.Get(ctx, snapshotID)
	if err != nil {
		return boundary.NewNotFound("snapshot", snapshotID)
	}
	return s.restore(ctx, snap)
}

// RestoreByNumber restores a workspace to the state captured by one
// snapshot, identified by (workspace_path, snapshot_number).
func (s *Service) RestoreByNumber(ctx context.Context, workspacePath string, number int) error {
	snap, err := s.store.GetByNumber(ctx, workspacePath, number)
	if err != nil {
		return boundary.NewNotFound("snapshot", fmt.Sprintf("%s#%d", workspacePath, number))
	}
	return s.restore(ctx, snap)
}

// restore reads the snapshot's manifest, deletes every currently-present
// file not named by it, and points every manifest entry's path at its
// CAS hash. No bytes are copied — the content already exists in CAS;
// restore only rewrites metadata.
func (s *Service) restore(ctx context.Context, snap Snapshot) error {
	m, err := readManifest(ctx, s.back, snap.ManifestHash)
	if err != nil {
		return boundary.NewBackend("read snapshot manifest", err)
	}

	wanted := make(map[string]FileEntry, len(m.Entries))
	for _, e := range m.Entries {
		wanted[e.RelativePath] = e
	}

	current, err := s.fs.List(ctx, snap.WorkspacePath)
	if err != nil {
		return boundary.NewBackend("list workspace files", err)
	}
	for _, e := range current {
		if _, ok := wanted[e.RelativePath]; !ok {
			fullPath := path.Join(snap.WorkspacePath, e.RelativePath)
			if err := s.fs.Delete(ctx, fullPath); err != nil {
				return boundary.NewBackend("delete file not in snapshot", err)
			}
		}
	}

	for _, e := range m.Entries {
		fullPath := path.Join(snap.WorkspacePath, e.RelativePath)
		if err := s.fs.SetContentHash(ctx, fullPath, e.ContentHash, e.Size); err != nil {
			return boundary.NewBackend("restore file content hash", err)
		}
	}
	return nil
}

// List returns a workspace's snapshots, newest first, capped at limit.
func (s *Service) List(ctx context.Context, workspacePath string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	snaps, err := s.store.ListByWorkspace(ctx, workspacePath, limit)
	if err != nil {
		return nil, boundary.NewBackend("list snapshots", err)
	}
	return snaps, nil
}

// Diff compares two snapshots' manifests by relative path.
func (s *Service) Diff(ctx context.Context, snapshotIDA, snapshotIDB string) (Diff, error) {
	snapA, err := s.store.Get(ctx, snapshotIDA)
	if err != nil {
		return Diff{}, boundary.NewNotFound("snapshot", snapshotIDA)
	}
	snapB, err := s.store.Get(ctx, snapshotIDB)
	if err != nil {
		return Diff{}, boundary.NewNotFound("snapshot", snapshotIDB)
	}

	mA, err := readManifest(ctx, s.back, snapA.ManifestHash)
	if err != nil {
		return Diff{}, boundary.NewBackend("read snapshot manifest", err)
	}
	mB, err := readManifest(ctx, s.back, snapB.ManifestHash)
	if err != nil {
		return Diff{}, boundary.NewBackend("read snapshot manifest", err)
	}

	return diffManifests(mA, mB), nil
}
