package upload

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nexuslabs/nexus/pkg/backend"
	"github.com/nexuslabs/nexus/pkg/boundary"
	"github.com/nexuslabs/nexus/pkg/diskcache"
)

// now is overridden by tests that need deterministic expiration behavior.
var now = time.Now

// Service coordinates tus.io resumable upload sessions against a storage
// Backend, using its MultipartBackend capability when available and a
// content-addressed fallback otherwise (spec §4.10).
type Service struct {
	store   *Store
	back    backend.Backend
	cfg     Config
	sem     *semaphore.Weighted
	lastRun time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	partsMu sync.Mutex
	parts   map[string][]part
}

// NewService wires a Service over a session Store and storage Backend.
func NewService(store *Store, back backend.Backend, cfg Config) *Service {
	cfg.ApplyDefaults()
	return &Service{
		store:   store,
		back:    back,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentUploads),
		lastRun: now(),
		locks:   make(map[string]*sync.Mutex),
		parts:   make(map[string][]part),
	}
}

func (s *Service) sessionLock(uploadID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[uploadID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[uploadID] = lock
	}
	return lock
}

func (s *Service) forgetSession(uploadID string) {
	s.locksMu.Lock()
	delete(s.locks, uploadID)
	s.locksMu.Unlock()

	s.partsMu.Lock()
	delete(s.parts, uploadID)
	s.partsMu.Unlock()
}

func (s *Service) multipartBackend() (backend.MultipartBackend, bool) {
	mp, ok := s.back.(backend.MultipartBackend)
	return mp, ok
}

// Create starts a new upload session, returning a capacity error if the
// global concurrency semaphore is full.
func (s *Service) Create(ctx context.Context, targetPath string, uploadLength int64, metadata map[string]string, zoneID, userID, checksumAlgorithm string) (Session, error) {
	s.lazyCleanup()

	if uploadLength < 0 {
		return Session{}, boundary.NewValidation(fmt.Sprintf("upload_length must be non-negative, got %d", uploadLength))
	}
	if uploadLength > s.cfg.MaxUploadSize {
		return Session{}, boundary.NewValidation(fmt.Sprintf("upload_length %d exceeds maximum %d", uploadLength, s.cfg.MaxUploadSize))
	}

	if !s.sem.TryAcquire(1) {
		return Session{}, boundary.NewTooManyConcurrentUploads()
	}

	createdAt := now()
	session := Session{
		UploadID:          uuid.NewString(),
		TargetPath:        targetPath,
		UploadLength:      uploadLength,
		UploadOffset:      0,
		Status:            StatusCreated,
		ZoneID:            zoneID,
		UserID:            userID,
		Metadata:          metadata,
		ChecksumAlgorithm: checksumAlgorithm,
		CreatedAt:         createdAt,
		ExpiresAt:         createdAt.Add(s.cfg.SessionTTL),
	}

	if mp, ok := s.multipartBackend(); ok {
		backendUploadID, err := mp.BeginMultipartUpload(ctx, targetPath)
		if err != nil {
			s.sem.Release(1)
			return Session{}, boundary.NewBackend("begin multipart upload", err)
		}
		session.BackendUploadID = backendUploadID
	}

	if err := s.store.Create(session); err != nil {
		s.sem.Release(1)
		return Session{}, boundary.NewInternal(err)
	}

	s.partsMu.Lock()
	s.parts[session.UploadID] = nil
	s.partsMu.Unlock()

	return session, nil
}

// ReceiveChunk appends one chunk to an in-progress upload, finalizing the
// target file when the chunk completes the declared upload_length.
func (s *Service) ReceiveChunk(ctx context.Context, uploadID string, offset int64, data []byte, checksumHeader string) (Session, error) {
	lock := s.sessionLock(uploadID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.Get(uploadID)
	if err != nil {
		return Session{}, boundary.NewNotFound("upload session", uploadID)
	}

	if session.Status.terminal() {
		return Session{}, boundary.NewConflict(fmt.Sprintf("upload %s is %s", uploadID, session.Status))
	}

	if session.IsExpired(now()) {
		s.expireSession(ctx, session)
		return Session{}, boundary.NewUploadExpired(uploadID)
	}

	if offset != session.UploadOffset {
		return Session{}, boundary.NewUploadOffsetMismatch(session.UploadOffset, offset)
	}

	chunkSize := int64(len(data))
	remaining := session.RemainingBytes()
	isLastChunk := chunkSize == remaining

	if chunkSize > remaining {
		return Session{}, boundary.NewValidation(fmt.Sprintf(
			"chunk would exceed upload_length: offset=%d + chunk=%d > total=%d", offset, chunkSize, session.UploadLength))
	}
	if !isLastChunk && chunkSize < s.cfg.MinChunkSize {
		return Session{}, boundary.NewValidation(fmt.Sprintf(
			"chunk size %d below minimum %d (except for last chunk)", chunkSize, s.cfg.MinChunkSize))
	}
	if chunkSize > s.cfg.MaxChunkSize {
		return Session{}, boundary.NewValidation(fmt.Sprintf(
			"chunk size %d exceeds maximum %d", chunkSize, s.cfg.MaxChunkSize))
	}

	if checksumHeader != "" {
		if verr := verifyChecksum(uploadID, data, checksumHeader); verr != nil {
			return Session{}, verr
		}
	}

	partNumber := session.PartsReceived + 1
	p, err := s.storeChunk(ctx, session, partNumber, data)
	if err != nil {
		return Session{}, err
	}

	s.partsMu.Lock()
	s.parts[uploadID] = append(s.parts[uploadID], p)
	ownedParts := append([]part(nil), s.parts[uploadID]...)
	s.partsMu.Unlock()

	session.UploadOffset += chunkSize
	session.Status = StatusInProgress
	session.PartsReceived = partNumber

	if err := s.store.Update(session); err != nil {
		return Session{}, boundary.NewInternal(err)
	}

	if session.IsComplete() {
		completed, err := s.assembleAndWrite(ctx, session, ownedParts)
		if err != nil {
			return Session{}, err
		}
		return completed, nil
	}

	return session, nil
}

// storeChunk writes one chunk via the backend's multipart capability, or
// falls back to content-addressed storage keyed by the chunk's own hash.
func (s *Service) storeChunk(ctx context.Context, session Session, partNumber int, data []byte) (part, error) {
	if mp, ok := s.multipartBackend(); ok && session.BackendUploadID != "" {
		if err := mp.UploadPart(ctx, session.TargetPath, session.BackendUploadID, partNumber, data); err != nil {
			return part{}, boundary.NewBackend(fmt.Sprintf("upload part %d for %s", partNumber, session.UploadID), err)
		}
		return part{PartNumber: partNumber}, nil
	}

	hash := diskcache.HashContent(data)
	if err := s.back.Write(ctx, hash, data); err != nil {
		return part{}, boundary.NewBackend(fmt.Sprintf("store chunk %d for upload %s", partNumber, session.UploadID), err)
	}
	return part{PartNumber: partNumber, ContentHash: hash}, nil
}

// assembleAndWrite finalizes a completed upload: either completing the
// backend multipart upload, or reading and concatenating CAS-fallback
// parts and writing the assembled content.
func (s *Service) assembleAndWrite(ctx context.Context, session Session, parts []part) (Session, error) {
	var contentHash string

	if mp, ok := s.multipartBackend(); ok && session.BackendUploadID != "" {
		partNumbers := make([]int, 0, len(parts))
		for _, p := range parts {
			partNumbers = append(partNumbers, p.PartNumber)
		}
		if err := mp.CompleteMultipartUpload(ctx, session.TargetPath, session.BackendUploadID, partNumbers); err != nil {
			return Session{}, boundary.NewBackend(fmt.Sprintf("complete multipart upload %s", session.UploadID), err)
		}
		info, err := s.back.Stat(ctx, session.TargetPath)
		if err != nil {
			return Session{}, boundary.NewBackend(fmt.Sprintf("stat completed upload %s", session.UploadID), err)
		}
		contentHash = info.Version
	} else {
		sorted := append([]part(nil), parts...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

		var assembled []byte
		for _, p := range sorted {
			chunk, err := s.back.Read(ctx, p.ContentHash)
			if err != nil {
				return Session{}, boundary.NewBackend(fmt.Sprintf("read chunk %d for upload %s", p.PartNumber, session.UploadID), err)
			}
			assembled = append(assembled, chunk...)
		}

		contentHash = diskcache.HashContent(assembled)
		if err := s.back.Write(ctx, contentHash, assembled); err != nil {
			return Session{}, boundary.NewBackend(fmt.Sprintf("write assembled content for upload %s", session.UploadID), err)
		}
	}

	session.Status = StatusCompleted
	session.UploadOffset = session.UploadLength
	session.ContentHash = contentHash

	if err := s.store.Update(session); err != nil {
		return Session{}, boundary.NewInternal(err)
	}

	s.forgetSession(session.UploadID)
	s.sem.Release(1)
	return session, nil
}

// GetStatus returns a session's current state, auto-expiring it first if
// its TTL has passed.
func (s *Service) GetStatus(ctx context.Context, uploadID string) (Session, error) {
	session, err := s.store.Get(uploadID)
	if err != nil {
		return Session{}, boundary.NewNotFound("upload session", uploadID)
	}

	if session.IsExpired(now()) && !session.Status.terminal() {
		s.expireSession(ctx, session)
		return Session{}, boundary.NewUploadExpired(uploadID)
	}

	return session, nil
}

// Terminate aborts an in-flight upload, releasing its backend multipart
// session and semaphore permit.
func (s *Service) Terminate(ctx context.Context, uploadID string) error {
	session, err := s.store.Get(uploadID)
	if err != nil {
		return boundary.NewNotFound("upload session", uploadID)
	}

	if session.BackendUploadID != "" {
		if mp, ok := s.multipartBackend(); ok {
			_ = mp.AbortMultipartUpload(ctx, session.TargetPath, session.BackendUploadID)
		}
	}

	session.Status = StatusTerminated
	if err := s.store.Update(session); err != nil {
		return boundary.NewInternal(err)
	}

	s.forgetSession(uploadID)
	s.sem.Release(1)
	return nil
}

// Capabilities returns the tus server capability headers for an OPTIONS probe.
func (s *Service) Capabilities() map[string]string {
	return map[string]string{
		"Tus-Resumable":          tusVersion,
		"Tus-Version":            tusVersion,
		"Tus-Extension":          tusExtensions,
		"Tus-Max-Size":           fmt.Sprintf("%d", s.cfg.MaxUploadSize),
		"Tus-Checksum-Algorithm": supportedChecksumAlgorithms,
	}
}

// CleanupExpired sweeps and expires every non-terminal session past its TTL.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := s.store.ExpiredBefore(now())
	if err != nil {
		return 0, boundary.NewInternal(err)
	}

	cleaned := 0
	for _, session := range expired {
		s.expireSession(ctx, session)
		cleaned++
	}

	s.lastRun = now()
	return cleaned, nil
}

func (s *Service) lazyCleanup() {
	if now().Sub(s.lastRun) >= s.cfg.CleanupInterval {
		_, _ = s.CleanupExpired(context.Background())
	}
}

// expireSession marks a session EXPIRED, aborts any backend multipart
// upload, and releases its tracking state and semaphore permit. Errors
// aborting the backend multipart are swallowed: the session is expiring
// regardless, mirroring the reference cleanup sweep's best-effort abort.
func (s *Service) expireSession(ctx context.Context, session Session) {
	wasActive := session.Status == StatusCreated || session.Status == StatusInProgress

	if session.BackendUploadID != "" {
		if mp, ok := s.multipartBackend(); ok {
			_ = mp.AbortMultipartUpload(ctx, session.TargetPath, session.BackendUploadID)
		}
	}

	session.Status = StatusExpired
	_ = s.store.Update(session)

	s.forgetSession(session.UploadID)
	if wasActive {
		s.sem.Release(1)
	}
}
