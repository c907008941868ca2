// Package upload implements the tus.io-style resumable chunked upload
// service (spec §4.10): session creation, chunk reception with offset and
// checksum validation, and finalization against a storage backend's
// multipart capability or a content-addressable fallback.
package upload

import "time"

// Status is a Session's place in its state machine.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusTerminated Status = "TERMINATED"
	StatusExpired    Status = "EXPIRED"
)

// terminal reports whether a session in this status can no longer accept
// chunks or transition further.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusTerminated || s == StatusExpired
}

// Session is one resumable upload's durable state.
type Session struct {
	UploadID          string
	TargetPath        string
	UploadLength      int64
	UploadOffset      int64
	Status            Status
	ZoneID            string
	UserID            string
	Metadata          map[string]string
	ChecksumAlgorithm string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	BackendUploadID   string
	PartsReceived     int
	ContentHash       string
}

// RemainingBytes is how much of upload_length has not yet been received.
func (s Session) RemainingBytes() int64 {
	return s.UploadLength - s.UploadOffset
}

// IsComplete reports whether every declared byte has been received.
func (s Session) IsComplete() bool {
	return s.UploadOffset >= s.UploadLength
}

// IsExpired reports whether the session's TTL has passed.
func (s Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// part tracks one stored chunk, keyed by its 1-based sequence number.
// ContentHash is populated only for the CAS fallback path, where the
// assembled-read step looks the chunk back up by hash.
type part struct {
	PartNumber  int
	ContentHash string
}
