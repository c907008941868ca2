// Package sharelink implements the Share Link Service (spec §4.11): the
// W3C TAG Capability URL pattern for sharing a file or directory without
// granting the recipient a ReBAC identity. The link's token IS the
// credential — the server validates it against the database on every
// access, never against the tuple graph.
package sharelink

import "time"

// PermissionLevel is the access level a share link grants its holder.
type PermissionLevel string

const (
	PermissionViewer PermissionLevel = "viewer"
	PermissionEditor PermissionLevel = "editor"
	PermissionOwner  PermissionLevel = "owner"
)

func (p PermissionLevel) valid() bool {
	switch p {
	case PermissionViewer, PermissionEditor, PermissionOwner:
		return true
	default:
		return false
	}
}

// ResourceType distinguishes a shared file from a shared directory tree.
type ResourceType string

const (
	ResourceFile      ResourceType = "file"
	ResourceDirectory ResourceType = "directory"
)

// Link is one share link's full record. LinkID is the unguessable,
// database-level identifier (a UUID v4); the capability URL handed to
// recipients carries a signed Token wrapping it, never the bare ID.
type Link struct {
	LinkID          string
	ResourceType    ResourceType
	ResourcePath    string
	PermissionLevel PermissionLevel
	ZoneID          string
	CreatedBy       string
	CreatedAt       time.Time
	ExpiresAt       *time.Time
	MaxAccessCount  *int
	AccessCount     int
	LastAccessedAt  *time.Time
	RevokedAt       *time.Time
	RevokedBy       string
	// PasswordHash is empty when the link has no password. Format is
	// whatever identity.HashPassword produces (bcrypt).
	PasswordHash string
}

func (l Link) HasPassword() bool { return l.PasswordHash != "" }

func (l Link) IsRevoked() bool { return l.RevokedAt != nil }

func (l Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

func (l Link) IsOverLimit() bool {
	return l.MaxAccessCount != nil && l.AccessCount >= *l.MaxAccessCount
}

// IsValid reports whether the link currently grants access, ignoring
// password protection (password verification happens separately, since
// it requires the candidate password in hand).
func (l Link) IsValid(now time.Time) bool {
	return !l.IsRevoked() && !l.IsExpired(now) && !l.IsOverLimit()
}

// RemainingAccesses reports how many accesses are left, or nil when the
// link has no access cap.
func (l Link) RemainingAccesses() *int {
	if l.MaxAccessCount == nil {
		return nil
	}
	remaining := *l.MaxAccessCount - l.AccessCount
	return &remaining
}

// AccessLogEntry records a single access attempt against a link,
// successful or not — every attempt is logged, per the capability URL
// pattern's audit requirement.
type AccessLogEntry struct {
	LogID            string
	LinkID           string
	AccessedAt       time.Time
	IPAddress        string
	UserAgent        string
	Success          bool
	FailureReason    string
	AccessedByUserID string
	AccessedByZoneID string
}
