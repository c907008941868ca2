package sharelink

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexuslabs/nexus/pkg/abac"
	"github.com/nexuslabs/nexus/pkg/authz"
	"github.com/nexuslabs/nexus/pkg/boundary"
	"github.com/nexuslabs/nexus/pkg/entity"
	"github.com/nexuslabs/nexus/pkg/identity"
)

// now is overridden in tests for deterministic expiration/clock checks.
var now = time.Now

// PermissionChecker is the subset of authz.Checker the service needs;
// narrowed to an interface so tests can fake it without a tuple store.
type PermissionChecker interface {
	Check(ctx context.Context, subject entity.Entity, permission string, object entity.Entity, zoneID string, abacCtx abac.Context) (bool, error)
}

var _ PermissionChecker = (*authz.Checker)(nil)

// LinkStore is the persistence capability Service needs.
type LinkStore interface {
	Create(ctx context.Context, l Link) error
	Get(ctx context.Context, linkID string) (Link, error)
	Update(ctx context.Context, l Link) error
	ListByZone(ctx context.Context, zoneID, createdBy, resourcePath string, includeRevoked, includeExpired bool, now time.Time) ([]Link, error)
	InsertAccessLog(ctx context.Context, entry AccessLogEntry) error
	ListAccessLogs(ctx context.Context, linkID string, limit int) ([]AccessLogEntry, error)
}

// AccessResult is what Access returns on a successful, valid access.
type AccessResult struct {
	LinkID            string
	ResourcePath      string
	ResourceType      ResourceType
	PermissionLevel   ResourcePermission
	ZoneID            string
	RemainingAccesses *int
	ExpiresAt         *time.Time
}

// ResourcePermission aliases PermissionLevel for the result type's
// clarity at the call site (what AccessResult grants, as opposed to what
// Link was configured with — today these are the same value).
type ResourcePermission = PermissionLevel

// Service implements create/access/revoke/get-access-logs for share
// links (spec §4.11).
type Service struct {
	store              LinkStore
	checker            PermissionChecker
	tokenCfg           TokenConfig
	enforcePermissions bool
}

// NewService wires a Service. Pass enforcePermissions=false only for
// trusted internal callers that have already authorized the request
// (mirrors the teacher's enforce_permissions escape hatch).
func NewService(store LinkStore, checker PermissionChecker, tokenCfg TokenConfig, enforcePermissions bool) *Service {
	return &Service{store: store, checker: checker, tokenCfg: tokenCfg, enforcePermissions: enforcePermissions}
}

func isAdmin(opCtx boundary.OperationContext) bool {
	return opCtx.SubjectType == "admin" || opCtx.SubjectType == "system"
}

// Create creates a new share link for path, returning the persisted
// link plus the signed capability token for the share URL.
func (s *Service) Create(ctx context.Context, path string, level PermissionLevel, resourceType ResourceType, expiresInHours int, maxAccessCount *int, password string, opCtx boundary.OperationContext) (Link, string, error) {
	if !level.valid() {
		return Link{}, "", boundary.NewValidation(fmt.Sprintf("invalid permission_level %q: must be viewer, editor, or owner", level))
	}
	if resourceType == "" {
		resourceType = ResourceFile
	}

	if s.enforcePermissions {
		allowed, err := s.checker.Check(ctx, entity.New(entity.TypeUser, opCtx.SubjectID), "write", entity.New(entity.TypeFile, path), opCtx.ZoneID, nil)
		if err != nil {
			return Link{}, "", boundary.NewBackend("share link permission check", err)
		}
		if !allowed {
			return Link{}, "", boundary.NewPermissionDenied(path)
		}
	}

	created := now()

	var expiresAt *time.Time
	if expiresInHours > 0 {
		t := created.Add(time.Duration(expiresInHours) * time.Hour)
		expiresAt = &t
	}

	var passwordHash string
	if password != "" {
		hash, err := identity.HashPassword(password)
		if err != nil {
			return Link{}, "", boundary.NewValidation(fmt.Sprintf("invalid share link password: %v", err))
		}
		passwordHash = hash
	}

	link := Link{
		LinkID:          uuid.NewString(),
		ResourceType:    resourceType,
		ResourcePath:    path,
		PermissionLevel: level,
		ZoneID:          opCtx.ZoneID,
		CreatedBy:       opCtx.SubjectID,
		CreatedAt:       created,
		ExpiresAt:       expiresAt,
		MaxAccessCount:  maxAccessCount,
		PasswordHash:    passwordHash,
	}

	if err := s.store.Create(ctx, link); err != nil {
		return Link{}, "", boundary.NewBackend("create share link", err)
	}

	token, err := IssueToken(s.tokenCfg, link, created)
	if err != nil {
		return Link{}, "", boundary.NewInternal(err)
	}
	return link, token, nil
}

// Get returns a link's details. The bool reports whether the caller is
// the link's owner or an admin, i.e. entitled to the full record rather
// than the public-safe subset (permission level, resource type, whether
// it's password protected, whether it's currently valid). Get returns
// the full Link either way; it does not strip fields itself.
func (s *Service) Get(ctx context.Context, linkID string, opCtx boundary.OperationContext) (Link, bool, error) {
	link, err := s.store.Get(ctx, linkID)
	if err != nil {
		return Link{}, false, boundary.NewNotFound("share link", linkID)
	}

	isOwner := link.CreatedBy == opCtx.SubjectID && link.ZoneID == opCtx.ZoneID
	full := isOwner || isAdmin(opCtx)
	return link, full, nil
}

// List returns links visible to the caller: admins see every link in
// the zone, everyone else sees only their own.
func (s *Service) List(ctx context.Context, zoneID, resourcePath string, includeRevoked, includeExpired bool, opCtx boundary.OperationContext) ([]Link, error) {
	createdBy := opCtx.SubjectID
	if isAdmin(opCtx) {
		createdBy = ""
	}
	links, err := s.store.ListByZone(ctx, zoneID, createdBy, resourcePath, includeRevoked, includeExpired, now())
	if err != nil {
		return nil, boundary.NewBackend("list share links", err)
	}
	return links, nil
}

// Revoke immediately disables a link. Only the link's creator or an
// admin may revoke it.
func (s *Service) Revoke(ctx context.Context, linkID string, opCtx boundary.OperationContext) (Link, error) {
	link, err := s.store.Get(ctx, linkID)
	if err != nil {
		return Link{}, boundary.NewNotFound("share link", linkID)
	}

	isOwner := link.CreatedBy == opCtx.SubjectID && link.ZoneID == opCtx.ZoneID
	if !isOwner && !isAdmin(opCtx) {
		return Link{}, boundary.NewPermissionDenied(linkID)
	}
	if link.IsRevoked() {
		return Link{}, boundary.NewValidation("share link is already revoked")
	}

	t := now()
	link.RevokedAt = &t
	link.RevokedBy = opCtx.SubjectID
	if err := s.store.Update(ctx, link); err != nil {
		return Link{}, boundary.NewBackend("revoke share link", err)
	}
	return link, nil
}

// Access validates and records one access attempt against a capability
// token, in the order the original implements: not-found, revoked,
// expired, over-limit, password. Every attempt against an existing link
// is logged regardless of outcome; an invalid token or an unknown
// link_id returns before any log entry is written.
func (s *Service) Access(ctx context.Context, token, password, ipAddress, userAgent string, opCtx boundary.OperationContext) (AccessResult, error) {
	linkID, err := ParseToken(s.tokenCfg, token)
	if err != nil {
		return AccessResult{}, boundary.NewValidation("invalid or malformed share link token")
	}

	link, err := s.store.Get(ctx, linkID)
	if err != nil {
		return AccessResult{}, boundary.NewNotFound("share link", linkID)
	}

	logAccess := func(success bool, failureReason string) {
		entry := AccessLogEntry{
			LogID:            uuid.NewString(),
			LinkID:           linkID,
			AccessedAt:       now(),
			IPAddress:        ipAddress,
			UserAgent:        userAgent,
			Success:          success,
			FailureReason:    failureReason,
			AccessedByUserID: opCtx.SubjectID,
			AccessedByZoneID: opCtx.ZoneID,
		}
		_ = s.store.InsertAccessLog(ctx, entry)
	}

	nowTime := now()

	if link.IsRevoked() {
		logAccess(false, "revoked")
		return AccessResult{}, boundary.NewShareLinkRevoked(linkID)
	}
	if link.IsExpired(nowTime) {
		logAccess(false, "expired")
		return AccessResult{}, boundary.NewShareLinkExpired(linkID)
	}
	if link.IsOverLimit() {
		logAccess(false, "limit_exceeded")
		return AccessResult{}, boundary.NewShareLinkLimitExceeded(linkID)
	}

	if link.HasPassword() {
		if password == "" {
			logAccess(false, "password_required")
			return AccessResult{}, boundary.NewSharePasswordRequired(linkID)
		}
		if !identity.VerifyPassword(password, link.PasswordHash) {
			logAccess(false, "wrong_password")
			return AccessResult{}, boundary.NewSharePasswordInvalid(linkID)
		}
	}

	link.AccessCount++
	link.LastAccessedAt = &nowTime
	if err := s.store.Update(ctx, link); err != nil {
		return AccessResult{}, boundary.NewBackend("record share link access", err)
	}
	logAccess(true, "")

	return AccessResult{
		LinkID:            link.LinkID,
		ResourcePath:      link.ResourcePath,
		ResourceType:      link.ResourceType,
		PermissionLevel:   link.PermissionLevel,
		ZoneID:            link.ZoneID,
		RemainingAccesses: link.RemainingAccesses(),
		ExpiresAt:         link.ExpiresAt,
	}, nil
}

// GetAccessLogs returns a link's access log, newest first, capped at
// limit. Only the link's creator or an admin may view it.
func (s *Service) GetAccessLogs(ctx context.Context, linkID string, limit int, opCtx boundary.OperationContext) ([]AccessLogEntry, error) {
	link, err := s.store.Get(ctx, linkID)
	if err != nil {
		return nil, boundary.NewNotFound("share link", linkID)
	}

	isOwner := link.CreatedBy == opCtx.SubjectID && link.ZoneID == opCtx.ZoneID
	if !isOwner && !isAdmin(opCtx) {
		return nil, boundary.NewPermissionDenied(linkID)
	}

	if limit <= 0 {
		limit = 100
	}
	logs, err := s.store.ListAccessLogs(ctx, linkID, limit)
	if err != nil {
		return nil, boundary.NewBackend("get share link access logs", err)
	}
	return logs, nil
}
