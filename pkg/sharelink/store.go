package sharelink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	gormpostgres "gorm.io/driver/postgres"
)

// DatabaseType selects the relational backend, mirroring the
// sqlite/postgres duality used by the rest of the repository's
// relational stores.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// StoreConfig selects and configures the share link store's relational
// backend.
type StoreConfig struct {
	Type DatabaseType

	SQLite struct {
		Path string
	}

	Postgres struct {
		Host     string
		Port     int
		Database string
		User     string
		Password string
		SSLMode  string
	}
}

// ApplyDefaults fills unset fields with a single-node sqlite default.
func (c *StoreConfig) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}
	if c.Type == DatabaseTypeSQLite && c.SQLite.Path == "" {
		c.SQLite.Path = "nexus-sharelink.db"
	}
}

func (c *StoreConfig) postgresDSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Postgres.Host, c.Postgres.Port, c.Postgres.User, c.Postgres.Password, c.Postgres.Database)
	if c.Postgres.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.Postgres.SSLMode)
	}
	return dsn
}

// linkRow is the GORM model backing one Link.
type linkRow struct {
	LinkID          string `gorm:"primaryKey"`
	ResourceType    string
	ResourcePath    string `gorm:"index"`
	PermissionLevel string
	ZoneID          string `gorm:"index"`
	CreatedBy       string
	CreatedAt       time.Time
	ExpiresAt       *time.Time
	MaxAccessCount  *int
	AccessCount     int
	LastAccessedAt  *time.Time
	RevokedAt       *time.Time
	RevokedBy       string
	PasswordHash    string
}

func (linkRow) TableName() string { return "share_link" }

// accessLogRow is the GORM model backing one AccessLogEntry.
type accessLogRow struct {
	LogID            string `gorm:"primaryKey"`
	LinkID           string `gorm:"index"`
	AccessedAt       time.Time
	IPAddress        string
	UserAgent        string
	Success          bool
	FailureReason    string
	AccessedByUserID string
	AccessedByZoneID string
}

func (accessLogRow) TableName() string { return "share_link_access_log" }

var errLinkNotFound = errors.New("sharelink: link not found")

// Store is the relational persistence layer for links and their access
// logs.
type Store struct {
	db *gorm.DB
}

// OpenStore opens (and migrates) the share link store.
func OpenStore(cfg StoreConfig) (*Store, error) {
	cfg.ApplyDefaults()

	var dialector gorm.Dialector
	switch cfg.Type {
	case DatabaseTypePostgres:
		dialector = gormpostgres.Open(cfg.postgresDSN())
	default:
		dialector = sqlite.Open(cfg.SQLite.Path)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("sharelink: open store: %w", err)
	}
	if err := db.AutoMigrate(&linkRow{}, &accessLogRow{}); err != nil {
		return nil, fmt.Errorf("sharelink: migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

func toRow(l Link) linkRow {
	return linkRow{
		LinkID:          l.LinkID,
		ResourceType:    string(l.ResourceType),
		ResourcePath:    l.ResourcePath,
		PermissionLevel: string(l.PermissionLevel),
		ZoneID:          l.ZoneID,
		CreatedBy:       l.CreatedBy,
		CreatedAt:       l.CreatedAt,
		ExpiresAt:       l.ExpiresAt,
		MaxAccessCount:  l.MaxAccessCount,
		AccessCount:     l.AccessCount,
		LastAccessedAt:  l.LastAccessedAt,
		RevokedAt:       l.RevokedAt,
		RevokedBy:       l.RevokedBy,
		PasswordHash:    l.PasswordHash,
	}
}

func fromRow(r linkRow) Link {
	return Link{
		LinkID:          r.LinkID,
		ResourceType:    ResourceType(r.ResourceType),
		ResourcePath:    r.ResourcePath,
		PermissionLevel: PermissionLevel(r.PermissionLevel),
		ZoneID:          r.ZoneID,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
		MaxAccessCount:  r.MaxAccessCount,
		AccessCount:     r.AccessCount,
		LastAccessedAt:  r.LastAccessedAt,
		RevokedAt:       r.RevokedAt,
		RevokedBy:       r.RevokedBy,
		PasswordHash:    r.PasswordHash,
	}
}

// Create persists a new link.
func (s *Store) Create(_ context.Context, l Link) error {
	row := toRow(l)
	return s.db.Create(&row).Error
}

// Get loads one link by ID.
func (s *Store) Get(_ context.Context, linkID string) (Link, error) {
	var row linkRow
	err := s.db.Where("link_id = ?", linkID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Link{}, errLinkNotFound
	}
	if err != nil {
		return Link{}, err
	}
	return fromRow(row), nil
}

// Update persists every field of an existing link via a full-row Save,
// not a GORM Updates(struct) call: Updates silently skips zero-valued
// fields, which would make clearing RevokedBy or resetting AccessCount
// impossible to observe.
func (s *Store) Update(_ context.Context, l Link) error {
	row := toRow(l)
	return s.db.Save(&row).Error
}

// ListByZone lists links in a zone, optionally narrowed to one creator
// (pass "" for no filter — admins list the whole zone), one resource
// path, and whether to include revoked/expired links. Results are
// ordered newest-first.
func (s *Store) ListByZone(_ context.Context, zoneID, createdBy, resourcePath string, includeRevoked, includeExpired bool, now time.Time) ([]Link, error) {
	q := s.db.Where("zone_id = ?", zoneID)
	if createdBy != "" {
		q = q.Where("created_by = ?", createdBy)
	}
	if resourcePath != "" {
		q = q.Where("resource_path = ?", resourcePath)
	}
	if !includeRevoked {
		q = q.Where("revoked_at IS NULL")
	}
	if !includeExpired {
		q = q.Where("expires_at IS NULL OR expires_at >= ?", now)
	}

	var rows []linkRow
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}

	links := make([]Link, len(rows))
	for i, r := range rows {
		links[i] = fromRow(r)
	}
	return links, nil
}

// InsertAccessLog records one access attempt.
func (s *Store) InsertAccessLog(_ context.Context, entry AccessLogEntry) error {
	row := accessLogRow{
		LogID:            entry.LogID,
		LinkID:           entry.LinkID,
		AccessedAt:       entry.AccessedAt,
		IPAddress:        entry.IPAddress,
		UserAgent:        entry.UserAgent,
		Success:          entry.Success,
		FailureReason:    entry.FailureReason,
		AccessedByUserID: entry.AccessedByUserID,
		AccessedByZoneID: entry.AccessedByZoneID,
	}
	return s.db.Create(&row).Error
}

// ListAccessLogs returns a link's access log entries, newest first,
// capped at limit.
func (s *Store) ListAccessLogs(_ context.Context, linkID string, limit int) ([]AccessLogEntry, error) {
	var rows []accessLogRow
	err := s.db.Where("link_id = ?", linkID).
		Order("accessed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]AccessLogEntry, len(rows))
	for i, r := range rows {
		entries[i] = AccessLogEntry{
			LogID:            r.LogID,
			LinkID:           r.LinkID,
			AccessedAt:       r.AccessedAt,
			IPAddress:        r.IPAddress,
			UserAgent:        r.UserAgent,
			Success:          r.Success,
			FailureReason:    r.FailureReason,
			AccessedByUserID: r.AccessedByUserID,
			AccessedByZoneID: r.AccessedByZoneID,
		}
	}
	return entries, nil
}
