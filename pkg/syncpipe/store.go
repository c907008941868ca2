package syncpipe

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	gormpostgres "gorm.io/driver/postgres"
)

// DatabaseType selects the relational backend for the metadata index,
// mirroring the sqlite/postgres duality used throughout the rest of the
// repository's relational stores.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// StoreConfig selects and configures the metadata index's relational backend.
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
		c.SQLite.Path = "nexus-syncpipe.db"
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

// entryRow is the GORM model backing one CacheEntry/Record.
type entryRow struct {
	VirtualPath    string `gorm:"primaryKey"`
	BackendVersion string
	ContentHash    string
	ContentText    string
	Size           int64
	Immutable      bool
}

func (entryRow) TableName() string { return "sync_index_entry" }

// GormStore is a MetadataStore backed by a relational table, satisfying
// the "single bulk read" / "single batch write" shape every pipeline
// stage requires (spec's O(1)-round-trips-per-stage design rationale).
type GormStore struct {
	db *gorm.DB
}

// OpenStore opens (and migrates) the metadata index.
func OpenStore(cfg StoreConfig) (*GormStore, error) {
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
		return nil, fmt.Errorf("syncpipe: open metadata index: %w", err)
	}
	if err := db.AutoMigrate(&entryRow{}); err != nil {
		return nil, fmt.Errorf("syncpipe: migrate metadata index: %w", err)
	}
	return &GormStore{db: db}, nil
}

// LoadBatch is the single bulk read of every candidate virtual path's
// existing metadata (spec §4.9 stage 2).
func (s *GormStore) LoadBatch(_ context.Context, virtualPaths []string) (map[string]CacheEntry, error) {
	if len(virtualPaths) == 0 {
		return map[string]CacheEntry{}, nil
	}

	var rows []entryRow
	if err := s.db.Where("virtual_path IN ?", virtualPaths).Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make(map[string]CacheEntry, len(rows))
	for _, r := range rows {
		result[r.VirtualPath] = CacheEntry{
			VirtualPath:    r.VirtualPath,
			BackendVersion: r.BackendVersion,
			ContentHash:    r.ContentHash,
			Immutable:      r.Immutable,
		}
	}
	return result, nil
}

// WriteBatch is the single batch upsert of every accumulated record
// (spec §4.9 stage 6). Immutable is preserved from any existing row: the
// pipeline never discovers immutability itself, it only ever observes it
// via a prior upsert the connector drove through MarkImmutable.
func (s *GormStore) WriteBatch(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]entryRow, len(records))
	for i, rec := range records {
		rows[i] = entryRow{
			VirtualPath:    rec.VirtualPath,
			BackendVersion: rec.BackendVersion,
			ContentHash:    rec.ContentHash,
			ContentText:    rec.ContentText,
			Size:           rec.Size,
		}
	}

	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "virtual_path"}},
		DoUpdates: clause.AssignmentColumns([]string{"backend_version", "content_hash", "content_text", "size"}),
	}).Create(&rows).Error
}

// MarkImmutable flags a virtual path (e.g. an archived email, a
// finalized snapshot) so future Check Versions stages always skip it
// regardless of backend version drift.
func (s *GormStore) MarkImmutable(virtualPath string) error {
	row := entryRow{VirtualPath: virtualPath, Immutable: true}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "virtual_path"}},
		DoUpdates: clause.AssignmentColumns([]string{"immutable"}),
	}).Create(&row).Error
}

var _ MetadataStore = (*GormStore)(nil)
