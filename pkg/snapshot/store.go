package snapshot

import (
	"context"
	"encoding/json"
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

// StoreConfig selects and configures the snapshot metadata store's
// relational backend.
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
		c.SQLite.Path = "nexus-snapshot.db"
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

// Snapshot is one recorded point-in-time manifest of a workspace.
type Snapshot struct {
	SnapshotID     string
	WorkspacePath  string
	SnapshotNumber int
	Description    string
	Tags           []string
	ManifestHash   string
	FileCount      int
	TotalSize      int64
	CreatedAt      time.Time
}

// snapshotRow is the GORM model backing one Snapshot. Tags is stored as
// a JSON-encoded column: GORM has no portable native array type across
// sqlite and postgres, and the tag set is never queried by individual
// tag value, only read back whole.
type snapshotRow struct {
	SnapshotID     string `gorm:"primaryKey"`
	WorkspacePath  string `gorm:"index:idx_workspace_number"`
	SnapshotNumber int    `gorm:"index:idx_workspace_number"`
	Description    string
	TagsJSON       string
	ManifestHash   string
	FileCount      int
	TotalSize      int64
	CreatedAt      time.Time
}

func (snapshotRow) TableName() string { return "workspace_snapshot" }

var errSnapshotNotFound = errors.New("snapshot: not found")

// Store is the relational persistence layer for snapshot metadata.
type Store struct {
	db *gorm.DB
}

// OpenStore opens (and migrates) the snapshot metadata store.
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
		return nil, fmt.Errorf("snapshot: open store: %w", err)
	}
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, fmt.Errorf("snapshot: migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

func toRow(s Snapshot) (snapshotRow, error) {
	tagsJSON, err := json.Marshal(s.Tags)
	if err != nil {
		return snapshotRow{}, err
	}
	return snapshotRow{
		SnapshotID:     s.SnapshotID,
		WorkspacePath:  s.WorkspacePath,
		SnapshotNumber: s.SnapshotNumber,
		Description:    s.Description,
		TagsJSON:       string(tagsJSON),
		ManifestHash:   s.ManifestHash,
		FileCount:      s.FileCount,
		TotalSize:      s.TotalSize,
		CreatedAt:      s.CreatedAt,
	}, nil
}

func fromRow(r snapshotRow) Snapshot {
	var tags []string
	_ = json.Unmarshal([]byte(r.TagsJSON), &tags)
	return Snapshot{
		SnapshotID:     r.SnapshotID,
		WorkspacePath:  r.WorkspacePath,
		SnapshotNumber: r.SnapshotNumber,
		Description:    r.Description,
		Tags:           tags,
		ManifestHash:   r.ManifestHash,
		FileCount:      r.FileCount,
		TotalSize:      r.TotalSize,
		CreatedAt:      r.CreatedAt,
	}
}

// Create persists a new snapshot row.
func (s *Store) Create(_ context.Context, snap Snapshot) error {
	row, err := toRow(snap)
	if err != nil {
		return err
	}
	return s.db.Create(&row).Error
}

// Get loads one snapshot by ID.
func (s *Store) Get(_ context.Context, snapshotID string) (Snapshot, error) {
	var row snapshotRow
	err := s.db.Where("snapshot_id = ?", snapshotID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, errSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	return fromRow(row), nil
}

// GetByNumber loads one snapshot by (workspace_path, snapshot_number).
func (s *Store) GetByNumber(_ context.Context, workspacePath string, number int) (Snapshot, error) {
	var row snapshotRow
	err := s.db.Where("workspace_path = ? AND snapshot_number = ?", workspacePath, number).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, errSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	return fromRow(row), nil
}

// MaxSnapshotNumber returns the highest existing snapshot_number for a
// workspace, or 0 when the workspace has no snapshots yet.
func (s *Store) MaxSnapshotNumber(_ context.Context, workspacePath string) (int, error) {
	var max int
	row := s.db.Model(&snapshotRow{}).Where("workspace_path = ?", workspacePath).Select("COALESCE(MAX(snapshot_number), 0)").Row()
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

// ListByWorkspace lists a workspace's snapshots, newest first, capped at
// limit.
func (s *Store) ListByWorkspace(_ context.Context, workspacePath string, limit int) ([]Snapshot, error) {
	var rows []snapshotRow
	err := s.db.Where("workspace_path = ?", workspacePath).
		Order("snapshot_number DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	snapshots := make([]Snapshot, len(rows))
	for i, r := range rows {
		snapshots[i] = fromRow(r)
	}
	return snapshots, nil
}
