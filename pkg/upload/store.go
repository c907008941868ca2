package upload

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	gormpostgres "gorm.io/driver/postgres"
)

// DatabaseType selects the relational backend for session persistence,
// mirroring the tuple store's sqlite/postgres duality so an upload
// session survives a server restart (spec §4.10's background cleanup
// sweep assumes durable session state, not an in-process map alone).
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// StoreConfig selects and configures the session store's relational backend.
type StoreConfig struct {
	Type DatabaseType

	SQLite struct {
		Path string
	}

	Postgres struct {
		Host         string
		Port         int
		Database     string
		User         string
		Password     string
		SSLMode      string
		MaxOpenConns int
		MaxIdleConns int
	}
}

// ApplyDefaults fills unset fields with a single-node sqlite default.
func (c *StoreConfig) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}
	if c.Type == DatabaseTypeSQLite && c.SQLite.Path == "" {
		c.SQLite.Path = "nexus-uploads.db"
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

// sessionRow is the GORM model backing a Session.
type sessionRow struct {
	UploadID          string `gorm:"primaryKey"`
	TargetPath        string
	UploadLength      int64
	UploadOffset      int64
	Status            string `gorm:"index"`
	ZoneID            string `gorm:"index"`
	UserID            string
	Metadata          string // JSON-encoded map[string]string
	ChecksumAlgorithm string
	CreatedAt         int64
	ExpiresAt         int64 `gorm:"index"`
	BackendUploadID   string
	PartsReceived     int
	ContentHash       string
}

func (sessionRow) TableName() string { return "upload_session" }

// Store persists Session state across the lifecycle calls, so an
// in-flight upload survives a server restart (the session map/lock/parts
// registry in Service is process-local and rebuilt from here as needed).
type Store struct {
	db *gorm.DB
}

// OpenStore opens (and migrates) the session store.
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
		return nil, fmt.Errorf("upload: open session store: %w", err)
	}
	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("upload: migrate session store: %w", err)
	}

	if cfg.Type == DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err == nil {
			if cfg.Postgres.MaxOpenConns > 0 {
				sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
			}
			if cfg.Postgres.MaxIdleConns > 0 {
				sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
			}
		}
	}

	return &Store{db: db}, nil
}

func toRow(s Session) sessionRow {
	return sessionRow{
		UploadID:          s.UploadID,
		TargetPath:        s.TargetPath,
		UploadLength:      s.UploadLength,
		UploadOffset:      s.UploadOffset,
		Status:            string(s.Status),
		ZoneID:            s.ZoneID,
		UserID:            s.UserID,
		Metadata:          encodeMetadata(s.Metadata),
		ChecksumAlgorithm: s.ChecksumAlgorithm,
		CreatedAt:         s.CreatedAt.UnixNano(),
		ExpiresAt:         s.ExpiresAt.UnixNano(),
		BackendUploadID:   s.BackendUploadID,
		PartsReceived:     s.PartsReceived,
		ContentHash:       s.ContentHash,
	}
}

func fromRow(r sessionRow) Session {
	return Session{
		UploadID:          r.UploadID,
		TargetPath:        r.TargetPath,
		UploadLength:      r.UploadLength,
		UploadOffset:      r.UploadOffset,
		Status:            Status(r.Status),
		ZoneID:            r.ZoneID,
		UserID:            r.UserID,
		Metadata:          decodeMetadata(r.Metadata),
		ChecksumAlgorithm: r.ChecksumAlgorithm,
		CreatedAt:         time.Unix(0, r.CreatedAt),
		ExpiresAt:         time.Unix(0, r.ExpiresAt),
		BackendUploadID:   r.BackendUploadID,
		PartsReceived:     r.PartsReceived,
		ContentHash:       r.ContentHash,
	}
}

var errSessionNotFound = errors.New("upload: session not found")

// Create inserts a new session row.
func (s *Store) Create(session Session) error {
	row := toRow(session)
	return s.db.Create(&row).Error
}

// Get loads a session by upload_id.
func (s *Store) Get(uploadID string) (Session, error) {
	var row sessionRow
	err := s.db.Where("upload_id = ?", uploadID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, errSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return fromRow(row), nil
}

// Update persists the full session state in place. It uses Save rather
// than Updates(struct) so that zero-value fields (an empty BackendUploadID,
// an UploadOffset of 0) are actually written instead of silently skipped.
func (s *Store) Update(session Session) error {
	row := toRow(session)
	if err := s.db.Save(&row).Error; err != nil {
		return err
	}
	return nil
}

// Delete removes a session row.
func (s *Store) Delete(uploadID string) error {
	return s.db.Where("upload_id = ?", uploadID).Delete(&sessionRow{}).Error
}

// ExpiredBefore returns every non-terminal session whose expires_at has
// passed, for the background cleanup sweep.
func (s *Store) ExpiredBefore(now time.Time) ([]Session, error) {
	var rows []sessionRow
	err := s.db.Where("expires_at < ? AND status IN ?", now.UnixNano(),
		[]string{string(StatusCreated), string(StatusInProgress)}).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, fromRow(row))
	}
	return sessions, nil
}
