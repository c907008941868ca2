package eventlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	gormpostgres "gorm.io/driver/postgres"
)

// RelationalDatabaseType selects the fallback backend, mirroring
// pkg/tuple/store's sqlite/postgres duality.
type RelationalDatabaseType string

const (
	RelationalSQLite   RelationalDatabaseType = "sqlite"
	RelationalPostgres RelationalDatabaseType = "postgres"
)

// RelationalConfig configures the relational fallback Writer, used when
// the native segment log's disk is unavailable (spec §4.13).
type RelationalConfig struct {
	Type     RelationalDatabaseType
	SQLite   struct{ Path string }
	Postgres struct {
		Host, Database, User, Password, SSLMode string
		Port                                    int
	}
}

// ApplyDefaults fills unset fields: sqlite at ./nexus-eventlog.db.
func (c *RelationalConfig) ApplyDefaults() {
	if c.Type == "" {
		c.Type = RelationalSQLite
	}
	if c.Type == RelationalSQLite && c.SQLite.Path == "" {
		c.SQLite.Path = "nexus-eventlog.db"
	}
}

func (c *RelationalConfig) dsn() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Postgres.Host, c.Postgres.Port, c.Postgres.User, c.Postgres.Password, c.Postgres.Database)
	if c.Postgres.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.Postgres.SSLMode)
	}
	return dsn
}

// eventRow is the relational-fallback storage shape for an Event. A plain
// row per commit; no segment files are ever created in this mode, per the
// all-or-nothing fallback semantics this component implements.
type eventRow struct {
	CommitID  uint64 `gorm:"primaryKey;autoIncrement"`
	ZoneID    string `gorm:"index"`
	Type      string
	Path      string
	ActorType string
	ActorID   string
	Revision  uint64
	Timestamp int64
	Payload   []byte
}

func (eventRow) TableName() string { return "event_log" }

// RelationalLog is the GORM-backed fallback Writer. Same Writer contract
// as SegmentLog — durable Append, ordered CommitID, optional Subscriber
// fan-out — at reduced throughput, for deployments without a local
// segment-log disk.
type RelationalLog struct {
	db  *gorm.DB
	sub Subscriber
	mu  sync.Mutex
}

// OpenRelationalLog connects to the configured backend and migrates the
// event_log table.
func OpenRelationalLog(cfg RelationalConfig, sub Subscriber) (*RelationalLog, error) {
	cfg.ApplyDefaults()

	var dialector gorm.Dialector
	switch cfg.Type {
	case RelationalPostgres:
		dialector = gormpostgres.Open(cfg.dsn())
	case RelationalSQLite:
		dialector = sqlite.Open(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("eventlog: unsupported database type %q", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("eventlog: open relational fallback: %w", err)
	}
	if err := db.AutoMigrate(&eventRow{}); err != nil {
		return nil, fmt.Errorf("eventlog: migrate event_log: %w", err)
	}

	return &RelationalLog{db: db, sub: sub}, nil
}

// Append inserts event as a new row, assigning its CommitID from the
// table's auto-increment sequence, then notifies the wired Subscriber.
func (l *RelationalLog) Append(event Event) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	row := eventRow{
		ZoneID:    event.ZoneID,
		Type:      string(event.Type),
		Path:      event.Path,
		ActorType: event.ActorType,
		ActorID:   event.ActorID,
		Revision:  event.Revision,
		Timestamp: event.Timestamp.UnixNano(),
		Payload:   event.Payload,
	}

	if err := l.db.Create(&row).Error; err != nil {
		return Event{}, fmt.Errorf("eventlog: insert event row: %w", err)
	}

	event.CommitID = row.CommitID
	if l.sub != nil {
		l.sub.Publish(event)
	}
	return event, nil
}

// Close releases the underlying database connection.
func (l *RelationalLog) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ReplayFrom returns every row committed after afterCommitID, in commit
// order, for the relational fallback's equivalent of segment replay.
func (l *RelationalLog) ReplayFrom(afterCommitID uint64) ([]Event, error) {
	var rows []eventRow
	if err := l.db.Where("commit_id > ?", afterCommitID).Order("commit_id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("eventlog: replay event_log: %w", err)
	}

	events := make([]Event, len(rows))
	for i, r := range rows {
		events[i] = Event{
			CommitID:  r.CommitID,
			ZoneID:    r.ZoneID,
			Type:      EventType(r.Type),
			Path:      r.Path,
			ActorType: r.ActorType,
			ActorID:   r.ActorID,
			Revision:  r.Revision,
			Timestamp: unixNanoToTime(r.Timestamp),
			Payload:   r.Payload,
		}
	}
	return events, nil
}
