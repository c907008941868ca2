package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nexuslabs/nexus/pkg/boundary"
	"github.com/nexuslabs/nexus/pkg/consistency"
	"github.com/nexuslabs/nexus/pkg/entity"
	"github.com/nexuslabs/nexus/pkg/tuple"
	"github.com/nexuslabs/nexus/pkg/zone"

	gormpostgres "gorm.io/driver/postgres"
)

// DatabaseType selects the relational backend, mirroring
// dittofs/pkg/controlplane/store's sqlite/postgres duality.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// SQLiteConfig holds the single-node default.
type SQLiteConfig struct {
	Path string
}

// PostgresConfig holds the HA-capable backend's connection parameters.
type PostgresConfig struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN renders the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	return dsn
}

// Config selects and configures the Tuple Store's relational backend.
type Config struct {
	Type     DatabaseType
	SQLite   SQLiteConfig
	Postgres PostgresConfig
}

// ApplyDefaults fills unset fields: sqlite at ./nexus.db by default, a
// modest postgres pool otherwise.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}
	if c.Type == DatabaseTypeSQLite && c.SQLite.Path == "" {
		c.SQLite.Path = "nexus.db"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 25
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 10
	}
}

// GORMStore is the relational Tuple Store, backed by sqlite or postgres.
type GORMStore struct {
	db         *gorm.DB
	consistMgr *consistency.Manager
	zoneMgr    *zone.Manager

	invalidator Invalidator
	membership  MembershipHook
}

// Open connects to the configured backend and migrates the tuples table.
func Open(cfg Config, consistMgr *consistency.Manager, zoneMgr *zone.Manager) (*GORMStore, error) {
	cfg.ApplyDefaults()

	var dialector gorm.Dialector
	switch cfg.Type {
	case DatabaseTypePostgres:
		dialector = gormpostgres.Open(cfg.Postgres.DSN())
	case DatabaseTypeSQLite:
		dialector = sqlite.Open(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("tuple store: unsupported database type %q", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("tuple store: open: %w", err)
	}
	if cfg.Type == DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		}
	}

	switch cfg.Type {
	case DatabaseTypePostgres:
		if err := runPostgresMigrations(cfg.Postgres.DSN()); err != nil {
			return nil, fmt.Errorf("tuple store: migrate: %w", err)
		}
	default:
		if err := db.AutoMigrate(&tuple.Tuple{}); err != nil {
			return nil, fmt.Errorf("tuple store: migrate: %w", err)
		}
	}

	return &GORMStore{db: db, consistMgr: consistMgr, zoneMgr: zoneMgr}, nil
}

// SetInvalidator wires the Permission Cache invalidation hook.
func (s *GORMStore) SetInvalidator(inv Invalidator) { s.invalidator = inv }

// SetMembershipHook wires the Leopard closure maintenance hook.
func (s *GORMStore) SetMembershipHook(h MembershipHook) { s.membership = h }

func (s *GORMStore) Write(ctx context.Context, spec tuple.Spec) (*tuple.WriteResult, error) {
	if spec.SubjectType == "" || spec.Relation == "" || spec.ObjectType == "" || spec.ObjectID == "" || spec.ZoneID == "" {
		return nil, boundary.NewValidation("tuple: missing required field")
	}
	if s.zoneMgr != nil {
		if err := s.zoneMgr.ValidateWrite(spec.ZoneID, spec.ZoneID, spec.Relation); err != nil {
			return nil, err
		}
	}

	revision, token := s.consistMgr.Next()
	t := &tuple.Tuple{
		TupleID:        uuid.NewString(),
		SubjectType:    spec.SubjectType,
		SubjectID:      spec.SubjectID,
		Relation:       spec.Relation,
		ObjectType:     spec.ObjectType,
		ObjectID:       spec.ObjectID,
		ZoneID:         spec.ZoneID,
		ExpiresAt:      spec.ExpiresAt,
		Revision:       revision,
		ConditionsJSON: tuple.EncodeConditions(spec.Conditions),
	}
	if spec.SubjectRelation != "" {
		sr := spec.SubjectRelation
		t.SubjectRelation = &sr
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Enforce (subject*, relation, object*, zone_id) uniqueness by
		// replacing any prior matching row within this transaction. The
		// Leopard closure update (via notifyWrite) runs after the commit
		// and is not part of the transaction.
		q := tx.Where("subject_type = ? AND subject_id = ? AND relation = ? AND object_type = ? AND object_id = ? AND zone_id = ?",
			t.SubjectType, t.SubjectID, t.Relation, t.ObjectType, t.ObjectID, t.ZoneID)
		if t.SubjectRelation != nil {
			q = q.Where("subject_relation = ?", *t.SubjectRelation)
		} else {
			q = q.Where("subject_relation IS NULL")
		}
		if err := q.Delete(&tuple.Tuple{}).Error; err != nil {
			return err
		}
		return tx.Create(t).Error
	})
	if err != nil {
		return nil, fmt.Errorf("tuple store: write: %w", err)
	}

	s.notifyWrite(ctx, t)

	return &tuple.WriteResult{
		TupleID:          t.TupleID,
		Revision:         revision,
		ConsistencyToken: token,
		WrittenAtMS:      time.Now().UnixMilli(),
	}, nil
}

func (s *GORMStore) WriteBatch(ctx context.Context, specs []tuple.Spec) (int, error) {
	for _, spec := range specs {
		if spec.SubjectType == "" || spec.Relation == "" || spec.ObjectType == "" || spec.ObjectID == "" || spec.ZoneID == "" {
			return 0, boundary.NewValidation("tuple: missing required field in batch")
		}
	}
	written := make([]*tuple.Tuple, 0, len(specs))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, spec := range specs {
			if s.zoneMgr != nil {
				if err := s.zoneMgr.ValidateWrite(spec.ZoneID, spec.ZoneID, spec.Relation); err != nil {
					return err
				}
			}
			revision, _ := s.consistMgr.Next()
			t := &tuple.Tuple{
				TupleID:        uuid.NewString(),
				SubjectType:    spec.SubjectType,
				SubjectID:      spec.SubjectID,
				Relation:       spec.Relation,
				ObjectType:     spec.ObjectType,
				ObjectID:       spec.ObjectID,
				ZoneID:         spec.ZoneID,
				ExpiresAt:      spec.ExpiresAt,
				Revision:       revision,
				ConditionsJSON: tuple.EncodeConditions(spec.Conditions),
			}
			if spec.SubjectRelation != "" {
				sr := spec.SubjectRelation
				t.SubjectRelation = &sr
			}
			q := tx.Where("subject_type = ? AND subject_id = ? AND relation = ? AND object_type = ? AND object_id = ? AND zone_id = ?",
				t.SubjectType, t.SubjectID, t.Relation, t.ObjectType, t.ObjectID, t.ZoneID)
			if t.SubjectRelation != nil {
				q = q.Where("subject_relation = ?", *t.SubjectRelation)
			} else {
				q = q.Where("subject_relation IS NULL")
			}
			if err := q.Delete(&tuple.Tuple{}).Error; err != nil {
				return err
			}
			if err := tx.Create(t).Error; err != nil {
				return err
			}
			written = append(written, t)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("tuple store: write_batch: %w", err)
	}
	for _, t := range written {
		s.notifyWrite(ctx, t)
	}
	return len(written), nil
}

func (s *GORMStore) Delete(ctx context.Context, tupleID string) (bool, error) {
	var t tuple.Tuple
	if err := s.db.WithContext(ctx).Where("tuple_id = ?", tupleID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := s.db.WithContext(ctx).Delete(&tuple.Tuple{}, "tuple_id = ?", tupleID).Error; err != nil {
		return false, err
	}
	s.notifyDelete(ctx, &t)
	return true, nil
}

func (s *GORMStore) notifyWrite(ctx context.Context, t *tuple.Tuple) {
	if s.invalidator != nil {
		s.invalidator.InvalidateZone(t.ZoneID)
		s.invalidator.InvalidateObject(t.ObjectType, t.ObjectID, t.ZoneID)
	}
	if s.membership != nil && t.Relation == MembershipRelation {
		subj := entity.New(entity.Type(t.SubjectType), t.SubjectID)
		grp := entity.New(entity.Type(t.ObjectType), t.ObjectID)
		_ = s.membership.OnMembershipAdd(ctx, subj, grp, t.ZoneID)
	}
}

func (s *GORMStore) notifyDelete(ctx context.Context, t *tuple.Tuple) {
	if s.invalidator != nil {
		s.invalidator.InvalidateZone(t.ZoneID)
		s.invalidator.InvalidateObject(t.ObjectType, t.ObjectID, t.ZoneID)
	}
	if s.membership != nil && t.Relation == MembershipRelation {
		subj := entity.New(entity.Type(t.SubjectType), t.SubjectID)
		grp := entity.New(entity.Type(t.ObjectType), t.ObjectID)
		_ = s.membership.OnMembershipRemove(ctx, subj, grp, t.ZoneID)
	}
}

func (s *GORMStore) Exists(ctx context.Context, subject entity.Entity, relation string, object entity.Entity, zoneID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&tuple.Tuple{}).
		Where("subject_type = ? AND subject_id = ? AND relation = ? AND object_type = ? AND object_id = ? AND zone_id = ?",
			subject.Type, subject.ID, relation, object.Type, object.ID, zoneID).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Count(&count).Error
	return count > 0, err
}

func (s *GORMStore) FindRelatedObjects(ctx context.Context, object entity.Entity, relation string, zoneID string) ([]entity.Entity, error) {
	if relation == "parent" && object.Type == entity.TypeFile {
		return []entity.Entity{entity.New(entity.TypeFile, path.Dir(object.ID))}, nil
	}
	var rows []tuple.Tuple
	err := s.db.WithContext(ctx).
		Where("object_type = ? AND object_id = ? AND relation = ? AND zone_id = ?", object.Type, object.ID, relation, zoneID).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]entity.Entity, 0, len(rows))
	for _, r := range rows {
		out = append(out, entity.New(entity.Type(r.SubjectType), r.SubjectID))
	}
	return out, nil
}

func (s *GORMStore) FindSubjects(ctx context.Context, object entity.Entity, relation string, zoneID string) ([]entity.Entity, error) {
	return s.FindRelatedObjects(ctx, object, relation, zoneID)
}

func (s *GORMStore) FindObjectsForSubject(ctx context.Context, subject entity.Entity, relation string, zoneID string) ([]entity.Entity, error) {
	var rows []tuple.Tuple
	err := s.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ? AND relation = ? AND zone_id = ?", subject.Type, subject.ID, relation, zoneID).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]entity.Entity, 0, len(rows))
	for _, r := range rows {
		out = append(out, entity.New(entity.Type(r.ObjectType), r.ObjectID))
	}
	return out, nil
}

func (s *GORMStore) FindDirectTuples(ctx context.Context, subject entity.Entity, relation string, object entity.Entity, zoneID string, allowCrossZone bool) ([]*tuple.Tuple, error) {
	q := s.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ? AND subject_relation IS NULL", subject.Type, subject.ID).
		Where("relation = ? AND object_type = ? AND object_id = ?", relation, object.Type, object.ID).
		Where("expires_at IS NULL OR expires_at > ?", time.Now())
	if !allowCrossZone {
		q = q.Where("zone_id = ?", zoneID)
	}
	var rows []*tuple.Tuple
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GORMStore) FindWildcardTuples(ctx context.Context, relation string, object entity.Entity, zoneID string) ([]*tuple.Tuple, error) {
	var rows []*tuple.Tuple
	err := s.db.WithContext(ctx).
		Where("subject_type = '*' AND subject_id = '*'").
		Where("relation = ? AND object_type = ? AND object_id = ? AND zone_id = ?", relation, object.Type, object.ID, zoneID).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Find(&rows).Error
	return rows, err
}

func (s *GORMStore) FindUsersetTuples(ctx context.Context, relation string, object entity.Entity, zoneID string) ([]*tuple.Tuple, error) {
	var rows []*tuple.Tuple
	err := s.db.WithContext(ctx).
		Where("subject_relation IS NOT NULL").
		Where("relation = ? AND object_type = ? AND object_id = ? AND zone_id = ?", relation, object.Type, object.ID, zoneID).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Find(&rows).Error
	return rows, err
}

func (s *GORMStore) Get(ctx context.Context, tupleID string) (*tuple.Tuple, error) {
	var t tuple.Tuple
	if err := s.db.WithContext(ctx).Where("tuple_id = ?", tupleID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, boundary.NewNotFound("tuple", tupleID)
		}
		return nil, err
	}
	return &t, nil
}

func (s *GORMStore) ListTuples(ctx context.Context, filter ListFilter) ([]*tuple.Tuple, error) {
	q := s.db.WithContext(ctx).Model(&tuple.Tuple{})
	if filter.ObjectType != "" {
		q = q.Where("object_type = ?", filter.ObjectType)
	}
	if filter.ObjectID != "" {
		q = q.Where("object_id = ?", filter.ObjectID)
	}
	if filter.Relation != "" {
		q = q.Where("relation = ?", filter.Relation)
	}
	if filter.ZoneID != "" {
		q = q.Where("zone_id = ?", filter.ZoneID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []*tuple.Tuple
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GORMStore) ExpireSweep(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", time.Now()).Delete(&tuple.Tuple{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}
