package store

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexuslabs/nexus/pkg/boundary"
	"github.com/nexuslabs/nexus/pkg/consistency"
	"github.com/nexuslabs/nexus/pkg/entity"
	"github.com/nexuslabs/nexus/pkg/tuple"
	"github.com/nexuslabs/nexus/pkg/zone"
)

// MemoryStore is an in-memory Store used by unit tests for the engines
// that sit above the Tuple Store (graph traversal, Leopard, permission
// cache), mirroring dittofs/pkg/metadata/store/memory's role as a
// dependency-free fake for the rest of the test suite.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]*tuple.Tuple
	consistMgr *consistency.Manager
	zoneMgr    *zone.Manager

	invalidator Invalidator
	membership  MembershipHook
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore(consistMgr *consistency.Manager, zoneMgr *zone.Manager) *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*tuple.Tuple),
		consistMgr: consistMgr,
		zoneMgr:    zoneMgr,
	}
}

// SetInvalidator wires the Permission Cache invalidation hook.
func (s *MemoryStore) SetInvalidator(inv Invalidator) { s.invalidator = inv }

// SetMembershipHook wires the Leopard closure maintenance hook.
func (s *MemoryStore) SetMembershipHook(h MembershipHook) { s.membership = h }

func (s *MemoryStore) Write(ctx context.Context, spec tuple.Spec) (*tuple.WriteResult, error) {
	if spec.SubjectType == "" || spec.Relation == "" || spec.ObjectType == "" || spec.ObjectID == "" || spec.ZoneID == "" {
		return nil, boundary.NewValidation("tuple: missing required field")
	}
	if s.zoneMgr != nil {
		if err := s.zoneMgr.ValidateWrite(spec.ZoneID, spec.ZoneID, spec.Relation); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	// Enforce (subject*, relation, object*, zone_id) uniqueness by
	// replacing any existing matching row, mirroring an upsert.
	for id, t := range s.byID {
		if t.SubjectType == spec.SubjectType && t.SubjectID == spec.SubjectID &&
			subjectRelEqual(t.SubjectRelation, spec.SubjectRelation) &&
			t.Relation == spec.Relation && t.ObjectType == spec.ObjectType &&
			t.ObjectID == spec.ObjectID && t.ZoneID == spec.ZoneID {
			delete(s.byID, id)
		}
	}

	revision, token := s.consistMgr.Next()
	id := uuid.NewString()
	t := &tuple.Tuple{
		TupleID:        id,
		SubjectType:    spec.SubjectType,
		SubjectID:      spec.SubjectID,
		Relation:       spec.Relation,
		ObjectType:     spec.ObjectType,
		ObjectID:       spec.ObjectID,
		ZoneID:         spec.ZoneID,
		ExpiresAt:      spec.ExpiresAt,
		Revision:       revision,
		WrittenAt:      time.Now(),
		ConditionsJSON: tuple.EncodeConditions(spec.Conditions),
	}
	if spec.SubjectRelation != "" {
		sr := spec.SubjectRelation
		t.SubjectRelation = &sr
	}
	s.byID[id] = t
	s.mu.Unlock()

	s.notifyWrite(ctx, t)

	return &tuple.WriteResult{
		TupleID:          id,
		Revision:         revision,
		ConsistencyToken: token,
		WrittenAtMS:      t.WrittenAt.UnixMilli(),
	}, nil
}

func (s *MemoryStore) WriteBatch(ctx context.Context, specs []tuple.Spec) (int, error) {
	// All-or-nothing: validate every spec before writing any.
	for _, spec := range specs {
		if spec.SubjectType == "" || spec.Relation == "" || spec.ObjectType == "" || spec.ObjectID == "" || spec.ZoneID == "" {
			return 0, boundary.NewValidation("tuple: missing required field in batch")
		}
		if s.zoneMgr != nil {
			if err := s.zoneMgr.ValidateWrite(spec.ZoneID, spec.ZoneID, spec.Relation); err != nil {
				return 0, err
			}
		}
	}
	for _, spec := range specs {
		if _, err := s.Write(ctx, spec); err != nil {
			return 0, err
		}
	}
	return len(specs), nil
}

func (s *MemoryStore) Delete(ctx context.Context, tupleID string) (bool, error) {
	s.mu.Lock()
	t, ok := s.byID[tupleID]
	if ok {
		delete(s.byID, tupleID)
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	s.notifyDelete(ctx, t)
	return true, nil
}

func (s *MemoryStore) notifyWrite(ctx context.Context, t *tuple.Tuple) {
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

func (s *MemoryStore) notifyDelete(ctx context.Context, t *tuple.Tuple) {
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

func (s *MemoryStore) Exists(ctx context.Context, subject entity.Entity, relation string, object entity.Entity, zoneID string) (bool, error) {
	rows, err := s.FindDirectTuples(ctx, subject, relation, object, zoneID, false)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *MemoryStore) FindRelatedObjects(ctx context.Context, object entity.Entity, relation string, zoneID string) ([]entity.Entity, error) {
	if relation == "parent" && object.Type == entity.TypeFile {
		parent := path.Dir(object.ID)
		return []entity.Entity{entity.New(entity.TypeFile, parent)}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var out []entity.Entity
	for _, t := range s.byID {
		if t.Expired(now) {
			continue
		}
		if t.ObjectType == string(object.Type) && t.ObjectID == object.ID && t.Relation == relation && t.ZoneID == zoneID {
			out = append(out, entity.New(entity.Type(t.SubjectType), t.SubjectID))
		}
	}
	return out, nil
}

func (s *MemoryStore) FindSubjects(ctx context.Context, object entity.Entity, relation string, zoneID string) ([]entity.Entity, error) {
	return s.FindRelatedObjects(ctx, object, relation, zoneID)
}

func (s *MemoryStore) FindObjectsForSubject(ctx context.Context, subject entity.Entity, relation string, zoneID string) ([]entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var out []entity.Entity
	for _, t := range s.byID {
		if t.Expired(now) {
			continue
		}
		if t.SubjectType == string(subject.Type) && t.SubjectID == subject.ID &&
			t.Relation == relation && t.ZoneID == zoneID {
			out = append(out, entity.New(entity.Type(t.ObjectType), t.ObjectID))
		}
	}
	return out, nil
}

func (s *MemoryStore) FindDirectTuples(ctx context.Context, subject entity.Entity, relation string, object entity.Entity, zoneID string, allowCrossZone bool) ([]*tuple.Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var out []*tuple.Tuple
	for _, t := range s.byID {
		if t.Expired(now) {
			continue
		}
		if t.IsUserset() {
			continue
		}
		if t.SubjectType != string(subject.Type) || t.SubjectID != subject.ID {
			continue
		}
		if t.Relation != relation || t.ObjectType != string(object.Type) || t.ObjectID != object.ID {
			continue
		}
		if t.ZoneID != zoneID && !allowCrossZone {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *MemoryStore) FindWildcardTuples(ctx context.Context, relation string, object entity.Entity, zoneID string) ([]*tuple.Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var out []*tuple.Tuple
	for _, t := range s.byID {
		if t.Expired(now) || !t.IsWildcardSubject() {
			continue
		}
		if t.Relation == relation && t.ObjectType == string(object.Type) && t.ObjectID == object.ID && t.ZoneID == zoneID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) FindUsersetTuples(ctx context.Context, relation string, object entity.Entity, zoneID string) ([]*tuple.Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var out []*tuple.Tuple
	for _, t := range s.byID {
		if t.Expired(now) || !t.IsUserset() {
			continue
		}
		if t.Relation == relation && t.ObjectType == string(object.Type) && t.ObjectID == object.ID && t.ZoneID == zoneID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, tupleID string) (*tuple.Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[tupleID]
	if !ok {
		return nil, boundary.NewNotFound("tuple", tupleID)
	}
	return t, nil
}

func (s *MemoryStore) ListTuples(ctx context.Context, filter ListFilter) ([]*tuple.Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*tuple.Tuple
	for _, t := range s.byID {
		if filter.ObjectType != "" && t.ObjectType != filter.ObjectType {
			continue
		}
		if filter.ObjectID != "" && t.ObjectID != filter.ObjectID {
			continue
		}
		if filter.Relation != "" && t.Relation != filter.Relation {
			continue
		}
		if filter.ZoneID != "" && t.ZoneID != filter.ZoneID {
			continue
		}
		out = append(out, t)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ExpireSweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n := 0
	for id, t := range s.byID {
		if t.Expired(now) {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

func subjectRelEqual(a *string, b string) bool {
	if a == nil {
		return b == ""
	}
	return *a == b
}
