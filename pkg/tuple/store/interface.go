// Package store persists and indexes authorization tuples (spec §4.2).
package store

import (
	"context"

	"github.com/nexuslabs/nexus/pkg/entity"
	"github.com/nexuslabs/nexus/pkg/tuple"
)

// Invalidator is notified after every write/delete so the Permission
// Cache can drop stale entries. Implemented by pkg/permcache.
type Invalidator interface {
	InvalidateZone(zoneID string)
	InvalidateObject(objectType, objectID, zoneID string)
}

// MembershipHook is notified when a tuple whose relation is
// MembershipRelation is written or deleted, whatever its subject type, so
// the Leopard closure can be kept current. Implemented by pkg/leopard.
type MembershipHook interface {
	OnMembershipAdd(ctx context.Context, subject, group entity.Entity, zoneID string) error
	OnMembershipRemove(ctx context.Context, subject, group entity.Entity, zoneID string) error
}

// MembershipRelation is the relation name Leopard tracks as a group
// membership edge, both for leaf (user-in-group) and nested
// (group-in-group) memberships. Spec §4.2 describes the invalidation
// trigger as "subject_type ∈ {group, team, organization, tenant}", but
// component 3's own on_membership_add accepts an arbitrary-typed subject
// (spec §4.3: "locates ... all members of the subject if it is a group")
// — a subject-type filter alone would miss ordinary user→group edges.
// This implementation triggers on the relation name instead, which covers
// both cases; see DESIGN.md.
const MembershipRelation = "member-of"

// IsGroupLike reports whether t is one of the group-like object types
// Leopard's closure is computed over.
func IsGroupLike(t entity.Type) bool {
	switch t {
	case entity.TypeGroup, entity.TypeTeam, entity.TypeOrg, entity.TypeTenant:
		return true
	default:
		return false
	}
}

// Store is the Tuple Store contract from spec §4.2.
type Store interface {
	// Write persists a single tuple. Fails with ValidationError on
	// malformed input. tuple.Spec carries a single ZoneID, which both
	// implementations pass to the Zone Manager as subject and object
	// zone, so Write never fails with ZoneIsolationError.
	Write(ctx context.Context, spec tuple.Spec) (*tuple.WriteResult, error)

	// WriteBatch persists every spec atomically (all-or-nothing).
	WriteBatch(ctx context.Context, specs []tuple.Spec) (int, error)

	// Delete removes a tuple by ID. Returns false if absent.
	Delete(ctx context.Context, tupleID string) (bool, error)

	// Exists is a zone-scoped single-row lookup for (subject, relation,
	// object, zone), ignoring expired tuples.
	Exists(ctx context.Context, subject entity.Entity, relation string, object entity.Entity, zoneID string) (bool, error)

	// FindRelatedObjects finds parents via (object, relation, ?). For the
	// special relation "parent" on object_type "file", returns the
	// path-derived parent directory WITHOUT a query (spec §4.2).
	FindRelatedObjects(ctx context.Context, object entity.Entity, relation string, zoneID string) ([]entity.Entity, error)

	// FindSubjects is the inverse of FindRelatedObjects: subjects that
	// hold relation on object, used for group-style tupleToUserset.
	FindSubjects(ctx context.Context, object entity.Entity, relation string, zoneID string) ([]entity.Entity, error)

	// FindObjectsForSubject returns every object that subject holds
	// relation on directly, zone-scoped. Used by Leopard's BFS (spec
	// §4.3) to walk a member's direct group memberships.
	FindObjectsForSubject(ctx context.Context, subject entity.Entity, relation string, zoneID string) ([]entity.Entity, error)

	// FindDirectTuples returns the concrete-subject rows matching
	// (subject, relation, object), optionally relaxing the zone filter
	// for cross-zone-readable relations. Expired tuples are excluded.
	FindDirectTuples(ctx context.Context, subject entity.Entity, relation string, object entity.Entity, zoneID string, allowCrossZone bool) ([]*tuple.Tuple, error)

	// FindWildcardTuples returns rows granting relation on object to the
	// public wildcard subject (*, *).
	FindWildcardTuples(ctx context.Context, relation string, object entity.Entity, zoneID string) ([]*tuple.Tuple, error)

	// FindUsersetTuples returns rows on (relation, object, zone) whose
	// subject_relation is set — i.e. userset-as-subject rows.
	FindUsersetTuples(ctx context.Context, relation string, object entity.Entity, zoneID string) ([]*tuple.Tuple, error)

	// Get fetches a single tuple by ID.
	Get(ctx context.Context, tupleID string) (*tuple.Tuple, error)

	// ListTuples supports rebac_list_tuples-style filtered listing.
	ListTuples(ctx context.Context, filter ListFilter) ([]*tuple.Tuple, error)

	// ExpireSweep deletes every tuple whose expires_at has passed,
	// returning the count removed. Used by the background cleanup job
	// the (expires_at) secondary index exists to serve.
	ExpireSweep(ctx context.Context) (int, error)
}

// ListFilter narrows ListTuples; zero-value fields are unfiltered.
type ListFilter struct {
	ObjectType string
	ObjectID   string
	Relation   string
	ZoneID     string
	Limit      int
}
