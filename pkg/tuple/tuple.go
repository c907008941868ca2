// Package tuple defines the authorization tuple — the atom of the Nexus
// authorization graph — and the TupleSpec used to write one.
package tuple

import (
	"encoding/json"
	"time"

	"github.com/nexuslabs/nexus/pkg/abac"
)

// Tuple is a persisted authorization fact:
// (subject, relation, object, zone, conditions, expires_at).
//
// Invariant: (subject*, relation, object*, zone_id) is unique.
// Invariant: subject_relation is non-nil only when the subject denotes a
// userset (group#member).
type Tuple struct {
	TupleID string `gorm:"primaryKey;size:36" json:"tuple_id"`

	SubjectType     string  `gorm:"size:64;index:idx_subject,priority:1" json:"subject_type"`
	SubjectID       string  `gorm:"size:255;index:idx_subject,priority:2" json:"subject_id"`
	SubjectRelation *string `gorm:"size:128" json:"subject_relation,omitempty"`

	Relation string `gorm:"size:128;index:idx_subject,priority:3;index:idx_object,priority:3;index:idx_relation_zone,priority:1" json:"relation"`

	ObjectType string `gorm:"size:64;index:idx_object,priority:1" json:"object_type"`
	ObjectID   string `gorm:"size:255;index:idx_object,priority:2" json:"object_id"`

	ZoneID string `gorm:"size:64;index:idx_subject,priority:4;index:idx_object,priority:4;index:idx_relation_zone,priority:2" json:"zone_id"`

	// ConditionsJSON stores the serialized *abac.Condition, when present.
	ConditionsJSON []byte `gorm:"type:jsonb" json:"-"`

	ExpiresAt *time.Time `gorm:"index:idx_expires_at" json:"expires_at,omitempty"`

	Revision  int64     `json:"revision"`
	WrittenAt time.Time `gorm:"autoCreateTime" json:"written_at"`
}

// TableName is the gorm table name.
func (Tuple) TableName() string { return "tuples" }

// Expired reports whether t has passed its expiry as of now.
func (t *Tuple) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// IsUserset reports whether t's subject denotes a userset.
func (t *Tuple) IsUserset() bool {
	return t.SubjectRelation != nil && *t.SubjectRelation != ""
}

// IsWildcardSubject reports whether t grants to the public wildcard.
func (t *Tuple) IsWildcardSubject() bool {
	return t.SubjectType == "*" && t.SubjectID == "*"
}

// Conditions decodes the stored ABAC condition tree, or nil if none.
func (t *Tuple) Conditions() *abac.Condition {
	return DecodeConditions(t.ConditionsJSON)
}

// EncodeConditions serializes an ABAC condition tree for storage. Errors
// are swallowed to nil since *abac.Condition is a plain JSON-able struct
// tree built by this codebase, not user-supplied data that could fail to
// marshal.
func EncodeConditions(c *abac.Condition) []byte {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	return b
}

// DecodeConditions deserializes the bytes stored by EncodeConditions.
func DecodeConditions(b []byte) *abac.Condition {
	if len(b) == 0 {
		return nil
	}
	var c abac.Condition
	if err := json.Unmarshal(b, &c); err != nil {
		return nil
	}
	return &c
}

// Spec is the input to Store.Write: everything about a tuple except its
// generated ID and revision.
type Spec struct {
	SubjectType     string              `validate:"required"`
	SubjectID       string              `validate:"required"`
	SubjectRelation string              // optional: non-empty denotes a userset
	Relation        string              `validate:"required"`
	ObjectType      string              `validate:"required"`
	ObjectID        string              `validate:"required"`
	ZoneID          string              `validate:"required"`
	Conditions      *abac.Condition     // optional ABAC expression
	ExpiresAt       *time.Time          // optional
}

// WriteResult is returned by Store.Write on success.
type WriteResult struct {
	TupleID          string
	Revision         int64
	ConsistencyToken string
	WrittenAtMS      int64
}
