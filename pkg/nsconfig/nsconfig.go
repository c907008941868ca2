// Package nsconfig implements the Namespace Configuration component:
// declarative, process-wide, immutable-after-startup relation definitions
// per object type.
//
// Modeled on dittofs/pkg/metadata/acl's separation of RFC-defined constants
// from evaluation logic: the namespace package holds no traversal logic of
// its own (that lives in pkg/authz), only the declared shape of relations.
package nsconfig

import "fmt"

// RelationKind classifies how a relation's grantees are computed.
type RelationKind int

const (
	// Direct relations are leaves: granted only by a concrete tuple.
	Direct RelationKind = iota
	// Union relations are the disjunction of other relations on the same
	// object type.
	Union
	// TupleToUserset relations are granted indirectly via another object,
	// reached by following the Tupleset relation.
	TupleToUserset
)

// RelationDef declares one relation on an object type.
type RelationDef struct {
	Name string
	Kind RelationKind

	// UnionMembers is populated when Kind == Union: the ordered list of
	// relation names whose OR yields this relation.
	UnionMembers []string

	// Tupleset and ComputedUserset are populated when Kind ==
	// TupleToUserset: tupleset is the relation queried on the object
	// itself (e.g. "parent"), computed is the relation checked against
	// each related object/subject.
	Tupleset        string
	ComputedUserset string
}

// ObjectTypeConfig is the namespace configuration for a single object type:
// its relations, plus flat "permission alias" OR-lists.
type ObjectTypeConfig struct {
	ObjectType string
	Relations  map[string]RelationDef

	// PermissionAliases maps a permission name (e.g. "write") to an
	// ordered list of relation names whose OR yields the permission. This
	// is distinct from a Union relation: a permission alias never
	// recurses into further unions, letting the traversal engine
	// short-circuit on the common case (spec §4.1 "Design rationale").
	PermissionAliases map[string][]string
}

// Config is the full, immutable namespace configuration for every object
// type, built once at startup.
type Config struct {
	types map[string]*ObjectTypeConfig
}

// NewConfig builds an immutable Config from the given object type configs.
// Panics on a structurally invalid namespace (unknown relation referenced
// by a union or alias) since this runs once at process startup and a bad
// namespace is a deploy-time configuration error, not a runtime one.
func NewConfig(objectTypes ...*ObjectTypeConfig) *Config {
	c := &Config{types: make(map[string]*ObjectTypeConfig, len(objectTypes))}
	for _, ot := range objectTypes {
		c.types[ot.ObjectType] = ot
	}
	if err := c.validate(); err != nil {
		panic(fmt.Sprintf("nsconfig: invalid namespace configuration: %v", err))
	}
	return c
}

func (c *Config) validate() error {
	for objType, ot := range c.types {
		for relName, rel := range ot.Relations {
			if rel.Kind == Union {
				for _, member := range rel.UnionMembers {
					if _, ok := ot.Relations[member]; !ok {
						return fmt.Errorf("object type %q: union relation %q references unknown relation %q",
							objType, relName, member)
					}
				}
			}
		}
		for alias, members := range ot.PermissionAliases {
			for _, member := range members {
				if _, ok := ot.Relations[member]; !ok {
					return fmt.Errorf("object type %q: permission alias %q references unknown relation %q",
						objType, alias, member)
				}
			}
		}
	}
	return nil
}

// Namespace returns the configuration for objectType, or nil when absent —
// callers fall through to a direct relation check per spec §4.6 step 2.
func (c *Config) Namespace(objectType string) *ObjectTypeConfig {
	return c.types[objectType]
}

// HasPermission reports whether name is a declared permission alias or
// relation (union or direct) on ot.
func (ot *ObjectTypeConfig) HasPermission(name string) bool {
	if ot == nil {
		return false
	}
	if _, ok := ot.PermissionAliases[name]; ok {
		return true
	}
	_, ok := ot.Relations[name]
	return ok
}

// PermissionUsersets returns the OR-list of relation names for a
// permission alias. Returns (nil, false) if name is not a declared alias.
func (ot *ObjectTypeConfig) PermissionUsersets(name string) ([]string, bool) {
	if ot == nil {
		return nil, false
	}
	members, ok := ot.PermissionAliases[name]
	return members, ok
}

// RelationKind returns the kind of the named relation, or (Direct, false)
// if undeclared (direct fallback is the safe default per spec §4.6 step 6).
func (ot *ObjectTypeConfig) RelationKind(name string) (RelationKind, bool) {
	if ot == nil {
		return Direct, false
	}
	rel, ok := ot.Relations[name]
	if !ok {
		return Direct, false
	}
	return rel.Kind, true
}

// UnionMembers returns the OR-list for a union relation.
func (ot *ObjectTypeConfig) UnionMembers(name string) []string {
	if ot == nil {
		return nil
	}
	rel, ok := ot.Relations[name]
	if !ok || rel.Kind != Union {
		return nil
	}
	return rel.UnionMembers
}

// TTU returns the (tupleset, computed) pair for a tupleToUserset relation.
func (ot *ObjectTypeConfig) TTU(name string) (tupleset, computed string, ok bool) {
	if ot == nil {
		return "", "", false
	}
	rel, found := ot.Relations[name]
	if !found || rel.Kind != TupleToUserset {
		return "", "", false
	}
	return rel.Tupleset, rel.ComputedUserset, true
}

// DefaultFileConfig returns a representative namespace for object type
// "file": owner/direct_editor/direct_viewer direct relations, editor and
// viewer unions over them, a "parent" tupleToUserset
// hierarchy, and "read"/"write" permission aliases — the shape used by the
// seed tests in spec §8.
func DefaultFileConfig() *ObjectTypeConfig {
	return &ObjectTypeConfig{
		ObjectType: "file",
		Relations: map[string]RelationDef{
			"owner":          {Name: "owner", Kind: Direct},
			"direct_editor":  {Name: "direct_editor", Kind: Direct},
			"direct_viewer":  {Name: "direct_viewer", Kind: Direct},
			"shared-viewer":  {Name: "shared-viewer", Kind: Direct},
			"shared-editor":  {Name: "shared-editor", Kind: Direct},
			"shared-owner":   {Name: "shared-owner", Kind: Direct},
			"editor": {
				Name: "editor", Kind: Union,
				UnionMembers: []string{"owner", "direct_editor", "shared-editor", "shared-owner"},
			},
			"viewer": {
				Name: "viewer", Kind: Union,
				UnionMembers: []string{"editor", "direct_viewer", "shared-viewer"},
			},
			"parent": {
				Name: "parent", Kind: TupleToUserset,
				Tupleset: "parent", ComputedUserset: "viewer",
			},
		},
		PermissionAliases: map[string][]string{
			"read":  {"viewer", "parent"},
			"write": {"editor", "owner"},
		},
	}
}

// DefaultGroupConfig returns the namespace for object type "group": a
// "member" direct relation used as the tupleset for Leopard-accelerated
// nested-group checks.
func DefaultGroupConfig() *ObjectTypeConfig {
	return &ObjectTypeConfig{
		ObjectType: "group",
		Relations: map[string]RelationDef{
			"member": {Name: "member", Kind: Direct},
		},
		PermissionAliases: map[string][]string{},
	}
}
