// Package zone implements the Zone Manager: multi-tenant isolation
// enforcement and the cross-zone share-relation allow-list from spec §4.4.
package zone

import "github.com/nexuslabs/nexus/pkg/boundary"

// DefaultCrossZoneRelations is the allow-list of relations permitted to
// cross a zone boundary, per spec §4.4.
var DefaultCrossZoneRelations = []string{"shared-viewer", "shared-editor", "shared-owner"}

// Manager enforces zone isolation. It is immutable after construction
// (the allow-list of cross-zone relations is fixed at startup, mirroring
// the namespace configuration's immutability).
type Manager struct {
	enforce     bool
	crossZone   map[string]struct{}
}

// NewManager builds a Manager. When enforce is false, ValidateWrite always
// succeeds (used for single-zone deployments or tests) — this mirrors the
// `enforce_zone_isolation` configuration option in spec §6.
func NewManager(enforce bool, crossZoneRelations ...string) *Manager {
	if len(crossZoneRelations) == 0 {
		crossZoneRelations = DefaultCrossZoneRelations
	}
	m := &Manager{enforce: enforce, crossZone: make(map[string]struct{}, len(crossZoneRelations))}
	for _, r := range crossZoneRelations {
		m.crossZone[r] = struct{}{}
	}
	return m
}

// IsCrossZoneReadable reports whether relation is in the cross-zone
// allow-list, used by direct-relation checks to decide whether to bypass
// the zone filter (spec §4.6 "Cross-zone match").
func (m *Manager) IsCrossZoneReadable(relation string) bool {
	_, ok := m.crossZone[relation]
	return ok
}

// ValidateWrite enforces spec §4.4: a write succeeds if the subject and
// object zones match, or if relation is cross-zone readable; otherwise it
// fails with ZoneIsolationError.
func (m *Manager) ValidateWrite(subjectZone, objectZone, relation string) error {
	if !m.enforce {
		return nil
	}
	if subjectZone == objectZone {
		return nil
	}
	if m.IsCrossZoneReadable(relation) {
		return nil
	}
	return boundary.NewZoneIsolation(subjectZone, objectZone, relation)
}
