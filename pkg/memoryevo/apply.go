package memoryevo

import "context"

// GraphUpdater applies detected evolution relationships to the memory
// graph. Implementations own the actual memory storage; memoryevo only
// decides which edges to write.
type GraphUpdater interface {
	// MarkSuperseded records that newMemoryID supersedes targetMemoryID: the
	// target becomes invalid and points forward at its replacement. Must be
	// a no-op if the target is already superseded (first writer wins).
	MarkSuperseded(ctx context.Context, newMemoryID, targetMemoryID string) error
	// AppendExtendedBy records that newMemoryID extends targetMemoryID,
	// adding newMemoryID to the target's back-link set.
	AppendExtendedBy(ctx context.Context, targetMemoryID, newMemoryID string) error
	// SetForwardLinks records newMemoryID's own EXTENDS/DERIVES targets.
	SetForwardLinks(ctx context.Context, newMemoryID string, extendsIDs, derivedFromIDs []string) error
}

// Apply writes every relationship in result to the memory graph via
// updater: UPDATES sets the supersedes/superseded-by pair, EXTENDS records
// a back-link plus a forward link, DERIVES records only a forward link.
func Apply(ctx context.Context, updater GraphUpdater, newMemoryID string, result DetectionResult) error {
	if len(result.Relationships) == 0 {
		return nil
	}

	var extendsTargets, derivesTargets []string

	for _, rel := range result.Relationships {
		if !rel.Found() {
			continue
		}

		switch rel.RelationshipType {
		case RelationshipUpdates:
			if err := updater.MarkSuperseded(ctx, newMemoryID, rel.TargetMemoryID); err != nil {
				return err
			}
		case RelationshipExtends:
			extendsTargets = append(extendsTargets, rel.TargetMemoryID)
			if err := updater.AppendExtendedBy(ctx, rel.TargetMemoryID, newMemoryID); err != nil {
				return err
			}
		case RelationshipDerives:
			derivesTargets = append(derivesTargets, rel.TargetMemoryID)
		}
	}

	if len(extendsTargets) == 0 && len(derivesTargets) == 0 {
		return nil
	}
	return updater.SetForwardLinks(ctx, newMemoryID, extendsTargets, derivesTargets)
}
