// Package authz implements the Graph Traversal permission check: the
// recursive algorithm that walks permission aliases, union relations,
// tupleToUserset hops, and direct tuples to answer compute_permission
// (spec §4.6).
package authz

import (
	"context"
	"log/slog"
	"time"

	"github.com/nexuslabs/nexus/internal/logger"
	"github.com/nexuslabs/nexus/internal/metrics"
	"github.com/nexuslabs/nexus/internal/telemetry"
	"github.com/nexuslabs/nexus/pkg/abac"
	"github.com/nexuslabs/nexus/pkg/boundary"
	"github.com/nexuslabs/nexus/pkg/entity"
	"github.com/nexuslabs/nexus/pkg/nsconfig"
	"github.com/nexuslabs/nexus/pkg/permcache"
	"github.com/nexuslabs/nexus/pkg/tuple"
	tuplestore "github.com/nexuslabs/nexus/pkg/tuple/store"
	"github.com/nexuslabs/nexus/pkg/zone"
)

// GroupClosure is the Leopard-accelerated membership lookup, satisfied by
// *leopard.Index. Kept as a narrow interface here so authz never imports
// leopard directly (leopard imports tuple/store; authz stays a peer of
// both).
type GroupClosure interface {
	TransitiveGroups(ctx context.Context, member entity.Entity, zoneID string) (map[entity.Entity]struct{}, error)
}

// leopardRelations is the set of subject_relation names Leopard accelerates
// directly, per spec §4.6 step "has_direct_relation / userset-as-subject".
var leopardRelations = map[string]struct{}{
	"member-of":  {},
	"member":     {},
	"belongs-to": {},
}

// Checker answers compute_permission against a Tuple Store and Namespace
// Configuration, optionally accelerated by a Leopard closure and a
// Permission Cache result lookup.
type Checker struct {
	store   tuplestore.Store
	ns      *nsconfig.Config
	zoneMgr *zone.Manager
	closure GroupClosure
	cache   *permcache.Cache
	metrics *metrics.Metrics
	limits  Limits
	log     *slog.Logger
}

// Option configures a Checker at construction.
type Option func(*Checker)

// WithClosure wires a Leopard closure for accelerated userset-as-subject
// checks on member-of/member/belongs-to relations.
func WithClosure(c GroupClosure) Option { return func(ch *Checker) { ch.closure = c } }

// WithCache wires the Permission Cache: Check consults it before running
// the graph traversal and populates it afterward, so a cache hit never
// suspends on a tuple store round trip (spec §4.7/§5).
func WithCache(c *permcache.Cache) Option { return func(ch *Checker) { ch.cache = c } }

// WithMetrics wires Prometheus collectors for check outcome/latency. A nil
// *metrics.Metrics (the zero value from an unconfigured Option) is safe;
// every Metrics Record method Check calls is a nil-safe no-op.
func WithMetrics(m *metrics.Metrics) Option { return func(ch *Checker) { ch.metrics = m } }

// WithLimits overrides the P0-5 safety limits (zero fields fall back to
// DefaultLimits).
func WithLimits(l Limits) Option { return func(ch *Checker) { ch.limits = l.ApplyDefaults() } }

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(ch *Checker) { ch.log = l } }

// NewChecker builds a Checker.
func NewChecker(store tuplestore.Store, ns *nsconfig.Config, zoneMgr *zone.Manager, opts ...Option) *Checker {
	c := &Checker{
		store:   store,
		ns:      ns,
		zoneMgr: zoneMgr,
		limits:  DefaultLimits(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check answers compute_permission(subject, permission, object, zone,
// context) → bool. Deterministic for a fixed tuple set. Its only side
// effects are logging, metrics, a tracing span, and storing the result in
// the wired Permission Cache.
func (c *Checker) Check(ctx context.Context, subject entity.Entity, permission string, object entity.Entity, zoneID string, abacCtx abac.Context) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "authz.Check")
	defer span.End()

	start := time.Now()

	var cacheKey permcache.ResultKey
	if c.cache != nil {
		cacheKey = permcache.ResultKey{
			Subject:    subject.String(),
			Permission: permission,
			Object:     object.String(),
			Zone:       zoneID,
		}
		if cached, ok := c.cache.GetResult(cacheKey); ok {
			c.metrics.RecordPermCacheResult(true)
			c.metrics.RecordAuthzCheck(cached, time.Since(start).Seconds())
			return cached, nil
		}
		c.metrics.RecordPermCacheResult(false)
	}

	tr := newTraversalBudget(c.limits)
	result, err := c.check(ctx, tr, subject, permission, object, zoneID, abacCtx, 0)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return false, err
	}

	if c.cache != nil {
		c.cache.SetResult(cacheKey, result)
	}
	c.metrics.RecordAuthzCheck(result, time.Since(start).Seconds())

	if oc := logger.FromContext(ctx); oc != nil {
		attrs := append(oc.WithOperation("rebac_check").Attrs(),
			slog.String("subject", subject.String()),
			slog.String("permission", permission),
			slog.String("object", object.String()),
			slog.Bool("result", result),
			slog.Int("visited", tr.visitedCount),
		)
		args := make([]any, len(attrs))
		for i, a := range attrs {
			args[i] = a
		}
		c.log.Debug("rebac_check", args...)
	}
	return result, nil
}

func (c *Checker) check(ctx context.Context, tr *traversalBudget, subject entity.Entity, permission string, object entity.Entity, zoneID string, abacCtx abac.Context, depth int) (bool, error) {
	if depth > tr.limits.MaxDepth {
		return false, boundary.NewGraphLimitExceeded(boundary.LimitDepth, int64(tr.limits.MaxDepth), int64(depth))
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if time.Now().After(tr.deadline) {
		return false, boundary.NewGraphLimitExceeded(boundary.LimitWallClock, int64(tr.limits.MaxWallClock), int64(time.Since(tr.startTime)))
	}

	key := checkKey{Subject: subject.String(), Permission: permission, Object: object.String(), Zone: zoneID}
	if v, ok := tr.memo[key]; ok {
		return v, nil
	}
	if _, onPath := tr.onPath[key]; onPath {
		// A cycle resolves to false rather than erroring: e.g. two groups
		// that mistakenly reference each other as parents must not deadlock
		// a check, only fail to find a path through the cycle.
		return false, nil
	}
	tr.onPath[key] = struct{}{}
	defer delete(tr.onPath, key)

	tr.visitedCount++
	if tr.visitedCount > tr.limits.MaxVisited {
		return false, boundary.NewGraphLimitExceeded(boundary.LimitVisited, int64(tr.limits.MaxVisited), int64(tr.visitedCount))
	}

	result, err := c.resolve(ctx, tr, subject, permission, object, zoneID, abacCtx, depth)
	if err != nil {
		return false, err
	}
	tr.memo[key] = result
	return result, nil
}

func (c *Checker) resolve(ctx context.Context, tr *traversalBudget, subject entity.Entity, permission string, object entity.Entity, zoneID string, abacCtx abac.Context, depth int) (bool, error) {
	ot := c.ns.Namespace(string(object.Type))
	if ot == nil || !ot.HasPermission(permission) {
		return c.hasDirectRelation(ctx, tr, subject, permission, object, zoneID, abacCtx, depth)
	}

	if members, ok := ot.PermissionUsersets(permission); ok {
		return c.orRecurse(ctx, tr, subject, members, object, zoneID, abacCtx, depth)
	}

	kind, _ := ot.RelationKind(permission)
	switch kind {
	case nsconfig.Union:
		return c.orRecurse(ctx, tr, subject, ot.UnionMembers(permission), object, zoneID, abacCtx, depth)
	case nsconfig.TupleToUserset:
		tupleset, computed, _ := ot.TTU(permission)
		return c.resolveTTU(ctx, tr, subject, tupleset, computed, object, zoneID, abacCtx, depth)
	default:
		return c.hasDirectRelation(ctx, tr, subject, permission, object, zoneID, abacCtx, depth)
	}
}

// orRecurse evaluates each relation in turn, short-circuiting on the first
// true result (spec §4.6 steps 3-4: "recurse; return OR").
func (c *Checker) orRecurse(ctx context.Context, tr *traversalBudget, subject entity.Entity, relations []string, object entity.Entity, zoneID string, abacCtx abac.Context, depth int) (bool, error) {
	if len(relations) > tr.limits.MaxFanOut {
		return false, boundary.NewGraphLimitExceeded(boundary.LimitFanOut, int64(tr.limits.MaxFanOut), int64(len(relations)))
	}
	for _, rel := range relations {
		ok, err := c.check(ctx, tr, subject, rel, object, zoneID, abacCtx, depth+1)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// resolveTTU implements spec §4.6 step 5: parent-style hop via
// find_related_objects, and (unless tupleset == "parent") group-style hop
// via find_subjects.
func (c *Checker) resolveTTU(ctx context.Context, tr *traversalBudget, subject entity.Entity, tupleset, computed string, object entity.Entity, zoneID string, abacCtx abac.Context, depth int) (bool, error) {
	if err := c.chargeTupleQuery(tr); err != nil {
		return false, err
	}
	related, err := c.store.FindRelatedObjects(ctx, object, tupleset, zoneID)
	if err != nil {
		return false, err
	}
	if len(related) > tr.limits.MaxFanOut {
		return false, boundary.NewGraphLimitExceeded(boundary.LimitFanOut, int64(tr.limits.MaxFanOut), int64(len(related)))
	}
	for _, r := range related {
		ok, err := c.check(ctx, tr, subject, computed, r, zoneID, abacCtx, depth+1)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	if tupleset == "parent" {
		// Pure hierarchical parent: no group-style pass (spec §4.6 step 5).
		return false, nil
	}

	if err := c.chargeTupleQuery(tr); err != nil {
		return false, err
	}
	subjects, err := c.store.FindSubjects(ctx, object, tupleset, zoneID)
	if err != nil {
		return false, err
	}
	if len(subjects) > tr.limits.MaxFanOut {
		return false, boundary.NewGraphLimitExceeded(boundary.LimitFanOut, int64(tr.limits.MaxFanOut), int64(len(subjects)))
	}
	for _, s := range subjects {
		ok, err := c.check(ctx, tr, subject, computed, s, zoneID, abacCtx, depth+1)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// hasDirectRelation implements spec §4.6's has_direct_relation: concrete
// subject match (with ABAC), cross-zone shared-* relaxation, wildcard
// subject, and userset-as-subject (Leopard-accelerated where applicable).
func (c *Checker) hasDirectRelation(ctx context.Context, tr *traversalBudget, subject entity.Entity, relation string, object entity.Entity, zoneID string, abacCtx abac.Context, depth int) (bool, error) {
	allowCrossZone := c.zoneMgr != nil && c.zoneMgr.IsCrossZoneReadable(relation)

	if err := c.chargeTupleQuery(tr); err != nil {
		return false, err
	}
	direct, err := c.store.FindDirectTuples(ctx, subject, relation, object, zoneID, allowCrossZone)
	if err != nil {
		return false, err
	}
	for _, t := range direct {
		if conditionsSatisfied(t, abacCtx) {
			return true, nil
		}
	}

	if err := c.chargeTupleQuery(tr); err != nil {
		return false, err
	}
	wildcard, err := c.store.FindWildcardTuples(ctx, relation, object, zoneID)
	if err != nil {
		return false, err
	}
	for _, t := range wildcard {
		if conditionsSatisfied(t, abacCtx) {
			return true, nil
		}
	}

	if err := c.chargeTupleQuery(tr); err != nil {
		return false, err
	}
	usersets, err := c.store.FindUsersetTuples(ctx, relation, object, zoneID)
	if err != nil {
		return false, err
	}
	if len(usersets) > tr.limits.MaxFanOut {
		return false, boundary.NewGraphLimitExceeded(boundary.LimitFanOut, int64(tr.limits.MaxFanOut), int64(len(usersets)))
	}
	for _, t := range usersets {
		usersetObj := entity.New(entity.Type(t.SubjectType), t.SubjectID)
		usersetRel := *t.SubjectRelation

		if c.closure != nil {
			if _, accelerated := leopardRelations[usersetRel]; accelerated {
				groups, err := c.closure.TransitiveGroups(ctx, subject, zoneID)
				if err != nil {
					return false, err
				}
				if _, ok := groups[usersetObj]; ok {
					return true, nil
				}
				continue
			}
		}

		ok, err := c.check(ctx, tr, subject, usersetRel, usersetObj, zoneID, abacCtx, depth+1)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	return false, nil
}

func conditionsSatisfied(t *tuple.Tuple, abacCtx abac.Context) bool {
	cond := t.Conditions()
	if cond == nil {
		return true
	}
	return abac.Evaluate(cond, abacCtx)
}

func (c *Checker) chargeTupleQuery(tr *traversalBudget) error {
	tr.tupleQueries++
	if tr.tupleQueries > tr.limits.MaxTupleQueries {
		return boundary.NewGraphLimitExceeded(boundary.LimitQueries, int64(tr.limits.MaxTupleQueries), int64(tr.tupleQueries))
	}
	return nil
}
