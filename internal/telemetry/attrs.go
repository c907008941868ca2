package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for Nexus's own domain: graph traversal, zone isolation,
// and the sync pipeline. Adapted from dittofs/internal/telemetry's
// protocol-attribute table to the concerns this CORE actually has spans
// for — there is no NFS/SMB wire protocol here.
const (
	AttrZoneID    = "nexus.zone_id"
	AttrSubjectID = "nexus.subject_id"
	AttrObjectID  = "nexus.object_id"
	AttrRelation  = "nexus.relation"
	AttrDepth     = "nexus.traversal_depth"
	AttrVisited   = "nexus.traversal_visited"
	AttrCacheHit  = "nexus.cache_hit"
	AttrStoreType = "nexus.store_type"
	AttrStage     = "nexus.syncpipe_stage"
	AttrUploadID  = "nexus.upload_id"
)

// Span name prefixes, matching the module boundaries spans are grouped
// under in traces.
const (
	SpanRebacCheck    = "authz.check"
	SpanRebacExpand   = "authz.expand"
	SpanTupleQuery    = "tuplestore.query"
	SpanSyncPipeline  = "syncpipe.run"
	SpanSyncStage     = "syncpipe.stage"
	SpanEventAppend   = "eventlog.append"
	SpanUploadReceive = "upload.receive_chunk"
)

func ZoneID(id string) attribute.KeyValue       { return attribute.String(AttrZoneID, id) }
func SubjectID(id string) attribute.KeyValue    { return attribute.String(AttrSubjectID, id) }
func ObjectID(id string) attribute.KeyValue     { return attribute.String(AttrObjectID, id) }
func Relation(relation string) attribute.KeyValue { return attribute.String(AttrRelation, relation) }
func Depth(depth int) attribute.KeyValue        { return attribute.Int(AttrDepth, depth) }
func Visited(count int) attribute.KeyValue      { return attribute.Int(AttrVisited, count) }
func CacheHit(hit bool) attribute.KeyValue      { return attribute.Bool(AttrCacheHit, hit) }
func StoreType(t string) attribute.KeyValue     { return attribute.String(AttrStoreType, t) }
func SyncStage(stage string) attribute.KeyValue { return attribute.String(AttrStage, stage) }
func UploadID(id string) attribute.KeyValue     { return attribute.String(AttrUploadID, id) }

// StartRebacSpan starts a span for an authorization check or expansion,
// tagging it with the subject/object/relation the traversal is evaluating.
func StartRebacSpan(ctx context.Context, name, subjectID, objectID, relation string) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(
		SubjectID(subjectID),
		ObjectID(objectID),
		Relation(relation),
	))
}

// StartSyncPipelineSpan starts a span for one run of the sync pipeline
// against a given zone.
func StartSyncPipelineSpan(ctx context.Context, zoneID string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanSyncPipeline, trace.WithAttributes(ZoneID(zoneID)))
}

// StartSyncStageSpan starts a span for one stage (e.g. discover, check
// versions, read backend) of a sync pipeline run.
func StartSyncStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanSyncStage, trace.WithAttributes(SyncStage(stage)))
}
