// Package logger provides request-scoped structured logging context shared
// across every Nexus subsystem.
//
// It mirrors the way protocol adapters in a filesystem server thread a
// per-request context through deeply nested calls: instead of passing a
// logger value explicitly, callers attach an OpContext to a context.Context
// and retrieve it deeper in the call stack, enriching it along the way.
package logger

import (
	"context"
	"log/slog"
	"time"
)

type contextKey struct{}

var opContextKey = contextKey{}

// OpContext holds the fields every Nexus log line should carry: who is
// acting, in which zone, under which consistency requirement, and since
// when. It is the logging analogue of the boundary-layer OperationContext.
type OpContext struct {
	TraceID    string
	SpanID     string
	Operation  string // e.g. "rebac_check", "upload.receive_chunk"
	ZoneID     string
	SubjectID  string
	Token      string // consistency token, if any
	StartTime  time.Time
}

// WithContext returns a new context carrying oc.
func WithContext(ctx context.Context, oc *OpContext) context.Context {
	return context.WithValue(ctx, opContextKey, oc)
}

// FromContext retrieves the OpContext attached to ctx, or nil if absent.
func FromContext(ctx context.Context) *OpContext {
	if ctx == nil {
		return nil
	}
	oc, _ := ctx.Value(opContextKey).(*OpContext)
	return oc
}

// New creates an OpContext for the start of an operation.
func New(operation, zoneID, subjectID string) *OpContext {
	return &OpContext{
		Operation: operation,
		ZoneID:    zoneID,
		SubjectID: subjectID,
		StartTime: time.Now(),
	}
}

// Clone returns a copy of oc, safe to mutate independently.
func (oc *OpContext) Clone() *OpContext {
	if oc == nil {
		return nil
	}
	clone := *oc
	return &clone
}

// WithOperation returns a copy of oc with Operation overridden, used when a
// subsystem delegates to another (e.g. "rebac_check" calling into
// "leopard.transitive_groups").
func (oc *OpContext) WithOperation(operation string) *OpContext {
	clone := oc.Clone()
	if clone != nil {
		clone.Operation = operation
	}
	return clone
}

// Elapsed returns the duration since StartTime.
func (oc *OpContext) Elapsed() time.Duration {
	if oc == nil || oc.StartTime.IsZero() {
		return 0
	}
	return time.Since(oc.StartTime)
}

// Attrs renders oc as slog attributes for structured logging.
func (oc *OpContext) Attrs() []slog.Attr {
	if oc == nil {
		return nil
	}
	attrs := []slog.Attr{
		slog.String("operation", oc.Operation),
		slog.String("zone_id", oc.ZoneID),
	}
	if oc.SubjectID != "" {
		attrs = append(attrs, slog.String("subject_id", oc.SubjectID))
	}
	if oc.Token != "" {
		attrs = append(attrs, slog.String("token", oc.Token))
	}
	if oc.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", oc.TraceID))
	}
	return attrs
}

// FromCtx is a convenience for logging call sites: it returns a
// *slog.Logger enriched with the OpContext found in ctx, falling back to
// the default logger when none is present.
func FromCtx(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	oc := FromContext(ctx)
	if oc == nil {
		return base
	}
	args := make([]any, 0, len(oc.Attrs())*2)
	for _, a := range oc.Attrs() {
		args = append(args, a)
	}
	return base.With(args...)
}
