// Package boundary defines the types external collaborators (CLI, RPC/HTTP
// transports — out of scope for this repository) use to call into the
// Nexus core: the OperationContext every mutating or checked call carries,
// the typed error taxonomy the core returns, and a chi route table
// (router.go) mapping that taxonomy onto a concrete HTTP shape.
//
// Nothing here calls ListenAndServe. NewRouter returns an http.Handler;
// serving it on a port, with whatever TLS/auth middleware a deployment
// needs in front, is left to whatever embeds this package.
package boundary

import "time"

// OperationContext carries the ambient facts a boundary call needs to pass
// into the core: who is acting, in which zone, and any request flags.
type OperationContext struct {
	SubjectType string
	SubjectID   string
	ZoneID      string

	// Flags mirror spec §2's "flags" field on the boundary OperationContext:
	// e.g. force writes, bypass-cache reads.
	Force            bool
	BypassCache      bool
	ShowParsed       bool
	ConsistencyToken string

	RequestedAt time.Time
}
