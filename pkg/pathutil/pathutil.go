// Package pathutil implements path canonicalization and unscoping: the
// internal `/tenant:<id>/user:<id>/` and `/zone/<id>/` prefixes that
// scope a stored path, and their removal at the RPC boundary (spec §6).
package pathutil

import (
	"fmt"
	"strings"
)

// Scope identifies the tenant/user or zone a path is rooted under.
type Scope struct {
	TenantID string
	UserID   string
	ZoneID   string
}

// Canonicalize prefixes relPath with scope's internal segments, producing
// the form actually stored: `/tenant:<id>/user:<id>/<relPath>` when both
// TenantID and UserID are set, or `/zone/<id>/<relPath>` when only ZoneID
// is set. relPath is first cleaned to a leading-slash, no-trailing-slash
// form.
func Canonicalize(scope Scope, relPath string) string {
	rel := clean(relPath)

	var prefix string
	switch {
	case scope.TenantID != "" && scope.UserID != "":
		prefix = fmt.Sprintf("/tenant:%s/user:%s", scope.TenantID, scope.UserID)
	case scope.ZoneID != "":
		prefix = fmt.Sprintf("/zone/%s", scope.ZoneID)
	default:
		return rel
	}

	if rel == "/" {
		return prefix
	}
	return prefix + rel
}

// Unscope strips a leading internal `tenant:<id>/user:<id>` or
// `zone/<id>` prefix from a stored path, returning the form safe to
// return across the RPC boundary. Only the leading scope prefix is
// touched — Canonicalize never inserts these markers anywhere but the
// front of the path, so a user-supplied path segment that happens to
// read "zone" further in is left alone. The result matches `^/[^:]*$`
// only when the caller's own path segments contain no ':'; such a ':'
// is kept as is.
func Unscope(storedPath string) string {
	segments := strings.Split(storedPath, "/")
	// segments[0] is always "" for an absolute path.
	i := 1
	if i < len(segments) && strings.HasPrefix(segments[i], "tenant:") {
		i++
		if i < len(segments) && strings.HasPrefix(segments[i], "user:") {
			i++
		}
	} else if i < len(segments) && segments[i] == "zone" {
		i++
		if i < len(segments) {
			i++ // the zone ID segment
		}
	}

	rest := segments[i:]
	if len(rest) == 0 {
		return "/"
	}
	return clean(strings.Join(rest, "/"))
}

// clean normalizes relPath to a leading-slash, no-trailing-slash
// (except for the root) form, collapsing duplicate slashes.
func clean(relPath string) string {
	if relPath == "" {
		return "/"
	}
	parts := strings.Split(relPath, "/")
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return "/"
	}
	return "/" + strings.Join(nonEmpty, "/")
}
