package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize_TenantUserScope(t *testing.T) {
	got := Canonicalize(Scope{TenantID: "default", UserID: "alice"}, "/workspace/file.txt")
	assert.Equal(t, "/tenant:default/user:alice/workspace/file.txt", got)
}

func TestCanonicalize_ZoneScope(t *testing.T) {
	got := Canonicalize(Scope{ZoneID: "zone-42"}, "/path/to/file")
	assert.Equal(t, "/zone/zone-42/path/to/file", got)
}

func TestCanonicalize_NoScopeReturnsCleanedPath(t *testing.T) {
	got := Canonicalize(Scope{}, "workspace/file.txt")
	assert.Equal(t, "/workspace/file.txt", got)
}

func TestCanonicalize_RootPath(t *testing.T) {
	got := Canonicalize(Scope{TenantID: "default", UserID: "alice"}, "/")
	assert.Equal(t, "/tenant:default/user:alice", got)
}

func TestUnscope_TenantUserPrefix(t *testing.T) {
	got := Unscope("/tenant:default/user:alice/workspace/file.txt")
	assert.Equal(t, "/workspace/file.txt", got)
}

func TestUnscope_ZonePrefix(t *testing.T) {
	got := Unscope("/zone/zone-42/path/to/file")
	assert.Equal(t, "/path/to/file", got)
}

func TestUnscope_NoPrefixLeavesPathUnchanged(t *testing.T) {
	got := Unscope("/workspace/file.txt")
	assert.Equal(t, "/workspace/file.txt", got)
}

func TestUnscope_MatchesNoColonInvariant(t *testing.T) {
	got := Unscope("/tenant:default/user:alice/workspace/file.txt")
	assert.NotContains(t, got, ":")
	assert.NotContains(t, got, "tenant")
	assert.NotContains(t, got, "user:")
}

func TestCanonicalizeThenUnscope_RoundTrips(t *testing.T) {
	scope := Scope{TenantID: "default", UserID: "alice"}
	stored := Canonicalize(scope, "/workspace/file.txt")
	assert.Equal(t, "/workspace/file.txt", Unscope(stored))
}

func TestClean_CollapsesDuplicateSlashesAndTrailingSlash(t *testing.T) {
	got := Canonicalize(Scope{}, "//workspace//file.txt/")
	assert.Equal(t, "/workspace/file.txt", got)
}
